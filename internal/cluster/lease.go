package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
)

// Lease defaults, matching the usual controller settings.
const (
	DefaultLeaseDuration = 15 * time.Second
	DefaultRenewDeadline = 10 * time.Second
	DefaultRetryPeriod   = 2 * time.Second
)

// Lease errors.
var (
	// ErrLeaseName indicates an empty lease name or namespace.
	ErrLeaseName = errors.New("lease name and namespace are required")

	// ErrLeaseIdentity indicates an empty holder identity.
	ErrLeaseIdentity = errors.New("lease identity is required")
)

// LeaseConfig describes the coordination.k8s.io Lease contended for.
type LeaseConfig struct {
	Namespace     string
	Name          string
	Identity      string
	LeaseDuration time.Duration
	RenewDeadline time.Duration
	RetryPeriod   time.Duration
}

func (c *LeaseConfig) applyDefaults() {
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = DefaultLeaseDuration
	}
	if c.RenewDeadline <= 0 {
		c.RenewDeadline = DefaultRenewDeadline
	}
	if c.RetryPeriod <= 0 {
		c.RetryPeriod = DefaultRetryPeriod
	}
}

// LeaseOption configures a LeaseRole.
type LeaseOption func(*LeaseRole)

// WithRoleChange registers fn to run on every role transition. fn runs on
// the election goroutine and must not block.
func WithRoleChange(fn func(Role)) LeaseOption {
	return func(l *LeaseRole) { l.onChange = fn }
}

// LeaseRole is a RoleProvider backed by Kubernetes Lease leader election.
// The node is Leader while it holds the lease.
type LeaseRole struct {
	cfg      LeaseConfig
	client   kubernetes.Interface
	onChange func(Role)
	logger   *slog.Logger

	leader atomic.Bool
}

// NewLeaseRole validates cfg and creates a LeaseRole. Call Run to campaign.
func NewLeaseRole(client kubernetes.Interface, cfg LeaseConfig, logger *slog.Logger, opts ...LeaseOption) (*LeaseRole, error) {
	if cfg.Name == "" || cfg.Namespace == "" {
		return nil, ErrLeaseName
	}
	if cfg.Identity == "" {
		return nil, ErrLeaseIdentity
	}
	cfg.applyDefaults()

	l := &LeaseRole{
		cfg:    cfg,
		client: client,
		logger: logger.With(slog.String("component", "cluster.lease")),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Role implements RoleProvider.
func (l *LeaseRole) Role() Role {
	if l.leader.Load() {
		return Leader
	}
	return Follower
}

// Run campaigns for the lease until ctx is cancelled. Losing the lease
// demotes the node to Follower and starts a new campaign. The lease is
// released on return.
func (l *LeaseRole) Run(ctx context.Context) error {
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      l.cfg.Name,
			Namespace: l.cfg.Namespace,
		},
		Client:     l.client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{Identity: l.cfg.Identity},
	}

	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		Name:            l.cfg.Name,
		LeaseDuration:   l.cfg.LeaseDuration,
		RenewDeadline:   l.cfg.RenewDeadline,
		RetryPeriod:     l.cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(context.Context) { l.transition(Leader) },
			OnStoppedLeading: func() { l.transition(Follower) },
			OnNewLeader: func(identity string) {
				l.logger.Info("lease holder observed", slog.String("holder", identity))
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create leader elector for %s/%s: %w", l.cfg.Namespace, l.cfg.Name, err)
	}

	l.logger.Info("campaigning for lease",
		slog.String("namespace", l.cfg.Namespace),
		slog.String("lease", l.cfg.Name),
		slog.String("identity", l.cfg.Identity),
	)

	for ctx.Err() == nil {
		elector.Run(ctx)
	}
	return nil
}

func (l *LeaseRole) transition(r Role) {
	if l.leader.Swap(r == Leader) == (r == Leader) {
		return
	}
	l.logger.Info("cluster role changed", slog.String("role", r.String()))
	if l.onChange != nil {
		l.onChange(r)
	}
}

// NewKubernetesClient builds a clientset from kubeconfig, or from the
// in-cluster service account when kubeconfig is empty.
func NewKubernetesClient(kubeconfig string) (kubernetes.Interface, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		cfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("load kubernetes config: %w", err)
	}

	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return cs, nil
}
