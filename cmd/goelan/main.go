// goelan daemon -- DHCP responder and designated-switch elector for
// hardware-gateway tunnels.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/goelan/internal/cluster"
	"github.com/dantte-lp/goelan/internal/config"
	"github.com/dantte-lp/goelan/internal/dhcp"
	"github.com/dantte-lp/goelan/internal/elan"
	"github.com/dantte-lp/goelan/internal/hwvtep"
	elanmetrics "github.com/dantte-lp/goelan/internal/metrics"
	"github.com/dantte-lp/goelan/internal/netio"
	"github.com/dantte-lp/goelan/internal/server"
	"github.com/dantte-lp/goelan/internal/store"
	appversion "github.com/dantte-lp/goelan/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// drainTimeout bounds how long shutdown waits for queued election and
// flow jobs before the dispatcher cancels them.
const drainTimeout = 5 * time.Second

// flightRecorderMinAge is the minimum window age for the flight recorder.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

// vxlanIngress is the logical interface given to tunnel packet-in.
const vxlanIngress = "vxlan"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// Dynamic level so SIGHUP can change verbosity.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	build := appversion.Get()
	logger.Info("goelan starting",
		slog.String("version", build.Version),
		slog.String("commit", build.Commit),
		slog.String("go_version", build.GoVersion),
		slog.String("admin_addr", cfg.Admin.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.String("cluster_mode", cfg.Cluster.Mode),
		slog.String("gateway_backend", cfg.Gateway.Backend),
	)

	fr := startFlightRecorder(logger)

	reg := prometheus.NewRegistry()
	collector := elanmetrics.NewCollector(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, collector, logger)
	if err != nil {
		logger.Error("failed to initialise daemon", slog.String("error", err.Error()))
		return 1
	}
	defer d.close()

	if err := d.runServers(ctx, reg, *configPath, logLevel, fr); err != nil {
		logger.Error("goelan exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("goelan stopped")
	return 0
}

// -------------------------------------------------------------------------
// Component Wiring
// -------------------------------------------------------------------------

// daemon holds the wired components of one goelan process.
type daemon struct {
	cfg        *config.Config
	store      *store.SQLite
	role       cluster.RoleProvider
	lease      *cluster.LeaseRole
	closers    []func()
	dispatcher *elan.Dispatcher
	orch       *elan.Orchestrator
	ports      *dhcp.StaticDirectory
	handler    *dhcp.Handler
	collector  *elanmetrics.Collector
	logger     *slog.Logger

	// roleChanged wakes the cache refresher after a lease transition.
	roleChanged chan struct{}
}

func newDaemon(ctx context.Context, cfg *config.Config, collector *elanmetrics.Collector, logger *slog.Logger) (*daemon, error) {
	d := &daemon{
		cfg:         cfg,
		collector:   collector,
		logger:      logger,
		roleChanged: make(chan struct{}, 1),
	}

	st, err := store.Open(ctx, cfg.Store.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	d.store = st
	d.closers = append(d.closers, func() { d.closeLogged("store", st.Close) })

	if err := d.setupRole(); err != nil {
		d.close()
		return nil, err
	}

	gateways, err := d.setupGateways(ctx)
	if err != nil {
		d.close()
		return nil, err
	}

	d.dispatcher = elan.NewDispatcher(logger,
		elan.WithMaxRetries(cfg.ELAN.Dispatcher.MaxRetries),
		elan.WithBackoff(cfg.ELAN.Dispatcher.InitialBackoff, cfg.ELAN.Dispatcher.MaxBackoff),
		elan.WithDispatcherMetrics(collector),
	)
	d.orch = elan.NewOrchestrator(elan.OrchestratorConfig{
		Role:       d.role,
		Store:      st,
		Gateways:   gateways,
		Installer:  st,
		Dispatcher: d.dispatcher,
		Metrics:    collector,
	}, logger)

	if err := d.applyTopology(); err != nil {
		d.close()
		return nil, err
	}
	if err := d.orch.Refresh(ctx); err != nil {
		d.close()
		return nil, fmt.Errorf("warm up caches: %w", err)
	}

	if err := d.setupDHCP(); err != nil {
		d.close()
		return nil, err
	}
	return d, nil
}

// close releases resources in reverse acquisition order.
func (d *daemon) close() {
	if d.dispatcher != nil {
		d.dispatcher.Close()
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

func (d *daemon) closeLogged(what string, fn func() error) {
	if err := fn(); err != nil {
		d.logger.Warn("failed to close "+what, slog.String("error", err.Error()))
	}
}

// setupRole selects the static role or campaigns for a Kubernetes Lease.
func (d *daemon) setupRole() error {
	cc := d.cfg.Cluster

	switch cc.Mode {
	case config.ClusterModeKubernetes:
		client, err := cluster.NewKubernetesClient(cc.Kubeconfig)
		if err != nil {
			return fmt.Errorf("kubernetes client: %w", err)
		}

		identity := cc.Identity
		if identity == "" {
			if identity, err = os.Hostname(); err != nil {
				return fmt.Errorf("lease identity: %w", err)
			}
		}

		lease, err := cluster.NewLeaseRole(client, cluster.LeaseConfig{
			Namespace:     cc.Namespace,
			Name:          cc.LeaseName,
			Identity:      identity,
			LeaseDuration: cc.LeaseDuration,
			RenewDeadline: cc.RenewDeadline,
			RetryPeriod:   cc.RetryPeriod,
		}, d.logger, cluster.WithRoleChange(d.onRoleChange))
		if err != nil {
			return fmt.Errorf("lease role: %w", err)
		}
		d.role, d.lease = lease, lease
		d.collector.SetLeader(false)

	default:
		r, err := cluster.ParseRole(cc.Role)
		if err != nil {
			return fmt.Errorf("static role: %w", err)
		}
		d.role = cluster.NewStaticRole(r)
		d.collector.SetLeader(r == cluster.Leader)
	}
	return nil
}

// onRoleChange runs on the election goroutine; it must not block.
func (d *daemon) onRoleChange(r cluster.Role) {
	d.collector.SetLeader(r == cluster.Leader)
	select {
	case d.roleChanged <- struct{}{}:
	default:
	}
}

// setupGateways builds the hardware-gateway directory. Statically
// configured devices are consulted before the dynamic backend.
func (d *daemon) setupGateways(ctx context.Context) (elan.GatewayDirectory, error) {
	gc := d.cfg.Gateway

	devices := make([]elan.GatewayDevice, 0, len(gc.Devices))
	for _, dc := range gc.Devices {
		dev, err := dc.Device()
		if err != nil {
			return nil, fmt.Errorf("gateway devices: %w", err)
		}
		devices = append(devices, dev)
	}
	static, err := hwvtep.NewStatic(devices)
	if err != nil {
		return nil, fmt.Errorf("gateway devices: %w", err)
	}

	switch gc.Backend {
	case config.GatewayBackendOVSDB:
		ovsdb, err := hwvtep.DialOVSDB(ctx, gc.OVSDBEndpoint, d.logger)
		if err != nil {
			return nil, fmt.Errorf("gateway backend: %w", err)
		}
		d.closers = append(d.closers, ovsdb.Close)
		return hwvtep.Chain{static, ovsdb}, nil

	case config.GatewayBackendGoBGP:
		client, err := hwvtep.NewGRPCClient(gc.GoBGPAddr, d.logger)
		if err != nil {
			return nil, fmt.Errorf("gateway backend: %w", err)
		}
		bgp := hwvtep.NewBGPDirectory(client, d.logger)
		d.closers = append(d.closers, func() { d.closeLogged("gobgp client", bgp.Close) })
		return hwvtep.Chain{static, bgp}, nil

	default:
		return static, nil
	}
}

// applyTopology seeds the configured domains and tunnel ports. Tunnels
// start down until a TunnelUp event arrives.
func (d *daemon) applyTopology() error {
	topo := d.orch.Topology()

	for i, dc := range d.cfg.ELAN.Domains {
		dom, err := dc.Domain()
		if err != nil {
			return fmt.Errorf("elan.domains[%d]: %w", i, err)
		}
		topo.PutDomain(dom)
	}
	for i, tc := range d.cfg.ELAN.Tunnels {
		ip, err := tc.Addr()
		if err != nil {
			return fmt.Errorf("elan.tunnels[%d]: %w", i, err)
		}
		topo.ConfigureTunnel(elan.SwitchID(tc.Switch), ip)
	}

	d.logger.Info("topology seeded",
		slog.Int("domains", len(d.cfg.ELAN.Domains)),
		slog.Int("tunnels", len(d.cfg.ELAN.Tunnels)),
	)
	return nil
}

// setupDHCP builds the port directory, resolver and frame handler.
func (d *daemon) setupDHCP() error {
	dc := d.cfg.DHCP
	d.ports = dhcp.NewStaticDirectory(nil)

	var pools []*dhcp.AllocationPool
	for i, sc := range dc.Subnets {
		subnet, err := sc.Subnet()
		if err != nil {
			return fmt.Errorf("dhcp.subnets[%d]: %w", i, err)
		}
		d.ports.PutSubnet(subnet)

		start, end, ok, err := sc.Pool()
		if err != nil {
			return fmt.Errorf("dhcp.subnets[%d]: %w", i, err)
		}
		if !ok || !dc.DynamicAllocation {
			continue
		}
		pool, err := dhcp.NewAllocationPool(subnet, start, end)
		if err != nil {
			return fmt.Errorf("dhcp.subnets[%d]: %w", i, err)
		}
		pools = append(pools, pool)
	}

	for i, pc := range dc.Ports {
		port, err := pc.Port()
		if err != nil {
			return fmt.Errorf("dhcp.ports[%d]: %w", i, err)
		}
		if err := d.ports.Bind(port); err != nil {
			return fmt.Errorf("dhcp.ports[%d]: %w", i, err)
		}
	}

	serverMAC, err := d.serverMAC()
	if err != nil {
		return err
	}

	resolver := dhcp.NewResolver(d.ports, d.logger, dhcp.WithPools(pools...))
	d.handler = dhcp.NewHandler(resolver, dhcp.ReplyConfig{
		LeaseTime:  dc.LeaseTime,
		DomainName: dc.DomainName,
	}, serverMAC, d.logger, dhcp.WithHandlerMetrics(d.collector))

	d.logger.Info("dhcp responder configured",
		slog.Bool("enabled", dc.Enabled),
		slog.Int("subnets", len(dc.Subnets)),
		slog.Int("ports", len(dc.Ports)),
		slog.Int("pools", len(pools)),
		slog.String("server_mac", serverMAC.String()),
	)
	return nil
}

// serverMAC returns the configured reply source MAC, falling back to the
// packet-in interface's address.
func (d *daemon) serverMAC() (net.HardwareAddr, error) {
	dc := d.cfg.DHCP
	if dc.ServerMAC != "" {
		mac, err := net.ParseMAC(dc.ServerMAC)
		if err != nil {
			return nil, fmt.Errorf("dhcp.server_mac: %w", err)
		}
		return mac, nil
	}
	if dc.Interface == "" {
		d.logger.Warn("no dhcp.server_mac or dhcp.interface, replies cannot be encoded")
		return nil, nil
	}
	mac, err := netio.InterfaceMAC(dc.Interface)
	if err != nil {
		return nil, fmt.Errorf("dhcp server mac: %w", err)
	}
	return mac, nil
}

// -------------------------------------------------------------------------
// Servers and Goroutines
// -------------------------------------------------------------------------

// runServers starts every long-running goroutine under one errgroup and
// blocks until shutdown completes.
func (d *daemon) runServers(
	ctx context.Context,
	reg *prometheus.Registry,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	metricsSrv := newMetricsServer(d.cfg.Metrics, reg)
	adminSrv := d.newAdminServer()

	g, gCtx := errgroup.WithContext(ctx)

	startHTTPServers(gCtx, g, d.cfg, adminSrv, metricsSrv, d.logger)
	d.startPacketIn(gCtx, g)
	d.startCluster(gCtx, g)
	d.startDaemonGoroutines(gCtx, g, configPath, logLevel)

	notifyReady(d.logger)

	g.Go(func() error {
		<-gCtx.Done()
		return d.gracefulShutdown(gCtx, fr, adminSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startHTTPServers registers the admin and metrics HTTP server goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	adminSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
		return listenAndServe(ctx, &lc, adminSrv, cfg.Admin.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// startPacketIn runs the raw interface and VXLAN receivers when
// configured. Both feed the same DHCP handler.
func (d *daemon) startPacketIn(ctx context.Context, g *errgroup.Group) {
	dc := d.cfg.DHCP
	if !dc.Enabled {
		d.logger.Info("dhcp responder disabled, packet-in not started")
		return
	}

	if dc.Interface != "" {
		mon := netio.NewLinkMonitor(d.logger)
		g.Go(func() error {
			if err := mon.Run(ctx); err != nil {
				// Packet-in still works without link events; reopen falls
				// back to the backoff timer.
				d.logger.Warn("interface monitor unavailable", slog.String("error", err.Error()))
			}
			return nil
		})

		recv := netio.NewReceiver(d.handler, dhcp.Ingress{Interface: dc.Interface, Network: dc.Network}, d.logger)
		g.Go(func() error {
			return recv.Serve(ctx, func() (netio.FrameConn, error) {
				return netio.NewRawConn(dc.Interface)
			}, mon.Events())
		})
	}

	if dc.VXLANListen != "" {
		local, err := netip.ParseAddrPort(dc.VXLANListen)
		if err != nil {
			d.logger.Error("invalid dhcp.vxlan_listen", slog.String("error", err.Error()))
			return
		}
		recv := netio.NewReceiver(d.handler, dhcp.Ingress{Interface: vxlanIngress}, d.logger)
		g.Go(func() error {
			return recv.Serve(ctx, func() (netio.FrameConn, error) {
				return netio.NewVXLANConn(local, d.logger)
			}, nil)
		})
	}
}

// startCluster campaigns for the lease and refreshes the caches after
// every role transition.
func (d *daemon) startCluster(ctx context.Context, g *errgroup.Group) {
	if d.lease == nil {
		return
	}

	g.Go(func() error {
		return d.lease.Run(ctx)
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-d.roleChanged:
				d.logger.Info("cluster role changed", slog.String("role", d.role.Role().String()))
				if err := d.orch.Refresh(ctx); err != nil {
					d.logger.Error("cache refresh after role change failed",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	})
}

// startDaemonGoroutines launches the systemd watchdog and the SIGHUP
// reload handler.
func (d *daemon) startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
) {
	g.Go(func() error {
		return runWatchdog(ctx, d.logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigHUP:
				d.logger.Info("received SIGHUP, reloading configuration")
				d.reloadConfig(ctx, configPath, logLevel)
			}
		}
	})
}

// -------------------------------------------------------------------------
// systemd Integration
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends keepalives at half the WatchdogSec interval. Returns
// immediately when the unit has no watchdog configured.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := sddaemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := sddaemon.SdNotify(false, sddaemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// Configuration Reload
// -------------------------------------------------------------------------

// reloadConfig applies the log level and the domain list of a freshly
// loaded configuration. Other settings need a restart.
func (d *daemon) reloadConfig(ctx context.Context, configPath string, logLevel *slog.LevelVar) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		d.logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	d.logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)

	d.reconcileDomains(ctx, newCfg.ELAN.Domains)
}

// reconcileDomains publishes DomainConfigChanged events so the running
// topology matches desired. Unchanged domains are no-ops downstream.
func (d *daemon) reconcileDomains(ctx context.Context, desired []config.DomainConfig) {
	want := make(map[string]struct{}, len(desired))
	changed, deleted := 0, 0

	for _, dc := range desired {
		dom, err := dc.Domain()
		if err != nil {
			d.logger.Error("invalid domain config, skipping",
				slog.String("domain", dc.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		want[dom.Name] = struct{}{}
		if err := d.orch.Handle(ctx, elan.Event{Kind: elan.EventDomainConfigChanged, DomainConfig: dom}); err != nil {
			d.logger.Error("domain update failed",
				slog.String("domain", dom.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		changed++
	}

	for _, dom := range d.orch.Topology().Domains() {
		if _, ok := want[dom.Name]; ok {
			continue
		}
		if err := d.orch.Handle(ctx, elan.Event{Kind: elan.EventDomainConfigChanged, DomainConfig: dom, Deleted: true}); err != nil {
			d.logger.Error("domain delete failed",
				slog.String("domain", dom.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		deleted++
	}

	d.logger.Info("domain reconciliation complete",
		slog.Int("applied", changed),
		slog.Int("deleted", deleted),
	)
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

// gracefulShutdown lets queued election and flow jobs finish, then stops
// the dispatcher and the HTTP servers.
func (d *daemon) gracefulShutdown(
	ctx context.Context,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	d.logger.Info("initiating graceful shutdown")
	notifyStopping(d.logger)

	drainCtx, cancelDrain := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	if err := d.dispatcher.Wait(drainCtx); err != nil {
		d.logger.Warn("dispatcher did not drain, cancelling pending jobs",
			slog.String("error", err.Error()),
		)
	}
	cancelDrain()
	d.dispatcher.Close()

	if fr != nil {
		fr.Stop()
		d.logger.Debug("flight recorder stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder
// -------------------------------------------------------------------------

// startFlightRecorder keeps a rolling execution trace for post-mortem
// debugging of failover storms.
func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder",
			slog.String("error", err.Error()),
		)
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// HTTP Servers
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newAdminServer serves the admin API and gRPC health over h2c.
func (d *daemon) newAdminServer() *http.Server {
	mux := http.NewServeMux()

	path, handler := server.New(server.Deps{
		Orchestrator: d.orch,
		Ports:        d.ports,
		Packets:      d.handler,
		Flows:        d.store,
	}, d.logger,
		server.LoggingInterceptorOption(d.logger),
		server.RecoveryInterceptorOption(d.logger),
	)
	mux.Handle(path, handler)

	checker := grpchealth.NewStaticChecker(
		grpchealth.HealthV1ServiceName,
		server.ServiceName,
	)
	mux.Handle(grpchealth.NewHandler(checker))

	return &http.Server{
		Addr:              d.cfg.Admin.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// -------------------------------------------------------------------------
// Configuration and Logging
// -------------------------------------------------------------------------

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
