package elan

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
)

// Election outcomes reported to MetricsReporter.
const (
	OutcomeSticky   = "sticky"
	OutcomeElected  = "elected"
	OutcomeFallback = "fallback"
	OutcomeInvalid  = "invalid"
)

// Elector chooses the designated switch of a (tunnel endpoint, domain)
// pair. Elections are sticky: a valid record is returned unchanged until
// it is cleared by Redesignate or Forget.
//
// Callers serialize work per TunnelDomain. The Elector itself serializes
// the assignment count and the write so concurrent elections on different
// keys still spread load.
type Elector struct {
	store     Store
	gateways  GatewayDirectory
	tunnels   TunnelState
	carriers  DomainCarriers
	elections *ElectionCache
	members   *MembershipCache
	metrics   MetricsReporter
	logger    *slog.Logger

	mu sync.Mutex
}

// ElectorConfig wires the Elector's collaborators.
type ElectorConfig struct {
	Store     Store
	Gateways  GatewayDirectory
	Tunnels   TunnelState
	Carriers  DomainCarriers
	Elections *ElectionCache
	Members   *MembershipCache
	Metrics   MetricsReporter
}

// NewElector creates an Elector. Nil caches are allocated; a nil metrics
// reporter is replaced by a no-op.
func NewElector(cfg ElectorConfig, logger *slog.Logger) *Elector {
	e := &Elector{
		store:     cfg.Store,
		gateways:  cfg.Gateways,
		tunnels:   cfg.Tunnels,
		carriers:  cfg.Carriers,
		elections: cfg.Elections,
		members:   cfg.Members,
		metrics:   cfg.Metrics,
		logger:    logger.With(slog.String("component", "elan.elector")),
	}
	if e.elections == nil {
		e.elections = NewElectionCache()
	}
	if e.members == nil {
		e.members = NewMembershipCache()
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	return e
}

// Designate returns the designated switch for (tunnelIP, domain), electing
// one among candidates when no valid record exists. InvalidSwitch is a
// result, not an error: it is persisted and returned with a nil error when
// no hardware gateway owns tunnelIP or no candidate qualifies. The error is
// reserved for store and directory failures.
func (e *Elector) Designate(ctx context.Context, tunnelIP netip.Addr, domain string, candidates []SwitchID) (SwitchID, error) {
	key := TunnelDomain{TunnelIP: tunnelIP, Domain: domain}

	if sw, ok := e.elections.Get(key); ok && sw.Valid() {
		e.metrics.IncElections(OutcomeSticky)
		return sw, nil
	}
	return e.elect(ctx, key, candidates)
}

// Redesignate elects again among candidates, replacing the current record
// of (tunnelIP, domain). The record, stored and cached, keeps naming the
// previous switch until the new one is persisted, so a failed call can be
// repeated.
func (e *Elector) Redesignate(ctx context.Context, tunnelIP netip.Addr, domain string, candidates []SwitchID) (SwitchID, error) {
	return e.elect(ctx, TunnelDomain{TunnelIP: tunnelIP, Domain: domain}, candidates)
}

// elect runs an election for key, ignoring any current record except for
// not counting it against its switch's load.
func (e *Elector) elect(ctx context.Context, key TunnelDomain, candidates []SwitchID) (SwitchID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tunnelIP, domain := key.TunnelIP, key.Domain
	prev, _ := e.elections.Get(key)
	pool, fallback := e.pool(domain, candidates)

	_, found, err := e.gateways.DeviceAt(ctx, tunnelIP)
	if err != nil {
		return InvalidSwitch, fmt.Errorf("designate %s: gateway lookup: %w", key, err)
	}

	winner := InvalidSwitch
	if found {
		winner = e.pick(tunnelIP, pool, fallback, prev)
	}

	if err := e.store.PutElection(ctx, key, winner); err != nil {
		return InvalidSwitch, fmt.Errorf("designate %s: %w", key, err)
	}
	e.elections.Put(key, winner)
	e.members.Ensure(key)
	e.reportDesignations()

	outcome := OutcomeElected
	switch {
	case !winner.Valid():
		outcome = OutcomeInvalid
	case fallback:
		outcome = OutcomeFallback
	}
	e.metrics.IncElections(outcome)

	e.logger.Info("designated switch elected",
		slog.String("tunnel_ip", tunnelIP.String()),
		slog.String("domain", domain),
		slog.String("switch", winner.String()),
		slog.String("outcome", outcome),
		slog.Bool("gateway_found", found),
		slog.Int("pool", len(pool)),
	)

	return winner, nil
}

// Forget deletes the record of key from the store and the caches.
func (e *Elector) Forget(ctx context.Context, key TunnelDomain) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.DeleteElection(ctx, key); err != nil {
		return fmt.Errorf("forget %s: %w", key, err)
	}
	e.elections.Delete(key)
	e.reportDesignations()
	return nil
}

func (e *Elector) reportDesignations() {
	n := 0
	for _, c := range e.elections.Assignments() {
		n += c
	}
	e.metrics.SetDesignations(n)
}

// pool intersects the domain's carriers with candidates, keeping the
// candidate order. An empty intersection falls back to all candidates.
func (e *Elector) pool(domain string, candidates []SwitchID) ([]SwitchID, bool) {
	carriers := e.carriers.Carriers(domain)

	pool := make([]SwitchID, 0, len(candidates))
	for _, c := range candidates {
		if slices.Contains(carriers, c) {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		return slices.Clone(candidates), true
	}
	return pool, false
}

// pick returns the qualifying switch with the fewest assignments. Ties go
// to the earliest candidate. In fallback mode the tunnel to the gateway
// must be live; otherwise a configured tunnel suffices. The assignment
// being replaced, if any, is released from prev's load.
func (e *Elector) pick(tunnelIP netip.Addr, pool []SwitchID, fallback bool, prev SwitchID) SwitchID {
	load := e.elections.Assignments()
	if prev.Valid() && load[prev] > 0 {
		load[prev]--
	}

	winner := InvalidSwitch
	best := 0
	for _, sw := range pool {
		if !sw.Valid() {
			continue
		}
		qualifies := e.tunnels.TunnelConfigured(sw, tunnelIP)
		if fallback {
			qualifies = e.tunnels.TunnelLive(sw, tunnelIP)
		}
		if !qualifies {
			continue
		}
		if n := load[sw]; !winner.Valid() || n < best {
			winner, best = sw, n
		}
	}
	return winner
}
