package elan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/dantte-lp/goelan/internal/cluster"
)

// Flow operation labels reported to MetricsReporter.
const (
	FlowOpInstall = "install"
	FlowOpRemove  = "remove"

	FlowResultOK    = "ok"
	FlowResultError = "error"
)

// OrchestratorConfig wires the Orchestrator. Role, Store, Gateways and
// Installer are required; the rest default to fresh instances.
type OrchestratorConfig struct {
	Role       cluster.RoleProvider
	Store      Store
	Gateways   GatewayDirectory
	Installer  FlowInstaller
	Dispatcher *Dispatcher
	Topology   *Topology
	Elections  *ElectionCache
	Members    *MembershipCache
	Locks      *KeyedLocker
	Metrics    MetricsReporter
}

// Orchestrator turns topology events into elections and flow changes.
//
// Every node applies switch, tunnel and domain events to its local
// Topology. Only the leader elects and programs flows; followers reload the
// election and membership caches from the store instead.
type Orchestrator struct {
	role       cluster.RoleProvider
	store      Store
	installer  FlowInstaller
	dispatcher *Dispatcher
	elector    *Elector
	topo       *Topology
	elections  *ElectionCache
	members    *MembershipCache
	locks      *KeyedLocker
	metrics    MetricsReporter
	logger     *slog.Logger
}

// NewOrchestrator creates an Orchestrator and the Elector it drives. The
// caller owns the Dispatcher and closes it on shutdown.
func NewOrchestrator(cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		role:       cfg.Role,
		store:      cfg.Store,
		installer:  cfg.Installer,
		dispatcher: cfg.Dispatcher,
		topo:       cfg.Topology,
		elections:  cfg.Elections,
		members:    cfg.Members,
		locks:      cfg.Locks,
		metrics:    cfg.Metrics,
		logger:     logger.With(slog.String("component", "elan.orchestrator")),
	}
	if o.dispatcher == nil {
		o.dispatcher = NewDispatcher(logger, WithDispatcherMetrics(cfg.Metrics))
	}
	if o.topo == nil {
		o.topo = NewTopology()
	}
	if o.elections == nil {
		o.elections = NewElectionCache()
	}
	if o.members == nil {
		o.members = NewMembershipCache()
	}
	if o.locks == nil {
		o.locks = NewKeyedLocker()
	}
	if o.metrics == nil {
		o.metrics = noopMetrics{}
	}

	o.elector = NewElector(ElectorConfig{
		Store:     cfg.Store,
		Gateways:  cfg.Gateways,
		Tunnels:   o.topo,
		Carriers:  o.topo,
		Elections: o.elections,
		Members:   o.members,
		Metrics:   o.metrics,
	}, logger)

	return o
}

// Elector returns the Elector the Orchestrator drives.
func (o *Orchestrator) Elector() *Elector { return o.elector }

// Topology returns the local topology view.
func (o *Orchestrator) Topology() *Topology { return o.topo }

// Elections returns the election cache.
func (o *Orchestrator) Elections() *ElectionCache { return o.elections }

// Members returns the membership cache.
func (o *Orchestrator) Members() *MembershipCache { return o.members }

// Dispatcher returns the job dispatcher.
func (o *Orchestrator) Dispatcher() *Dispatcher { return o.dispatcher }

// -------------------------------------------------------------------------
// Event Entry Points
// -------------------------------------------------------------------------

// priorDomain is the domain configuration replaced by a
// DomainConfigChanged event.
type priorDomain struct {
	domain Domain
	ok     bool
}

// Handle applies ev to the local topology and, on the leader, queues the
// resulting election and flow work on the Dispatcher under ev.JobKey().
// Followers reload their caches from the store before returning.
//
// The On* methods below take the same path and wait for the queued job,
// returning its final error after the Dispatcher's retries.
func (o *Orchestrator) Handle(ctx context.Context, ev Event) error {
	return o.dispatch(ctx, ev, false)
}

// OnSwitchUp guards a (re)connected switch that is nobody's designee with
// drop flows for every known member, so it cannot answer on behalf of
// another switch.
func (o *Orchestrator) OnSwitchUp(ctx context.Context, sw SwitchID) error {
	return o.handleWait(ctx, Event{Kind: EventSwitchUp, Switch: sw})
}

// OnSwitchDown moves every pair designated to sw to another switch.
func (o *Orchestrator) OnSwitchDown(ctx context.Context, sw SwitchID) error {
	return o.handleWait(ctx, Event{Kind: EventSwitchDown, Switch: sw})
}

// OnTunnelUp re-runs elections left INVALID on tunnelIP.
func (o *Orchestrator) OnTunnelUp(ctx context.Context, tunnelIP netip.Addr, sw SwitchID) error {
	return o.handleWait(ctx, Event{Kind: EventTunnelUp, TunnelIP: tunnelIP, Switch: sw})
}

// OnTunnelDown turns sw's flows for tunnelIP into drops and re-elects among
// the remaining switches.
func (o *Orchestrator) OnTunnelDown(ctx context.Context, tunnelIP netip.Addr, sw SwitchID) error {
	return o.handleWait(ctx, Event{Kind: EventTunnelDown, TunnelIP: tunnelIP, Switch: sw})
}

// OnMemberJoin records mac behind (tunnelIP, domain) and installs its flow
// on the designee, electing one first when needed.
func (o *Orchestrator) OnMemberJoin(ctx context.Context, tunnelIP netip.Addr, domain string, mac MAC) error {
	return o.handleWait(ctx, Event{Kind: EventMemberJoin, TunnelIP: tunnelIP, Domain: domain, MAC: mac})
}

// OnMemberLeave removes mac and its flow. The last member leaving releases
// the election.
func (o *Orchestrator) OnMemberLeave(ctx context.Context, tunnelIP netip.Addr, domain string, mac MAC) error {
	return o.handleWait(ctx, Event{Kind: EventMemberLeave, TunnelIP: tunnelIP, Domain: domain, MAC: mac})
}

// OnDomainConfigChanged adds, updates or deletes a domain and reprograms
// the flows that depend on its VNI and gateway.
func (o *Orchestrator) OnDomainConfigChanged(ctx context.Context, d Domain, deleted bool) error {
	return o.handleWait(ctx, Event{Kind: EventDomainConfigChanged, DomainConfig: d, Deleted: deleted})
}

// Refresh reloads the election and membership caches from the store.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	elections, err := o.store.LoadElections(ctx)
	if err != nil {
		return fmt.Errorf("refresh elections: %w", err)
	}
	bindings, err := o.store.LoadBindings(ctx)
	if err != nil {
		return fmt.Errorf("refresh bindings: %w", err)
	}

	o.elections.Replace(elections)
	o.members.Replace(bindings)
	for key := range elections {
		o.members.Ensure(key)
	}

	n := 0
	for _, c := range o.elections.Assignments() {
		n += c
	}
	o.metrics.SetDesignations(n)

	o.logger.Debug("caches refreshed from store",
		slog.Int("elections", len(elections)),
		slog.Int("bindings", len(bindings)),
	)
	return nil
}

// handleWait is Handle that also waits for the queued job to finish.
func (o *Orchestrator) handleWait(ctx context.Context, ev Event) error {
	return o.dispatch(ctx, ev, true)
}

// dispatch applies ev locally and queues the leader work under
// ev.JobKey(), waiting for its outcome when wait is set.
func (o *Orchestrator) dispatch(ctx context.Context, ev Event, wait bool) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	prev := o.apply(ev)

	if !o.leading() {
		return o.Refresh(ctx)
	}

	key, name := ev.JobKey(), ev.Kind.String()
	fn := func(ctx context.Context) error {
		return o.process(ctx, ev, prev)
	}
	if wait {
		return o.dispatcher.Do(ctx, key, name, fn)
	}
	return o.dispatcher.Submit(key, name, fn)
}

func (o *Orchestrator) leading() bool {
	return o.role.Role() == cluster.Leader
}

// apply updates the local topology. It runs on every node.
func (o *Orchestrator) apply(ev Event) priorDomain {
	switch ev.Kind {
	case EventSwitchUp:
		o.topo.SwitchUp(ev.Switch)
	case EventSwitchDown:
		o.topo.SwitchDown(ev.Switch)
	case EventTunnelUp:
		o.topo.TunnelUp(ev.Switch, ev.TunnelIP)
	case EventTunnelDown:
		o.topo.TunnelDown(ev.Switch, ev.TunnelIP)
	case EventDomainConfigChanged:
		if ev.Deleted {
			d, ok := o.topo.DeleteDomain(ev.DomainConfig.Name)
			return priorDomain{domain: d, ok: ok}
		}
		d, ok := o.topo.PutDomain(ev.DomainConfig)
		return priorDomain{domain: d, ok: ok}
	case EventMemberJoin, EventMemberLeave:
		// Membership lives in the store-backed cache.
	}
	return priorDomain{}
}

// process performs the leader-side work of ev.
func (o *Orchestrator) process(ctx context.Context, ev Event, prev priorDomain) error {
	if !o.leading() {
		return o.Refresh(ctx)
	}

	switch ev.Kind {
	case EventSwitchUp:
		return o.switchUp(ctx, ev.Switch)
	case EventSwitchDown:
		return o.switchDown(ctx, ev.Switch)
	case EventTunnelUp:
		return o.tunnelUp(ctx, ev.TunnelIP)
	case EventTunnelDown:
		return o.tunnelDown(ctx, ev.TunnelIP, ev.Switch)
	case EventMemberJoin:
		return o.memberJoin(ctx, TunnelDomain{TunnelIP: ev.TunnelIP, Domain: ev.Domain}, ev.MAC)
	case EventMemberLeave:
		return o.memberLeave(ctx, TunnelDomain{TunnelIP: ev.TunnelIP, Domain: ev.Domain}, ev.MAC)
	case EventDomainConfigChanged:
		if ev.Deleted {
			return o.domainDeleted(ctx, ev.DomainConfig.Name, prev)
		}
		return o.domainChanged(ctx, ev.DomainConfig, prev)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownEventKind, uint8(ev.Kind))
	}
}

// -------------------------------------------------------------------------
// Leader Operations
// -------------------------------------------------------------------------

func (o *Orchestrator) switchUp(ctx context.Context, sw SwitchID) error {
	if o.elections.IsDesignee(sw) {
		return nil
	}

	for _, key := range o.members.Keys() {
		d, ok := o.topo.Domain(key.Domain)
		if !ok {
			continue
		}
		for _, mac := range o.members.Members(key) {
			o.install(ctx, DHCPDropFlow(sw, d.VNI, mac))
		}
	}
	return nil
}

func (o *Orchestrator) switchDown(ctx context.Context, sw SwitchID) error {
	var errs []error
	for _, key := range o.elections.KeysFor(sw) {
		if err := o.failover(ctx, key, sw, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) tunnelUp(ctx context.Context, tunnelIP netip.Addr) error {
	var errs []error
	for _, key := range o.elections.KeysForTunnel(tunnelIP) {
		if err := o.retryInvalid(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) tunnelDown(ctx context.Context, tunnelIP netip.Addr, sw SwitchID) error {
	var errs []error
	for _, key := range o.elections.KeysForTunnel(tunnelIP) {
		if cur, _ := o.elections.Get(key); cur != sw {
			continue
		}
		if err := o.failover(ctx, key, sw, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// failover moves key off sw. With drop set, the punt flows on sw become
// drop flows; otherwise they are just removed.
func (o *Orchestrator) failover(ctx context.Context, key TunnelDomain, sw SwitchID, drop bool) error {
	unlock := o.locks.Lock(key)
	defer unlock()

	if cur, _ := o.elections.Get(key); cur != sw {
		return nil
	}

	if d, ok := o.topo.Domain(key.Domain); ok {
		o.retractFlows(ctx, key, d, sw, drop)
	}

	next, err := o.elector.Redesignate(ctx, key.TunnelIP, key.Domain, o.topo.Candidates(key.TunnelIP, sw))
	if err != nil {
		return err
	}

	o.logger.Info("designated switch moved",
		slog.String("key", key.String()),
		slog.String("from", sw.String()),
		slog.String("to", next.String()),
	)

	if next.Valid() {
		o.programFlows(ctx, key, next)
	}
	return nil
}

// retryInvalid re-elects key if its record is INVALID.
func (o *Orchestrator) retryInvalid(ctx context.Context, key TunnelDomain) error {
	unlock := o.locks.Lock(key)
	defer unlock()

	if cur, ok := o.elections.Get(key); !ok || cur.Valid() {
		return nil
	}

	sw, err := o.elector.Designate(ctx, key.TunnelIP, key.Domain, o.topo.Candidates(key.TunnelIP))
	if err != nil {
		return err
	}
	if sw.Valid() {
		o.programFlows(ctx, key, sw)
	}
	return nil
}

func (o *Orchestrator) memberJoin(ctx context.Context, key TunnelDomain, mac MAC) error {
	unlock := o.locks.Lock(key)
	defer unlock()

	o.members.Add(key, mac)
	if err := o.store.PutBinding(ctx, key, mac); err != nil {
		return fmt.Errorf("member join %s %s: %w", key, mac, err)
	}

	sw, ok := o.elections.Get(key)
	if !ok || !sw.Valid() {
		var err error
		sw, err = o.elector.Designate(ctx, key.TunnelIP, key.Domain, o.topo.Candidates(key.TunnelIP))
		if err != nil {
			return err
		}
		if sw.Valid() {
			o.programFlows(ctx, key, sw)
			return nil
		}
	}

	if !sw.Valid() {
		o.logger.Debug("member flow deferred until election succeeds",
			slog.String("key", key.String()),
			slog.String("mac", mac.String()),
		)
		return nil
	}

	d, ok := o.topo.Domain(key.Domain)
	if !ok {
		return nil
	}
	o.install(ctx, DHCPPuntFlow(sw, d.VNI, mac))
	if d.hasGateway() {
		o.install(ctx, ARPResponderFlow(sw, d))
	}
	return nil
}

func (o *Orchestrator) memberLeave(ctx context.Context, key TunnelDomain, mac MAC) error {
	unlock := o.locks.Lock(key)
	defer unlock()

	remaining := o.members.Remove(key, mac)
	if err := o.store.DeleteBinding(ctx, key, mac); err != nil {
		return fmt.Errorf("member leave %s %s: %w", key, mac, err)
	}

	sw, _ := o.elections.Get(key)
	d, known := o.topo.Domain(key.Domain)
	if sw.Valid() && known {
		o.remove(ctx, DHCPPuntFlow(sw, d.VNI, mac))
	}

	if remaining > 0 {
		return nil
	}

	if sw.Valid() && known && d.hasGateway() && !o.arpShared(key, sw) {
		o.remove(ctx, ARPResponderFlow(sw, d))
	}
	if err := o.elector.Forget(ctx, key); err != nil {
		return err
	}
	o.members.DeleteKey(key)
	return nil
}

func (o *Orchestrator) domainDeleted(ctx context.Context, name string, prev priorDomain) error {
	var errs []error
	for _, key := range o.domainKeys(name) {
		if err := o.dropKey(ctx, key, prev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dropKey tears down every flow, binding and record of key.
func (o *Orchestrator) dropKey(ctx context.Context, key TunnelDomain, prev priorDomain) error {
	unlock := o.locks.Lock(key)
	defer unlock()

	sw, _ := o.elections.Get(key)
	if sw.Valid() && prev.ok {
		o.retractFlows(ctx, key, prev.domain, sw, false)
	}

	for _, mac := range o.members.Members(key) {
		if err := o.store.DeleteBinding(ctx, key, mac); err != nil {
			return fmt.Errorf("delete domain %s: %w", key, err)
		}
		o.members.Remove(key, mac)
	}
	if err := o.elector.Forget(ctx, key); err != nil {
		return err
	}
	o.members.DeleteKey(key)
	return nil
}

func (o *Orchestrator) domainChanged(ctx context.Context, d Domain, prev priorDomain) error {
	if prev.ok && !flowsAffected(prev.domain, d) {
		return nil
	}

	for _, key := range o.domainKeys(d.Name) {
		unlock := o.locks.Lock(key)
		sw, _ := o.elections.Get(key)
		if sw.Valid() {
			if prev.ok {
				o.retractFlows(ctx, key, prev.domain, sw, false)
			}
			o.programFlows(ctx, key, sw)
		}
		unlock()
	}
	return nil
}

// flowsAffected reports whether a domain update changes any programmed
// flow.
func flowsAffected(old, cur Domain) bool {
	return old.VNI != cur.VNI ||
		old.GatewayIP != cur.GatewayIP ||
		old.GatewayMAC.String() != cur.GatewayMAC.String()
}

// -------------------------------------------------------------------------
// Flow Helpers
// -------------------------------------------------------------------------

// programFlows installs punt flows for every member of key and the domain
// ARP responder on sw.
func (o *Orchestrator) programFlows(ctx context.Context, key TunnelDomain, sw SwitchID) {
	d, ok := o.topo.Domain(key.Domain)
	if !ok {
		o.logger.Debug("domain not configured, flows deferred", slog.String("key", key.String()))
		return
	}
	for _, mac := range o.members.Members(key) {
		o.install(ctx, DHCPPuntFlow(sw, d.VNI, mac))
	}
	if d.hasGateway() {
		o.install(ctx, ARPResponderFlow(sw, d))
	}
}

// retractFlows removes key's punt flows from sw, optionally replacing them
// with drops, and removes the ARP responder unless another pair of the
// same domain still uses sw.
func (o *Orchestrator) retractFlows(ctx context.Context, key TunnelDomain, d Domain, sw SwitchID, drop bool) {
	for _, mac := range o.members.Members(key) {
		o.remove(ctx, DHCPPuntFlow(sw, d.VNI, mac))
		if drop {
			o.install(ctx, DHCPDropFlow(sw, d.VNI, mac))
		}
	}
	if d.hasGateway() && !o.arpShared(key, sw) {
		o.remove(ctx, ARPResponderFlow(sw, d))
	}
}

// arpShared reports whether another pair of key's domain is designated to
// sw and still needs its ARP responder.
func (o *Orchestrator) arpShared(key TunnelDomain, sw SwitchID) bool {
	for _, k := range o.elections.KeysFor(sw) {
		if k != key && k.Domain == key.Domain {
			return true
		}
	}
	return false
}

// domainKeys returns every pair of domain known to either cache.
func (o *Orchestrator) domainKeys(domain string) []TunnelDomain {
	seen := make(map[TunnelDomain]struct{})
	var out []TunnelDomain
	add := func(k TunnelDomain) {
		if _, dup := seen[k]; !dup {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	for _, k := range o.elections.KeysForDomain(domain) {
		add(k)
	}
	for _, k := range o.members.Keys() {
		if k.Domain == domain {
			add(k)
		}
	}
	sortKeys(out)
	return out
}

// install and remove never fail the caller: retrying is the installer's
// job. Failures are logged and counted.
func (o *Orchestrator) install(ctx context.Context, f Flow) {
	o.flowOp(FlowOpInstall, f, o.installer.InstallFlow(ctx, f))
}

func (o *Orchestrator) remove(ctx context.Context, f Flow) {
	o.flowOp(FlowOpRemove, f, o.installer.RemoveFlow(ctx, f))
}

func (o *Orchestrator) flowOp(op string, f Flow, err error) {
	if err != nil {
		o.metrics.IncFlowOps(op, FlowResultError)
		o.logger.Error("flow operation failed",
			slog.String("op", op),
			slog.String("flow", f.ID),
			slog.String("switch", f.Switch.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	o.metrics.IncFlowOps(op, FlowResultOK)
}
