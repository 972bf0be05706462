package elan_test

import (
	"context"
	"errors"
	"maps"
	"net/netip"
	"slices"
	"sync"

	"github.com/dantte-lp/goelan/internal/elan"
)

// -------------------------------------------------------------------------
// memStore: in-memory elan.Store
// -------------------------------------------------------------------------

var errStoreDown = errors.New("store unavailable")

type memStore struct {
	mu        sync.Mutex
	elections map[elan.TunnelDomain]elan.SwitchID
	bindings  map[elan.TunnelDomain]map[elan.MAC]struct{}
	writes    int
	failPuts  int
}

func newMemStore() *memStore {
	return &memStore{
		elections: make(map[elan.TunnelDomain]elan.SwitchID),
		bindings:  make(map[elan.TunnelDomain]map[elan.MAC]struct{}),
	}
}

// failNextPuts makes the next n PutElection calls fail.
func (s *memStore) failNextPuts(n int) {
	s.mu.Lock()
	s.failPuts = n
	s.mu.Unlock()
}

func (s *memStore) LoadElections(context.Context) (map[elan.TunnelDomain]elan.SwitchID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.elections), nil
}

func (s *memStore) PutElection(_ context.Context, key elan.TunnelDomain, sw elan.SwitchID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPuts > 0 {
		s.failPuts--
		return errStoreDown
	}
	s.writes++
	s.elections[key] = sw
	return nil
}

func (s *memStore) DeleteElection(_ context.Context, key elan.TunnelDomain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	delete(s.elections, key)
	return nil
}

func (s *memStore) LoadBindings(context.Context) (map[elan.TunnelDomain][]elan.MAC, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[elan.TunnelDomain][]elan.MAC, len(s.bindings))
	for k, set := range s.bindings {
		out[k] = slices.Collect(maps.Keys(set))
	}
	return out, nil
}

func (s *memStore) PutBinding(_ context.Context, key elan.TunnelDomain, mac elan.MAC) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	set, ok := s.bindings[key]
	if !ok {
		set = make(map[elan.MAC]struct{})
		s.bindings[key] = set
	}
	set[mac] = struct{}{}
	return nil
}

func (s *memStore) DeleteBinding(_ context.Context, key elan.TunnelDomain, mac elan.MAC) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if set, ok := s.bindings[key]; ok {
		delete(set, mac)
		if len(set) == 0 {
			delete(s.bindings, key)
		}
	}
	return nil
}

func (s *memStore) election(key elan.TunnelDomain) (elan.SwitchID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sw, ok := s.elections[key]
	return sw, ok
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// -------------------------------------------------------------------------
// gatewayMap: static elan.GatewayDirectory
// -------------------------------------------------------------------------

type gatewayMap struct {
	mu      sync.Mutex
	devices map[netip.Addr]elan.GatewayDevice
}

func newGatewayMap(tunnelIPs ...netip.Addr) *gatewayMap {
	g := &gatewayMap{devices: make(map[netip.Addr]elan.GatewayDevice)}
	for _, ip := range tunnelIPs {
		g.add(ip)
	}
	return g
}

func (g *gatewayMap) add(ip netip.Addr) {
	g.mu.Lock()
	g.devices[ip] = elan.GatewayDevice{Name: "tor-" + ip.String(), TunnelIPs: []netip.Addr{ip}}
	g.mu.Unlock()
}

func (g *gatewayMap) DeviceAt(_ context.Context, ip netip.Addr) (elan.GatewayDevice, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.devices[ip]
	return d, ok, nil
}

// -------------------------------------------------------------------------
// flowRecorder: recording elan.FlowInstaller
// -------------------------------------------------------------------------

var errSwitchUnreachable = errors.New("switch unreachable")

type flowRecorder struct {
	mu       sync.Mutex
	flows    map[string]elan.Flow
	installs int
	removes  int
	fail     bool
}

func newFlowRecorder() *flowRecorder {
	return &flowRecorder{flows: make(map[string]elan.Flow)}
}

func (r *flowRecorder) InstallFlow(_ context.Context, f elan.Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errSwitchUnreachable
	}
	r.installs++
	r.flows[f.ID] = f
	return nil
}

func (r *flowRecorder) RemoveFlow(_ context.Context, f elan.Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errSwitchUnreachable
	}
	r.removes++
	delete(r.flows, f.ID)
	return nil
}

func (r *flowRecorder) has(f elan.Flow) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.flows[f.ID]
	return ok
}

func (r *flowRecorder) onSwitch(sw elan.SwitchID) []elan.Flow {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []elan.Flow
	for _, f := range r.flows {
		if f.Switch == sw {
			out = append(out, f)
		}
	}
	return out
}

func (r *flowRecorder) ops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installs + r.removes
}

// -------------------------------------------------------------------------
// mockMetrics: recording elan.MetricsReporter
// -------------------------------------------------------------------------

type mockMetrics struct {
	mu           sync.Mutex
	elections    map[string]int
	flowOps      map[string]int
	jobs         map[string]int
	designations int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{
		elections: make(map[string]int),
		flowOps:   make(map[string]int),
		jobs:      make(map[string]int),
	}
}

func (m *mockMetrics) IncElections(outcome string) {
	m.mu.Lock()
	m.elections[outcome]++
	m.mu.Unlock()
}

func (m *mockMetrics) SetDesignations(n int) {
	m.mu.Lock()
	m.designations = n
	m.mu.Unlock()
}

func (m *mockMetrics) IncFlowOps(op, result string) {
	m.mu.Lock()
	m.flowOps[op+"/"+result]++
	m.mu.Unlock()
}

func (m *mockMetrics) IncJobs(state string) {
	m.mu.Lock()
	m.jobs[state]++
	m.mu.Unlock()
}

func (m *mockMetrics) SetJobsInFlight(string, int) {}

func (m *mockMetrics) election(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elections[outcome]
}

func (m *mockMetrics) flowOp(op, result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flowOps[op+"/"+result]
}

func (m *mockMetrics) job(state string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[state]
}

func (m *mockMetrics) designated() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.designations
}
