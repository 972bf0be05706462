package elan

import (
	"cmp"
	"maps"
	"net"
	"net/netip"
	"slices"
	"sync"
)

// Domain is the configuration of one virtual L2 domain.
type Domain struct {
	Name string
	VNI  uint32

	// Switches are the switches known to carry the domain. Elections
	// prefer them over other candidates.
	Switches []SwitchID

	// GatewayIP and GatewayMAC describe the domain's gateway port. When
	// both are set the designated switch answers ARP for GatewayIP.
	GatewayIP  netip.Addr
	GatewayMAC net.HardwareAddr
}

// hasGateway reports whether an ARP responder is configured.
func (d Domain) hasGateway() bool {
	return d.GatewayIP.Is4() && len(d.GatewayMAC) == 6
}

// TunnelState answers tunnel questions for the Elector.
type TunnelState interface {
	// TunnelConfigured reports whether sw has a tunnel interface to tunnelIP.
	TunnelConfigured(sw SwitchID, tunnelIP netip.Addr) bool

	// TunnelLive reports whether that tunnel is operationally up.
	TunnelLive(sw SwitchID, tunnelIP netip.Addr) bool
}

// DomainCarriers lists the switches known to carry a domain.
type DomainCarriers interface {
	Carriers(domain string) []SwitchID
}

// Topology is the local view of switches, tunnels and domains built from
// configuration and topology events. Every node maintains it, leader or
// not. Safe for concurrent use.
type Topology struct {
	mu         sync.RWMutex
	domains    map[string]Domain
	switchesUp map[SwitchID]struct{}
	configured map[TunnelSwitch]struct{}
	live       map[TunnelSwitch]struct{}
}

// NewTopology creates an empty topology.
func NewTopology() *Topology {
	return &Topology{
		domains:    make(map[string]Domain),
		switchesUp: make(map[SwitchID]struct{}),
		configured: make(map[TunnelSwitch]struct{}),
		live:       make(map[TunnelSwitch]struct{}),
	}
}

// PutDomain adds or replaces a domain and returns the previous value.
func (t *Topology) PutDomain(d Domain) (Domain, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old, ok := t.domains[d.Name]
	t.domains[d.Name] = d
	return old, ok
}

// DeleteDomain removes a domain and returns it.
func (t *Topology) DeleteDomain(name string) (Domain, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old, ok := t.domains[name]
	delete(t.domains, name)
	return old, ok
}

// Domain returns a domain by name.
func (t *Topology) Domain(name string) (Domain, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.domains[name]
	return d, ok
}

// Domains returns every domain sorted by name.
func (t *Topology) Domains() []Domain {
	t.mu.RLock()
	out := slices.Collect(maps.Values(t.domains))
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b Domain) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Carriers implements DomainCarriers.
func (t *Topology) Carriers(domain string) []SwitchID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.domains[domain].Switches)
}

// SwitchUp marks sw as connected.
func (t *Topology) SwitchUp(sw SwitchID) {
	t.mu.Lock()
	t.switchesUp[sw] = struct{}{}
	t.mu.Unlock()
}

// SwitchDown marks sw as disconnected. Its tunnels stop being live.
func (t *Topology) SwitchDown(sw SwitchID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.switchesUp, sw)
	for k := range t.live {
		if k.Switch == sw {
			delete(t.live, k)
		}
	}
}

// SwitchIsUp reports whether sw is connected.
func (t *Topology) SwitchIsUp(sw SwitchID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.switchesUp[sw]
	return ok
}

// ConfigureTunnel records that sw has a tunnel interface to tunnelIP.
func (t *Topology) ConfigureTunnel(sw SwitchID, tunnelIP netip.Addr) {
	t.mu.Lock()
	t.configured[TunnelSwitch{TunnelIP: tunnelIP, Switch: sw}] = struct{}{}
	t.mu.Unlock()
}

// TunnelUp records a live tunnel. A live tunnel is also configured and
// implies a connected switch.
func (t *Topology) TunnelUp(sw SwitchID, tunnelIP netip.Addr) {
	k := TunnelSwitch{TunnelIP: tunnelIP, Switch: sw}
	t.mu.Lock()
	t.configured[k] = struct{}{}
	t.live[k] = struct{}{}
	t.switchesUp[sw] = struct{}{}
	t.mu.Unlock()
}

// TunnelDown records that the tunnel lost liveness. It stays configured.
func (t *Topology) TunnelDown(sw SwitchID, tunnelIP netip.Addr) {
	t.mu.Lock()
	delete(t.live, TunnelSwitch{TunnelIP: tunnelIP, Switch: sw})
	t.mu.Unlock()
}

// TunnelConfigured implements TunnelState.
func (t *Topology) TunnelConfigured(sw SwitchID, tunnelIP netip.Addr) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.configured[TunnelSwitch{TunnelIP: tunnelIP, Switch: sw}]
	return ok
}

// TunnelLive implements TunnelState.
func (t *Topology) TunnelLive(sw SwitchID, tunnelIP netip.Addr) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.live[TunnelSwitch{TunnelIP: tunnelIP, Switch: sw}]
	return ok
}

// Candidates returns the connected switches with a tunnel configured to
// tunnelIP, in ascending ID order, skipping exclude.
func (t *Topology) Candidates(tunnelIP netip.Addr, exclude ...SwitchID) []SwitchID {
	t.mu.RLock()
	var out []SwitchID
	for k := range t.configured {
		if k.TunnelIP != tunnelIP || slices.Contains(exclude, k.Switch) {
			continue
		}
		if _, up := t.switchesUp[k.Switch]; !up {
			continue
		}
		out = append(out, k.Switch)
	}
	t.mu.RUnlock()

	slices.Sort(out)
	return slices.Compact(out)
}
