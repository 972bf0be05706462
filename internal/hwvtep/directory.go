// Package hwvtep resolves the external hardware VTEP (top-of-rack gateway
// device) reachable at a tunnel endpoint.
//
// Three backends implement elan.GatewayDirectory: a static table from
// configuration, the OVSDB hardware_vtep database the device publishes,
// and the BGP EVPN peer table of a co-located GoBGP daemon. Chain combines
// several of them.
package hwvtep

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync"

	"github.com/dantte-lp/goelan/internal/elan"
)

// Directory errors.
var (
	// ErrDeviceName indicates a static device without a name.
	ErrDeviceName = errors.New("gateway device name is empty")

	// ErrDeviceTunnelIP indicates a static device tunnel endpoint that is
	// not IPv4.
	ErrDeviceTunnelIP = errors.New("gateway device tunnel ip must be IPv4")

	// ErrDuplicateTunnelIP indicates two devices claiming one endpoint.
	ErrDuplicateTunnelIP = errors.New("tunnel ip claimed by two gateway devices")
)

// -------------------------------------------------------------------------
// Static
// -------------------------------------------------------------------------

// Static is a GatewayDirectory over a fixed device table.
type Static struct {
	mu      sync.RWMutex
	devices map[netip.Addr]elan.GatewayDevice
}

// NewStatic validates devices and indexes them by tunnel endpoint.
func NewStatic(devices []elan.GatewayDevice) (*Static, error) {
	s := &Static{devices: make(map[netip.Addr]elan.GatewayDevice)}
	for _, d := range devices {
		if err := s.Put(d); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Put adds or replaces a device.
func (s *Static) Put(d elan.GatewayDevice) error {
	if d.Name == "" {
		return ErrDeviceName
	}
	for _, ip := range d.TunnelIPs {
		if !ip.Is4() {
			return fmt.Errorf("device %s: %w: %s", d.Name, ErrDeviceTunnelIP, ip)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ip := range d.TunnelIPs {
		if cur, ok := s.devices[ip]; ok && cur.Name != d.Name {
			return fmt.Errorf("device %s: %w: %s owned by %s", d.Name, ErrDuplicateTunnelIP, ip, cur.Name)
		}
	}
	for ip, cur := range s.devices {
		if cur.Name == d.Name {
			delete(s.devices, ip)
		}
	}
	d.TunnelIPs = slices.Clone(d.TunnelIPs)
	for _, ip := range d.TunnelIPs {
		s.devices[ip] = d
	}
	return nil
}

// DeviceAt implements elan.GatewayDirectory.
func (s *Static) DeviceAt(_ context.Context, tunnelIP netip.Addr) (elan.GatewayDevice, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[tunnelIP]
	return d, ok, nil
}

// -------------------------------------------------------------------------
// Chain
// -------------------------------------------------------------------------

// Chain asks each directory in order and returns the first device found.
// A lookup error stops the chain.
type Chain []elan.GatewayDirectory

// DeviceAt implements elan.GatewayDirectory.
func (c Chain) DeviceAt(ctx context.Context, tunnelIP netip.Addr) (elan.GatewayDevice, bool, error) {
	for _, d := range c {
		dev, ok, err := d.DeviceAt(ctx, tunnelIP)
		if err != nil || ok {
			return dev, ok, err
		}
	}
	return elan.GatewayDevice{}, false, nil
}
