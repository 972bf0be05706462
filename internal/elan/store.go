package elan

import (
	"context"
	"net/netip"
)

// Store persists election records and the per-domain gateway-port
// bindings (the members reachable behind each hardware-gateway tunnel).
// Only the leader writes; every node reads.
type Store interface {
	// LoadElections returns every persisted election record.
	LoadElections(ctx context.Context) (map[TunnelDomain]SwitchID, error)

	// PutElection stores or replaces one record. InvalidSwitch is stored
	// like any other value.
	PutElection(ctx context.Context, key TunnelDomain, sw SwitchID) error

	// DeleteElection removes one record.
	DeleteElection(ctx context.Context, key TunnelDomain) error

	// LoadBindings returns every persisted member binding.
	LoadBindings(ctx context.Context) (map[TunnelDomain][]MAC, error)

	// PutBinding records that mac is reachable through key.
	PutBinding(ctx context.Context, key TunnelDomain, mac MAC) error

	// DeleteBinding removes one member binding.
	DeleteBinding(ctx context.Context, key TunnelDomain, mac MAC) error
}

// GatewayDevice is an external hardware VTEP.
type GatewayDevice struct {
	Name      string
	TunnelIPs []netip.Addr
}

// GatewayDirectory resolves the hardware gateway reachable at a tunnel
// endpoint.
type GatewayDirectory interface {
	// DeviceAt returns the device owning tunnelIP. A missing device is
	// (zero, false, nil); err is reserved for lookup failures.
	DeviceAt(ctx context.Context, tunnelIP netip.Addr) (GatewayDevice, bool, error)
}
