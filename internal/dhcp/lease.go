package dhcp

import (
	"log/slog"
	"net"
	"net/netip"
	"slices"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

// Info is the addressing context of one reply. It is built per request
// and never stored.
type Info struct {
	ClientIP   netip.Addr
	ServerIP   netip.Addr
	GatewayIP  netip.Addr
	CIDR       netip.Prefix
	DNSServers []netip.Addr
	HostRoutes []HostRoute
}

// infoFor assembles Info for clientIP inside subnet. Host routes whose
// next hop is the client itself are dropped.
func infoFor(clientIP netip.Addr, s Subnet) *Info {
	routes := make([]HostRoute, 0, len(s.HostRoutes))
	for _, r := range s.HostRoutes {
		if r.NextHop == clientIP {
			continue
		}
		routes = append(routes, r)
	}

	return &Info{
		ClientIP:   clientIP,
		ServerIP:   s.serverIP(),
		GatewayIP:  s.Gateway,
		CIDR:       s.CIDR,
		DNSServers: slices.Clone(s.DNSServers),
		HostRoutes: routes,
	}
}

// -------------------------------------------------------------------------
// Resolver
// -------------------------------------------------------------------------

// Resolver maps a requesting client to its addressing context. Static
// bindings from the Directory win; the per-network AllocationPool is used
// only for clients without a bound port and only when dynamic allocation
// is enabled.
type Resolver struct {
	dir     Directory
	pools   map[string]*AllocationPool
	dynamic bool
	logger  *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithPools registers dynamic allocation pools and enables dynamic
// allocation. Pools are keyed by their network.
func WithPools(pools ...*AllocationPool) ResolverOption {
	return func(r *Resolver) {
		for _, p := range pools {
			r.pools[p.Network()] = p
		}
		r.dynamic = len(r.pools) > 0
	}
}

// NewResolver creates a Resolver over dir.
func NewResolver(dir Directory, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		dir:    dir,
		pools:  make(map[string]*AllocationPool),
		logger: logger.With(slog.String("component", "dhcp.resolver")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the addressing context for mac arriving on in. DECLINE
// and RELEASE never produce Info; RELEASE frees a dynamic lease.
func (r *Resolver) Resolve(mac net.HardwareAddr, in Ingress, mt dhcpv4.MessageType) (*Info, bool) {
	if port, ok := r.boundPort(mac, in); ok {
		if mt == dhcpv4.MessageTypeDecline || mt == dhcpv4.MessageTypeRelease {
			return nil, false
		}
		return r.fromPort(port)
	}

	if !r.dynamic {
		return nil, false
	}

	pool, ok := r.pools[in.Network]
	if !ok {
		return nil, false
	}

	switch mt {
	case dhcpv4.MessageTypeDiscover, dhcpv4.MessageTypeRequest:
		ip, err := pool.Allocate(mac)
		if err != nil {
			r.logger.Warn("dynamic allocation failed",
				slog.String("mac", mac.String()),
				slog.String("network", in.Network),
				slog.String("error", err.Error()),
			)
			return nil, false
		}
		return pool.info(ip), true

	case dhcpv4.MessageTypeRelease:
		if pool.Release(mac) {
			r.logger.Debug("dynamic lease released",
				slog.String("mac", mac.String()),
				slog.String("network", in.Network),
			)
		}
	}

	return nil, false
}

// boundPort finds the static binding for a client. Tunnel ingress is
// looked up by (VNI, MAC); local ingress by interface.
func (r *Resolver) boundPort(mac net.HardwareAddr, in Ingress) (Port, bool) {
	if in.VNI != 0 {
		return r.dir.PortByVNIMAC(in.VNI, mac)
	}
	if in.Interface == "" {
		return Port{}, false
	}
	return r.dir.PortByInterface(in.Interface)
}

func (r *Resolver) fromPort(p Port) (*Info, bool) {
	if !p.IP.Is4() {
		return nil, false
	}

	s, ok := r.dir.Subnet(p.SubnetID)
	if !ok {
		r.logger.Warn("port references unknown subnet",
			slog.String("port", p.ID),
			slog.String("subnet", p.SubnetID),
		)
		return nil, false
	}
	if !s.DHCPEnabled {
		return nil, false
	}

	return infoFor(p.IP, s), true
}
