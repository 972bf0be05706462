package dhcp

import (
	"cmp"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"sync"
)

// -------------------------------------------------------------------------
// Directory Types
// -------------------------------------------------------------------------

// BindingType is the host binding of a tenant port.
type BindingType uint8

const (
	// BindingNormal is a port bound to a virtual switch interface.
	BindingNormal BindingType = iota

	// BindingDirect is an SR-IOV or macvtap port reachable only through an
	// external hardware gateway tunnel. Such ports are resolved by
	// (VNI, MAC) rather than by ingress interface.
	BindingDirect
)

// String returns the binding name.
func (b BindingType) String() string {
	switch b {
	case BindingNormal:
		return "normal"
	case BindingDirect:
		return "direct"
	default:
		return fmt.Sprintf("binding(%d)", uint8(b))
	}
}

// ParseBindingType parses a binding name. The empty string is "normal".
func ParseBindingType(s string) (BindingType, error) {
	switch s {
	case "", "normal":
		return BindingNormal, nil
	case "direct":
		return BindingDirect, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownBinding, s)
	}
}

// HostRoute is one classless static route handed to clients (RFC 3442).
type HostRoute struct {
	Destination netip.Prefix
	NextHop     netip.Addr
}

// Subnet is the addressing context of a tenant subnet.
type Subnet struct {
	ID          string
	Network     string
	CIDR        netip.Prefix
	Gateway     netip.Addr
	DNSServers  []netip.Addr
	HostRoutes  []HostRoute
	DHCPEnabled bool

	// ServerIP is the address the responder answers from on this subnet.
	// When invalid, the gateway address is used.
	ServerIP netip.Addr
}

// serverIP returns the address used as DHCP server identifier.
func (s Subnet) serverIP() netip.Addr {
	if s.ServerIP.IsValid() {
		return s.ServerIP
	}
	return s.Gateway
}

// Port is a tenant port known to the directory.
type Port struct {
	ID        string
	MAC       net.HardwareAddr
	IP        netip.Addr
	SubnetID  string
	Interface string
	VNI       uint32
	Binding   BindingType
}

// Ingress describes where a packet-in arrived.
type Ingress struct {
	// Interface is the logical ingress interface of a locally bound port.
	Interface string

	// VNI is nonzero for packets received from an external hardware
	// gateway tunnel; the port is then looked up by (VNI, MAC).
	VNI uint32

	// Network selects the dynamic allocation pool for unbound clients.
	Network string
}

// Directory is the read-only view of ports and subnets consulted by the
// resolver.
type Directory interface {
	// PortByInterface returns the port bound to a logical interface.
	PortByInterface(name string) (Port, bool)

	// PortByVNIMAC returns a tunnel-reachable port.
	PortByVNIMAC(vni uint32, mac net.HardwareAddr) (Port, bool)

	// Subnet returns a subnet by ID.
	Subnet(id string) (Subnet, bool)
}

// -------------------------------------------------------------------------
// Directory Errors
// -------------------------------------------------------------------------

var (
	// ErrUnknownBinding indicates a binding name other than normal or direct.
	ErrUnknownBinding = errors.New("unknown port binding")

	// ErrPortIDEmpty indicates a port without an ID.
	ErrPortIDEmpty = errors.New("port id is empty")

	// ErrPortMACInvalid indicates a port MAC that is not 48 bits.
	ErrPortMACInvalid = errors.New("port MAC must be a 48-bit address")

	// ErrDirectPortNoVNI indicates a direct-bound port without a VNI.
	ErrDirectPortNoVNI = errors.New("direct port requires a nonzero VNI")

	// ErrPortNotFound indicates an unbind of an unknown port.
	ErrPortNotFound = errors.New("port not found")
)

// -------------------------------------------------------------------------
// VNIPortIndex: (VNI, MAC) -> Port
// -------------------------------------------------------------------------

// VNIMAC keys a port reachable through an external tunnel.
type VNIMAC struct {
	VNI uint32
	MAC [6]byte
}

// NewVNIMAC builds a key. MACs that are not 48 bits yield false.
func NewVNIMAC(vni uint32, mac net.HardwareAddr) (VNIMAC, bool) {
	if len(mac) != 6 {
		return VNIMAC{}, false
	}
	return VNIMAC{VNI: vni, MAC: [6]byte(mac)}, true
}

// String returns "vni/mac".
func (k VNIMAC) String() string {
	return fmt.Sprintf("%d/%s", k.VNI, net.HardwareAddr(k.MAC[:]))
}

// VNIPortIndex maps (VNI, MAC) to direct-bound ports. Safe for concurrent
// use; populated as ports are bound and removed as they are unbound.
type VNIPortIndex struct {
	mu    sync.RWMutex
	ports map[VNIMAC]Port
}

// NewVNIPortIndex creates an empty index.
func NewVNIPortIndex() *VNIPortIndex {
	return &VNIPortIndex{ports: make(map[VNIMAC]Port)}
}

// Put indexes p under (p.VNI, p.MAC).
func (x *VNIPortIndex) Put(p Port) bool {
	key, ok := NewVNIMAC(p.VNI, p.MAC)
	if !ok {
		return false
	}
	x.mu.Lock()
	x.ports[key] = p
	x.mu.Unlock()
	return true
}

// DeletePort removes the entry for (p.VNI, p.MAC) if it still indexes
// the port p.ID. It reports whether an entry was removed.
func (x *VNIPortIndex) DeletePort(p Port) bool {
	key, ok := NewVNIMAC(p.VNI, p.MAC)
	if !ok {
		return false
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if cur, found := x.ports[key]; !found || cur.ID != p.ID {
		return false
	}
	delete(x.ports, key)
	return true
}

// Get looks up (vni, mac).
func (x *VNIPortIndex) Get(vni uint32, mac net.HardwareAddr) (Port, bool) {
	key, ok := NewVNIMAC(vni, mac)
	if !ok {
		return Port{}, false
	}
	x.mu.RLock()
	p, found := x.ports[key]
	x.mu.RUnlock()
	return p, found
}

// Len returns the number of indexed ports.
func (x *VNIPortIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ports)
}

// -------------------------------------------------------------------------
// StaticDirectory: in-memory Directory
// -------------------------------------------------------------------------

// StaticDirectory is an in-memory Directory populated from configuration
// and from port bind/unbind calls. Direct-bound ports are also written to
// the injected VNIPortIndex.
type StaticDirectory struct {
	mu      sync.RWMutex
	subnets map[string]Subnet
	ports   map[string]Port
	byIface map[string]string
	index   *VNIPortIndex
}

// NewStaticDirectory creates a directory backed by index. If index is nil
// a private index is allocated.
func NewStaticDirectory(index *VNIPortIndex) *StaticDirectory {
	if index == nil {
		index = NewVNIPortIndex()
	}
	return &StaticDirectory{
		subnets: make(map[string]Subnet),
		ports:   make(map[string]Port),
		byIface: make(map[string]string),
		index:   index,
	}
}

// PutSubnet adds or replaces a subnet.
func (d *StaticDirectory) PutSubnet(s Subnet) {
	d.mu.Lock()
	d.subnets[s.ID] = s
	d.mu.Unlock()
}

// Bind adds or replaces a port. Rebinding a port ID first removes the
// previous interface and index entries.
func (d *StaticDirectory) Bind(p Port) error {
	if p.ID == "" {
		return ErrPortIDEmpty
	}
	if len(p.MAC) != 6 {
		return fmt.Errorf("bind port %s: %w", p.ID, ErrPortMACInvalid)
	}
	if p.Binding == BindingDirect && p.VNI == 0 {
		return fmt.Errorf("bind port %s: %w", p.ID, ErrDirectPortNoVNI)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.ports[p.ID]; ok {
		d.forgetLocked(old)
	}

	d.ports[p.ID] = p
	if p.Interface != "" {
		d.byIface[p.Interface] = p.ID
	}
	if p.Binding == BindingDirect {
		d.index.Put(p)
	}

	return nil
}

// Unbind removes a port and returns it.
func (d *StaticDirectory) Unbind(id string) (Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.ports[id]
	if !ok {
		return Port{}, fmt.Errorf("unbind port %s: %w", id, ErrPortNotFound)
	}
	d.forgetLocked(p)
	delete(d.ports, id)

	return p, nil
}

func (d *StaticDirectory) forgetLocked(p Port) {
	if p.Interface != "" && d.byIface[p.Interface] == p.ID {
		delete(d.byIface, p.Interface)
	}
	if p.Binding == BindingDirect {
		d.index.DeletePort(p)
	}
}

// Ports returns a snapshot of all bound ports sorted by ID.
func (d *StaticDirectory) Ports() []Port {
	d.mu.RLock()
	out := make([]Port, 0, len(d.ports))
	for _, p := range d.ports {
		out = append(out, p)
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b Port) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// PortByInterface implements Directory.
func (d *StaticDirectory) PortByInterface(name string) (Port, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byIface[name]
	if !ok {
		return Port{}, false
	}
	p, ok := d.ports[id]
	return p, ok
}

// PortByVNIMAC implements Directory.
func (d *StaticDirectory) PortByVNIMAC(vni uint32, mac net.HardwareAddr) (Port, bool) {
	return d.index.Get(vni, mac)
}

// Subnet implements Directory.
func (d *StaticDirectory) Subnet(id string) (Subnet, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.subnets[id]
	return s, ok
}
