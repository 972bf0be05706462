package dhcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"go4.org/netipx"
)

// -------------------------------------------------------------------------
// Pool Errors
// -------------------------------------------------------------------------

var (
	// ErrPoolRange indicates a pool range that is empty, not IPv4, or not
	// contained in the subnet CIDR.
	ErrPoolRange = errors.New("invalid allocation pool range")

	// ErrPoolExhausted indicates every address of the pool is leased.
	ErrPoolExhausted = errors.New("allocation pool exhausted")
)

// -------------------------------------------------------------------------
// AllocationPool: dynamic per-network addresses
// -------------------------------------------------------------------------

// AllocationPool hands out addresses of one network to clients that have
// no bound port. Leases are keyed by client MAC and are sticky: a MAC that
// already holds an address gets the same address back until it is
// released. The subnet gateway and server addresses are never leased.
type AllocationPool struct {
	subnet Subnet
	rng    netipx.IPRange
	size   int

	mu     sync.Mutex
	byMAC  map[[6]byte]netip.Addr
	leased map[netip.Addr][6]byte
}

// NewAllocationPool creates a pool over [start, end] inside subnet.CIDR.
func NewAllocationPool(subnet Subnet, start, end netip.Addr) (*AllocationPool, error) {
	rng := netipx.IPRangeFrom(start, end)
	if !rng.IsValid() || !start.Is4() {
		return nil, fmt.Errorf("pool %s-%s: %w", start, end, ErrPoolRange)
	}
	if !subnet.CIDR.Contains(start) || !subnet.CIDR.Contains(end) {
		return nil, fmt.Errorf("pool %s-%s outside %s: %w", start, end, subnet.CIDR, ErrPoolRange)
	}

	return &AllocationPool{
		subnet: subnet,
		rng:    rng,
		size:   int(v4Uint(end) - v4Uint(start) + 1),
		byMAC:  make(map[[6]byte]netip.Addr),
		leased: make(map[netip.Addr][6]byte),
	}, nil
}

// Network returns the network the pool serves.
func (p *AllocationPool) Network() string {
	return p.subnet.Network
}

// Range returns the configured address range.
func (p *AllocationPool) Range() netipx.IPRange {
	return p.rng
}

// Allocate returns the address leased to mac, leasing the lowest free
// address of the range when mac holds none.
func (p *AllocationPool) Allocate(mac net.HardwareAddr) (netip.Addr, error) {
	if len(mac) != 6 {
		return netip.Addr{}, fmt.Errorf("allocate for %s: %w", mac, ErrPortMACInvalid)
	}
	key := [6]byte(mac)

	p.mu.Lock()
	defer p.mu.Unlock()

	if ip, ok := p.byMAC[key]; ok {
		return ip, nil
	}

	for ip := p.rng.From(); p.rng.Contains(ip); ip = ip.Next() {
		if p.reserved(ip) {
			continue
		}
		if _, used := p.leased[ip]; used {
			continue
		}
		p.byMAC[key] = ip
		p.leased[ip] = key
		return ip, nil
	}

	return netip.Addr{}, fmt.Errorf("allocate for %s in %s: %w", mac, p.rng, ErrPoolExhausted)
}

// Release frees the address leased to mac. It reports whether a lease
// existed.
func (p *AllocationPool) Release(mac net.HardwareAddr) bool {
	if len(mac) != 6 {
		return false
	}
	key := [6]byte(mac)

	p.mu.Lock()
	defer p.mu.Unlock()

	ip, ok := p.byMAC[key]
	if !ok {
		return false
	}
	delete(p.byMAC, key)
	delete(p.leased, ip)
	return true
}

// Leased returns the number of active leases.
func (p *AllocationPool) Leased() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byMAC)
}

// Size returns the number of addresses in the range, reserved ones included.
func (p *AllocationPool) Size() int {
	return p.size
}

// info builds the reply context for a leased address.
func (p *AllocationPool) info(ip netip.Addr) *Info {
	return infoFor(ip, p.subnet)
}

func (p *AllocationPool) reserved(ip netip.Addr) bool {
	return ip == p.subnet.Gateway || ip == p.subnet.ServerIP ||
		ip == p.subnet.CIDR.Masked().Addr() || ip == netipx.PrefixLastIP(p.subnet.CIDR)
}

func v4Uint(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}
