// Package elan elects the designated switch for hardware-gateway tunnels
// of a virtual L2 domain and drives the per-member flows that follow from
// the election.
//
// For every (tunnel endpoint, domain) pair exactly one switch answers DHCP
// and ARP on behalf of members reachable through the external hardware
// VTEP. The Elector picks and persists that switch, the Orchestrator
// reacts to switch, tunnel and membership events, and the Dispatcher
// serializes work per key so unrelated keys proceed concurrently.
package elan

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// -------------------------------------------------------------------------
// Switch Identity
// -------------------------------------------------------------------------

// SwitchID is the datapath identifier of a forwarding switch.
type SwitchID uint64

// InvalidSwitch is the election result when no switch can serve a pair.
// It is persisted like any other result.
const InvalidSwitch SwitchID = 0

// Valid reports whether s names a real switch.
func (s SwitchID) Valid() bool {
	return s != InvalidSwitch
}

// String returns the decimal datapath ID, or "INVALID".
func (s SwitchID) String() string {
	if s == InvalidSwitch {
		return "INVALID"
	}
	return strconv.FormatUint(uint64(s), 10)
}

// ParseSwitchID parses a decimal datapath ID or "INVALID".
func ParseSwitchID(s string) (SwitchID, error) {
	if s == "INVALID" {
		return InvalidSwitch, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return InvalidSwitch, fmt.Errorf("%w: %q", ErrBadSwitchID, s)
	}
	return SwitchID(v), nil
}

// -------------------------------------------------------------------------
// Member MAC
// -------------------------------------------------------------------------

// MAC is a comparable 48-bit member address.
type MAC [6]byte

// MACFrom converts a hardware address. Addresses that are not 48 bits
// yield false.
func MACFrom(hw net.HardwareAddr) (MAC, bool) {
	if len(hw) != 6 {
		return MAC{}, false
	}
	return MAC(hw), true
}

// ParseMAC parses a colon-separated 48-bit address.
func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, fmt.Errorf("%w: %w", ErrBadMAC, err)
	}
	m, ok := MACFrom(hw)
	if !ok {
		return MAC{}, fmt.Errorf("%w: %q is not 48 bits", ErrBadMAC, s)
	}
	return m, nil
}

// HardwareAddr returns m as a net.HardwareAddr.
func (m MAC) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(m[:])
}

func (m MAC) String() string {
	return m.HardwareAddr().String()
}

// -------------------------------------------------------------------------
// Composite Keys
// -------------------------------------------------------------------------

// TunnelDomain keys an election: the hardware gateway tunnel endpoint and
// the domain it carries.
type TunnelDomain struct {
	TunnelIP netip.Addr
	Domain   string
}

func (k TunnelDomain) String() string {
	return k.TunnelIP.String() + "/" + k.Domain
}

// TunnelSwitch keys a tunnel between a switch and a hardware gateway.
type TunnelSwitch struct {
	TunnelIP netip.Addr
	Switch   SwitchID
}

func (k TunnelSwitch) String() string {
	return k.TunnelIP.String() + "@" + k.Switch.String()
}

// jobScope discriminates the JobKey variants.
type jobScope uint8

const (
	scopeTunnelSwitch jobScope = iota + 1
	scopeDomain
)

// JobKey identifies a serialization domain of the Dispatcher. Jobs with
// equal keys run strictly in submission order.
type JobKey struct {
	scope  jobScope
	tunnel TunnelSwitch
	domain string
}

// TunnelSwitchKey returns the job key for switch and tunnel lifecycle
// work. Switch-wide events use the invalid tunnel address.
func TunnelSwitchKey(tunnelIP netip.Addr, sw SwitchID) JobKey {
	return JobKey{scope: scopeTunnelSwitch, tunnel: TunnelSwitch{TunnelIP: tunnelIP, Switch: sw}}
}

// DomainKey returns the job key for membership and domain work.
func DomainKey(domain string) JobKey {
	return JobKey{scope: scopeDomain, domain: domain}
}

func (k JobKey) String() string {
	switch k.scope {
	case scopeTunnelSwitch:
		if !k.tunnel.TunnelIP.IsValid() {
			return "switch:" + k.tunnel.Switch.String()
		}
		return "tunnel:" + k.tunnel.String()
	case scopeDomain:
		return "domain:" + k.domain
	default:
		return "invalid"
	}
}

// -------------------------------------------------------------------------
// Key Errors
// -------------------------------------------------------------------------

var (
	// ErrBadSwitchID indicates a switch ID that is not a decimal uint64.
	ErrBadSwitchID = errors.New("invalid switch id")

	// ErrBadMAC indicates a member address that is not a 48-bit MAC.
	ErrBadMAC = errors.New("invalid member MAC")
)
