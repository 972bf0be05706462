// Package dhcp implements the DHCPv4 responder for tenant ports of the
// overlay (RFC 2131, RFC 2132, RFC 3442).
//
// The package covers the full reply path for a punted packet: the frame
// codec (Ethernet, optional 802.1Q, IPv4, UDP, BOOTP), lease resolution
// against the port directory or a dynamic allocation pool, and the
// DISCOVER/REQUEST reply state machine. Nothing here touches the durable
// store or the topology dispatcher; the DHCP path is purely local.
package dhcp

import (
	"net"
	"net/netip"
	"slices"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

// -------------------------------------------------------------------------
// BOOTP Constants: RFC 2131 Section 2
// -------------------------------------------------------------------------

const (
	// OpBootRequest is the BOOTP op code for client-to-server messages.
	OpBootRequest uint8 = 1

	// OpBootReply is the BOOTP op code for server-to-client messages.
	OpBootReply uint8 = 2

	// ServerPort is the UDP port the DHCP server listens on.
	ServerPort uint16 = 67

	// ClientPort is the UDP port DHCP clients listen on.
	ClientPort uint16 = 68

	// flagBroadcast is the B bit of the flags field (RFC 2131 Figure 2).
	flagBroadcast uint16 = 0x8000
)

// Option codes handled by the responder, taken from the RFC 2132 registry.
var (
	codeSubnetMask     = dhcpv4.OptionSubnetMask.Code()
	codeRouter         = dhcpv4.OptionRouter.Code()
	codeDNS            = dhcpv4.OptionDomainNameServer.Code()
	codeDomainName     = dhcpv4.OptionDomainName.Code()
	codeBroadcast      = dhcpv4.OptionBroadcastAddress.Code()
	codeRequestedIP    = dhcpv4.OptionRequestedIPAddress.Code()
	codeLeaseTime      = dhcpv4.OptionIPAddressLeaseTime.Code()
	codeMessageType    = dhcpv4.OptionDHCPMessageType.Code()
	codeServerID       = dhcpv4.OptionServerIdentifier.Code()
	codeParamRequest   = dhcpv4.OptionParameterRequestList.Code()
	codeRenewalTime    = dhcpv4.OptionRenewTimeValue.Code()
	codeRebindingTime  = dhcpv4.OptionRebindingTimeValue.Code()
	codeClasslessRoute = dhcpv4.OptionClasslessStaticRoute.Code()
)

// -------------------------------------------------------------------------
// Options: ordered code -> value map
// -------------------------------------------------------------------------

// Options is an ordered map from option code to raw value. Codes are
// unique; Set on an existing code replaces the value in place so the
// original position is kept for encoding. The zero value is ready to use.
type Options struct {
	order []uint8
	data  map[uint8][]byte
}

// Set stores value under code.
func (o *Options) Set(code uint8, value []byte) {
	if o.data == nil {
		o.data = make(map[uint8][]byte)
	}
	if _, ok := o.data[code]; !ok {
		o.order = append(o.order, code)
	}
	o.data[code] = value
}

// Update stores an option produced by one of the dhcpv4.Opt* constructors.
func (o *Options) Update(opt dhcpv4.Option) {
	o.Set(opt.Code.Code(), opt.Value.ToBytes())
}

// Get returns the value stored under code.
func (o *Options) Get(code uint8) ([]byte, bool) {
	v, ok := o.data[code]
	return v, ok
}

// Has reports whether code is present.
func (o *Options) Has(code uint8) bool {
	_, ok := o.data[code]
	return ok
}

// Codes returns the option codes in insertion order.
func (o *Options) Codes() []uint8 {
	return slices.Clone(o.order)
}

// Len returns the number of options.
func (o *Options) Len() int {
	return len(o.order)
}

// -------------------------------------------------------------------------
// Message: BOOTP/DHCP message body
// -------------------------------------------------------------------------

// Message is a decoded BOOTP/DHCP message. Addresses that are all-zero on
// the wire decode to 0.0.0.0, never to the invalid netip.Addr.
type Message struct {
	Op     uint8
	HType  uint8
	HLen   uint8
	Hops   uint8
	Xid    uint32
	Secs   uint16
	Flags  uint16
	CIAddr netip.Addr
	YIAddr netip.Addr
	SIAddr netip.Addr
	GIAddr netip.Addr
	CHAddr net.HardwareAddr

	Options Options
}

// MessageType returns the DHCP message type carried in option 53.
func (m *Message) MessageType() (dhcpv4.MessageType, bool) {
	v, ok := m.Options.Get(codeMessageType)
	if !ok || len(v) != 1 {
		return dhcpv4.MessageTypeNone, false
	}
	return dhcpv4.MessageType(v[0]), true
}

// RequestedIP returns the address carried in option 50.
func (m *Message) RequestedIP() (netip.Addr, bool) {
	v, ok := m.Options.Get(codeRequestedIP)
	if !ok || len(v) != net.IPv4len {
		return netip.Addr{}, false
	}
	return netip.AddrFrom4([4]byte(v)), true
}

// ParameterRequestList returns the codes of option 55 in client order.
func (m *Message) ParameterRequestList() []uint8 {
	v, ok := m.Options.Get(codeParamRequest)
	if !ok {
		return nil
	}
	return slices.Clone(v)
}

// Broadcast reports whether the client set the broadcast flag.
func (m *Message) Broadcast() bool {
	return m.Flags&flagBroadcast != 0
}

// -------------------------------------------------------------------------
// Frame: decoded packet-in
// -------------------------------------------------------------------------

// VLANTag is a single 802.1Q tag.
type VLANTag struct {
	Priority     uint8
	DropEligible bool
	ID           uint16
}

// Frame is a decoded DHCP request together with the link and network
// layer fields needed to address the reply.
type Frame struct {
	SrcMAC net.HardwareAddr
	DstMAC net.HardwareAddr

	// VLAN is nil for untagged frames.
	VLAN *VLANTag

	SrcIP netip.Addr
	DstIP netip.Addr

	Message *Message
}
