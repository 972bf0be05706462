package dhcp

// codec.go: frame codec for punted DHCP requests and generated replies.
//
// Accepted request stack:
//
//	Ethernet | [one 802.1Q tag] | IPv4 | UDP 68->67 | BOOTP + options
//
// Replies mirror the request: UDP 67->68 to 255.255.255.255, the request's
// VLAN tag re-applied, Ethernet source set to the server MAC and destination
// set to the requesting MAC.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// -------------------------------------------------------------------------
// Codec Constants
// -------------------------------------------------------------------------

const (
	// replyTTL is the IPv4 TTL of generated replies.
	replyTTL uint8 = 32

	// udpHeaderSize is the UDP header length: src(2) + dst(2) + len(2) + csum(2).
	udpHeaderSize = 8

	// ethHeaderSize is the untagged Ethernet II header length.
	ethHeaderSize = 14

	// dot1QTagSize is the length of one 802.1Q tag.
	dot1QTagSize = 4

	// ipv4HeaderSize is the IPv4 header length without options.
	ipv4HeaderSize = 20

	// protoUDP is the IP protocol number for UDP.
	protoUDP uint8 = 17
)

// limitedBroadcast is the IPv4 limited broadcast address replies are sent to.
var limitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// -------------------------------------------------------------------------
// Codec Errors
// -------------------------------------------------------------------------

var (
	// ErrNoMessage indicates Encode was called without a reply message.
	ErrNoMessage = errors.New("dhcp: nil reply message")

	// ErrNoRequest indicates Encode was called without the request frame.
	ErrNoRequest = errors.New("dhcp: nil request frame")

	// ErrServerNotIPv4 indicates the server address is not an IPv4 address.
	ErrServerNotIPv4 = errors.New("dhcp: server address is not IPv4")

	// ErrBadServerMAC indicates the server MAC is not a 6-byte Ethernet address.
	ErrBadServerMAC = errors.New("dhcp: server MAC is not a 48-bit address")
)

// -------------------------------------------------------------------------
// Decode
// -------------------------------------------------------------------------

// Decode parses a raw Ethernet frame into a DHCP request. It returns false
// for anything that is not an IPv4 UDP 68->67 BOOTP packet with at most one
// VLAN tag; malformed input never produces an error.
func Decode(frame []byte) (f *Frame, ok bool) {
	// gopacket slices chaddr by the hlen byte without a bounds check, so a
	// hostile hlen can panic inside the layer decoder.
	defer func() {
		if r := recover(); r != nil {
			f, ok = nil, false
		}
	}()

	var (
		eth   layers.Ethernet
		dot1q layers.Dot1Q
		ip4   layers.IPv4
		udp   layers.UDP
		bootp layers.DHCPv4
	)

	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &eth, &dot1q, &ip4, &udp, &bootp)
	parser.IgnoreUnsupported = true

	decoded := make([]gopacket.LayerType, 0, 5)
	if err := parser.DecodeLayers(frame, &decoded); err != nil {
		return nil, false
	}

	if !validStack(decoded) {
		return nil, false
	}

	if udp.SrcPort != layers.UDPPort(ClientPort) || udp.DstPort != layers.UDPPort(ServerPort) {
		return nil, false
	}

	f = &Frame{
		SrcMAC:  cloneHW(eth.SrcMAC),
		DstMAC:  cloneHW(eth.DstMAC),
		SrcIP:   addrFromIP(ip4.SrcIP),
		DstIP:   addrFromIP(ip4.DstIP),
		Message: messageFromLayer(&bootp),
	}

	if len(decoded) == 5 {
		f.VLAN = &VLANTag{
			Priority:     dot1q.Priority,
			DropEligible: dot1q.DropEligible,
			ID:           dot1q.VLANIdentifier,
		}
	}

	return f, true
}

// validStack reports whether the decoded layer sequence is exactly
// Ethernet [Dot1Q] IPv4 UDP DHCPv4.
func validStack(decoded []gopacket.LayerType) bool {
	switch len(decoded) {
	case 4:
		return decoded[0] == layers.LayerTypeEthernet &&
			decoded[1] == layers.LayerTypeIPv4 &&
			decoded[2] == layers.LayerTypeUDP &&
			decoded[3] == layers.LayerTypeDHCPv4
	case 5:
		return decoded[0] == layers.LayerTypeEthernet &&
			decoded[1] == layers.LayerTypeDot1Q &&
			decoded[2] == layers.LayerTypeIPv4 &&
			decoded[3] == layers.LayerTypeUDP &&
			decoded[4] == layers.LayerTypeDHCPv4
	default:
		return false
	}
}

// messageFromLayer copies a gopacket DHCPv4 layer into a Message. The layer
// aliases the frame buffer, so every slice is cloned.
func messageFromLayer(d *layers.DHCPv4) *Message {
	m := &Message{
		Op:     uint8(d.Operation),
		HType:  uint8(d.HardwareType),
		HLen:   d.HardwareLen,
		Hops:   d.HardwareOpts,
		Xid:    d.Xid,
		Secs:   d.Secs,
		Flags:  d.Flags,
		CIAddr: addrFromIP(d.ClientIP),
		YIAddr: addrFromIP(d.YourClientIP),
		SIAddr: addrFromIP(d.NextServerIP),
		GIAddr: addrFromIP(d.RelayAgentIP),
		CHAddr: cloneHW(d.ClientHWAddr),
	}

	for _, opt := range d.Options {
		if opt.Type == layers.DHCPOptPad || opt.Type == layers.DHCPOptEnd {
			continue
		}
		// First occurrence wins; split options (RFC 3396) are not used by
		// any option this responder reads.
		if m.Options.Has(uint8(opt.Type)) {
			continue
		}
		m.Options.Set(uint8(opt.Type), append([]byte(nil), opt.Data...))
	}

	return m
}

// -------------------------------------------------------------------------
// Encode
// -------------------------------------------------------------------------

// Encode serializes reply as a complete Ethernet frame addressed back to
// the sender of req.
func Encode(reply *Message, req *Frame, serverMAC net.HardwareAddr, serverIP netip.Addr) ([]byte, error) {
	if reply == nil {
		return nil, ErrNoMessage
	}
	if req == nil {
		return nil, ErrNoRequest
	}
	if !serverIP.Is4() {
		return nil, fmt.Errorf("encode reply xid 0x%08x: %w: %s", reply.Xid, ErrServerNotIPv4, serverIP)
	}
	if len(serverMAC) != 6 {
		return nil, fmt.Errorf("encode reply xid 0x%08x: %w", reply.Xid, ErrBadServerMAC)
	}

	payload, err := marshalMessage(reply)
	if err != nil {
		return nil, fmt.Errorf("encode reply xid 0x%08x: %w", reply.Xid, err)
	}

	udp := &layers.UDP{
		SrcPort:  layers.UDPPort(ServerPort),
		DstPort:  layers.UDPPort(ClientPort),
		Length:   uint16(udpHeaderSize + len(payload)),
		Checksum: udpChecksum(serverIP, limitedBroadcast, payload),
	}

	ip4 := &layers.IPv4{
		Version:  4,
		TTL:      replyTTL,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP(serverIP.AsSlice()),
		DstIP:    net.IP(limitedBroadcast.AsSlice()),
	}

	eth := &layers.Ethernet{
		SrcMAC:       serverMAC,
		DstMAC:       req.SrcMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}

	stack := make([]gopacket.SerializableLayer, 0, 5)
	stack = append(stack, eth)

	ipOffset := ethHeaderSize
	if req.VLAN != nil {
		eth.EthernetType = layers.EthernetTypeDot1Q
		stack = append(stack, &layers.Dot1Q{
			Priority:       req.VLAN.Priority,
			DropEligible:   req.VLAN.DropEligible,
			VLANIdentifier: req.VLAN.ID,
			Type:           layers.EthernetTypeIPv4,
		})
		ipOffset += dot1QTagSize
	}
	stack = append(stack, ip4, udp, gopacket.Payload(payload))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		return nil, fmt.Errorf("encode reply xid 0x%08x: serialize frame: %w", reply.Xid, err)
	}

	out := buf.Bytes()
	hdr := out[ipOffset : ipOffset+ipv4HeaderSize]
	binary.BigEndian.PutUint16(hdr[10:12], ipv4HeaderChecksum(hdr))

	return out, nil
}

// marshalMessage serializes the BOOTP body and options. HLen is written as
// carried in the message rather than derived from CHAddr.
func marshalMessage(m *Message) ([]byte, error) {
	d := &layers.DHCPv4{
		Operation:    layers.DHCPOp(m.Op),
		HardwareType: layers.LinkType(m.HType),
		HardwareLen:  m.HLen,
		HardwareOpts: m.Hops,
		Xid:          m.Xid,
		Secs:         m.Secs,
		Flags:        m.Flags,
		ClientIP:     ipFromAddr(m.CIAddr),
		YourClientIP: ipFromAddr(m.YIAddr),
		NextServerIP: ipFromAddr(m.SIAddr),
		RelayAgentIP: ipFromAddr(m.GIAddr),
		ClientHWAddr: m.CHAddr,
	}

	for _, code := range m.Options.Codes() {
		v, _ := m.Options.Get(code)
		d.Options = append(d.Options, layers.NewDHCPOption(layers.DHCPOpt(code), v))
	}

	buf := gopacket.NewSerializeBuffer()
	if err := d.SerializeTo(buf, gopacket.SerializeOptions{}); err != nil {
		return nil, fmt.Errorf("serialize bootp: %w", err)
	}

	return buf.Bytes(), nil
}

// -------------------------------------------------------------------------
// Checksums: RFC 768, RFC 1071
// -------------------------------------------------------------------------

// Checksum computes the transport checksum of segment over the IPv4
// pseudo-header (src, dst, zero, proto, length). A computed value of zero
// is returned as 0xFFFF, the RFC 768 encoding for UDP.
func Checksum(pseudoSrc, pseudoDst netip.Addr, proto uint8, segment []byte) uint16 {
	src := pseudoSrc.As4()
	dst := pseudoDst.As4()

	var sum uint32
	sum += uint32(src[0])<<8 | uint32(src[1])
	sum += uint32(src[2])<<8 | uint32(src[3])
	sum += uint32(dst[0])<<8 | uint32(dst[1])
	sum += uint32(dst[2])<<8 | uint32(dst[3])
	sum += uint32(proto)
	sum += uint32(len(segment))
	sum = sumWords(sum, segment)

	csum := ^fold(sum)
	if csum == 0 {
		return 0xFFFF
	}
	return csum
}

// udpChecksum computes the UDP checksum for a segment whose header is
// 67->68 and whose checksum field is zero.
func udpChecksum(src, dst netip.Addr, payload []byte) uint16 {
	segment := make([]byte, udpHeaderSize+len(payload))
	binary.BigEndian.PutUint16(segment[0:2], ServerPort)
	binary.BigEndian.PutUint16(segment[2:4], ClientPort)
	binary.BigEndian.PutUint16(segment[4:6], uint16(len(segment)))
	copy(segment[udpHeaderSize:], payload)

	return Checksum(src, dst, protoUDP, segment)
}

// ipv4HeaderChecksum computes the IPv4 header checksum over hdr with the
// checksum field treated as zero.
func ipv4HeaderChecksum(hdr []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(hdr); i += 2 {
		if i == 10 {
			continue
		}
		sum += uint32(binary.BigEndian.Uint16(hdr[i : i+2]))
	}
	return ^fold(sum)
}

// sumWords adds data to sum as big-endian 16-bit words, padding an odd
// trailing byte with zero.
func sumWords(sum uint32, data []byte) uint32 {
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}
	return sum
}

// fold reduces a 32-bit one's-complement accumulator to 16 bits.
func fold(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return uint16(sum)
}

// -------------------------------------------------------------------------
// Address helpers
// -------------------------------------------------------------------------

// addrFromIP converts a 4-byte wire address. Anything that is not IPv4
// decodes to 0.0.0.0.
func addrFromIP(ip net.IP) netip.Addr {
	if v4 := ip.To4(); v4 != nil {
		return netip.AddrFrom4([4]byte(v4))
	}
	return netip.IPv4Unspecified()
}

// ipFromAddr converts an address for gopacket serialization. The invalid
// Addr maps to 0.0.0.0.
func ipFromAddr(a netip.Addr) net.IP {
	if !a.Is4() {
		return net.IPv4zero.To4()
	}
	return net.IP(a.AsSlice())
}

func cloneHW(hw net.HardwareAddr) net.HardwareAddr {
	return append(net.HardwareAddr(nil), hw...)
}
