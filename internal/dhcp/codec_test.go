package dhcp_test

import (
	"bytes"
	"encoding/binary"
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/insomniacslk/dhcp/dhcpv4"

	"github.com/dantte-lp/goelan/internal/dhcp"
)

// -------------------------------------------------------------------------
// Test helpers
// -------------------------------------------------------------------------

var (
	clientMAC = net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01}
	serverMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0xFE}
)

// request describes a client packet built by buildFrame.
type request struct {
	msgType   dhcpv4.MessageType
	xid       uint32
	flags     uint16
	ciaddr    net.IP
	giaddr    net.IP
	requested net.IP
	prl       []byte
	vlans     []uint16
	srcPort   uint16
	dstPort   uint16
}

// buildFrame serializes a client request with gopacket, the way a real
// client stack would put it on the wire.
func buildFrame(t *testing.T, r request) []byte {
	t.Helper()

	if r.srcPort == 0 {
		r.srcPort = 68
	}
	if r.dstPort == 0 {
		r.dstPort = 67
	}

	opts := layers.DHCPOptions{
		layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(r.msgType)}),
	}
	if r.requested != nil {
		opts = append(opts, layers.NewDHCPOption(layers.DHCPOptRequestIP, r.requested.To4()))
	}
	if r.prl != nil {
		opts = append(opts, layers.NewDHCPOption(layers.DHCPOptParamsRequest, r.prl))
	}

	bootp := &layers.DHCPv4{
		Operation:    layers.DHCPOpRequest,
		HardwareType: layers.LinkTypeEthernet,
		HardwareLen:  6,
		Xid:          r.xid,
		Flags:        r.flags,
		ClientIP:     r.ciaddr,
		RelayAgentIP: r.giaddr,
		ClientHWAddr: clientMAC,
		Options:      opts,
	}

	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4zero.To4(),
		DstIP:    net.IPv4bcast.To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(r.srcPort),
		DstPort: layers.UDPPort(r.dstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("set network layer: %v", err)
	}

	stack := []gopacket.SerializableLayer{&layers.Ethernet{
		SrcMAC:       clientMAC,
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: etherTypeFor(r.vlans, 0),
	}}
	for i, id := range r.vlans {
		stack = append(stack, &layers.Dot1Q{
			VLANIdentifier: id,
			Type:           etherTypeFor(r.vlans, i+1),
		})
	}
	stack = append(stack, ip, udp, bootp)

	buf := gopacket.NewSerializeBuffer()
	so := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, so, stack...); err != nil {
		t.Fatalf("serialize request: %v", err)
	}
	return buf.Bytes()
}

func etherTypeFor(vlans []uint16, idx int) layers.EthernetType {
	if idx < len(vlans) {
		return layers.EthernetTypeDot1Q
	}
	return layers.EthernetTypeIPv4
}

// parsedReply holds the layers of an encoded reply frame.
type parsedReply struct {
	eth   layers.Ethernet
	dot1q *layers.Dot1Q
	ip4   layers.IPv4
	udp   layers.UDP
	bootp layers.DHCPv4
	raw   []byte
}

func parseReply(t *testing.T, frame []byte) parsedReply {
	t.Helper()

	var (
		p     parsedReply
		dot1q layers.Dot1Q
	)
	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &p.eth, &dot1q, &p.ip4, &p.udp, &p.bootp)
	parser.IgnoreUnsupported = true
	decoded := []gopacket.LayerType{}
	if err := parser.DecodeLayers(frame, &decoded); err != nil {
		t.Fatalf("parse reply: %v (decoded %v)", err, decoded)
	}
	for _, lt := range decoded {
		if lt == layers.LayerTypeDot1Q {
			p.dot1q = &dot1q
		}
	}
	p.raw = frame
	return p
}

func optionValue(t *testing.T, d *layers.DHCPv4, opt layers.DHCPOpt) []byte {
	t.Helper()
	for _, o := range d.Options {
		if o.Type == opt {
			return o.Data
		}
	}
	t.Fatalf("option %d not present", opt)
	return nil
}

func optionCodes(d *layers.DHCPv4) []byte {
	out := make([]byte, 0, len(d.Options))
	for _, o := range d.Options {
		if o.Type == layers.DHCPOptPad || o.Type == layers.DHCPOptEnd {
			continue
		}
		out = append(out, byte(o.Type))
	}
	return out
}

// -------------------------------------------------------------------------
// Decode
// -------------------------------------------------------------------------

func TestDecodeUntaggedDiscover(t *testing.T) {
	t.Parallel()

	frame := buildFrame(t, request{
		msgType: dhcpv4.MessageTypeDiscover,
		xid:     0x11223344,
		flags:   0x8000,
		prl:     []byte{1, 3, 6},
	})

	f, ok := dhcp.Decode(frame)
	if !ok {
		t.Fatal("Decode rejected a valid DISCOVER")
	}

	if f.VLAN != nil {
		t.Errorf("VLAN = %+v, want nil", f.VLAN)
	}
	if !bytes.Equal(f.SrcMAC, clientMAC) {
		t.Errorf("SrcMAC = %s, want %s", f.SrcMAC, clientMAC)
	}

	m := f.Message
	if m.Op != dhcp.OpBootRequest || m.Xid != 0x11223344 || m.HLen != 6 {
		t.Errorf("header = op %d xid %#x hlen %d", m.Op, m.Xid, m.HLen)
	}
	if !m.Broadcast() {
		t.Error("broadcast flag lost")
	}
	if m.CIAddr != netip.IPv4Unspecified() {
		t.Errorf("CIAddr = %s, want 0.0.0.0", m.CIAddr)
	}
	if !bytes.Equal(m.CHAddr, clientMAC) {
		t.Errorf("CHAddr = %s, want %s", m.CHAddr, clientMAC)
	}
	mt, ok := m.MessageType()
	if !ok || mt != dhcpv4.MessageTypeDiscover {
		t.Errorf("MessageType = %v, %v", mt, ok)
	}
	if got := m.ParameterRequestList(); !bytes.Equal(got, []byte{1, 3, 6}) {
		t.Errorf("PRL = %v, want [1 3 6]", got)
	}
	if got := m.Options.Codes(); !bytes.Equal(got, []byte{53, 55}) {
		t.Errorf("option order = %v, want [53 55]", got)
	}
}

func TestDecodeSingleVLAN(t *testing.T) {
	t.Parallel()

	frame := buildFrame(t, request{msgType: dhcpv4.MessageTypeDiscover, vlans: []uint16{100}})

	f, ok := dhcp.Decode(frame)
	if !ok {
		t.Fatal("Decode rejected a single-tagged DISCOVER")
	}
	if f.VLAN == nil || f.VLAN.ID != 100 {
		t.Fatalf("VLAN = %+v, want ID 100", f.VLAN)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	valid := buildFrame(t, request{msgType: dhcpv4.MessageTypeDiscover})

	nonIPv4 := bytes.Clone(valid)
	binary.BigEndian.PutUint16(nonIPv4[12:14], uint16(layers.EthernetTypeIPv6))

	nonUDP := bytes.Clone(valid)
	nonUDP[14+9] = byte(layers.IPProtocolTCP)

	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "empty", frame: nil},
		{name: "short ethernet", frame: valid[:10]},
		{name: "two VLAN tags", frame: buildFrame(t, request{msgType: dhcpv4.MessageTypeDiscover, vlans: []uint16{10, 20}})},
		{name: "non-IPv4 ethertype", frame: nonIPv4},
		{name: "non-UDP protocol", frame: nonUDP},
		{name: "server to client ports", frame: buildFrame(t, request{msgType: dhcpv4.MessageTypeDiscover, srcPort: 67, dstPort: 68})},
		{name: "wrong destination port", frame: buildFrame(t, request{msgType: dhcpv4.MessageTypeDiscover, srcPort: 68, dstPort: 53})},
		{name: "truncated bootp", frame: valid[:14+20+8+100]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if f, ok := dhcp.Decode(tt.frame); ok {
				t.Errorf("Decode accepted frame: %+v", f)
			}
		})
	}
}

// -------------------------------------------------------------------------
// Encode
// -------------------------------------------------------------------------

func TestEncodeAddressesReplyToClient(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name  string
		vlans []uint16
	}{
		{name: "untagged"},
		{name: "tagged", vlans: []uint16{42}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req, ok := dhcp.Decode(buildFrame(t, request{msgType: dhcpv4.MessageTypeDiscover, xid: 7, vlans: tc.vlans}))
			if !ok {
				t.Fatal("decode request")
			}

			reply := &dhcp.Message{
				Op:     dhcp.OpBootReply,
				HType:  req.Message.HType,
				HLen:   req.Message.HLen,
				Xid:    req.Message.Xid,
				CIAddr: netip.IPv4Unspecified(),
				YIAddr: netip.MustParseAddr("10.0.0.5"),
				SIAddr: netip.MustParseAddr("10.0.0.2"),
				GIAddr: netip.IPv4Unspecified(),
				CHAddr: req.Message.CHAddr,
			}
			reply.Options.Update(dhcpv4.OptMessageType(dhcpv4.MessageTypeOffer))

			serverIP := netip.MustParseAddr("10.0.0.2")
			out, err := dhcp.Encode(reply, req, serverMAC, serverIP)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			p := parseReply(t, out)

			if !bytes.Equal(p.eth.SrcMAC, serverMAC) || !bytes.Equal(p.eth.DstMAC, clientMAC) {
				t.Errorf("ethernet %s -> %s", p.eth.SrcMAC, p.eth.DstMAC)
			}
			if tc.vlans != nil {
				if p.dot1q == nil || p.dot1q.VLANIdentifier != 42 {
					t.Errorf("reply VLAN = %+v, want 42", p.dot1q)
				}
			} else if p.dot1q != nil {
				t.Errorf("untagged request got tagged reply %+v", p.dot1q)
			}

			if p.ip4.TTL != 32 || p.ip4.Flags != 0 || p.ip4.FragOffset != 0 {
				t.Errorf("ipv4 ttl %d flags %v frag %d", p.ip4.TTL, p.ip4.Flags, p.ip4.FragOffset)
			}
			if !p.ip4.SrcIP.Equal(net.IP(serverIP.AsSlice())) || !p.ip4.DstIP.Equal(net.IPv4bcast) {
				t.Errorf("ipv4 %s -> %s", p.ip4.SrcIP, p.ip4.DstIP)
			}
			if p.udp.SrcPort != 67 || p.udp.DstPort != 68 {
				t.Errorf("udp %d -> %d", p.udp.SrcPort, p.udp.DstPort)
			}

			// IPv4 header: the one's-complement sum over a valid header is 0xFFFF.
			hdr := p.ip4.Contents
			var sum uint32
			for i := 0; i < len(hdr); i += 2 {
				sum += uint32(binary.BigEndian.Uint16(hdr[i:]))
			}
			for sum>>16 != 0 {
				sum = (sum & 0xFFFF) + (sum >> 16)
			}
			if sum != 0xFFFF {
				t.Errorf("ipv4 header checksum does not verify: sum %#x", sum)
			}

			// UDP: recompute over the segment with the checksum field zeroed.
			segment := append(bytes.Clone(p.udp.Contents), p.udp.Payload...)
			segment[6], segment[7] = 0, 0
			want := dhcp.Checksum(serverIP, netip.MustParseAddr("255.255.255.255"), 17, segment)
			if p.udp.Checksum != want {
				t.Errorf("udp checksum = %#04x, want %#04x", p.udp.Checksum, want)
			}

			if p.bootp.Xid != 7 || p.bootp.Operation != layers.DHCPOpReply {
				t.Errorf("bootp xid %d op %v", p.bootp.Xid, p.bootp.Operation)
			}
			if !p.bootp.YourClientIP.Equal(net.ParseIP("10.0.0.5")) {
				t.Errorf("yiaddr = %s", p.bootp.YourClientIP)
			}
		})
	}
}

func TestEncodeRejectsBadServer(t *testing.T) {
	t.Parallel()

	req, ok := dhcp.Decode(buildFrame(t, request{msgType: dhcpv4.MessageTypeDiscover}))
	if !ok {
		t.Fatal("decode request")
	}
	reply := &dhcp.Message{Op: dhcp.OpBootReply, CHAddr: clientMAC}

	if _, err := dhcp.Encode(reply, req, serverMAC, netip.MustParseAddr("2001:db8::1")); err == nil {
		t.Error("expected error for IPv6 server address")
	}
	if _, err := dhcp.Encode(reply, req, net.HardwareAddr{1, 2}, netip.MustParseAddr("10.0.0.2")); err == nil {
		t.Error("expected error for short server MAC")
	}
	if _, err := dhcp.Encode(nil, req, serverMAC, netip.MustParseAddr("10.0.0.2")); err == nil {
		t.Error("expected error for nil reply")
	}
}

// -------------------------------------------------------------------------
// Checksum
// -------------------------------------------------------------------------

// referenceChecksum builds the pseudo-header explicitly and sums it with
// the segment, as RFC 1071 Section 4.1 describes.
func referenceChecksum(src, dst netip.Addr, proto uint8, segment []byte) uint16 {
	buf := make([]byte, 0, 12+len(segment)+1)
	buf = append(buf, src.AsSlice()...)
	buf = append(buf, dst.AsSlice()...)
	buf = append(buf, 0, proto)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(segment)))
	buf = append(buf, segment...)
	if len(buf)%2 == 1 {
		buf = append(buf, 0)
	}

	var sum uint64
	for i := 0; i < len(buf); i += 2 {
		sum += uint64(buf[i])<<8 + uint64(buf[i+1])
	}
	for sum > 0xFFFF {
		sum = sum>>16 + sum&0xFFFF
	}
	c := ^uint16(sum)
	if c == 0 {
		c = 0xFFFF
	}
	return c
}

func TestChecksumMatchesReference(t *testing.T) {
	t.Parallel()

	src := netip.MustParseAddr("10.0.0.2")
	dst := netip.MustParseAddr("255.255.255.255")

	for _, n := range []int{0, 1, 2, 3, 8, 241, 300, 1001} {
		segment := make([]byte, n)
		for i := range segment {
			segment[i] = byte(i*31 + 7)
		}
		got := dhcp.Checksum(src, dst, 17, segment)
		want := referenceChecksum(src, dst, 17, segment)
		if got != want {
			t.Errorf("len %d: Checksum = %#04x, want %#04x", n, got, want)
		}
	}
}

func TestChecksumZeroIsEmittedAsAllOnes(t *testing.T) {
	t.Parallel()

	// Pseudo-header contributes only the length (2); 0xFFFD + 2 = 0xFFFF,
	// whose complement is zero.
	zero := netip.IPv4Unspecified()
	got := dhcp.Checksum(zero, zero, 0, []byte{0xFF, 0xFD})
	if got != 0xFFFF {
		t.Errorf("Checksum = %#04x, want 0xffff", got)
	}
}
