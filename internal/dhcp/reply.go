package dhcp

import (
	"net"
	"net/netip"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"go4.org/netipx"
)

// DefaultLeaseTime is the lease duration used when none is configured.
const DefaultLeaseTime = 86400 * time.Second

// ReplyConfig holds the responder-wide reply parameters.
type ReplyConfig struct {
	// LeaseTime is sent as options 51, 58 and 59.
	LeaseTime time.Duration

	// DomainName is sent as option 15 when non-empty.
	DomainName string
}

func (c ReplyConfig) leaseTime() time.Duration {
	if c.LeaseTime <= 0 {
		return DefaultLeaseTime
	}
	return c.LeaseTime
}

// BuildReply produces the reply to req. DISCOVER yields OFFER; REQUEST
// yields ACK when the client asks for its resolved address (in ciaddr or
// option 50) and NAK otherwise. Any other message type, or a nil info,
// yields no reply.
func BuildReply(req *Message, info *Info, cfg ReplyConfig) (*Message, bool) {
	if req == nil || info == nil {
		return nil, false
	}

	mt, ok := req.MessageType()
	if !ok {
		return nil, false
	}

	switch mt {
	case dhcpv4.MessageTypeDiscover:
		reply := newReply(req)
		reply.YIAddr = info.ClientIP
		reply.SIAddr = info.ServerIP
		addLeaseOptions(reply, req, dhcpv4.MessageTypeOffer, info, cfg)
		return reply, true

	case dhcpv4.MessageTypeRequest:
		if !requestsAddress(req, info.ClientIP) {
			reply := newReply(req)
			reply.Options.Update(dhcpv4.OptMessageType(dhcpv4.MessageTypeNak))
			return reply, true
		}
		reply := newReply(req)
		reply.CIAddr = req.CIAddr
		reply.YIAddr = info.ClientIP
		reply.SIAddr = info.ServerIP
		addLeaseOptions(reply, req, dhcpv4.MessageTypeAck, info, cfg)
		return reply, true

	default:
		return nil, false
	}
}

// requestsAddress reports whether the client asks for ip, either as a
// renewing client (ciaddr) or a selecting client (option 50).
func requestsAddress(req *Message, ip netip.Addr) bool {
	if req.CIAddr == ip {
		return true
	}
	requested, ok := req.RequestedIP()
	return ok && requested == ip
}

// newReply copies the fields that RFC 2131 Table 3 carries over from the
// request.
func newReply(req *Message) *Message {
	return &Message{
		Op:     OpBootReply,
		HType:  req.HType,
		HLen:   req.HLen,
		Xid:    req.Xid,
		Flags:  req.Flags,
		CIAddr: netip.IPv4Unspecified(),
		YIAddr: netip.IPv4Unspecified(),
		SIAddr: netip.IPv4Unspecified(),
		GIAddr: req.GIAddr,
		CHAddr: cloneHW(req.CHAddr),
	}
}

func addLeaseOptions(reply, req *Message, mt dhcpv4.MessageType, info *Info, cfg ReplyConfig) {
	lease := cfg.leaseTime()

	reply.Options.Update(dhcpv4.OptMessageType(mt))
	reply.Options.Update(dhcpv4.OptServerIdentifier(net.IP(info.ServerIP.AsSlice())))
	reply.Options.Update(dhcpv4.OptIPAddressLeaseTime(lease))
	reply.Options.Update(dhcpv4.OptRenewTimeValue(lease))
	reply.Options.Update(dhcpv4.OptRebindingTimeValue(lease))
	if cfg.DomainName != "" {
		reply.Options.Update(dhcpv4.OptDomainName(cfg.DomainName))
	}

	for _, code := range req.ParameterRequestList() {
		if reply.Options.Has(code) {
			continue
		}
		if opt, ok := requestedOption(code, info); ok {
			reply.Options.Update(opt)
		}
	}
}

// requestedOption encodes one parameter-request-list entry. Codes outside
// the supported set, and codes with nothing to say, yield false.
func requestedOption(code uint8, info *Info) (dhcpv4.Option, bool) {
	switch code {
	case codeSubnetMask:
		if !info.CIDR.IsValid() {
			return dhcpv4.Option{}, false
		}
		return dhcpv4.OptSubnetMask(net.CIDRMask(info.CIDR.Bits(), net.IPv4len*8)), true

	case codeRouter:
		if !info.GatewayIP.Is4() {
			return dhcpv4.Option{}, false
		}
		return dhcpv4.OptRouter(net.IP(info.GatewayIP.AsSlice())), true

	case codeDNS:
		if len(info.DNSServers) == 0 {
			return dhcpv4.Option{}, false
		}
		servers := make([]net.IP, 0, len(info.DNSServers))
		for _, a := range info.DNSServers {
			servers = append(servers, net.IP(a.AsSlice()))
		}
		return dhcpv4.OptDNS(servers...), true

	case codeBroadcast:
		if !info.CIDR.IsValid() {
			return dhcpv4.Option{}, false
		}
		return dhcpv4.OptBroadcastAddress(net.IP(netipx.PrefixLastIP(info.CIDR).AsSlice())), true

	case codeClasslessRoute:
		if len(info.HostRoutes) == 0 {
			return dhcpv4.Option{}, false
		}
		routes := make([]*dhcpv4.Route, 0, len(info.HostRoutes))
		for _, hr := range info.HostRoutes {
			routes = append(routes, &dhcpv4.Route{
				Dest:   netipx.PrefixIPNet(hr.Destination.Masked()),
				Router: net.IP(hr.NextHop.AsSlice()),
			})
		}
		return dhcpv4.OptClasslessStaticRoute(routes...), true

	default:
		// Option 15 is handled with the mandatory set; anything else is
		// outside the supported parameter list.
		return dhcpv4.Option{}, false
	}
}
