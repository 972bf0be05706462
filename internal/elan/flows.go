package elan

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// -------------------------------------------------------------------------
// Flow Model
// -------------------------------------------------------------------------

// Tables and priorities of the flows this package programs.
const (
	// TableExternalTunnelDHCP classifies traffic arriving from hardware
	// gateway tunnels.
	TableExternalTunnelDHCP uint8 = 18

	// TableARPResponder answers ARP for domain gateway ports.
	TableARPResponder uint8 = 81

	// PriorityDHCPPunt must stay above PriorityDrop: a new designee may
	// still hold drop flows from before its election.
	PriorityDHCPPunt uint16 = 50
	PriorityDrop     uint16 = 10
	PriorityARP      uint16 = 100

	// Cookies tag flows by purpose.
	CookieDHCP uint64 = 0x6800000
	CookieARP  uint64 = 0x8220000
)

// Action is what a matching flow does.
type Action uint8

const (
	// ActionPuntToController sends the packet to the local DHCP responder.
	ActionPuntToController Action = iota + 1

	// ActionDrop discards the packet.
	ActionDrop

	// ActionARPReply answers an ARP request in the datapath.
	ActionARPReply
)

func (a Action) String() string {
	switch a {
	case ActionPuntToController:
		return "punt"
	case ActionDrop:
		return "drop"
	case ActionARPReply:
		return "arp-reply"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Match selects packets.
type Match struct {
	TunnelID  uint32
	EthSrc    net.HardwareAddr
	EthType   uint16
	IPProto   uint8
	UDPSrc    uint16
	UDPDst    uint16
	ARPOp     uint16
	ARPTarget netip.Addr
}

// Instruction is applied to matching packets.
type Instruction struct {
	Action Action

	// ReplyMAC and ReplyIP are set for ActionARPReply.
	ReplyMAC net.HardwareAddr
	ReplyIP  netip.Addr
}

// Flow is one flow-table entry handed to the FlowInstaller. ID is unique
// per switch and stable, so removal needs only the ID.
type Flow struct {
	ID           string
	Switch       SwitchID
	Table        uint8
	Priority     uint16
	Cookie       uint64
	Match        Match
	Instructions []Instruction
}

// FlowInstaller programs flows on switches. Retrying failed operations is
// the installer's responsibility.
type FlowInstaller interface {
	InstallFlow(ctx context.Context, f Flow) error
	RemoveFlow(ctx context.Context, f Flow) error
}

// -------------------------------------------------------------------------
// Flow Builders
// -------------------------------------------------------------------------

const (
	etherTypeIPv4 uint16 = 0x0800
	etherTypeARP  uint16 = 0x0806
	ipProtoUDP    uint8  = 17
	arpRequest    uint16 = 1
)

// dhcpMatch matches DHCP client traffic of mac arriving on the domain's
// tunnel.
func dhcpMatch(vni uint32, mac MAC) Match {
	return Match{
		TunnelID: vni,
		EthSrc:   mac.HardwareAddr(),
		EthType:  etherTypeIPv4,
		IPProto:  ipProtoUDP,
		UDPSrc:   68,
		UDPDst:   67,
	}
}

// DHCPPuntFlow sends DHCP from a tunnel member to the responder on the
// designated switch.
func DHCPPuntFlow(sw SwitchID, vni uint32, mac MAC) Flow {
	return Flow{
		ID:           fmt.Sprintf("dhcp.punt.%s.%d.%s", sw, vni, mac),
		Switch:       sw,
		Table:        TableExternalTunnelDHCP,
		Priority:     PriorityDHCPPunt,
		Cookie:       CookieDHCP,
		Match:        dhcpMatch(vni, mac),
		Instructions: []Instruction{{Action: ActionPuntToController}},
	}
}

// DHCPDropFlow discards DHCP from a tunnel member on a non-designated
// switch.
func DHCPDropFlow(sw SwitchID, vni uint32, mac MAC) Flow {
	return Flow{
		ID:           fmt.Sprintf("dhcp.drop.%s.%d.%s", sw, vni, mac),
		Switch:       sw,
		Table:        TableExternalTunnelDHCP,
		Priority:     PriorityDrop,
		Cookie:       CookieDHCP,
		Match:        dhcpMatch(vni, mac),
		Instructions: []Instruction{{Action: ActionDrop}},
	}
}

// ARPResponderFlow answers ARP for the domain gateway on sw.
func ARPResponderFlow(sw SwitchID, d Domain) Flow {
	return Flow{
		ID:       fmt.Sprintf("arp.responder.%s.%d.%s", sw, d.VNI, d.GatewayIP),
		Switch:   sw,
		Table:    TableARPResponder,
		Priority: PriorityARP,
		Cookie:   CookieARP,
		Match: Match{
			TunnelID:  d.VNI,
			EthType:   etherTypeARP,
			ARPOp:     arpRequest,
			ARPTarget: d.GatewayIP,
		},
		Instructions: []Instruction{{
			Action:   ActionARPReply,
			ReplyMAC: d.GatewayMAC,
			ReplyIP:  d.GatewayIP,
		}},
	}
}
