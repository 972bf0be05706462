package server

import (
	"fmt"
	"math"
	"net"
	"net/netip"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dantte-lp/goelan/internal/dhcp"
	"github.com/dantte-lp/goelan/internal/elan"
)

// -------------------------------------------------------------------------
// Field Readers
// -------------------------------------------------------------------------

func stringField(msg *structpb.Struct, name string) string {
	return msg.GetFields()[name].GetStringValue()
}

func boolField(msg *structpb.Struct, name string) bool {
	return msg.GetFields()[name].GetBoolValue()
}

// uintField reads an unsigned integer sent either as a JSON number or as a
// decimal string. Absent fields read as zero.
func uintField(msg *structpb.Struct, name string, limit uint64) (uint64, error) {
	v, ok := msg.GetFields()[name]
	if !ok {
		return 0, nil
	}
	return uintValue(v, name, limit)
}

func uintValue(v *structpb.Value, name string, limit uint64) (uint64, error) {
	var n uint64
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f < 0 || f != math.Trunc(f) || f > float64(limit) {
			return 0, fmt.Errorf("%s %v: %w", name, f, ErrInvalidField)
		}
		n = uint64(f)
	case *structpb.Value_StringValue:
		u, err := strconv.ParseUint(k.StringValue, 10, 64)
		if err != nil || u > limit {
			return 0, fmt.Errorf("%s %q: %w", name, k.StringValue, ErrInvalidField)
		}
		n = u
	case *structpb.Value_NullValue:
	default:
		return 0, fmt.Errorf("%s: %w: want number or string", name, ErrInvalidField)
	}
	return n, nil
}

// switchValue reads a switch ID. Large datapath IDs lose precision as
// JSON numbers, so strings are accepted as well.
func switchValue(v *structpb.Value, name string) (elan.SwitchID, error) {
	if s, ok := v.GetKind().(*structpb.Value_StringValue); ok {
		sw, err := elan.ParseSwitchID(s.StringValue)
		if err != nil {
			return elan.InvalidSwitch, fmt.Errorf("%s: %w", name, err)
		}
		return sw, nil
	}
	n, err := uintValue(v, name, math.MaxUint64)
	return elan.SwitchID(n), err
}

// parseAddr parses an optional address field.
func parseAddr(msg *structpb.Struct, name string) (netip.Addr, error) {
	s := stringField(msg, name)
	if s == "" {
		return netip.Addr{}, nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%s %q: %w", name, s, ErrInvalidField)
	}
	return a, nil
}

// -------------------------------------------------------------------------
// Events
// -------------------------------------------------------------------------

// EventFromStruct decodes and validates a PublishEvent request:
//
//	{"kind": "TunnelUp", "switch": "1", "tunnel_ip": "192.0.2.10"}
//	{"kind": "MemberJoin", "tunnel_ip": "192.0.2.10", "domain": "a", "mac": "52:54:00:00:00:01"}
//	{"kind": "DomainConfigChanged", "domain_config": {"name": "a", "vni": 5000}, "deleted": false}
func EventFromStruct(msg *structpb.Struct) (elan.Event, error) {
	kind, err := elan.ParseEventKind(stringField(msg, "kind"))
	if err != nil {
		return elan.Event{}, err
	}
	ev := elan.Event{
		Kind:    kind,
		Domain:  stringField(msg, "domain"),
		Deleted: boolField(msg, "deleted"),
	}

	if v, ok := msg.GetFields()["switch"]; ok {
		if ev.Switch, err = switchValue(v, "switch"); err != nil {
			return elan.Event{}, err
		}
	}
	if ev.TunnelIP, err = parseAddr(msg, "tunnel_ip"); err != nil {
		return elan.Event{}, err
	}
	if s := stringField(msg, "mac"); s != "" {
		if ev.MAC, err = elan.ParseMAC(s); err != nil {
			return elan.Event{}, err
		}
	}
	if dc := msg.GetFields()["domain_config"].GetStructValue(); dc != nil {
		if ev.DomainConfig, err = domainFromStruct(dc); err != nil {
			return elan.Event{}, err
		}
	}

	if err := ev.Validate(); err != nil {
		return elan.Event{}, err
	}
	return ev, nil
}

func domainFromStruct(msg *structpb.Struct) (elan.Domain, error) {
	d := elan.Domain{Name: stringField(msg, "name")}

	vni, err := uintField(msg, "vni", 1<<24-1)
	if err != nil {
		return elan.Domain{}, err
	}
	d.VNI = uint32(vni)

	for _, v := range msg.GetFields()["switches"].GetListValue().GetValues() {
		sw, err := switchValue(v, "switches")
		if err != nil {
			return elan.Domain{}, err
		}
		d.Switches = append(d.Switches, sw)
	}

	if d.GatewayIP, err = parseAddr(msg, "gateway_ip"); err != nil {
		return elan.Domain{}, err
	}
	if s := stringField(msg, "gateway_mac"); s != "" {
		mac, err := elan.ParseMAC(s)
		if err != nil {
			return elan.Domain{}, err
		}
		d.GatewayMAC = mac.HardwareAddr()
	}
	return d, nil
}

// EventToStruct encodes ev in the PublishEvent request shape.
func EventToStruct(ev elan.Event) (*structpb.Struct, error) {
	fields := map[string]any{"kind": ev.Kind.String()}
	if ev.Switch.Valid() {
		fields["switch"] = ev.Switch.String()
	}
	if ev.TunnelIP.IsValid() {
		fields["tunnel_ip"] = ev.TunnelIP.String()
	}
	if ev.Domain != "" {
		fields["domain"] = ev.Domain
	}
	if ev.MAC != (elan.MAC{}) {
		fields["mac"] = ev.MAC.String()
	}
	if ev.Kind == elan.EventDomainConfigChanged {
		d := ev.DomainConfig
		switches := make([]any, 0, len(d.Switches))
		for _, sw := range d.Switches {
			switches = append(switches, sw.String())
		}
		dc := map[string]any{"name": d.Name, "vni": d.VNI, "switches": switches}
		if d.GatewayIP.IsValid() {
			dc["gateway_ip"] = d.GatewayIP.String()
		}
		if len(d.GatewayMAC) > 0 {
			dc["gateway_mac"] = d.GatewayMAC.String()
		}
		fields["domain_config"] = dc
		fields["deleted"] = ev.Deleted
	}
	return structpb.NewStruct(fields)
}

// -------------------------------------------------------------------------
// Ports
// -------------------------------------------------------------------------

// PortFromStruct decodes a BindPort request.
func PortFromStruct(msg *structpb.Struct) (dhcp.Port, error) {
	p := dhcp.Port{
		ID:        stringField(msg, "id"),
		SubnetID:  stringField(msg, "subnet"),
		Interface: stringField(msg, "interface"),
	}
	if p.ID == "" {
		return dhcp.Port{}, dhcp.ErrPortIDEmpty
	}

	mac, err := net.ParseMAC(stringField(msg, "mac"))
	if err != nil || len(mac) != 6 {
		return dhcp.Port{}, fmt.Errorf("port %s: %w", p.ID, dhcp.ErrPortMACInvalid)
	}
	p.MAC = mac

	if p.IP, err = parseAddr(msg, "ip"); err != nil {
		return dhcp.Port{}, err
	}
	vni, err := uintField(msg, "vni", 1<<24-1)
	if err != nil {
		return dhcp.Port{}, err
	}
	p.VNI = uint32(vni)

	if p.Binding, err = dhcp.ParseBindingType(stringField(msg, "binding")); err != nil {
		return dhcp.Port{}, err
	}
	return p, nil
}

// PortToStruct encodes p in the BindPort request shape.
func PortToStruct(p dhcp.Port) (*structpb.Struct, error) {
	return structpb.NewStruct(portRow(p))
}
