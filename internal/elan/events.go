package elan

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// EventKind tags a topology event.
type EventKind uint8

const (
	// EventSwitchUp reports a switch connecting to the controller.
	EventSwitchUp EventKind = iota + 1

	// EventSwitchDown reports a switch disconnecting.
	EventSwitchDown

	// EventTunnelUp reports a switch-to-gateway tunnel becoming live.
	EventTunnelUp

	// EventTunnelDown reports a switch-to-gateway tunnel losing liveness.
	EventTunnelDown

	// EventMemberJoin reports a member MAC appearing behind a gateway tunnel.
	EventMemberJoin

	// EventMemberLeave reports a member MAC disappearing.
	EventMemberLeave

	// EventDomainConfigChanged reports a domain being added, changed or
	// deleted.
	EventDomainConfigChanged
)

var eventKindNames = map[EventKind]string{
	EventSwitchUp:            "SwitchUp",
	EventSwitchDown:          "SwitchDown",
	EventTunnelUp:            "TunnelUp",
	EventTunnelDown:          "TunnelDown",
	EventMemberJoin:          "MemberJoin",
	EventMemberLeave:         "MemberLeave",
	EventDomainConfigChanged: "DomainConfigChanged",
}

func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// ParseEventKind parses a kind name, case-insensitively.
func ParseEventKind(s string) (EventKind, error) {
	for k, name := range eventKindNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEventKind, s)
}

// EventKinds returns every event kind in declaration order.
func EventKinds() []EventKind {
	out := make([]EventKind, 0, len(eventKindNames))
	for k := EventSwitchUp; k <= EventDomainConfigChanged; k++ {
		out = append(out, k)
	}
	return out
}

// Event is one topology change. Which fields are meaningful depends on
// Kind:
//
//	SwitchUp, SwitchDown          Switch
//	TunnelUp, TunnelDown          Switch, TunnelIP
//	MemberJoin, MemberLeave       TunnelIP, Domain, MAC
//	DomainConfigChanged           DomainConfig, Deleted
type Event struct {
	Kind     EventKind
	Switch   SwitchID
	TunnelIP netip.Addr
	Domain   string
	MAC      MAC

	DomainConfig Domain
	Deleted      bool
}

// Event validation errors.
var (
	// ErrUnknownEventKind indicates an event kind outside the known set.
	ErrUnknownEventKind = errors.New("unknown event kind")

	// ErrEventSwitch indicates a switch event without a switch.
	ErrEventSwitch = errors.New("event requires a switch id")

	// ErrEventTunnel indicates a tunnel or member event without an IPv4
	// tunnel endpoint.
	ErrEventTunnel = errors.New("event requires an IPv4 tunnel endpoint")

	// ErrEventDomain indicates a member or domain event without a domain.
	ErrEventDomain = errors.New("event requires a domain")
)

// Validate checks that the fields Kind needs are present.
func (e Event) Validate() error {
	switch e.Kind {
	case EventSwitchUp, EventSwitchDown:
		if !e.Switch.Valid() {
			return fmt.Errorf("%s: %w", e.Kind, ErrEventSwitch)
		}
	case EventTunnelUp, EventTunnelDown:
		if !e.Switch.Valid() {
			return fmt.Errorf("%s: %w", e.Kind, ErrEventSwitch)
		}
		if !e.TunnelIP.Is4() {
			return fmt.Errorf("%s: %w", e.Kind, ErrEventTunnel)
		}
	case EventMemberJoin, EventMemberLeave:
		if !e.TunnelIP.Is4() {
			return fmt.Errorf("%s: %w", e.Kind, ErrEventTunnel)
		}
		if e.Domain == "" {
			return fmt.Errorf("%s: %w", e.Kind, ErrEventDomain)
		}
	case EventDomainConfigChanged:
		if e.DomainConfig.Name == "" {
			return fmt.Errorf("%s: %w", e.Kind, ErrEventDomain)
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownEventKind, uint8(e.Kind))
	}
	return nil
}

// JobKey returns the Dispatcher key the event serializes on.
func (e Event) JobKey() JobKey {
	switch e.Kind {
	case EventSwitchUp, EventSwitchDown:
		return TunnelSwitchKey(netip.Addr{}, e.Switch)
	case EventTunnelUp, EventTunnelDown:
		return TunnelSwitchKey(e.TunnelIP, e.Switch)
	case EventDomainConfigChanged:
		return DomainKey(e.DomainConfig.Name)
	default:
		return DomainKey(e.Domain)
	}
}
