package commands

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/goelan/internal/elan"
	"github.com/dantte-lp/goelan/internal/server"
)

// errKindRequired is returned when event publish has no --kind.
var errKindRequired = errors.New("--kind flag is required")

var publishColumns = []column{
	{"Accepted", "accepted"},
	{"Job Key", "job_key"},
}

// eventFlags holds the raw event publish flags.
type eventFlags struct {
	kind       string
	sw         string
	tunnelIP   string
	domain     string
	mac        string
	deleted    bool
	vni        uint32
	switches   []string
	gatewayIP  string
	gatewayMAC string
}

func eventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Publish topology events",
	}
	cmd.AddCommand(eventPublishCmd())
	return cmd
}

// --- event publish ---

func eventPublishCmd() *cobra.Command {
	var f eventFlags

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one topology event to the orchestrator",
		Example: `  goelanctl event publish --kind TunnelUp --switch 1 --tunnel-ip 192.0.2.10
  goelanctl event publish --kind MemberJoin --tunnel-ip 192.0.2.10 --domain blue --mac 52:54:00:00:00:01
  goelanctl event publish --kind DomainConfigChanged --domain blue --vni 5000 --switches 1,2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ev, err := f.event()
			if err != nil {
				return err
			}
			msg, err := server.EventToStruct(ev)
			if err != nil {
				return fmt.Errorf("encode event: %w", err)
			}
			resp, err := callStruct(cmd.Context(), server.PublishEventProcedure, msg)
			if err != nil {
				return fmt.Errorf("publish event: %w", err)
			}
			out, err := formatObject(resp, publishColumns, outputFormat)
			if err != nil {
				return fmt.Errorf("format response: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.kind, "kind", "", "event kind: SwitchUp, SwitchDown, TunnelUp, TunnelDown, "+
		"MemberJoin, MemberLeave, DomainConfigChanged (required)")
	flags.StringVar(&f.sw, "switch", "", "switch ID")
	flags.StringVar(&f.tunnelIP, "tunnel-ip", "", "tunnel endpoint IP")
	flags.StringVar(&f.domain, "domain", "", "domain name")
	flags.StringVar(&f.mac, "mac", "", "member MAC address")
	flags.BoolVar(&f.deleted, "deleted", false, "DomainConfigChanged: the domain was deleted")
	flags.Uint32Var(&f.vni, "vni", 0, "DomainConfigChanged: domain VNI")
	flags.StringSliceVar(&f.switches, "switches", nil, "DomainConfigChanged: carrier switch IDs")
	flags.StringVar(&f.gatewayIP, "gateway-ip", "", "DomainConfigChanged: domain gateway IP for ARP")
	flags.StringVar(&f.gatewayMAC, "gateway-mac", "", "DomainConfigChanged: domain gateway MAC for ARP")

	return cmd
}

// event parses and validates the flags into an event.
func (f eventFlags) event() (elan.Event, error) {
	if f.kind == "" {
		return elan.Event{}, errKindRequired
	}
	kind, err := elan.ParseEventKind(f.kind)
	if err != nil {
		return elan.Event{}, err
	}

	ev := elan.Event{Kind: kind, Domain: f.domain, Deleted: f.deleted}
	if f.sw != "" {
		if ev.Switch, err = elan.ParseSwitchID(f.sw); err != nil {
			return elan.Event{}, fmt.Errorf("--switch: %w", err)
		}
	}
	if f.tunnelIP != "" {
		if ev.TunnelIP, err = netip.ParseAddr(f.tunnelIP); err != nil {
			return elan.Event{}, fmt.Errorf("--tunnel-ip: %w", err)
		}
	}
	if f.mac != "" {
		if ev.MAC, err = elan.ParseMAC(f.mac); err != nil {
			return elan.Event{}, fmt.Errorf("--mac: %w", err)
		}
	}

	if kind == elan.EventDomainConfigChanged {
		d := elan.Domain{Name: f.domain, VNI: f.vni}
		for _, s := range f.switches {
			sw, err := elan.ParseSwitchID(s)
			if err != nil {
				return elan.Event{}, fmt.Errorf("--switches: %w", err)
			}
			d.Switches = append(d.Switches, sw)
		}
		if f.gatewayIP != "" {
			if d.GatewayIP, err = netip.ParseAddr(f.gatewayIP); err != nil {
				return elan.Event{}, fmt.Errorf("--gateway-ip: %w", err)
			}
		}
		if f.gatewayMAC != "" {
			if d.GatewayMAC, err = net.ParseMAC(f.gatewayMAC); err != nil {
				return elan.Event{}, fmt.Errorf("--gateway-mac: %w", err)
			}
		}
		ev.DomainConfig = d
	}

	if err := ev.Validate(); err != nil {
		return elan.Event{}, err
	}
	return ev, nil
}
