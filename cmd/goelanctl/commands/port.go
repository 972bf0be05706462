package commands

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/goelan/internal/dhcp"
	"github.com/dantte-lp/goelan/internal/server"
)

// errPortFlags is returned when port bind lacks --id or --mac.
var errPortFlags = errors.New("--id and --mac flags are required")

var portColumns = []column{
	{"ID", "id"},
	{"MAC", "mac"},
	{"IP", "ip"},
	{"SUBNET", "subnet"},
	{"INTERFACE", "interface"},
	{"VNI", "vni"},
	{"BINDING", "binding"},
}

// portFlags holds the raw port bind flags.
type portFlags struct {
	id      string
	mac     string
	ip      string
	subnet  string
	iface   string
	vni     uint32
	binding string
}

func portCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "port",
		Short: "Manage DHCP port bindings",
	}
	cmd.AddCommand(portListCmd())
	cmd.AddCommand(portBindCmd())
	cmd.AddCommand(portUnbindCmd())
	return cmd
}

// --- port list ---

func portListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bound ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := call(cmd.Context(), server.ListPortsProcedure, nil)
			if err != nil {
				return fmt.Errorf("list ports: %w", err)
			}
			return printList(listField(resp, "ports"), portColumns)
		},
	}
}

// --- port bind ---

func portBindCmd() *cobra.Command {
	var f portFlags

	cmd := &cobra.Command{
		Use:   "bind",
		Short: "Bind or replace a port in the DHCP directory",
		Example: `  goelanctl port bind --id vm1 --mac 52:54:00:00:00:01 --ip 10.0.0.5 --subnet tenant --interface tap0
  goelanctl port bind --id bm1 --mac 52:54:00:00:00:02 --ip 10.0.0.6 --subnet tenant --vni 5000 --binding direct`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := f.port()
			if err != nil {
				return err
			}
			msg, err := server.PortToStruct(p)
			if err != nil {
				return fmt.Errorf("encode port: %w", err)
			}
			resp, err := callStruct(cmd.Context(), server.BindPortProcedure, msg)
			if err != nil {
				return fmt.Errorf("bind port: %w", err)
			}
			return printPort(resp)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.id, "id", "", "port ID (required)")
	flags.StringVar(&f.mac, "mac", "", "port MAC address (required)")
	flags.StringVar(&f.ip, "ip", "", "fixed IPv4 address")
	flags.StringVar(&f.subnet, "subnet", "", "subnet ID")
	flags.StringVar(&f.iface, "interface", "", "logical ingress interface")
	flags.Uint32Var(&f.vni, "vni", 0, "VNI for ports reached through a hardware gateway")
	flags.StringVar(&f.binding, "binding", dhcp.BindingNormal.String(), "binding type: normal or direct")

	return cmd
}

// port parses the flags into a directory port.
func (f portFlags) port() (dhcp.Port, error) {
	if f.id == "" || f.mac == "" {
		return dhcp.Port{}, errPortFlags
	}

	mac, err := net.ParseMAC(f.mac)
	if err != nil {
		return dhcp.Port{}, fmt.Errorf("--mac: %w", err)
	}
	p := dhcp.Port{
		ID:        f.id,
		MAC:       mac,
		SubnetID:  f.subnet,
		Interface: f.iface,
		VNI:       f.vni,
	}
	if f.ip != "" {
		if p.IP, err = netip.ParseAddr(f.ip); err != nil {
			return dhcp.Port{}, fmt.Errorf("--ip: %w", err)
		}
	}
	if p.Binding, err = dhcp.ParseBindingType(f.binding); err != nil {
		return dhcp.Port{}, fmt.Errorf("--binding: %w", err)
	}
	return p, nil
}

// --- port unbind ---

func portUnbindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unbind <id>",
		Short: "Remove a port from the DHCP directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(cmd.Context(), server.UnbindPortProcedure, map[string]any{"id": args[0]})
			if err != nil {
				return fmt.Errorf("unbind port: %w", err)
			}
			return printPort(resp)
		},
	}
}

func printPort(resp map[string]any) error {
	p, _ := resp["port"].(map[string]any)
	out, err := formatObject(p, portColumns, outputFormat)
	if err != nil {
		return fmt.Errorf("format port: %w", err)
	}
	fmt.Print(out)
	return nil
}
