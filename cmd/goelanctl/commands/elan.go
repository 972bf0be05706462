package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/goelan/internal/server"
)

var (
	designationColumns = []column{
		{"TUNNEL", "tunnel_ip"},
		{"DOMAIN", "domain"},
		{"SWITCH", "switch"},
		{"VALID", "valid"},
	}
	memberColumns = []column{
		{"TUNNEL", "tunnel_ip"},
		{"DOMAIN", "domain"},
		{"MEMBERS", "members"},
	}
	statsColumns = []column{
		{"Keys", "keys"},
		{"Pending", "pending"},
		{"Running", "running"},
		{"Retrying", "retrying"},
		{"Failed", "failed"},
		{"Done", "done"},
	}
)

// --- designations ---

func designationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "designations",
		Short: "Inspect designated-switch elections",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the designated switch of every (tunnel, domain)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := call(cmd.Context(), server.ListDesignationsProcedure, nil)
			if err != nil {
				return fmt.Errorf("list designations: %w", err)
			}
			return printList(listField(resp, "designations"), designationColumns)
		},
	})
	return cmd
}

// --- members ---

func membersCmd() *cobra.Command {
	var domain string

	cmd := &cobra.Command{
		Use:   "members",
		Short: "Inspect gateway-side member bindings",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List member MACs per (tunnel, domain)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var fields map[string]any
			if domain != "" {
				fields = map[string]any{"domain": domain}
			}
			resp, err := call(cmd.Context(), server.ListMembersProcedure, fields)
			if err != nil {
				return fmt.Errorf("list members: %w", err)
			}
			return printList(listField(resp, "bindings"), memberColumns)
		},
	}
	list.Flags().StringVar(&domain, "domain", "", "only show this domain")
	cmd.AddCommand(list)
	return cmd
}

// --- stats ---

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show election job dispatcher statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := call(cmd.Context(), server.DispatcherStatsProcedure, nil)
			if err != nil {
				return fmt.Errorf("dispatcher stats: %w", err)
			}
			out, err := formatObject(resp, statsColumns, outputFormat)
			if err != nil {
				return fmt.Errorf("format stats: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}

func printList(rows []any, cols []column) error {
	out, err := formatList(rows, cols, outputFormat)
	if err != nil {
		return fmt.Errorf("format output: %w", err)
	}
	fmt.Print(out)
	return nil
}
