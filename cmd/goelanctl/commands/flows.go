package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/goelan/internal/server"
)

var flowColumns = []column{
	{"ID", "id"},
	{"SWITCH", "switch"},
	{"TABLE", "table"},
	{"PRIORITY", "priority"},
	{"COOKIE", "cookie"},
	{"STATE", "state"},
	{"UPDATED", "updated_at"},
}

func flowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flows",
		Short: "Inspect the flow journal",
	}

	var state string
	list := &cobra.Command{
		Use:   "list",
		Short: "List journaled flows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var fields map[string]any
			if state != "" {
				fields = map[string]any{"state": state}
			}
			resp, err := call(cmd.Context(), server.ListFlowsProcedure, fields)
			if err != nil {
				return fmt.Errorf("list flows: %w", err)
			}
			return printList(listField(resp, "flows"), flowColumns)
		},
	}
	list.Flags().StringVar(&state, "state", "", "only flows in this state: installed or removed")
	cmd.AddCommand(list)

	return cmd
}
