package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/goelan/internal/server"
)

// designationChange is one transition observed between two polls. An empty
// From means the pair appeared; an empty To means it was withdrawn.
type designationChange struct {
	TunnelIP string `json:"tunnel_ip" yaml:"tunnel_ip"`
	Domain   string `json:"domain"    yaml:"domain"`
	From     string `json:"from"      yaml:"from"`
	To       string `json:"to"        yaml:"to"`
}

var changeColumns = []column{
	{"TUNNEL", "tunnel_ip"},
	{"DOMAIN", "domain"},
	{"FROM", "from"},
	{"TO", "to"},
}

func monitorCmd() *cobra.Command {
	var (
		interval       time.Duration
		includeCurrent bool
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch designated-switch changes",
		Long: "Polls the goelan daemon for designated-switch elections and prints every change " +
			"until interrupted (Ctrl+C).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var prev map[string]designationChange
			if !includeCurrent {
				snap, err := pollDesignations(ctx)
				if err != nil {
					return err
				}
				prev = snap
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				cur, err := pollDesignations(ctx)
				switch {
				case errors.Is(err, context.Canceled) || ctx.Err() != nil:
					return nil
				case err != nil:
					return err
				}

				if err := printChanges(diffDesignations(prev, cur)); err != nil {
					return err
				}
				prev = cur

				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	cmd.Flags().BoolVar(&includeCurrent, "current", false,
		"print current designations before watching changes")

	return cmd
}

// pollDesignations fetches the designations keyed by tunnel and domain. The
// To field holds the designated switch, or "-" when none is valid.
func pollDesignations(ctx context.Context) (map[string]designationChange, error) {
	resp, err := call(ctx, server.ListDesignationsProcedure, nil)
	if err != nil {
		return nil, fmt.Errorf("list designations: %w", err)
	}

	snap := make(map[string]designationChange)
	for _, r := range listField(resp, "designations") {
		row, ok := r.(map[string]any)
		if !ok {
			continue
		}
		d := designationChange{
			TunnelIP: cell(row["tunnel_ip"]),
			Domain:   cell(row["domain"]),
			To:       valueNA,
		}
		if valid, _ := row["valid"].(bool); valid {
			d.To = cell(row["switch"])
		}
		snap[d.TunnelIP+"/"+d.Domain] = d
	}
	return snap, nil
}

// diffDesignations returns the changes from prev to cur sorted by tunnel
// and domain.
func diffDesignations(prev, cur map[string]designationChange) []designationChange {
	var changes []designationChange
	for key, c := range cur {
		p, seen := prev[key]
		switch {
		case !seen:
			changes = append(changes, designationChange{TunnelIP: c.TunnelIP, Domain: c.Domain, To: c.To})
		case p.To != c.To:
			changes = append(changes, designationChange{TunnelIP: c.TunnelIP, Domain: c.Domain, From: p.To, To: c.To})
		}
	}
	for key, p := range prev {
		if _, ok := cur[key]; !ok {
			changes = append(changes, designationChange{TunnelIP: p.TunnelIP, Domain: p.Domain, From: p.To})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].TunnelIP != changes[j].TunnelIP {
			return changes[i].TunnelIP < changes[j].TunnelIP
		}
		return changes[i].Domain < changes[j].Domain
	})
	return changes
}

func printChanges(changes []designationChange) error {
	if len(changes) == 0 {
		return nil
	}

	var out string
	var err error
	switch outputFormat {
	case formatJSON:
		out, err = marshalJSON(changes)
	case formatYAML:
		out, err = marshalYAML(changes)
	default:
		rows := make([]any, 0, len(changes))
		for _, c := range changes {
			rows = append(rows, map[string]any{
				"tunnel_ip": c.TunnelIP, "domain": c.Domain, "from": c.From, "to": c.To,
			})
		}
		out, err = formatTableRows(rows, changeColumns)
		out = time.Now().Format(time.TimeOnly) + "\n" + out
	}
	if err != nil {
		return fmt.Errorf("format changes: %w", err)
	}
	fmt.Print(out)
	return nil
}
