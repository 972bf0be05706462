package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dantte-lp/goelan/internal/elan"
)

// Flow journal states.
const (
	FlowInstalled = "installed"
	FlowRemoved   = "removed"
)

// FlowRecord is one journal entry: the last intent recorded for a flow.
type FlowRecord struct {
	Flow      elan.Flow
	State     string
	UpdatedAt time.Time
}

// flowSpec is the JSON column holding match and instructions.
type flowSpec struct {
	Match        elan.Match         `json:"match"`
	Instructions []elan.Instruction `json:"instructions"`
}

// InstallFlow implements elan.FlowInstaller by journaling the flow as
// installed. A programmer process applies the journal to the switches.
func (s *SQLite) InstallFlow(ctx context.Context, f elan.Flow) error {
	return s.journal(ctx, f, FlowInstalled)
}

// RemoveFlow implements elan.FlowInstaller by journaling the flow as
// removed.
func (s *SQLite) RemoveFlow(ctx context.Context, f elan.Flow) error {
	return s.journal(ctx, f, FlowRemoved)
}

func (s *SQLite) journal(ctx context.Context, f elan.Flow, state string) error {
	spec, err := json.Marshal(flowSpec{Match: f.Match, Instructions: f.Instructions})
	if err != nil {
		return fmt.Errorf("journal flow %s: encode: %w", f.ID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flows (switch_id, flow_id, table_id, priority, cookie, spec, state, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (switch_id, flow_id) DO UPDATE SET
		   table_id = excluded.table_id, priority = excluded.priority, cookie = excluded.cookie,
		   spec = excluded.spec, state = excluded.state, updated_at = excluded.updated_at`,
		f.Switch.String(), f.ID, int64(f.Table), int64(f.Priority), int64(f.Cookie),
		string(spec), state, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("journal flow %s on %s: %w", f.ID, f.Switch, err)
	}
	return nil
}

// Flows returns the journal, optionally restricted to one state, ordered
// by switch and flow ID. An empty state returns every entry.
func (s *SQLite) Flows(ctx context.Context, state string) ([]FlowRecord, error) {
	query := `SELECT switch_id, flow_id, table_id, priority, cookie, spec, state, updated_at FROM flows`
	var args []any
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY switch_id, flow_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var out []FlowRecord
	for rows.Next() {
		var (
			rec                     FlowRecord
			sw, spec                string
			table, priority, cookie int64
		)
		if err := rows.Scan(&sw, &rec.Flow.ID, &table, &priority, &cookie, &spec, &rec.State, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list flows: %w", err)
		}
		if rec.Flow.Switch, err = elan.ParseSwitchID(sw); err != nil {
			return nil, fmt.Errorf("list flows %s: %w", rec.Flow.ID, err)
		}
		var fs flowSpec
		if err := json.Unmarshal([]byte(spec), &fs); err != nil {
			return nil, fmt.Errorf("list flows %s: decode: %w", rec.Flow.ID, err)
		}
		rec.Flow.Table = uint8(table)
		rec.Flow.Priority = uint16(priority)
		rec.Flow.Cookie = uint64(cookie)
		rec.Flow.Match = fs.Match
		rec.Flow.Instructions = fs.Instructions
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	return out, nil
}
