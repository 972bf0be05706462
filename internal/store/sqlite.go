// Package store persists election records, gateway-port bindings and the
// flow journal in SQLite.
//
// The leader is the only writer. Followers open the same database (or a
// replica of it) and read election records and bindings to keep their
// caches current.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	// Registers the "sqlite3" database/sql driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/dantte-lp/goelan/internal/elan"
)

// ErrEmptyPath indicates Open was called without a database path.
var ErrEmptyPath = errors.New("store path is empty")

// schema is applied on every Open. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS elections (
		tunnel_ip  TEXT NOT NULL,
		domain     TEXT NOT NULL,
		switch_id  TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (tunnel_ip, domain)
	)`,
	`CREATE TABLE IF NOT EXISTS bindings (
		tunnel_ip  TEXT NOT NULL,
		domain     TEXT NOT NULL,
		mac        TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (tunnel_ip, domain, mac)
	)`,
	`CREATE TABLE IF NOT EXISTS flows (
		switch_id  TEXT NOT NULL,
		flow_id    TEXT NOT NULL,
		table_id   INTEGER NOT NULL,
		priority   INTEGER NOT NULL,
		cookie     INTEGER NOT NULL,
		spec       TEXT NOT NULL,
		state      TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (switch_id, flow_id)
	)`,
}

// SQLite implements elan.Store and elan.FlowInstaller on one database.
type SQLite struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" only in tests: every connection of an in-memory
// database is a separate database, so the pool is limited to one.
func Open(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store %s: %w", path, err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate store %s: %w", path, err)
		}
	}

	s := &SQLite{
		db:     db,
		now:    time.Now,
		logger: logger.With(slog.String("component", "store.sqlite")),
	}
	s.logger.Info("store opened", slog.String("path", path))
	return s, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Elections
// -------------------------------------------------------------------------

// LoadElections implements elan.Store.
func (s *SQLite) LoadElections(ctx context.Context) (map[elan.TunnelDomain]elan.SwitchID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tunnel_ip, domain, switch_id FROM elections`)
	if err != nil {
		return nil, fmt.Errorf("load elections: %w", err)
	}
	defer rows.Close()

	out := make(map[elan.TunnelDomain]elan.SwitchID)
	for rows.Next() {
		var ip, domain, sw string
		if err := rows.Scan(&ip, &domain, &sw); err != nil {
			return nil, fmt.Errorf("load elections: %w", err)
		}
		key, err := tunnelDomain(ip, domain)
		if err != nil {
			return nil, fmt.Errorf("load elections: %w", err)
		}
		id, err := elan.ParseSwitchID(sw)
		if err != nil {
			return nil, fmt.Errorf("load elections %s: %w", key, err)
		}
		out[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load elections: %w", err)
	}
	return out, nil
}

// PutElection implements elan.Store.
func (s *SQLite) PutElection(ctx context.Context, key elan.TunnelDomain, sw elan.SwitchID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO elections (tunnel_ip, domain, switch_id, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (tunnel_ip, domain) DO UPDATE SET switch_id = excluded.switch_id, updated_at = excluded.updated_at`,
		key.TunnelIP.String(), key.Domain, sw.String(), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put election %s: %w", key, err)
	}
	return nil
}

// DeleteElection implements elan.Store.
func (s *SQLite) DeleteElection(ctx context.Context, key elan.TunnelDomain) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM elections WHERE tunnel_ip = ? AND domain = ?`,
		key.TunnelIP.String(), key.Domain,
	)
	if err != nil {
		return fmt.Errorf("delete election %s: %w", key, err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Gateway-Port Bindings
// -------------------------------------------------------------------------

// LoadBindings implements elan.Store.
func (s *SQLite) LoadBindings(ctx context.Context) (map[elan.TunnelDomain][]elan.MAC, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tunnel_ip, domain, mac FROM bindings ORDER BY tunnel_ip, domain, mac`)
	if err != nil {
		return nil, fmt.Errorf("load bindings: %w", err)
	}
	defer rows.Close()

	out := make(map[elan.TunnelDomain][]elan.MAC)
	for rows.Next() {
		var ip, domain, mac string
		if err := rows.Scan(&ip, &domain, &mac); err != nil {
			return nil, fmt.Errorf("load bindings: %w", err)
		}
		key, err := tunnelDomain(ip, domain)
		if err != nil {
			return nil, fmt.Errorf("load bindings: %w", err)
		}
		m, err := elan.ParseMAC(mac)
		if err != nil {
			return nil, fmt.Errorf("load bindings %s: %w", key, err)
		}
		out[key] = append(out[key], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load bindings: %w", err)
	}
	return out, nil
}

// PutBinding implements elan.Store.
func (s *SQLite) PutBinding(ctx context.Context, key elan.TunnelDomain, mac elan.MAC) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bindings (tunnel_ip, domain, mac, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (tunnel_ip, domain, mac) DO UPDATE SET updated_at = excluded.updated_at`,
		key.TunnelIP.String(), key.Domain, mac.String(), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put binding %s %s: %w", key, mac, err)
	}
	return nil
}

// DeleteBinding implements elan.Store.
func (s *SQLite) DeleteBinding(ctx context.Context, key elan.TunnelDomain, mac elan.MAC) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM bindings WHERE tunnel_ip = ? AND domain = ? AND mac = ?`,
		key.TunnelIP.String(), key.Domain, mac.String(),
	)
	if err != nil {
		return fmt.Errorf("delete binding %s %s: %w", key, mac, err)
	}
	return nil
}

func tunnelDomain(ip, domain string) (elan.TunnelDomain, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return elan.TunnelDomain{}, fmt.Errorf("tunnel ip %q: %w", ip, err)
	}
	return elan.TunnelDomain{TunnelIP: addr, Domain: domain}, nil
}
