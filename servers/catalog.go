// Package servers keeps the local catalog of VPN servers and the history of
// connections registered for them in a SQLite database.
package servers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/yllada/nm-openvpn/common"
	"github.com/yllada/nm-openvpn/vpn"
)

// Catalog is the server store.
type Catalog struct {
	db *sql.DB
}

// Open opens (or creates) the catalog at path and runs all migrations.
// Use ":memory:" for an in-memory catalog (useful in tests).
func Open(path string) (*Catalog, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Keep a single writer connection to avoid SQLITE_BUSY under concurrent load.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Catalog{db: db}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const upsertServer = `
INSERT INTO servers (name, domain, entry_ip, label, tcp_ports, udp_ports, load, tier, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
    domain = excluded.domain,
    entry_ip = excluded.entry_ip,
    label = excluded.label,
    tcp_ports = excluded.tcp_ports,
    udp_ports = excluded.udp_ports,
    load = excluded.load,
    tier = excluded.tier,
    updated_at = excluded.updated_at`

func add(ctx context.Context, ex execer, s vpn.Server) error {
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := ex.ExecContext(ctx, upsertServer,
		s.Name, s.Domain, s.EntryIP, s.Label,
		joinPorts(s.TCPPorts), joinPorts(s.UDPPorts),
		s.Load, s.Tier, time.Now().Unix())
	return err
}

// Add inserts s, replacing any server with the same name.
func (c *Catalog) Add(ctx context.Context, s vpn.Server) error {
	return add(ctx, c.db, s)
}

const selectServer = `SELECT name, domain, entry_ip, label, tcp_ports, udp_ports, load, tier FROM servers`

type scanner interface {
	Scan(dest ...any) error
}

func scanServer(row scanner) (vpn.Server, error) {
	var (
		s        vpn.Server
		tcp, udp string
	)
	if err := row.Scan(&s.Name, &s.Domain, &s.EntryIP, &s.Label, &tcp, &udp, &s.Load, &s.Tier); err != nil {
		return vpn.Server{}, err
	}

	var err error
	if s.TCPPorts, err = splitPorts(tcp); err != nil {
		return vpn.Server{}, err
	}
	if s.UDPPorts, err = splitPorts(udp); err != nil {
		return vpn.Server{}, err
	}
	return s, nil
}

// Get returns the server called name.
func (c *Catalog) Get(ctx context.Context, name string) (vpn.Server, error) {
	row := c.db.QueryRowContext(ctx, selectServer+` WHERE name = ?`, name)
	s, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return vpn.Server{}, fmt.Errorf("%w: %s", common.ErrServerNotFound, name)
	}
	return s, err
}

// List returns all servers ordered by name.
func (c *Catalog) List(ctx context.Context) ([]vpn.Server, error) {
	rows, err := c.db.QueryContext(ctx, selectServer+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vpn.Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Remove deletes the server called name.
func (c *Catalog) Remove(ctx context.Context, name string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM servers WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", common.ErrServerNotFound, name)
	}
	return nil
}

// importFile is the YAML layout accepted by ImportYAML.
type importFile struct {
	Servers []vpn.Server `yaml:"servers"`
}

// ImportYAML adds every server listed in r. The import is all or nothing.
func (c *Catalog) ImportYAML(ctx context.Context, r io.Reader) (int, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var file importFile
	if err := decoder.Decode(&file); err != nil {
		return 0, fmt.Errorf("%w: %w", common.ErrInvalidServer, err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, s := range file.Servers {
		if err := add(ctx, tx, s); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(file.Servers), nil
}

// RecordRegistration appends reg to the registration history.
func (c *Catalog) RecordRegistration(ctx context.Context, reg vpn.Registration) error {
	created := reg.Finished
	if created.IsZero() {
		created = time.Now()
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO registrations (server, protocol, uuid, object_path, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		reg.Server, reg.Protocol, reg.UUID, reg.Path, reg.LastError, created.Unix())
	return err
}

// History returns up to limit registrations for server, newest first.
func (c *Catalog) History(ctx context.Context, server string, limit int) ([]vpn.Registration, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT server, protocol, uuid, object_path, error, created_at FROM registrations
		 WHERE server = ? ORDER BY created_at DESC, id DESC LIMIT ?`, server, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vpn.Registration
	for rows.Next() {
		var (
			reg     vpn.Registration
			created int64
		)
		if err := rows.Scan(&reg.Server, &reg.Protocol, &reg.UUID, &reg.Path, &reg.LastError, &created); err != nil {
			return nil, err
		}
		reg.Finished = time.Unix(created, 0)
		reg.Status = vpn.StatusRegistered
		if reg.LastError != "" {
			reg.Status = vpn.StatusFailed
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

func joinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

func splitPorts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ports := make([]int, 0, len(parts))
	for _, part := range parts {
		p, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("corrupt port list %q: %w", s, err)
		}
		ports = append(ports, p)
	}
	return ports, nil
}
