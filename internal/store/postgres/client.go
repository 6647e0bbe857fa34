// Package postgres stores the trade audit log in PostgreSQL via pgx.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockID serialises schema changes between copybot processes
// sharing a database.
const migrationLockID = 0x636f7079 // "copy"

// Options configures Open. A non-empty DSN wins over the discrete fields.
type Options struct {
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	MaxConns int
	MinConns int
	// Migrate applies pending embedded migrations before Open returns.
	Migrate bool
}

// ConnString returns the connection string for o. User and password are
// escaped, so credentials may contain URL metacharacters.
func (o Options) ConnString() string {
	if dsn := strings.TrimSpace(o.DSN); dsn != "" {
		return dsn
	}
	port := o.Port
	if port == 0 {
		port = 5432
	}
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(o.User, o.Password),
		Host:     net.JoinHostPort(o.Host, strconv.Itoa(port)),
		Path:     "/" + o.Database,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

// Client owns the pool behind the trade log.
type Client struct {
	pool   *pgxpool.Pool
	trades *TradeLogStore
}

// Open connects, pings and, when opts.Migrate is set, brings the schema up
// to date.
func Open(ctx context.Context, opts Options) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(opts.ConnString())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		poolCfg.MinConns = int32(opts.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	c := newClient(pool)
	if opts.Migrate {
		if _, err := c.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return c, nil
}

func newClient(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool, trades: NewTradeLogStore(pool)}
}

// TradeLog returns the store backed by this client's pool.
func (c *Client) TradeLog() *TradeLogStore { return c.trades }

// Ping checks the connection. Used as the health probe.
func (c *Client) Ping(ctx context.Context) error { return c.pool.Ping(ctx) }

// Close shuts down the pool.
func (c *Client) Close() { c.pool.Close() }

type migration struct {
	version int
	name    string
}

// Migrate applies every embedded migration newer than the recorded schema
// version and returns how many ran. Files are named NNN_description.sql;
// all of them run in one transaction under an advisory lock.
func (c *Client) Migrate(ctx context.Context) (int, error) {
	pending, err := embeddedMigrations()
	if err != nil {
		return 0, err
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: migrate: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return 0, fmt.Errorf("postgres: migrate: lock: %w", err)
	}
	if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS copybot_schema (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return 0, fmt.Errorf("postgres: migrate: create version table: %w", err)
	}

	var current int
	if err := tx.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM copybot_schema").Scan(&current); err != nil {
		return 0, fmt.Errorf("postgres: migrate: read version: %w", err)
	}

	applied := 0
	for _, m := range pending {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, tx, m); err != nil {
			return 0, err
		}
		applied++
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: migrate: commit: %w", err)
	}
	return applied, nil
}

func applyMigration(ctx context.Context, tx pgx.Tx, m migration) error {
	sql, err := migrationsFS.ReadFile(path.Join("migrations", m.name))
	if err != nil {
		return fmt.Errorf("postgres: migrate: read %s: %w", m.name, err)
	}
	if _, err := tx.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("postgres: migrate: exec %s: %w", m.name, err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO copybot_schema (version, name) VALUES ($1, $2)", m.version, m.name,
	); err != nil {
		return fmt.Errorf("postgres: migrate: record %s: %w", m.name, err)
	}
	return nil
}

// embeddedMigrations lists the migration files ordered by version.
func embeddedMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("postgres: migrate: list: %w", err)
	}
	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(e.Name(), "_")
		v, err := strconv.Atoi(prefix)
		if !ok || err != nil || v <= 0 {
			return nil, fmt.Errorf("postgres: migrate: %s: name must start with a positive version", e.Name())
		}
		out = append(out, migration{version: v, name: e.Name()})
	}
	slices.SortFunc(out, func(a, b migration) int { return a.version - b.version })
	for i := 1; i < len(out); i++ {
		if out[i].version == out[i-1].version {
			return nil, fmt.Errorf("postgres: migrate: duplicate version %d", out[i].version)
		}
	}
	return out, nil
}
