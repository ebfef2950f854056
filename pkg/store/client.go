// Package store implements the Entity Store contract of §4.B: a
// transactional key/value-over-SQL interface over the entities of §3.
// Adapted from pkg/database/client.go's connection-pool/migration
// pattern (functional ClientOptions, go:embed migrations).
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/trustweave/dag-hub/pkg/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client wraps a pooled *sql.DB connection to the entity store.
type Client struct {
	db     *sql.DB
	logger *logrusLike
}

// logrusLike avoids importing logrus directly into this low-level file;
// Store's higher-level callers inject a configured logger. Kept minimal
// to keep a WithLogger option without dragging a logging dependency
// into the SQL plumbing.
type logrusLike struct {
	Printf func(format string, args ...any)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger installs a printf-style logger.
func WithLogger(printf func(format string, args ...any)) ClientOption {
	return func(c *Client) { c.logger = &logrusLike{Printf: printf} }
}

// NewClient opens a pooled connection to cfg.DatabaseURL.
func NewClient(cfg *config.Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("store: config cannot be nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("store: database URL cannot be empty")
	}

	client := &Client{logger: &logrusLike{Printf: func(string, ...any) {}}}
	for _, opt := range opts {
		opt(client)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	maxConns := cfg.DatabaseMaxConns
	if maxConns == 0 {
		maxConns = 16
	}
	minConns := cfg.DatabaseMinConns
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(time.Hour)

	client.db = db

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	client.logger.Printf("store: connected (max_conns=%d, min_conns=%d)", maxConns, minConns)
	return client, nil
}

// DB returns the underlying *sql.DB for direct access.
func (c *Client) DB() *sql.DB { return c.db }

// NewForTest wraps an already-open *sql.DB without the URL/pool-sizing
// ceremony of NewClient, for integration tests that manage their own
// connection lifecycle.
func NewForTest(db *sql.DB) *Store {
	return New(&Client{db: db, logger: &logrusLike{Printf: func(string, ...any) {}}})
}

// Close closes the pooled connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

// migration is one embedded .sql migration file.
type migration struct {
	Version string
	SQL     string
}

// MigrateUp applies all pending embedded migrations in version order.
func (c *Client) MigrateUp(ctx context.Context) error {
	migrations, err := c.loadMigrations()
	if err != nil {
		return fmt.Errorf("store: load migrations: %w", err)
	}

	if _, err := c.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}

	applied := map[string]bool{}
	rows, err := c.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("store: read applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: begin migration tx: %w", err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: apply migration %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES ($1)`, m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: record migration %s: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %s: %w", m.Version, err)
		}
		c.logger.Printf("store: applied migration %s", m.Version)
	}
	return nil
}

func (c *Client) loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	out := make([]migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		b, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, migration{Version: e.Name(), SQL: string(b)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
