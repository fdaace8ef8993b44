package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ClientOption configures Client.
type ClientOption func(*ClientConfig)

// ClientConfig holds SQLite configuration.
type ClientConfig struct {
	Path        string
	BusyTimeout time.Duration
	WAL         bool
}

// WithPath sets the database file path (":memory:" is allowed).
func WithPath(path string) ClientOption {
	return func(c *ClientConfig) {
		c.Path = path
	}
}

// WithBusyTimeout sets how long a writer waits on a locked database.
func WithBusyTimeout(d time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.BusyTimeout = d
	}
}

// WithWAL toggles write-ahead logging.
func WithWAL(enabled bool) ClientOption {
	return func(c *ClientConfig) {
		c.WAL = enabled
	}
}

// Client wraps a SQLite database opened through database/sql.
type Client struct {
	db *sql.DB
}

// NewClient opens (or creates) the database file.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &ClientConfig{
		Path:        "signalcore.db",
		BusyTimeout: 5 * time.Second,
		WAL:         true,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer; modernc serializes anyway and this avoids SQLITE_BUSY storms
	db.SetMaxOpenConns(1)

	pragmas := []string{fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds())}
	if cfg.WAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", p, err)
		}
	}
	return &Client{db: db}, nil
}

// DB returns *sql.DB for direct use.
func (c *Client) DB() *sql.DB {
	return c.db
}

// InitSchema runs DDL statements in order.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// EventLogSchema returns DDL for the append-only event log table.
func EventLogSchema(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq     INTEGER NOT NULL,
			id      TEXT PRIMARY KEY,
			type    TEXT NOT NULL,
			key     TEXT NOT NULL,
			ts      INTEGER NOT NULL,
			payload TEXT NOT NULL
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_seq ON %s(seq)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s(ts)`, table, table),
	}
}
