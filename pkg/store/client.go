// Package store provides the sqlite-backed persistence layer for every durable entity in
// pkg/models: chats, messages, workspaces, sessions, scheduled tasks, run logs, JID
// aliases, channel cursors, the outbound ledger, router state, and plugin verifications.
package store

import (
	stdsql "database/sql"
	"embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

//go:embed schema.sql
var schemaFS embed.FS

// Config holds sqlite connection settings.
type Config struct {
	// Path is the sqlite database file, e.g. "data/pynchy.db". Parent directories must
	// already exist; Client does not create them.
	Path string

	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sane single-node defaults. sqlite serializes writes internally, so
// a large connection pool buys nothing — a handful of connections is plenty for read
// concurrency alongside the single writer.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		MaxOpenConns:    4,
		ConnMaxLifetime: time.Hour,
	}
}

// Client wraps the underlying *sql.DB and exposes entity-scoped query methods (see
// chats.go, messages.go, workspaces.go, etc.).
type Client struct {
	db *stdsql.DB
}

// DB returns the underlying connection for health checks and ad-hoc queries.
func (c *Client) DB() *stdsql.DB {
	return c.db
}

// Close closes the underlying database connection.
func (c *Client) Close() error {
	return c.db.Close()
}

// NewClient opens (creating if necessary) the sqlite file at cfg.Path, applies the base
// schema and any pending additive migrations, and returns a ready-to-use Client.
func NewClient(cfg Config) (*Client, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", cfg.Path)

	db, err := stdsql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// The pool is capped at cfg.MaxOpenConns; busy_timeout makes a writer wait for the lock
	// instead of failing at once, and WAL mode allows concurrent readers alongside the writer.
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read embedded schema: %w", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply base schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Client{db: db}, nil
}
