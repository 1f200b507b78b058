package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLite is a Store backed by a single kv table.
//
// The caller must blank-import a database/sql driver named "sqlite" before
// opening, typically:
//
//	import _ "modernc.org/sqlite"
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*subscription
	closed bool
}

type subscription struct {
	keys map[string]struct{}
	ch   chan Change
}

// SQLiteOption customises OpenSQLite.
type SQLiteOption func(*sqliteConfig)

type sqliteConfig struct {
	busyTimeout int
	mkdirAll    bool
	logger      *slog.Logger
}

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) SQLiteOption {
	return func(c *sqliteConfig) { c.busyTimeout = ms }
}

// WithMkdirAll creates parent directories of the database path before opening.
func WithMkdirAll() SQLiteOption {
	return func(c *sqliteConfig) { c.mkdirAll = true }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) SQLiteOption {
	return func(c *sqliteConfig) { c.logger = l }
}

// OpenSQLite opens (or creates) the key-value database at path with WAL and
// busy-timeout pragmas applied.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLite, error) {
	cfg := sqliteConfig{busyTimeout: 10_000, logger: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("storage: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: schema: %w", err)
	}

	return &SQLite{db: db, logger: cfg.logger}, nil
}

// OpenMemorySQLite opens an in-memory store for testing. MaxOpenConns is
// pinned to 1 so every query hits the same in-memory database, and cleanup
// is registered on t.
func OpenMemorySQLite(t testing.TB) *SQLite {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("storage.OpenMemorySQLite: %v", err)
	}
	s.db.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })
	return s
}

func (s *SQLite) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		var value []byte
		err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("storage: get %q: %w", key, err)
		}
		out[key] = json.RawMessage(value)
	}
	return out, nil
}

func (s *SQLite) Set(ctx context.Context, values map[string]json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	now := time.Now().Unix()
	for key, value := range values {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, updated_at) VALUES (?,?,?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, []byte(value), now)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("storage: set %q: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}

	s.notify(values)
	return nil
}

func (s *SQLite) Subscribe(keys ...string) <-chan Change {
	sub := &subscription{
		keys: make(map[string]struct{}, len(keys)),
		ch:   make(chan Change, 16),
	}
	for _, k := range keys {
		sub.keys[k] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(sub.ch)
		return sub.ch
	}
	s.subs = append(s.subs, sub)
	return sub.ch
}

func (s *SQLite) notify(values map[string]json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		for key, value := range values {
			if _, ok := sub.keys[key]; !ok {
				continue
			}
			select {
			case sub.ch <- Change{Key: key, Value: value}:
			default:
				s.logger.Warn("storage: subscriber lagging, change dropped", "key", key)
			}
		}
	}
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for _, sub := range s.subs {
			close(sub.ch)
		}
		s.subs = nil
	}
	s.mu.Unlock()
	return s.db.Close()
}
