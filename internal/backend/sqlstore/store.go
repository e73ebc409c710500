// Package sqlstore implements the backend client on a local SQLite
// database. Real-time events are delivered in-process through a Hub shared
// by every Store attached to it.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/poloBBQ/chatsync/internal/chat"
	"github.com/poloBBQ/chatsync/internal/logging"
)

const (
	defaultPageSize      = 30
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 50 * time.Millisecond
)

// Store is a SQLite-backed chat backend. One Store serves one connected
// user at a time.
type Store struct {
	db       *sql.DB
	hub      *Hub
	pageSize int
	now      func() time.Time
	logger   zerolog.Logger

	mu     sync.RWMutex
	user   *chat.Member
	stream *subscriber
}

// Option configures a Store.
type Option func(*Store)

// WithHub attaches the store to a shared event hub.
func WithHub(hub *Hub) Option {
	return func(s *Store) {
		s.hub = hub
	}
}

// WithPageSize sets the number of messages per history page.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithClock overrides the clock used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open opens (creating when needed) the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to chat database: %w", err)
	}

	s := &Store{
		db:       db,
		pageSize: defaultPageSize,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logging.Component("sqlstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub == nil {
		s.hub = NewHub()
	}

	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close disconnects the user and closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	_ = s.Disconnect(context.Background())
	return s.db.Close()
}

// Hub returns the event hub of the store.
func (s *Store) Hub() *Hub { return s.hub }

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			nickname TEXT NOT NULL DEFAULT '',
			profile_url TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS channels (
			url TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			cover_url TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS members (
			channel_url TEXT NOT NULL REFERENCES channels(url) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id),
			joined_at TEXT NOT NULL,
			last_read_id INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (channel_url, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_url TEXT NOT NULL REFERENCES channels(url) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			sender_id TEXT,
			body TEXT NOT NULL DEFAULT '',
			custom_type TEXT NOT NULL DEFAULT '',
			file_name TEXT,
			file_url TEXT,
			file_type TEXT,
			file_size INTEGER,
			file_data BLOB,
			created_at TEXT NOT NULL,
			updated_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS messages_channel_idx ON messages(channel_url, id)`,
		`CREATE INDEX IF NOT EXISTS members_user_idx ON members(user_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize chat schema: %w", err)
		}
	}
	return nil
}

// transaction runs fn in a transaction, retrying while the database is busy.
func (s *Store) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	return withRetry(ctx, defaultRetryAttempts, defaultRetryBackoff, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func withRetry(ctx context.Context, maxAttempts int, baseBackoff time.Duration, fn func() error) error {
	attempt := 0
	backoff := baseBackoff

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := fn()
		if err == nil {
			return nil
		}

		attempt++
		if !isBusyError(err) || attempt >= maxAttempts {
			return err
		}

		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}

		backoff *= 2
	}
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") ||
		strings.Contains(message, "database is busy") ||
		strings.Contains(message, "sqlite_busy")
}

func sleepWithContext(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
