package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// timeLayout is fixed-width so that lexical order of the stored text equals
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database for driver ("sqlite" or "postgres") and
// creates the schema if needed.
func Open(driver, dsn string) (*Store, error) {
	switch Dialect(driver) {
	case DialectSQLite, "":
		return NewSQLiteStore(dsn)
	case DialectPostgres:
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q: supported drivers are sqlite, postgres", driver)
	}
}

func NewSQLiteStore(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "pollcast.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, dialect: DialectSQLite}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func NewPostgresStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}

	store := &Store{db: db, dialect: DialectPostgres}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	if s.dialect == DialectSQLite {
		pragmas := []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA foreign_keys = ON",
		}
		for _, p := range pragmas {
			if _, err := s.db.Exec(p); err != nil {
				return fmt.Errorf("apply pragma %q: %w", p, err)
			}
		}
	}

	statements := []struct {
		name string
		sql  string
	}{
		{"sessions table", `
			CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				host_id TEXT NOT NULL,
				session_code TEXT NOT NULL,
				quiz_interval INTEGER NOT NULL,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				save_transcript BOOLEAN NOT NULL DEFAULT FALSE,
				participant_names BOOLEAN NOT NULL DEFAULT FALSE,
				auto_publish_results BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TEXT NOT NULL
			)`},
		{"transcriptions table", `
			CREATE TABLE IF NOT EXISTS transcriptions (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				text TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`},
		{"polls table", `
			CREATE TABLE IF NOT EXISTS polls (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				question TEXT NOT NULL,
				options TEXT NOT NULL,
				correct_option INTEGER,
				generated_from TEXT NOT NULL DEFAULT '',
				published BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TEXT NOT NULL
			)`},
		{"participants table", `
			CREATE TABLE IF NOT EXISTS participants (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				username TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`},
		{"poll_answers table", `
			CREATE TABLE IF NOT EXISTS poll_answers (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				poll_id TEXT NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
				participant_id TEXT NOT NULL,
				answer TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`},
		{"poll_requests table", `
			CREATE TABLE IF NOT EXISTS poll_requests (
				session_id TEXT NOT NULL,
				excerpt_hash TEXT NOT NULL,
				created_at TEXT NOT NULL,
				UNIQUE(session_id, excerpt_hash)
			)`},
		{"active session code index", "CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active_code ON sessions(session_code) WHERE active = TRUE"},
		{"transcriptions index", "CREATE INDEX IF NOT EXISTS idx_transcriptions_session ON transcriptions(session_id, created_at)"},
		{"polls index", "CREATE INDEX IF NOT EXISTS idx_polls_session ON polls(session_id, created_at)"},
		{"participants index", "CREATE INDEX IF NOT EXISTS idx_participants_session ON participants(session_id, created_at)"},
		{"poll_answers index", "CREATE INDEX IF NOT EXISTS idx_poll_answers_session ON poll_answers(session_id, created_at)"},
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt.sql); err != nil {
			return fmt.Errorf("create %s: %w", stmt.name, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// rebind rewrites '?' placeholders to the postgres '$n' form. Queries in this
// package never contain a literal '?'.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		// Rows written by other tools may carry any RFC 3339 precision.
		t, err = time.Parse(time.RFC3339Nano, raw)
	}
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
