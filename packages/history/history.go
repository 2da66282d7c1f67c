// Package history stores executed requests in a SQLite database so runs
// can be listed and inspected later.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/abdul-hamid-achik/hitwire/packages/timeline"
)

// DefaultQueryTimeout bounds a single statement.
const DefaultQueryTimeout = 30 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	method      TEXT NOT NULL,
	url         TEXT NOT NULL,
	status      TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	code        TEXT NOT NULL,
	redirects   INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	timeline    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
`

// Run is one logical request as stored in the history.
type Run struct {
	ID         string
	StartedAt  time.Time
	Method     string
	URL        string
	Status     string
	StatusCode int
	// Code is the error classification, empty on success.
	Code      string
	Redirects int
	Duration  time.Duration
	Timeline  []timeline.Entry
}

// Store is a run history backed by SQLite.
type Store struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// Open opens or creates the history database. dsn is a file path or a
// sqlite:// / sqlite: connection string.
func Open(dsn string) (*Store, error) {
	path := parseConnectionString(dsn)
	if path == "" {
		return nil, fmt.Errorf("history database path is empty")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return &Store{db: db, queryTimeout: DefaultQueryTimeout}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record stores a run. Recording the same ID twice replaces the row.
func (s *Store) Record(ctx context.Context, run Run) error {
	entries := run.Timeline
	if entries == nil {
		entries = []timeline.Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode timeline: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, started_at, method, url, status, status_code, code, redirects, duration_ms, timeline)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.StartedAt.UnixNano(),
		run.Method,
		run.URL,
		run.Status,
		run.StatusCode,
		run.Code,
		run.Redirects,
		run.Duration.Milliseconds(),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// List returns the most recent runs first. A non-positive limit returns
// every run.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := `SELECT id, started_at, method, url, status, status_code, code, redirects, duration_ms, timeline
		FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}

// Get returns the run with the given ID, or sql.ErrNoRows.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, method, url, status, status_code, code, redirects, duration_ms, timeline
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run        Run
		startedAt  int64
		durationMs int64
		raw        string
	)
	if err := row.Scan(&run.ID, &startedAt, &run.Method, &run.URL, &run.Status,
		&run.StatusCode, &run.Code, &run.Redirects, &durationMs, &raw); err != nil {
		return Run{}, err
	}
	run.StartedAt = time.Unix(0, startedAt)
	run.Duration = time.Duration(durationMs) * time.Millisecond
	if err := json.Unmarshal([]byte(raw), &run.Timeline); err != nil {
		return Run{}, fmt.Errorf("failed to decode timeline of run %s: %w", run.ID, err)
	}
	return run, nil
}

// parseConnectionString strips the sqlite:// and sqlite: prefixes.
func parseConnectionString(connStr string) string {
	connStr = strings.TrimSpace(connStr)
	if strings.HasPrefix(connStr, "sqlite://") {
		return strings.TrimPrefix(connStr, "sqlite://")
	}
	return strings.TrimPrefix(connStr, "sqlite:")
}
