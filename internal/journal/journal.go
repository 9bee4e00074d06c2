// Package journal keeps an audit log of dispatched commands in SQLite.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when no entry has the requested ID.
var ErrNotFound = errors.New("dispatch not found")

// Entry is one recorded dispatch.
type Entry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Target     *string   `json:"target"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Source     string    `json:"source,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store reads and writes the dispatch_log table created by
// storage.BootstrapSQLite.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts e. ID and Action are required.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("id is empty")
	}
	if e.Action == "" {
		return fmt.Errorf("action is empty")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO dispatch_log(id, action, target, status, message, source, duration_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.Action, e.Target, e.Status, nullString(e.Message), nullString(e.Source), e.DurationMS,
		e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}

// Get returns the entry with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, action, target, status, message, source, duration_ms, created_at
FROM dispatch_log
WHERE id = ?;
`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dispatch %s: %w", id, err)
	}
	return e, nil
}

// Filter narrows Recent.
type Filter struct {
	Action string
	// Target matches exactly when non-empty; dispatches without a target
	// never match it.
	Target string
	Status string
	Limit  int
}

// Row limits for Recent.
const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

// Recent returns the newest entries first. A zero limit means
// DefaultRecentLimit; larger limits are capped at MaxRecentLimit.
func (s *Store) Recent(ctx context.Context, f Filter) ([]*Entry, error) {
	limit := min(f.Limit, MaxRecentLimit)
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	query := `
SELECT id, action, target, status, message, source, duration_ms, created_at
FROM dispatch_log
WHERE (? = '' OR action = ?) AND (? = '' OR target = ?) AND (? = '' OR status = ?)
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`
	rows, err := s.db.QueryContext(ctx, query, f.Action, f.Action, f.Target, f.Target, f.Status, f.Status, limit)
	if err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	return out, nil
}

// Stats summarizes every recorded dispatch of one action.
type Stats struct {
	Action        string     `json:"action"`
	Total         int64      `json:"total"`
	Success       int64      `json:"success"`
	Error         int64      `json:"error"`
	Ignored       int64      `json:"ignored"`
	AvgDurationMS float64    `json:"avg_duration_ms"`
	LastError     *time.Time `json:"last_error,omitempty"`
}

// Stats returns counts by status and the mean duration for action.
func (s *Store) Stats(ctx context.Context, action string) (*Stats, error) {
	st := Stats{Action: action}
	var lastError sql.NullString
	err := s.db.QueryRowContext(ctx, `
SELECT
  COUNT(*),
  COALESCE(SUM(status = 'success'), 0),
  COALESCE(SUM(status = 'error'), 0),
  COALESCE(SUM(status = 'ignored'), 0),
  COALESCE(AVG(duration_ms), 0),
  MAX(CASE WHEN status = 'error' THEN created_at END)
FROM dispatch_log
WHERE action = ?;
`, action).Scan(&st.Total, &st.Success, &st.Error, &st.Ignored, &st.AvgDurationMS, &lastError)
	if err != nil {
		return nil, fmt.Errorf("stats for %s: %w", action, err)
	}
	if lastError.Valid {
		ts, err := time.Parse(timeLayout, lastError.String)
		if err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", lastError.String, err)
		}
		st.LastError = &ts
	}
	return &st, nil
}

// Prune deletes entries older than retention and returns how many went.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention).UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM dispatch_log WHERE created_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune dispatch log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune dispatch log: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e         Entry
		target    sql.NullString
		message   sql.NullString
		source    sql.NullString
		createdAt string
	)
	if err := row.Scan(&e.ID, &e.Action, &target, &e.Status, &message, &source, &e.DurationMS, &createdAt); err != nil {
		return nil, err
	}
	if target.Valid {
		t := target.String
		e.Target = &t
	}
	e.Message = message.String
	e.Source = source.String

	ts, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	e.CreatedAt = ts
	return &e, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
