// CLAUDE:SUMMARY SQLite log of validation outcomes per row; doubles as an event sink so the watch loop can persist results.
// Package history persists validation outcomes in SQLite.
//
// A Store is a sink.Sink: wired behind a sink.Router it records every
// ready and error state emitted by the rows of a page.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/releasedeploy/idgen"
	"github.com/hazyhaar/releasedeploy/sink"
	"github.com/hazyhaar/releasedeploy/validation"
)

// Schema is the DDL applied by Open.
const Schema = `
CREATE TABLE IF NOT EXISTS validation_events (
    event_id    TEXT PRIMARY KEY,
    row_id      TEXT NOT NULL,
    url         TEXT NOT NULL,
    status      TEXT NOT NULL,
    size        INTEGER,
    exists_flag INTEGER,
    message     TEXT,
    code        TEXT,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_validation_events_created
    ON validation_events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_validation_events_url
    ON validation_events(url, created_at DESC);
`

// Entry is one recorded outcome.
type Entry struct {
	EventID   string            `json:"event_id"`
	Row       string            `json:"row"`
	URL       string            `json:"url"`
	Status    validation.Status `json:"status"`
	Size      int64             `json:"size,omitempty"`
	Exists    bool              `json:"exists,omitempty"`
	Message   string            `json:"message,omitempty"`
	Code      string            `json:"code,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithIDGenerator sets the event id generator. Default: vev_-prefixed UUIDv7.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Store) { s.newID = gen }
}

// Store records validation outcomes.
type Store struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the history database at path. Use ":memory:"
// for a throwaway store.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	s, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already open database and applies the schema.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:     db,
		newID:  idgen.Prefixed(idgen.EventPrefix, idgen.UUIDv7()),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("history: schema: %w", err)
	}
	return s, nil
}

// Record stores one terminal state and returns its event id. Idle and
// testing states are rejected.
func (s *Store) Record(ctx context.Context, row string, st validation.State) (string, error) {
	var (
		size    sql.NullInt64
		exists  sql.NullBool
		message sql.NullString
		code    sql.NullString
	)
	switch st.Status {
	case validation.StatusReady:
		if st.Result == nil {
			return "", fmt.Errorf("history: ready state without result")
		}
		size = sql.NullInt64{Int64: st.Result.Size, Valid: true}
		exists = sql.NullBool{Bool: st.Result.Exists, Valid: true}
	case validation.StatusError:
		if st.Err == nil {
			return "", fmt.Errorf("history: error state without error")
		}
		message = sql.NullString{String: st.Err.Message, Valid: true}
		code = sql.NullString{String: st.Err.Code, Valid: st.Err.Code != ""}
	default:
		return "", fmt.Errorf("history: cannot record %s state", st.Status)
	}

	id := s.newID()
	_, err := execRetry(ctx, s.db,
		`INSERT INTO validation_events
		 (event_id, row_id, url, status, size, exists_flag, message, code, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, row, st.URL, string(st.Status), size, exists, message, code, s.now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("history: record: %w", err)
	}
	return id, nil
}

// Send implements sink.Sink. Only ready and error state events are stored.
func (s *Store) Send(ctx context.Context, ev sink.Event) error {
	if ev.Kind != sink.KindState {
		return nil
	}
	if ev.State.Status != validation.StatusReady && ev.State.Status != validation.StatusError {
		return nil
	}
	_, err := s.Record(ctx, ev.Row, ev.State)
	return err
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.query(ctx,
		`SELECT event_id, row_id, url, status, size, exists_flag, message, code, created_at
		 FROM validation_events ORDER BY created_at DESC, event_id DESC LIMIT ?`, limit)
}

// ForURL returns up to limit entries for one file URL, newest first.
func (s *Store) ForURL(ctx context.Context, url string, limit int) ([]Entry, error) {
	return s.query(ctx,
		`SELECT event_id, row_id, url, status, size, exists_flag, message, code, created_at
		 FROM validation_events WHERE url = ? ORDER BY created_at DESC, event_id DESC LIMIT ?`, url, limit)
}

// Cleanup deletes entries older than olderThan and returns how many were
// removed.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	res, err := execRetry(ctx, s.db, `DELETE FROM validation_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("history: cleanup", "deleted", n, "older_than", olderThan)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			status  string
			size    sql.NullInt64
			exists  sql.NullBool
			message sql.NullString
			code    sql.NullString
			created int64
		)
		if err := rows.Scan(&e.EventID, &e.Row, &e.URL, &status, &size, &exists, &message, &code, &created); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.Status = validation.Status(status)
		e.Size = size.Int64
		e.Exists = exists.Bool
		e.Message = message.String
		e.Code = code.String
		e.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
