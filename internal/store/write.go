package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/homevent/internal/ir"
)

// EventRecord is one journalled event.
type EventRecord struct {
	Seq      int64
	Run      string
	EventID  int64
	Name     ir.Name
	Chain    int64
	Session  string
	Filename string
	Level    ir.Level
}

// FailureRecord is one journalled failure.
type FailureRecord struct {
	Seq     int64
	Run     string
	Kind    string
	Source  string
	EventID int64
	Message string
}

// Failure kinds.
const (
	FailureWorker   = "worker"
	FailureChain    = "chain"
	FailureShutdown = "shutdown"
	FailureOther    = "other"
)

// WriteRun registers a run id. Uses ON CONFLICT(id) DO NOTHING for
// idempotency; reopening a run keeps its original start time.
func (s *Store) WriteRun(ctx context.Context, run string, started time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at)
		VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, run, started.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// WriteEvent inserts an event record. Returns whether a new row was written;
// a second write of the same (run, event id) is silently ignored.
//
// Note: The run must have been written first (foreign key constraint).
func (s *Store) WriteEvent(ctx context.Context, rec EventRecord) (inserted bool, err error) {
	nameJSON, err := marshalName(rec.Name)
	if err != nil {
		return false, fmt.Errorf("write event: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO events
		(run, event_id, name, words, chain, session, filename, level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run, event_id) DO NOTHING
	`,
		rec.Run,
		rec.EventID,
		nameJSON,
		rec.Name.Words(),
		rec.Chain,
		rec.Session,
		rec.Filename,
		rec.Level.String(),
	)
	if err != nil {
		return false, fmt.Errorf("write event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write event: rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// WriteFailure appends a failure record.
func (s *Store) WriteFailure(ctx context.Context, rec FailureRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failures
		(run, kind, source, event_id, message)
		VALUES (?, ?, ?, ?, ?)
	`,
		rec.Run,
		rec.Kind,
		rec.Source,
		rec.EventID,
		rec.Message,
	)
	if err != nil {
		return fmt.Errorf("write failure: %w", err)
	}
	return nil
}
