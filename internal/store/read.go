package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/homevent/internal/ir"
)

// EventFilter narrows ReadEvents. Zero fields match everything.
type EventFilter struct {
	Run     string
	Session string
	// Prefix keeps events whose name starts with these atoms.
	Prefix ir.Name
	Limit  int
}

// Run is one engine run recorded in the journal.
type Run struct {
	ID        string `json:"id"`
	StartedAt string `json:"started_at"`
	Events    int    `json:"events"`
	Failures  int    `json:"failures"`
}

// ReadEvents returns journalled events ordered by seq, then event id.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReadEvents(ctx context.Context, f EventFilter) ([]EventRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Run != "" {
		where = append(where, "run = ?")
		args = append(args, f.Run)
	}
	if f.Session != "" {
		where = append(where, "session = ?")
		args = append(args, f.Session)
	}

	query := `
		SELECT seq, run, event_id, name, chain, session, filename, level
		FROM events`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY seq ASC, event_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	records := []EventRecord{}
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		// prefix matching needs decoded atoms, so it happens here
		if !f.Prefix.IsEmpty() && !rec.Name.HasPrefix(f.Prefix) {
			continue
		}
		records = append(records, rec)
		if f.Limit > 0 && len(records) == f.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

func scanEvent(rows *sql.Rows) (EventRecord, error) {
	var (
		rec      EventRecord
		nameJSON string
		level    string
	)
	if err := rows.Scan(&rec.Seq, &rec.Run, &rec.EventID, &nameJSON, &rec.Chain,
		&rec.Session, &rec.Filename, &level); err != nil {
		return EventRecord{}, fmt.Errorf("scan event: %w", err)
	}
	name, err := unmarshalName(nameJSON)
	if err != nil {
		return EventRecord{}, fmt.Errorf("event %d: %w", rec.Seq, err)
	}
	rec.Name = name
	lv, err := ir.ParseLevel(level)
	if err != nil {
		return EventRecord{}, fmt.Errorf("event %d: %w", rec.Seq, err)
	}
	rec.Level = lv
	return rec, nil
}

// ReadFailures returns the failures of run (all runs if empty) in the
// order they were reported.
func (s *Store) ReadFailures(ctx context.Context, run string) ([]FailureRecord, error) {
	query := `
		SELECT seq, run, kind, source, event_id, message
		FROM failures`
	var args []any
	if run != "" {
		query += "\n\t\tWHERE run = ?"
		args = append(args, run)
	}
	query += "\n\t\tORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	records := []FailureRecord{}
	for rows.Next() {
		var rec FailureRecord
		if err := rows.Scan(&rec.Seq, &rec.Run, &rec.Kind, &rec.Source, &rec.EventID, &rec.Message); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return records, nil
}

// ReadRuns lists the recorded runs, oldest first, with their row counts.
func (s *Store) ReadRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.started_at,
			(SELECT COUNT(*) FROM events e WHERE e.run = r.id),
			(SELECT COUNT(*) FROM failures f WHERE f.run = r.id)
		FROM runs r
		ORDER BY r.started_at ASC, r.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.Events, &r.Failures); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LastRun returns the most recently started run, or "" for an empty journal.
func (s *Store) LastRun(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT 1
	`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query last run: %w", err)
	}
	return id, nil
}
