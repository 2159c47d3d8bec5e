package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/superslash/slashvoice/pkg/memory"
)

const selectEntries = "SELECT session_id, seq, role, text, partial, timestamp\nFROM   session_entries\n"

// WriteEntries implements [memory.SessionStore]. The entries are sent as a
// single batch inside one transaction.
func (s *Store) WriteEntries(ctx context.Context, sessionID string, entries []memory.TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}

	const q = `
		INSERT INTO session_entries
		    (session_id, seq, role, text, partial, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range entries {
			ts := e.Timestamp
			if ts.IsZero() {
				ts = time.Now()
			}
			batch.Queue(q, sessionID, e.Seq, e.Role, e.Text, e.Partial, ts)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("session store: write entries: %w", err)
	}
	return nil
}

// GetSession implements [memory.SessionStore].
func (s *Store) GetSession(ctx context.Context, sessionID string) ([]memory.TranscriptEntry, error) {
	q := selectEntries + "WHERE  session_id = $1\nORDER  BY seq"

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session store: get session: %w", err)
	}
	return collectEntries(rows)
}

// GetRecent implements [memory.SessionStore]. It returns all entries for
// sessionID whose timestamp is no earlier than now()-duration, ordered
// chronologically.
func (s *Store) GetRecent(ctx context.Context, sessionID string, duration time.Duration) ([]memory.TranscriptEntry, error) {
	q := selectEntries + `WHERE  session_id = $1
  AND  timestamp  >= now() - ($2::bigint * interval '1 microsecond')
ORDER  BY timestamp, seq`

	rows, err := s.pool.Query(ctx, q, sessionID, duration.Microseconds())
	if err != nil {
		return nil, fmt.Errorf("session store: get recent: %w", err)
	}
	return collectEntries(rows)
}

// Search implements [memory.SessionStore]. It performs a PostgreSQL full-text
// search over the text column and applies optional filters from opts.
//
// The query is passed to plainto_tsquery so no special operator syntax is required.
func (s *Store) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.TranscriptEntry, error) {
	args := []any{query} // $1 = FTS query string
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', text) @@ plainto_tsquery('english', $1)",
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "timestamp > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "timestamp < "+next(opts.Before))
	}
	if opts.Role != "" {
		conditions = append(conditions, "role = "+next(opts.Role))
	}

	q := selectEntries +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY timestamp, seq"

	if opts.Limit > 0 {
		q += "\nLIMIT " + next(opts.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("session store: search: %w", err)
	}
	return collectEntries(rows)
}

// EntryCount implements [memory.SessionStore].
func (s *Store) EntryCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		"SELECT count(*) FROM session_entries WHERE session_id = $1", sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("session store: entry count: %w", err)
	}
	return n, nil
}

// collectEntries scans pgx rows into a slice of TranscriptEntry values.
func collectEntries(rows pgx.Rows) ([]memory.TranscriptEntry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.TranscriptEntry, error) {
		var e memory.TranscriptEntry
		if err := row.Scan(
			&e.SessionID,
			&e.Seq,
			&e.Role,
			&e.Text,
			&e.Partial,
			&e.Timestamp,
		); err != nil {
			return memory.TranscriptEntry{}, err
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("session store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []memory.TranscriptEntry{}
	}
	return entries, nil
}
