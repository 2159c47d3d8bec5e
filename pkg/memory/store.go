// Package memory defines the transcript archive: a durable, time-ordered log
// of every closed voice session's turns.
//
// The interface is public so that alternative storage backends can be
// supplied without depending on slashvoice internals. The PostgreSQL
// implementation lives in the postgres sub-package.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// SearchOpts configures a full-text search over archived entries. All
// non-zero fields are applied as AND conditions.
type SearchOpts struct {
	// SessionID restricts the search to a single session.
	// An empty string searches across all sessions.
	SessionID string

	// After filters entries recorded after this instant (exclusive).
	// A zero Time disables the lower bound.
	After time.Time

	// Before filters entries recorded before this instant (exclusive).
	// A zero Time disables the upper bound.
	Before time.Time

	// Role restricts results to one speaker role.
	// An empty string matches both.
	Role string

	// Limit caps the number of results returned.
	// A value of 0 means the implementation may apply its own default.
	Limit int
}

// SessionStore archives session transcripts.
type SessionStore interface {
	// WriteEntries appends entries to the archive under sessionID. The write
	// is atomic: either every entry is stored or none is.
	WriteEntries(ctx context.Context, sessionID string, entries []TranscriptEntry) error

	// GetSession returns every entry of sessionID ordered by Seq. An unknown
	// session yields an empty slice, not an error.
	GetSession(ctx context.Context, sessionID string) ([]TranscriptEntry, error)

	// GetRecent returns the entries of sessionID whose timestamp falls within
	// the last duration, oldest first.
	GetRecent(ctx context.Context, sessionID string, duration time.Duration) ([]TranscriptEntry, error)

	// Search performs a full-text search over entry text, filtered by opts.
	Search(ctx context.Context, query string, opts SearchOpts) ([]TranscriptEntry, error)

	// EntryCount returns the number of entries stored for sessionID.
	EntryCount(ctx context.Context, sessionID string) (int, error)
}
