package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/superslash/slashvoice/internal/transcript"
	"github.com/superslash/slashvoice/pkg/memory"
)

// MemoryGuard wraps a [memory.SessionStore] and makes all operations
// non-fatal. If the underlying store fails, operations return defaults
// and log warnings instead of propagating errors.
//
// A voice session must close cleanly even when the transcript archive is
// unavailable. IsDegraded reports whether the most recent store operation
// failed; the readiness probe surfaces it.
//
// MemoryGuard implements [memory.SessionStore].
//
// All methods are safe for concurrent use.
type MemoryGuard struct {
	store    memory.SessionStore
	degraded atomic.Bool
}

// NewMemoryGuard creates a new [MemoryGuard] wrapping the given store.
func NewMemoryGuard(store memory.SessionStore) *MemoryGuard {
	return &MemoryGuard{store: store}
}

// Archive converts a final transcript snapshot into archive entries and
// writes them under sessionID. Turns that were still open when the session
// closed are stored as partial. An empty transcript is not written.
func (mg *MemoryGuard) Archive(ctx context.Context, sessionID string, turns []transcript.Turn) {
	if len(turns) == 0 {
		return
	}
	entries := make([]memory.TranscriptEntry, len(turns))
	for i, t := range turns {
		entries[i] = memory.TranscriptEntry{
			Seq:       i,
			Role:      string(t.Role),
			Text:      t.Text,
			Partial:   t.Open,
			Timestamp: t.StartedAt,
		}
	}
	_ = mg.WriteEntries(ctx, sessionID, entries)
}

// WriteEntries attempts to write entries to the underlying store. On failure
// the error is logged and swallowed; the store is marked as degraded.
// On success the degraded flag is cleared.
func (mg *MemoryGuard) WriteEntries(ctx context.Context, sessionID string, entries []memory.TranscriptEntry) error {
	err := mg.store.WriteEntries(ctx, sessionID, entries)
	if err != nil {
		mg.degraded.Store(true)
		slog.Warn("memory guard: WriteEntries failed, swallowing error",
			"session_id", sessionID,
			"entries", len(entries),
			"err", err,
		)
		return nil
	}
	mg.degraded.Store(false)
	return nil
}

// GetSession reads an archived session. On failure an empty slice is
// returned and the store is marked as degraded.
func (mg *MemoryGuard) GetSession(ctx context.Context, sessionID string) ([]memory.TranscriptEntry, error) {
	entries, err := mg.store.GetSession(ctx, sessionID)
	if err != nil {
		mg.degraded.Store(true)
		slog.Warn("memory guard: GetSession failed, returning empty",
			"session_id", sessionID,
			"err", err,
		)
		return []memory.TranscriptEntry{}, nil
	}
	mg.degraded.Store(false)
	return entries, nil
}

// GetRecent attempts to read recent entries from the underlying store.
// On failure an empty slice is returned and the store is marked as degraded.
func (mg *MemoryGuard) GetRecent(ctx context.Context, sessionID string, duration time.Duration) ([]memory.TranscriptEntry, error) {
	entries, err := mg.store.GetRecent(ctx, sessionID, duration)
	if err != nil {
		mg.degraded.Store(true)
		slog.Warn("memory guard: GetRecent failed, returning empty",
			"session_id", sessionID,
			"duration", duration,
			"err", err,
		)
		return []memory.TranscriptEntry{}, nil
	}
	mg.degraded.Store(false)
	return entries, nil
}

// Search attempts a keyword search over stored entries. On failure an empty
// slice is returned and the store is marked as degraded.
func (mg *MemoryGuard) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.TranscriptEntry, error) {
	entries, err := mg.store.Search(ctx, query, opts)
	if err != nil {
		mg.degraded.Store(true)
		slog.Warn("memory guard: Search failed, returning empty",
			"query", query,
			"err", err,
		)
		return []memory.TranscriptEntry{}, nil
	}
	mg.degraded.Store(false)
	return entries, nil
}

// EntryCount delegates to the underlying store. On failure the error is
// logged and 0 is returned; the store is marked as degraded.
func (mg *MemoryGuard) EntryCount(ctx context.Context, sessionID string) (int, error) {
	n, err := mg.store.EntryCount(ctx, sessionID)
	if err != nil {
		mg.degraded.Store(true)
		slog.Warn("memory guard: EntryCount failed, returning 0", "session_id", sessionID, "err", err)
		return 0, nil
	}
	mg.degraded.Store(false)
	return n, nil
}

// IsDegraded reports whether the store is currently operating in degraded
// mode (i.e., the most recent operation on the underlying store failed).
func (mg *MemoryGuard) IsDegraded() bool {
	return mg.degraded.Load()
}

// Compile-time check that MemoryGuard satisfies memory.SessionStore.
var _ memory.SessionStore = (*MemoryGuard)(nil)
