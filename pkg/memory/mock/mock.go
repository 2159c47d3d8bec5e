// Package mock provides an in-memory test double for [memory.SessionStore].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. Entries passed to
// WriteEntries are kept, so GetSession and EntryCount reflect earlier writes.
// It is safe for concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.SessionStore{}
//	store.SearchResult = []memory.TranscriptEntry{{Text: "hello"}}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("WriteEntries"); got != 1 {
//	    t.Errorf("expected 1 WriteEntries call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/superslash/slashvoice/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// SessionStore is a configurable test double for [memory.SessionStore].
// All exported *Err fields default to nil (success).
type SessionStore struct {
	mu sync.Mutex

	calls    []Call
	sessions map[string][]memory.TranscriptEntry

	// WriteErr is returned by [SessionStore.WriteEntries] when non-nil. The
	// entries are not stored in that case.
	WriteErr error

	// GetSessionErr is returned by [SessionStore.GetSession] when non-nil.
	GetSessionErr error

	// GetRecentResult is returned by [SessionStore.GetRecent].
	// When nil, GetRecent returns an empty non-nil slice.
	GetRecentResult []memory.TranscriptEntry

	// GetRecentErr is returned by [SessionStore.GetRecent] when non-nil.
	GetRecentErr error

	// SearchResult is returned by [SessionStore.Search].
	// When nil, Search returns an empty non-nil slice.
	SearchResult []memory.TranscriptEntry

	// SearchErr is returned by [SessionStore.Search] when non-nil.
	SearchErr error

	// EntryCountErr is returned by [SessionStore.EntryCount] when non-nil.
	EntryCountErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *SessionStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *SessionStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls and stored entries without altering
// response configuration.
func (m *SessionStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.sessions = nil
}

// WriteEntries implements [memory.SessionStore].
func (m *SessionStore) WriteEntries(_ context.Context, sessionID string, entries []memory.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "WriteEntries", Args: []any{sessionID, entries}})
	if m.WriteErr != nil {
		return m.WriteErr
	}
	if m.sessions == nil {
		m.sessions = make(map[string][]memory.TranscriptEntry)
	}
	for _, e := range entries {
		e.SessionID = sessionID
		m.sessions[sessionID] = append(m.sessions[sessionID], e)
	}
	return nil
}

// GetSession implements [memory.SessionStore].
func (m *SessionStore) GetSession(_ context.Context, sessionID string) ([]memory.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "GetSession", Args: []any{sessionID}})
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	out := make([]memory.TranscriptEntry, len(m.sessions[sessionID]))
	copy(out, m.sessions[sessionID])
	return out, nil
}

// GetRecent implements [memory.SessionStore].
func (m *SessionStore) GetRecent(_ context.Context, sessionID string, duration time.Duration) ([]memory.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "GetRecent", Args: []any{sessionID, duration}})
	if m.GetRecentResult == nil {
		return []memory.TranscriptEntry{}, m.GetRecentErr
	}
	out := make([]memory.TranscriptEntry, len(m.GetRecentResult))
	copy(out, m.GetRecentResult)
	return out, m.GetRecentErr
}

// Search implements [memory.SessionStore].
func (m *SessionStore) Search(_ context.Context, query string, opts memory.SearchOpts) ([]memory.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Search", Args: []any{query, opts}})
	if m.SearchResult == nil {
		return []memory.TranscriptEntry{}, m.SearchErr
	}
	out := make([]memory.TranscriptEntry, len(m.SearchResult))
	copy(out, m.SearchResult)
	return out, m.SearchErr
}

// EntryCount implements [memory.SessionStore].
func (m *SessionStore) EntryCount(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "EntryCount", Args: []any{sessionID}})
	if m.EntryCountErr != nil {
		return 0, m.EntryCountErr
	}
	return len(m.sessions[sessionID]), nil
}

// Ensure SessionStore satisfies the interface at compile time.
var _ memory.SessionStore = (*SessionStore)(nil)
