// Package transcript builds the running, role-partitioned transcript of a
// voice session from the incremental text deltas the remote model streams
// for both directions of speech.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Role identifies who spoke a turn.
type Role string

const (
	// RoleUser marks transcribed microphone input.
	RoleUser Role = "user"

	// RoleModel marks transcribed model speech.
	RoleModel Role = "model"
)

// Turn is one entry of the transcript log.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`

	// StartedAt is when the first fragment of the turn arrived.
	StartedAt time.Time `json:"started_at"`

	// Open reports whether later fragments of the same role still extend
	// this entry.
	Open bool `json:"open"`
}

type entry struct {
	role    Role
	text    strings.Builder
	started time.Time
	open    bool
}

// Accumulator merges transcript fragments into an ordered log of turns.
//
// Consecutive fragments of the same role coalesce into one growing entry
// while that entry is open. A fragment of the other role opens a new entry,
// and [Accumulator.CommitTurn] closes every open entry. Entries are never
// removed, so the log length only grows.
//
// All methods are safe for concurrent use.
type Accumulator struct {
	mu      sync.Mutex
	entries []*entry
	pending map[Role]*strings.Builder
	now     func() time.Time
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		pending: make(map[Role]*strings.Builder),
		now:     time.Now,
	}
}

// AppendFragment adds text spoken by role. It extends the most recent entry
// if that entry is open and has the same role; otherwise it starts a new
// entry. Empty fragments are ignored.
func (a *Accumulator) AppendFragment(role Role, text string) {
	if text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	buf, ok := a.pending[role]
	if !ok {
		buf = &strings.Builder{}
		a.pending[role] = buf
	}
	buf.WriteString(text)

	if n := len(a.entries); n > 0 {
		last := a.entries[n-1]
		if last.open && last.role == role {
			last.text.WriteString(text)
			return
		}
		if last.open {
			last.open = false
		}
	}

	e := &entry{role: role, started: a.now(), open: true}
	e.text.WriteString(text)
	a.entries = append(a.entries, e)
}

// CommitTurn closes every open entry and clears the pending buffers. Later
// fragments start new entries even if their role matches the last one.
func (a *Accumulator) CommitTurn() {
	a.mu.Lock()
	defer a.mu.Unlock()

	clear(a.pending)

	for i := len(a.entries) - 1; i >= 0 && a.entries[i].open; i-- {
		a.entries[i].open = false
	}
}

// Snapshot returns a copy of the log in chronological order, including any
// open, uncommitted entry.
func (a *Accumulator) Snapshot() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Turn, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.turn()
	}
	return out
}

// Latest returns the most recent entry for role, open or not.
func (a *Accumulator) Latest(role Role) (Turn, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].role == role {
			return a.entries[i].turn(), true
		}
	}
	return Turn{}, false
}

// Pending returns the text role has produced since the last commit, across
// every entry it spans.
func (a *Accumulator) Pending(role Role) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if buf, ok := a.pending[role]; ok {
		return buf.String()
	}
	return ""
}

// Len returns the number of log entries.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func (e *entry) turn() Turn {
	return Turn{
		Role:      e.role,
		Text:      e.text.String(),
		StartedAt: e.started,
		Open:      e.open,
	}
}
