package session

import (
	"fmt"

	"github.com/superslash/slashvoice/internal/transcript"
)

// State is the lifecycle phase of a [Controller].
type State int32

const (
	// StateConnecting is the initial state: devices and the remote session
	// are being acquired.
	StateConnecting State = iota

	// StateActive means the remote session is open and audio flows both ways.
	StateActive

	// StateClosing means teardown is in progress. New events are dropped.
	StateClosing

	// StateClosed is terminal.
	StateClosed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a read-only view of a session for display.
type Status struct {
	State State `json:"state"`

	// Speaking reports whether model audio is scheduled or playing.
	Speaking bool `json:"speaking"`

	// Degraded reports whether an output device failure has been seen.
	Degraded bool `json:"degraded"`

	// Transcript is the live transcript, including the open turn.
	Transcript []transcript.Turn `json:"transcript"`
}

// Result is handed to the closure callback exactly once.
type Result struct {
	// Transcript is the final transcript. It is empty when the session never
	// became active.
	Transcript []transcript.Turn

	// Err is the fatal error that ended the session, or nil for a clean
	// close.
	Err error
}
