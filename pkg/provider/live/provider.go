// Package live defines the Provider interface for realtime bidirectional
// voice backends.
//
// A live provider wraps a hosted model that accepts a continuous stream of
// microphone audio and answers with an interleaved stream of synthesised
// speech chunks, incremental transcripts for both directions, and out-of-band
// turn signals. Everything the server sends arrives on a single ordered
// [Event] channel so that consumers observe signals in exactly the order the
// server produced them.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/superslash/slashvoice/pkg/audio"
)

// ErrSessionClosed is returned by [Session.SendAudio] after the session has
// been closed by either side.
var ErrSessionClosed = errors.New("live: session closed")

// EventType tags the payload carried by an [Event].
type EventType int

const (
	// EventOpen is emitted once, when the server acknowledges the session
	// setup. Audio may be streamed before it, but is only meaningful after.
	EventOpen EventType = iota + 1

	// EventAudio carries one encoded chunk of synthesised speech in
	// [Event.Audio].
	EventAudio

	// EventInputTranscript carries a fragment of the user's transcribed
	// speech in [Event.Text].
	EventInputTranscript

	// EventOutputTranscript carries a fragment of the model's transcribed
	// speech in [Event.Text].
	EventOutputTranscript

	// EventTurnComplete marks the end of a model turn.
	EventTurnComplete

	// EventInterrupted reports that the user started talking over the model.
	// Any audio already handed to the consumer should stop immediately.
	EventInterrupted

	// EventError reports a server-side failure in [Event.Err]. The session is
	// unusable afterwards.
	EventError
)

// String returns the lower-case name of the event type.
func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventAudio:
		return "audio"
	case EventInputTranscript:
		return "input_transcript"
	case EventOutputTranscript:
		return "output_transcript"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is one server-originated signal.
type Event struct {
	Type EventType

	// Audio is set for [EventAudio]. The payload is still encoded; decoding
	// is the consumer's job.
	Audio audio.Blob

	// Text is set for the transcript events.
	Text string

	// Err is set for [EventError].
	Err error
}

// APIError is a structured error reported by the remote service.
type APIError struct {
	Code    int
	Status  string
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Status != "" {
		return fmt.Sprintf("live: %s (%d %s)", msg, e.Code, e.Status)
	}
	return fmt.Sprintf("live: %s (%d)", msg, e.Code)
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Voice names the prebuilt voice used for synthesised speech. Empty
	// selects the provider default.
	Voice string

	// Instructions is the system-level prompt for the model.
	Instructions string

	// Input is the format of the audio passed to [Session.SendAudio].
	Input audio.Format

	// Output is the format the consumer will decode received audio at.
	Output audio.Format

	// InputTranscription enables transcripts of the user's speech.
	InputTranscription bool

	// OutputTranscription enables transcripts of the model's speech.
	OutputTranscription bool
}

// Capabilities describes static properties of a live provider.
type Capabilities struct {
	// Input and Output are the audio formats the provider requires.
	Input  audio.Format
	Output audio.Format

	// MaxSessionDuration is the hard upper bound on session lifetime imposed
	// by the provider. Zero means no documented limit.
	MaxSessionDuration time.Duration

	// Transcription reports whether the provider can emit transcripts.
	Transcription bool

	// Voices lists the prebuilt voice names.
	Voices []string
}

// Session is an open live connection.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// SendAudio pushes one encoded capture window to the model. Audio is
	// sent in call order. Returns [ErrSessionClosed] once the session has
	// ended.
	SendAudio(ctx context.Context, blob audio.Blob) error

	// Events returns the ordered stream of server signals. The channel is
	// closed when the session ends for any reason; call [Session.Err] to
	// learn whether it ended cleanly.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil if it ended
	// cleanly or is still running.
	Err() error

	// Close terminates the session and closes the Events channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider opens live sessions.
type Provider interface {
	// Connect dials the remote service and sends the session setup. The
	// returned Session emits [EventOpen] once the server is ready.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
