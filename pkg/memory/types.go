package memory

import "time"

// TranscriptEntry is one archived turn of a voice session.
type TranscriptEntry struct {
	// SessionID is filled in on reads; it is ignored by writes, which take
	// the session as a separate argument.
	SessionID string `json:"session_id,omitempty"`

	// Seq is the turn's position within its session, starting at 0.
	Seq int `json:"seq"`

	// Role is "user" for transcribed microphone input and "model" for
	// transcribed model speech.
	Role string `json:"role"`

	// Text is the accumulated turn text.
	Text string `json:"text"`

	// Partial reports that the session ended before the turn was committed.
	Partial bool `json:"partial"`

	// Timestamp is when the first fragment of the turn arrived.
	Timestamp time.Time `json:"timestamp"`
}
