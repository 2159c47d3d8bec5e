// Package chat defines the Provider interface for the text side of the
// assistant: streamed chat replies, image analysis and one-shot speech
// transcription.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamChat must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package chat

import (
	"context"
	"errors"
	"strings"
)

// ErrUnsupported is returned by providers that do not implement an
// operation.
var ErrUnsupported = errors.New("chat: operation not supported")

// DefaultSystemPrompt is the persona used for text chat.
const DefaultSystemPrompt = "You are Super Slash AI, a helpful and efficient assistant. " +
	"Your tone is professional yet friendly. You are concise and accurate."

// TranscriptionPrompt instructs a multimodal model to transcribe audio
// verbatim.
const TranscriptionPrompt = "Transcribe this audio to text. " +
	"Output only the transcribed text, without any additional explanation."

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one entry of the chat history.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Attachment is binary media sent alongside a prompt.
type Attachment struct {
	// MIMEType is e.g. "image/png" or "audio/webm".
	MIMEType string `json:"mime_type"`

	// Data holds the raw bytes. JSON encodes it as base64.
	Data []byte `json:"data"`
}

// Chunk is an incremental piece of a streamed reply. A chunk with a non-nil
// Err is always the last one on the channel.
type Chunk struct {
	Text string
	Err  error
}

// Provider is the abstraction over any chat backend.
type Provider interface {
	// StreamChat sends history followed by message (with optional
	// attachments) and returns a channel of reply chunks. The channel is
	// never nil when error is nil. Failures after the stream has started are
	// delivered as a final Chunk with Err set.
	StreamChat(ctx context.Context, history []Message, message string, attachments []Attachment) (<-chan Chunk, error)

	// AnalyzeImage answers prompt about image.
	AnalyzeImage(ctx context.Context, image Attachment, prompt string) (string, error)

	// TranscribeAudio returns the text spoken in audio.
	TranscribeAudio(ctx context.Context, audio Attachment) (string, error)
}

// Collect drains ch and returns the concatenated reply, or the first
// stream error.
func Collect(ctx context.Context, ch <-chan Chunk) (string, error) {
	var sb strings.Builder
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return sb.String(), nil
			}
			if c.Err != nil {
				return sb.String(), c.Err
			}
			sb.WriteString(c.Text)
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		}
	}
}
