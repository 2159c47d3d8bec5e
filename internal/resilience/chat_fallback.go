package resilience

import (
	"context"
	"errors"

	"github.com/superslash/slashvoice/internal/observe"
	"github.com/superslash/slashvoice/pkg/provider/chat"
)

// ChatFallback implements [chat.Provider] with automatic failover across
// several chat backends. Each backend has its own circuit breaker.
//
// Every attempt is counted in slashvoice.provider.requests with kind "chat",
// "analyze_image" or "transcribe".
type ChatFallback struct {
	group   *FallbackGroup[chat.Provider]
	metrics *observe.Metrics
}

var _ chat.Provider = (*ChatFallback)(nil)

// ChatOption configures a [ChatFallback].
type ChatOption func(*ChatFallback)

// WithChatMetrics sets the instruments attempts are recorded on. Defaults to
// [observe.DefaultMetrics].
func WithChatMetrics(m *observe.Metrics) ChatOption {
	return func(f *ChatFallback) {
		if m != nil {
			f.metrics = m
		}
	}
}

// NewChatFallback creates a [ChatFallback] with primary as the preferred backend.
func NewChatFallback(primary chat.Provider, primaryName string, cfg FallbackConfig, opts ...ChatOption) *ChatFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = chatFailure
	}
	f := &ChatFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// AddFallback registers an additional chat provider as a fallback.
func (f *ChatFallback) AddFallback(name string, provider chat.Provider) {
	f.group.AddFallback(name, provider)
}

// Available reports whether any backend's breaker is not open.
func (f *ChatFallback) Available() bool { return f.group.Available() }

// StreamChat starts the stream on the first healthy backend. Only opening the
// stream participates in failover; errors after the first chunk reach the
// caller as a final [chat.Chunk].
func (f *ChatFallback) StreamChat(ctx context.Context, history []chat.Message, message string, attachments []chat.Attachment) (<-chan chat.Chunk, error) {
	return ExecuteWithResult(ctx, f.group, func(name string, p chat.Provider) (<-chan chat.Chunk, error) {
		ch, err := p.StreamChat(ctx, history, message, attachments)
		f.record(ctx, name, "chat", err)
		return ch, err
	})
}

// AnalyzeImage asks the first healthy backend about image.
func (f *ChatFallback) AnalyzeImage(ctx context.Context, image chat.Attachment, prompt string) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(name string, p chat.Provider) (string, error) {
		text, err := p.AnalyzeImage(ctx, image, prompt)
		f.record(ctx, name, "analyze_image", err)
		return text, err
	})
}

// TranscribeAudio transcribes audio on the first healthy backend. Backends
// that return [chat.ErrUnsupported] are skipped without counting against
// their breaker.
func (f *ChatFallback) TranscribeAudio(ctx context.Context, audio chat.Attachment) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(name string, p chat.Provider) (string, error) {
		text, err := p.TranscribeAudio(ctx, audio)
		f.record(ctx, name, "transcribe", err)
		return text, err
	})
}

func chatFailure(err error) bool {
	return countsAsFailure(err) && !errors.Is(err, chat.ErrUnsupported)
}

func (f *ChatFallback) record(ctx context.Context, provider, kind string, err error) {
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = "canceled"
	default:
		status = "error"
		f.metrics.RecordProviderError(ctx, provider, kind)
	}
	f.metrics.RecordProviderRequest(ctx, provider, kind, status)
}
