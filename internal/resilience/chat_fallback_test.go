package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/superslash/slashvoice/internal/observe"
	"github.com/superslash/slashvoice/pkg/provider/chat"
	chatmock "github.com/superslash/slashvoice/pkg/provider/chat/mock"
)

func newChatFallback(t *testing.T, primary, secondary chat.Provider) (*ChatFallback, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := NewChatFallback(primary, "gemini", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	}, WithChatMetrics(m))
	if secondary != nil {
		f.AddFallback("openai", secondary)
	}
	return f, reader
}

// requestCount sums slashvoice.provider.requests data points matching
// provider and status.
func requestCount(t *testing.T, reader *sdkmetric.ManualReader, provider, status string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "slashvoice.provider.requests" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("provider.requests has type %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				p, _ := dp.Attributes.Value("provider")
				s, _ := dp.Attributes.Value("status")
				if p.AsString() == provider && s.AsString() == status {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestChatFallback_StreamFailover(t *testing.T) {
	t.Parallel()
	primary := &chatmock.Provider{StreamErr: errors.New("503")}
	secondary := &chatmock.Provider{StreamChunks: []chat.Chunk{{Text: "Hel"}, {Text: "lo"}}}
	f, reader := newChatFallback(t, primary, secondary)

	ch, err := f.StreamChat(context.Background(), nil, "hi", nil)
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	got, err := chat.Collect(context.Background(), ch)
	if err != nil || got != "Hello" {
		t.Fatalf("Collect = %q, %v", got, err)
	}
	if len(secondary.StreamCalls) != 1 || secondary.StreamCalls[0].Message != "hi" {
		t.Errorf("secondary calls = %+v", secondary.StreamCalls)
	}

	if n := requestCount(t, reader, "gemini", "error"); n != 1 {
		t.Errorf("gemini error requests = %d, want 1", n)
	}
	if n := requestCount(t, reader, "openai", "ok"); n != 1 {
		t.Errorf("openai ok requests = %d, want 1", n)
	}

	// The primary's breaker is open now; the next call goes straight to the
	// fallback.
	if _, err := f.StreamChat(context.Background(), nil, "again", nil); err != nil {
		t.Fatalf("second StreamChat: %v", err)
	}
	if len(primary.StreamCalls) != 1 {
		t.Errorf("primary called %d times, want 1", len(primary.StreamCalls))
	}
}

func TestChatFallback_AllFail(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	f, _ := newChatFallback(t, &chatmock.Provider{AnalyzeErr: boom}, &chatmock.Provider{AnalyzeErr: boom})

	_, err := f.AnalyzeImage(context.Background(), chat.Attachment{MIMEType: "image/png"}, "what?")
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping boom", err)
	}
	if f.Available() {
		t.Error("every breaker should be open")
	}
}

func TestChatFallback_UnsupportedDoesNotTrip(t *testing.T) {
	t.Parallel()
	primary := &chatmock.Provider{TranscribeErr: fmt.Errorf("x: %w", chat.ErrUnsupported)}
	secondary := &chatmock.Provider{TranscribeResult: "hello"}
	f, _ := newChatFallback(t, primary, secondary)

	for range 3 {
		got, err := f.TranscribeAudio(context.Background(), chat.Attachment{MIMEType: "audio/webm"})
		if err != nil || got != "hello" {
			t.Fatalf("TranscribeAudio = %q, %v", got, err)
		}
	}
	if len(primary.TranscribeCalls) != 3 {
		t.Errorf("primary tried %d times, want 3 (breaker must stay closed)", len(primary.TranscribeCalls))
	}
}
