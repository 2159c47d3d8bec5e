// Package mock provides a test double for the chat.Provider interface.
//
// Zero values for response fields cause methods to return zero values and
// nil errors. Set Err fields to inject errors. All methods are safe for
// concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/superslash/slashvoice/pkg/provider/chat"
)

// StreamCall records a single invocation of StreamChat.
type StreamCall struct {
	History     []chat.Message
	Message     string
	Attachments []chat.Attachment
}

// AnalyzeCall records a single invocation of AnalyzeImage.
type AnalyzeCall struct {
	Image  chat.Attachment
	Prompt string
}

// Provider is a mock implementation of chat.Provider.
type Provider struct {
	mu sync.Mutex

	// StreamChunks are emitted in order on the channel returned by
	// StreamChat before it is closed.
	StreamChunks []chat.Chunk

	// StreamErr, if non-nil, is returned from StreamChat instead of a channel.
	StreamErr error

	// AnalyzeResult and AnalyzeErr are returned by AnalyzeImage.
	AnalyzeResult string
	AnalyzeErr    error

	// TranscribeResult and TranscribeErr are returned by TranscribeAudio.
	TranscribeResult string
	TranscribeErr    error

	// StreamCalls records every invocation of StreamChat in order.
	StreamCalls []StreamCall

	// AnalyzeCalls records every invocation of AnalyzeImage in order.
	AnalyzeCalls []AnalyzeCall

	// TranscribeCalls records the audio passed to each TranscribeAudio call.
	TranscribeCalls []chat.Attachment
}

// StreamChat implements chat.Provider.
func (p *Provider) StreamChat(_ context.Context, history []chat.Message, message string, attachments []chat.Attachment) (<-chan chat.Chunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{
		History:     append([]chat.Message(nil), history...),
		Message:     message,
		Attachments: attachments,
	})
	if p.StreamErr != nil {
		return nil, p.StreamErr
	}
	ch := make(chan chat.Chunk, len(p.StreamChunks))
	for _, c := range p.StreamChunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

// AnalyzeImage implements chat.Provider.
func (p *Provider) AnalyzeImage(_ context.Context, image chat.Attachment, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AnalyzeCalls = append(p.AnalyzeCalls, AnalyzeCall{Image: image, Prompt: prompt})
	return p.AnalyzeResult, p.AnalyzeErr
}

// TranscribeAudio implements chat.Provider.
func (p *Provider) TranscribeAudio(_ context.Context, audio chat.Attachment) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = append(p.TranscribeCalls, audio)
	return p.TranscribeResult, p.TranscribeErr
}

// CallCount returns the total number of calls across all methods.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls) + len(p.AnalyzeCalls) + len(p.TranscribeCalls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.AnalyzeCalls = nil
	p.TranscribeCalls = nil
}

var _ chat.Provider = (*Provider)(nil)
