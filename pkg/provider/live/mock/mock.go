// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to script the server side of a conversation: push events with
// [Session.Emit], end the session with [Session.Finish], and inspect the audio
// the client sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(live.Event{Type: live.EventOpen})
package mock

import (
	"context"
	"sync"

	"github.com/superslash/slashvoice/pkg/audio"
	"github.com/superslash/slashvoice/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a fresh
	// [NewSession].
	Session live.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// Session is a mock implementation of live.Session.
type Session struct {
	mu sync.Mutex

	// SendErr, if non-nil, is returned by SendAudio.
	SendErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	events   chan live.Event
	sent     []audio.Blob
	sentCh   chan struct{}
	err      error
	finished bool
	closed   int
}

// NewSession returns a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{
		events: make(chan live.Event, 64),
		sentCh: make(chan struct{}, 1),
	}
}

// Emit pushes ev to the consumer. It is a no-op once the session has
// finished or been closed.
func (s *Session) Emit(ev live.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.events <- ev
}

// Finish ends the session from the server side with err (nil for a clean
// close) and closes the event channel.
func (s *Session) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.err = err
	close(s.events)
}

// SendAudio records blob. Returns SendErr, or live.ErrSessionClosed after
// the session has ended.
func (s *Session) SendAudio(_ context.Context, blob audio.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return live.ErrSessionClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, blob)
	select {
	case s.sentCh <- struct{}{}:
	default:
	}
	return nil
}

// Events implements live.Session.
func (s *Session) Events() <-chan live.Event { return s.events }

// Err implements live.Session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call, finishes the session cleanly, and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed++
	err := s.CloseErr
	s.mu.Unlock()
	s.Finish(nil)
	return err
}

// Sent returns a copy of every blob passed to SendAudio.
func (s *Session) Sent() []audio.Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Blob, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentSignal returns a channel that receives a value after SendAudio records
// a blob. Signals coalesce.
func (s *Session) SentSignal() <-chan struct{} { return s.sentCh }

// CloseCount returns how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Ensure Session implements live.Session at compile time.
var _ live.Session = (*Session)(nil)
