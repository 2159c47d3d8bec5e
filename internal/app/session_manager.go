package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/superslash/slashvoice/internal/config"
	"github.com/superslash/slashvoice/internal/observe"
	"github.com/superslash/slashvoice/internal/session"
	"github.com/superslash/slashvoice/internal/transcript"
	"github.com/superslash/slashvoice/pkg/audio"
	"github.com/superslash/slashvoice/pkg/provider/live"
)

var (
	// ErrSessionActive is returned by [SessionManager.StartSession] while a
	// previous session has not fully closed.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrNoSession is returned by [SessionManager.CloseSession] when there
	// is nothing to close.
	ErrNoSession = errors.New("app: no session")

	// ErrLiveUnavailable is returned by [SessionManager.StartSession] when
	// no live provider or audio platform is configured.
	ErrLiveUnavailable = errors.New("app: live provider or audio platform not configured")

	// ErrShutdown is returned by [SessionManager.StartSession] after
	// [SessionManager.Shutdown].
	ErrShutdown = errors.New("app: shutting down")
)

// archiveTimeout bounds the transcript write after a session closes.
const archiveTimeout = 10 * time.Second

// SessionStatus is the read-only view returned by [SessionManager.Status].
type SessionStatus struct {
	// ID is empty when no session was ever started.
	ID        string    `json:"id,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`

	session.Status

	// Error holds the fatal error of the most recent session, if any.
	Error string `json:"error,omitempty"`
}

// SessionManager owns the lifecycle of the voice session. At most one
// session exists at a time; a new one may only start after the previous
// one reached Closed.
//
// All methods are safe for concurrent use.
type SessionManager struct {
	platform audio.Platform
	provider live.Provider
	archive  *session.MemoryGuard
	metrics  *observe.Metrics

	mu        sync.Mutex
	cfg       session.Config
	ctrl      *session.Controller
	id        string
	startedAt time.Time
	shutdown  bool
	archiving sync.WaitGroup
}

// SessionManagerOption configures a [SessionManager].
type SessionManagerOption func(*SessionManager)

// WithArchive stores the transcript of every closed session through mg.
func WithArchive(mg *session.MemoryGuard) SessionManagerOption {
	return func(sm *SessionManager) { sm.archive = mg }
}

// WithSessionMetrics overrides the metrics passed to each controller.
func WithSessionMetrics(m *observe.Metrics) SessionManagerOption {
	return func(sm *SessionManager) { sm.metrics = m }
}

// NewSessionManager creates a SessionManager that opens devices on platform
// and connects through provider. Either may be nil, in which case
// StartSession fails with [ErrLiveUnavailable].
func NewSessionManager(platform audio.Platform, provider live.Provider, cfg session.Config, opts ...SessionManagerOption) *SessionManager {
	sm := &SessionManager{
		platform: platform,
		provider: provider,
		cfg:      cfg,
		metrics:  observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(sm)
	}
	return sm
}

// SessionConfigFrom converts the config file's session section into the
// controller settings. Input and output are always mono.
func SessionConfigFrom(sc config.SessionConfig) session.Config {
	return session.Config{
		Live: live.SessionConfig{
			Voice:               sc.Voice,
			Instructions:        sc.Instructions,
			Input:               audio.Format{SampleRate: sc.InputSampleRate, Channels: 1},
			Output:              audio.Format{SampleRate: sc.OutputSampleRate, Channels: 1},
			InputTranscription:  sc.InputTranscription == nil || *sc.InputTranscription,
			OutputTranscription: sc.OutputTranscription == nil || *sc.OutputTranscription,
		},
		CaptureWindow: sc.CaptureWindow,
	}
}

// SetConfig replaces the settings used by the next session. A running
// session keeps the settings it was started with.
func (sm *SessionManager) SetConfig(cfg session.Config) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cfg = cfg
}

// Config returns the settings the next session will use.
func (sm *SessionManager) Config() session.Config {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.cfg
}

// StartSession begins a new session in Connecting and returns its ID without
// waiting for it to become active. ctx carries request-scoped values only;
// its cancellation does not end the session.
func (sm *SessionManager) StartSession(ctx context.Context) (string, error) {
	if sm.platform == nil || sm.provider == nil {
		return "", ErrLiveUnavailable
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return "", ErrShutdown
	}
	if sm.ctrl != nil {
		select {
		case <-sm.ctrl.Done():
		default:
			return "", ErrSessionActive
		}
	}

	id := uuid.NewString()
	ctrl := session.New(sm.platform, sm.provider, sm.cfg,
		session.WithID(id),
		session.WithMetrics(sm.metrics),
	)
	if err := ctrl.Start(observe.WithSessionID(context.WithoutCancel(ctx), id)); err != nil {
		return "", fmt.Errorf("app: start session: %w", err)
	}

	sm.ctrl = ctrl
	sm.id = id
	sm.startedAt = time.Now()

	sm.archiving.Add(1)
	go sm.archiveOnClose(id, ctrl)

	slog.Info("session started", "session_id", id)
	return id, nil
}

// CloseSession requests a local close of the current session and waits for
// it to reach Closed. It returns the final transcript, and the fatal error if
// the session ended because of one. Closing a session that already ended on
// its own returns its result.
func (sm *SessionManager) CloseSession(ctx context.Context) ([]transcript.Turn, error) {
	sm.mu.Lock()
	ctrl := sm.ctrl
	sm.mu.Unlock()

	if ctrl == nil {
		return nil, ErrNoSession
	}

	ctrl.Close()
	res, err := ctrl.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: close session: %w", err)
	}
	return res.Transcript, res.Err
}

// Status returns the current or most recent session's status.
func (sm *SessionManager) Status() SessionStatus {
	sm.mu.Lock()
	ctrl, id, startedAt := sm.ctrl, sm.id, sm.startedAt
	sm.mu.Unlock()

	if ctrl == nil {
		return SessionStatus{Status: session.Status{State: session.StateClosed}}
	}

	st := SessionStatus{
		ID:        id,
		StartedAt: startedAt,
		Status:    ctrl.Status(),
	}
	select {
	case <-ctrl.Done():
		if res, _ := ctrl.Wait(context.Background()); res.Err != nil {
			st.Error = res.Err.Error()
		}
	default:
	}
	return st
}

// Shutdown closes the current session, if any, and waits for every pending
// transcript archive write. StartSession fails with [ErrShutdown] afterwards.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	sm.shutdown = true
	ctrl := sm.ctrl
	sm.mu.Unlock()

	if ctrl != nil {
		ctrl.Close()
		if _, err := ctrl.Wait(ctx); err != nil {
			return fmt.Errorf("app: close session: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		sm.archiving.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: wait for archive: %w", ctx.Err())
	}
}

func (sm *SessionManager) archiveOnClose(id string, ctrl *session.Controller) {
	defer sm.archiving.Done()

	res, _ := ctrl.Wait(context.Background())
	if res.Err != nil {
		slog.Warn("session ended with error", "session_id", id, "err", res.Err)
	} else {
		slog.Info("session ended", "session_id", id, "turns", len(res.Transcript))
	}

	if sm.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(observe.WithSessionID(context.Background(), id), archiveTimeout)
	defer cancel()
	sm.archive.Archive(ctx, id, res.Transcript)
}
