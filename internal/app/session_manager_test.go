package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/superslash/slashvoice/internal/app"
	"github.com/superslash/slashvoice/internal/config"
	"github.com/superslash/slashvoice/internal/session"
	"github.com/superslash/slashvoice/internal/transcript"
	"github.com/superslash/slashvoice/pkg/audio"
	audiomock "github.com/superslash/slashvoice/pkg/audio/mock"
	memorymock "github.com/superslash/slashvoice/pkg/memory/mock"
	"github.com/superslash/slashvoice/pkg/provider/live"
	livemock "github.com/superslash/slashvoice/pkg/provider/live/mock"
)

var (
	inputFormat  = audio.Format{SampleRate: 16000, Channels: 1}
	outputFormat = audio.Format{SampleRate: 24000, Channels: 1}
)

type fixture struct {
	sm       *app.SessionManager
	platform *audiomock.Platform
	capture  *audiomock.CaptureDevice
	provider *livemock.Provider
	store    *memorymock.SessionStore
}

func newFixture(t *testing.T, sess *livemock.Session) *fixture {
	t.Helper()
	f := &fixture{
		capture:  &audiomock.CaptureDevice{DeviceFormat: inputFormat},
		provider: &livemock.Provider{},
		store:    &memorymock.SessionStore{},
	}
	if sess != nil {
		f.provider.Session = sess
	}
	f.platform = &audiomock.Platform{
		Capture: f.capture,
		Output:  &audiomock.OutputDevice{DeviceFormat: outputFormat},
	}

	cfg := session.Config{Live: live.SessionConfig{
		Voice:               "Zephyr",
		Input:               inputFormat,
		Output:              outputFormat,
		InputTranscription:  true,
		OutputTranscription: true,
	}}
	f.sm = app.NewSessionManager(f.platform, f.provider, cfg,
		app.WithArchive(session.NewMemoryGuard(f.store)),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.sm.Shutdown(ctx)
	})
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func closeCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSessionManager_Lifecycle(t *testing.T) {
	t.Parallel()

	sess := livemock.NewSession()
	f := newFixture(t, sess)

	sess.Emit(live.Event{Type: live.EventOpen})
	id, err := f.sm.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if id == "" {
		t.Fatal("StartSession returned an empty id")
	}
	waitFor(t, "active", func() bool { return f.sm.Status().State == session.StateActive })

	sess.Emit(live.Event{Type: live.EventInputTranscript, Text: "hello "})
	sess.Emit(live.Event{Type: live.EventInputTranscript, Text: "there"})
	sess.Emit(live.Event{Type: live.EventOutputTranscript, Text: "hi!"})
	sess.Emit(live.Event{Type: live.EventTurnComplete})
	waitFor(t, "transcript", func() bool { return len(f.sm.Status().Transcript) == 2 })

	st := f.sm.Status()
	if st.ID != id {
		t.Errorf("Status().ID = %q, want %q", st.ID, id)
	}
	if st.StartedAt.IsZero() {
		t.Error("Status().StartedAt is zero")
	}

	turns, err := f.sm.CloseSession(closeCtx(t))
	if err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	want := []struct {
		role transcript.Role
		text string
	}{
		{transcript.RoleUser, "hello there"},
		{transcript.RoleModel, "hi!"},
	}
	if len(turns) != len(want) {
		t.Fatalf("CloseSession returned %d turns, want %d", len(turns), len(want))
	}
	for i, w := range want {
		if turns[i].Role != w.role || turns[i].Text != w.text {
			t.Errorf("turn[%d] = %s %q, want %s %q", i, turns[i].Role, turns[i].Text, w.role, w.text)
		}
	}
	if got := f.sm.Status().State; got != session.StateClosed {
		t.Errorf("State after close = %s, want closed", got)
	}
	if !f.capture.Closed() {
		t.Error("capture device not released")
	}

	if err := f.sm.Shutdown(closeCtx(t)); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	entries, _ := f.store.GetSession(context.Background(), id)
	if len(entries) != 2 {
		t.Fatalf("archived %d entries, want 2", len(entries))
	}
	if entries[0].Role != "user" || entries[0].Text != "hello there" {
		t.Errorf("archived entry[0] = %+v", entries[0])
	}
}

func TestSessionManager_DoubleStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, livemock.NewSession())

	if _, err := f.sm.StartSession(context.Background()); err != nil {
		t.Fatalf("first StartSession: %v", err)
	}
	if _, err := f.sm.StartSession(context.Background()); !errors.Is(err, app.ErrSessionActive) {
		t.Fatalf("second StartSession error = %v, want ErrSessionActive", err)
	}
}

func TestSessionManager_RestartAfterClose(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	first, err := f.sm.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := f.sm.CloseSession(closeCtx(t)); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}

	second, err := f.sm.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession after close: %v", err)
	}
	if first == second {
		t.Errorf("session ids must differ, both %q", first)
	}
	if got := len(f.provider.Calls()); got != 2 {
		t.Errorf("Connect calls = %d, want 2", got)
	}
}

func TestSessionManager_CloseWithoutSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if _, err := f.sm.CloseSession(context.Background()); !errors.Is(err, app.ErrNoSession) {
		t.Fatalf("CloseSession error = %v, want ErrNoSession", err)
	}
	if got := f.sm.Status().State; got != session.StateClosed {
		t.Errorf("idle State = %s, want closed", got)
	}
}

func TestSessionManager_RemoteErrorKeepsTranscript(t *testing.T) {
	t.Parallel()

	sess := livemock.NewSession()
	f := newFixture(t, sess)

	sess.Emit(live.Event{Type: live.EventOpen})
	if _, err := f.sm.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	waitFor(t, "active", func() bool { return f.sm.Status().State == session.StateActive })

	sess.Emit(live.Event{Type: live.EventOutputTranscript, Text: "partial answer"})
	waitFor(t, "fragment", func() bool { return len(f.sm.Status().Transcript) == 1 })
	sess.Finish(errors.New("socket reset"))
	waitFor(t, "closed", func() bool { return f.sm.Status().State == session.StateClosed })

	st := f.sm.Status()
	if st.Error == "" {
		t.Error("Status().Error is empty after a fatal error")
	}

	turns, err := f.sm.CloseSession(closeCtx(t))
	var connErr *session.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("CloseSession error = %v, want *session.ConnectionError", err)
	}
	if len(turns) != 1 || turns[0].Text != "partial answer" || !turns[0].Open {
		t.Errorf("turns = %+v, want one open model turn", turns)
	}
}

func TestSessionManager_Unavailable(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager(nil, nil, session.Config{})
	if _, err := sm.StartSession(context.Background()); !errors.Is(err, app.ErrLiveUnavailable) {
		t.Fatalf("StartSession error = %v, want ErrLiveUnavailable", err)
	}
}

func TestSessionManager_StartAfterShutdown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if err := f.sm.Shutdown(closeCtx(t)); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := f.sm.StartSession(context.Background()); !errors.Is(err, app.ErrShutdown) {
		t.Fatalf("StartSession error = %v, want ErrShutdown", err)
	}
}

func TestSessionManager_SetConfigAppliesToNextSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	next := f.sm.Config()
	next.Live.Voice = "Puck"
	f.sm.SetConfig(next)

	if _, err := f.sm.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	waitFor(t, "connect", func() bool { return len(f.provider.Calls()) == 1 })
	if got := f.provider.Calls()[0].Cfg.Voice; got != "Puck" {
		t.Errorf("Connect voice = %q, want Puck", got)
	}
}

func TestSessionManager_ConcurrentStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, livemock.NewSession())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.sm.StartSession(context.Background()); err == nil {
				mu.Lock()
				started++
				mu.Unlock()
			}
			_ = f.sm.Status()
		}()
	}
	wg.Wait()

	if started != 1 {
		t.Errorf("%d sessions started concurrently, want 1", started)
	}
}

func TestSessionConfigFrom(t *testing.T) {
	t.Parallel()

	off := false
	cfg := app.SessionConfigFrom(config.SessionConfig{
		Voice:               "Kore",
		Instructions:        "be brief",
		InputSampleRate:     16000,
		OutputSampleRate:    24000,
		CaptureWindow:       2048,
		OutputTranscription: &off,
	})

	if cfg.Live.Voice != "Kore" || cfg.Live.Instructions != "be brief" {
		t.Errorf("voice/instructions = %q/%q", cfg.Live.Voice, cfg.Live.Instructions)
	}
	if cfg.Live.Input != inputFormat {
		t.Errorf("Input = %v, want %v", cfg.Live.Input, inputFormat)
	}
	if cfg.Live.Output != outputFormat {
		t.Errorf("Output = %v, want %v", cfg.Live.Output, outputFormat)
	}
	if cfg.CaptureWindow != 2048 {
		t.Errorf("CaptureWindow = %d, want 2048", cfg.CaptureWindow)
	}
	if !cfg.Live.InputTranscription {
		t.Error("InputTranscription should default to true")
	}
	if cfg.Live.OutputTranscription {
		t.Error("OutputTranscription should be false")
	}
}
