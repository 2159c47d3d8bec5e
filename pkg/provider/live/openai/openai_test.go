package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/superslash/slashvoice/pkg/audio"
	"github.com/superslash/slashvoice/pkg/provider/live"
	"github.com/superslash/slashvoice/pkg/provider/live/openai"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startRealtimeServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// acceptUpdate consumes session.update and acknowledges it.
func acceptUpdate(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var raw map[string]any
	readJSON(t, conn, &raw)
	writeJSON(t, conn, map[string]any{"type": "session.updated"})
}

func waitClosed(conn *websocket.Conn) {
	<-conn.CloseRead(context.Background()).Done()
}

func connect(t *testing.T, srv *httptest.Server, cfg live.SessionConfig, opts ...openai.Option) live.Session {
	t.Helper()
	opts = append([]openai.Option{openai.WithBaseURL(wsURL(srv)), openai.WithHTTPClient(srv.Client())}, opts...)
	sess, err := openai.New("test-api-key", opts...).Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func nextEvent(t *testing.T, sess live.Session) live.Event {
	t.Helper()
	select {
	case ev, ok := <-sess.Events():
		if !ok {
			t.Fatal("Events channel closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return live.Event{}
}

func waitEventsClosed(t *testing.T, sess live.Session) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-sess.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for Events channel to close")
		}
	}
}

// ── Provider ──────────────────────────────────────────────────────────────────

func TestCapabilities(t *testing.T) {
	t.Parallel()

	caps := openai.New("key").Capabilities()
	want := audio.Format{SampleRate: 24000, Channels: 1}
	if caps.Input != want || caps.Output != want {
		t.Errorf("formats = %s/%s, want 24000Hz mono both ways", caps.Input, caps.Output)
	}
	if !caps.Transcription {
		t.Error("Transcription should be supported")
	}
	if len(caps.Voices) == 0 {
		t.Error("Voices should be non-empty")
	}
}

func TestConnect_HeadersAndModel(t *testing.T) {
	t.Parallel()

	type handshake struct {
		auth, beta, model string
	}
	got := make(chan handshake, 1)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		got <- handshake{
			auth:  r.Header.Get("Authorization"),
			beta:  r.Header.Get("OpenAI-Beta"),
			model: r.URL.Query().Get("model"),
		}
		waitClosed(conn)
	})

	connect(t, srv, live.SessionConfig{}, openai.WithModel("gpt-realtime-mini"))

	select {
	case h := <-got:
		if h.auth != "Bearer test-api-key" {
			t.Errorf("Authorization = %q", h.auth)
		}
		if h.beta != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %q", h.beta)
		}
		if h.model != "gpt-realtime-mini" {
			t.Errorf("model = %q, want gpt-realtime-mini", h.model)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for handshake")
	}
}

func TestConnect_SendsSessionUpdate(t *testing.T) {
	t.Parallel()

	type updateMsg struct {
		Type    string `json:"type"`
		Session struct {
			Voice                   string `json:"voice"`
			Instructions            string `json:"instructions"`
			InputAudioFormat        string `json:"input_audio_format"`
			OutputAudioFormat       string `json:"output_audio_format"`
			InputAudioTranscription *struct {
				Model string `json:"model"`
			} `json:"input_audio_transcription"`
			TurnDetection *struct {
				Type string `json:"type"`
			} `json:"turn_detection"`
		} `json:"session"`
	}

	received := make(chan updateMsg, 1)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg updateMsg
		readJSON(t, conn, &msg)
		received <- msg
		waitClosed(conn)
	})

	connect(t, srv, live.SessionConfig{
		Voice:              "coral",
		Instructions:       "Keep it short.",
		InputTranscription: true,
	}, openai.WithTranscriptionModel("gpt-4o-transcribe"))

	select {
	case msg := <-received:
		if msg.Type != "session.update" {
			t.Errorf("type = %q, want session.update", msg.Type)
		}
		s := msg.Session
		if s.Voice != "coral" || s.Instructions != "Keep it short." {
			t.Errorf("voice/instructions = %q/%q", s.Voice, s.Instructions)
		}
		if s.InputAudioFormat != "pcm16" || s.OutputAudioFormat != "pcm16" {
			t.Errorf("formats = %q/%q, want pcm16", s.InputAudioFormat, s.OutputAudioFormat)
		}
		if s.InputAudioTranscription == nil || s.InputAudioTranscription.Model != "gpt-4o-transcribe" {
			t.Errorf("input_audio_transcription = %+v", s.InputAudioTranscription)
		}
		if s.TurnDetection == nil || s.TurnDetection.Type != "server_vad" {
			t.Errorf("turn_detection = %+v, want server_vad", s.TurnDetection)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session.update")
	}
}

func TestConnect_DefaultVoiceWithoutTranscription(t *testing.T) {
	t.Parallel()

	received := make(chan map[string]any, 1)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg map[string]any
		readJSON(t, conn, &msg)
		received <- msg
		waitClosed(conn)
	})

	connect(t, srv, live.SessionConfig{})

	select {
	case msg := <-received:
		s, _ := msg["session"].(map[string]any)
		if s["voice"] != "alloy" {
			t.Errorf("voice = %v, want alloy", s["voice"])
		}
		if _, ok := s["input_audio_transcription"]; ok {
			t.Error("input_audio_transcription should be omitted")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session.update")
	}
}

func TestConnect_RejectsUnsupportedFormat(t *testing.T) {
	t.Parallel()

	p := openai.New("key", openai.WithBaseURL("ws://127.0.0.1:1"))
	_, err := p.Connect(context.Background(), live.SessionConfig{
		Input: audio.Format{SampleRate: 16000, Channels: 1},
	})
	if err == nil {
		t.Fatal("expected error for 16 kHz input")
	}
}

func TestConnect_DialFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	if _, err := p.Connect(context.Background(), live.SessionConfig{}); err == nil {
		t.Fatal("expected dial error")
	}
}

// ── Session ───────────────────────────────────────────────────────────────────

func TestSendAudio_AppendsBuffer(t *testing.T) {
	t.Parallel()

	type appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	received := make(chan appendMsg, 1)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptUpdate(t, conn)
		var msg appendMsg
		readJSON(t, conn, &msg)
		received <- msg
		waitClosed(conn)
	})

	sess := connect(t, srv, live.SessionConfig{})
	blob := audio.Encode(audio.Frame{Samples: []float32{0, 0.5, -0.5}, SampleRate: 24000, Channels: 1})
	if err := sess.SendAudio(context.Background(), blob); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Type != "input_audio_buffer.append" {
			t.Errorf("type = %q", msg.Type)
		}
		if msg.Audio != blob.Data {
			t.Errorf("audio = %q, want %q", msg.Audio, blob.Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for append")
	}
}

func TestSendAudio_AfterClose(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptUpdate(t, conn)
		waitClosed(conn)
	})

	sess := connect(t, srv, live.SessionConfig{})
	_ = sess.Close()
	if err := sess.SendAudio(context.Background(), audio.Blob{}); !errors.Is(err, live.ErrSessionClosed) {
		t.Errorf("SendAudio after Close = %v, want ErrSessionClosed", err)
	}
}

func TestEvents_MapsServerEvents(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptUpdate(t, conn)
		// A second session.updated must not produce another open event.
		writeJSON(t, conn, map[string]any{"type": "session.updated"})
		writeJSON(t, conn, map[string]any{"type": "conversation.item.input_audio_transcription.completed", "transcript": "hello"})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "hi"})
		writeJSON(t, conn, map[string]any{"type": "response.audio.delta", "delta": "AAEC"})
		writeJSON(t, conn, map[string]any{"type": "rate_limits.updated"})
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_started"})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		waitClosed(conn)
	})

	sess := connect(t, srv, live.SessionConfig{})

	want := []live.EventType{
		live.EventOpen,
		live.EventInputTranscript,
		live.EventOutputTranscript,
		live.EventAudio,
		live.EventInterrupted,
		live.EventTurnComplete,
	}
	for i, typ := range want {
		ev := nextEvent(t, sess)
		if ev.Type != typ {
			t.Fatalf("event[%d] = %s, want %s", i, ev.Type, typ)
		}
		switch typ {
		case live.EventInputTranscript:
			if ev.Text != "hello" {
				t.Errorf("input transcript = %q", ev.Text)
			}
		case live.EventOutputTranscript:
			if ev.Text != "hi" {
				t.Errorf("output transcript = %q", ev.Text)
			}
		case live.EventAudio:
			if ev.Audio.Data != "AAEC" || ev.Audio.MIMEType != audio.PCMMIMEType(24000) {
				t.Errorf("audio = %+v", ev.Audio)
			}
		}
	}
}

func TestEvents_ServerErrorIsFatal(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptUpdate(t, conn)
		writeJSON(t, conn, map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "server_error", "code": "internal", "message": "boom"},
		})
		waitClosed(conn)
	})

	sess := connect(t, srv, live.SessionConfig{})
	nextEvent(t, sess) // open

	ev := nextEvent(t, sess)
	if ev.Type != live.EventError {
		t.Fatalf("event = %s, want error", ev.Type)
	}
	var apiErr *live.APIError
	if !errors.As(ev.Err, &apiErr) {
		t.Fatalf("Err = %v, want *live.APIError", ev.Err)
	}
	if apiErr.Message != "boom" || apiErr.Status != "internal" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if !errors.As(sess.Err(), &apiErr) {
		t.Errorf("Session.Err() = %v, want *live.APIError", sess.Err())
	}
}

func TestEvents_InvalidRequestIsNotFatal(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptUpdate(t, conn)
		writeJSON(t, conn, map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "invalid_request_error", "message": "no active response"},
		})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		waitClosed(conn)
	})

	sess := connect(t, srv, live.SessionConfig{})
	nextEvent(t, sess) // open

	if ev := nextEvent(t, sess); ev.Type != live.EventTurnComplete {
		t.Fatalf("event = %s, want turn_complete", ev.Type)
	}
	if err := sess.Err(); err != nil {
		t.Errorf("Session.Err() = %v, want nil", err)
	}
}

func TestEvents_ServerNormalClose(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptUpdate(t, conn)
		conn.Close(websocket.StatusNormalClosure, "bye")
	})

	sess := connect(t, srv, live.SessionConfig{})
	waitEventsClosed(t, sess)
	if err := sess.Err(); err != nil {
		t.Errorf("Err() = %v, want nil after normal close", err)
	}
}

func TestEvents_ServerAbnormalClose(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptUpdate(t, conn)
		conn.Close(websocket.StatusInternalError, "crash")
	})

	sess := connect(t, srv, live.SessionConfig{})
	waitEventsClosed(t, sess)
	if sess.Err() == nil {
		t.Error("Err() = nil, want read error after abnormal close")
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptUpdate(t, conn)
		waitClosed(conn)
	})

	sess := connect(t, srv, live.SessionConfig{})
	if err := sess.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	waitEventsClosed(t, sess)
}
