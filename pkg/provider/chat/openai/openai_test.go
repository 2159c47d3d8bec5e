package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/superslash/slashvoice/pkg/provider/chat"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gpt-4o"); err == nil {
		t.Fatal("expected error for empty api key")
	}
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Model() != DefaultModel {
		t.Errorf("model = %q, want %q", p.Model(), DefaultModel)
	}
}

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	user, err := convertMessage(chat.Message{Role: chat.RoleUser, Text: "Hello!"})
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	if user.OfUser == nil {
		t.Error("expected OfUser to be set")
	}

	model, err := convertMessage(chat.Message{Role: chat.RoleModel, Text: "Hi there!"})
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	if model.OfAssistant == nil {
		t.Fatal("expected OfAssistant to be set")
	}
	if got := model.OfAssistant.Content.OfString.Value; got != "Hi there!" {
		t.Errorf("assistant content = %q", got)
	}

	if _, err := convertMessage(chat.Message{Role: "tool", Text: "x"}); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "gpt-4o")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	history := []chat.Message{
		{Role: chat.RoleUser, Text: "hi"},
		{Role: chat.RoleModel, Text: "hello"},
	}
	params, err := p.buildParams(history, "and now?", nil)
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 4 {
		t.Fatalf("got %d messages, want 4 (system + 2 history + new)", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("first message should be the system prompt")
	}
	if params.Messages[3].OfUser == nil {
		t.Error("last message should be from the user")
	}
	if string(params.Model) != "gpt-4o" {
		t.Errorf("model = %q", params.Model)
	}
}

func TestBuildParams_Attachments(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "", WithSystemPrompt(""))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params, err := p.buildParams(nil, "what is this?", []chat.Attachment{{MIMEType: "image/png", Data: []byte("png")}})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(params.Messages))
	}
	parts := params.Messages[0].OfUser.Content.OfArrayOfContentParts
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	if parts[0].OfImageURL == nil || !strings.HasPrefix(parts[0].OfImageURL.ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("first part should be an image data URL, got %+v", parts[0])
	}
	if parts[1].OfText == nil || parts[1].OfText.Text != "what is this?" {
		t.Errorf("second part should be the prompt, got %+v", parts[1])
	}

	_, err = p.buildParams(nil, "listen", []chat.Attachment{{MIMEType: "audio/webm"}})
	if !errors.Is(err, chat.ErrUnsupported) {
		t.Errorf("audio attachment: err = %v, want ErrUnsupported", err)
	}

	if _, err := p.buildParams(nil, "", nil); err == nil {
		t.Error("expected error for empty message")
	}
}

func TestStreamChat(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4o-mini\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", piece)
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)

	p, err := New("sk-test", "", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch, err := p.StreamChat(context.Background(), nil, "hi", nil)
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	got, err := chat.Collect(context.Background(), ch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got != "Hello" {
		t.Errorf("reply = %q, want Hello", got)
	}
}

func TestTranscribeAudio(t *testing.T) {
	t.Parallel()

	var gotModel, gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		if _, hdr, err := r.FormFile("file"); err == nil {
			gotFilename = hdr.Filename
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":" hello there "}`)
	}))
	t.Cleanup(srv.Close)

	p, err := New("sk-test", "", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.TranscribeAudio(context.Background(), chat.Attachment{MIMEType: "audio/webm;codecs=opus", Data: []byte("fake")})
	if err != nil {
		t.Fatalf("TranscribeAudio: %v", err)
	}
	if got != "hello there" {
		t.Errorf("text = %q, want %q", got, "hello there")
	}
	if gotModel != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", gotModel)
	}
	if gotFilename != "audio.webm" {
		t.Errorf("filename = %q, want audio.webm", gotFilename)
	}
}

func TestAudioFilename(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"audio/wav":  "audio.wav",
		"audio/mpeg": "audio.mp3",
		"audio/ogg":  "audio.ogg",
		"":           "audio.webm",
	}
	for mime, want := range tests {
		if got := audioFilename(mime); got != want {
			t.Errorf("audioFilename(%q) = %q, want %q", mime, got, want)
		}
	}
}
