package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/superslash/slashvoice/internal/observe"
	"github.com/superslash/slashvoice/internal/session"
	"github.com/superslash/slashvoice/internal/transcript"
	"github.com/superslash/slashvoice/pkg/memory"
	"github.com/superslash/slashvoice/pkg/provider/chat"
)

// maxBodyBytes caps JSON request bodies, which may carry base64 media.
const maxBodyBytes = 20 << 20

// searchLimit is applied when a search request does not set limit.
const searchLimit = 50

var errArchiveUnavailable = errors.New("transcript archive unavailable")

type handlers struct {
	sessions *SessionManager
	chat     chat.Provider
	archive  *session.MemoryGuard
	metrics  *observe.Metrics
}

func (h *handlers) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/session", h.startSession)
	mux.HandleFunc("DELETE /v1/session", h.closeSession)
	mux.HandleFunc("GET /v1/session", h.sessionStatus)

	mux.HandleFunc("POST /v1/chat", h.streamChat)
	mux.HandleFunc("POST /v1/analyze-image", h.analyzeImage)
	mux.HandleFunc("POST /v1/transcribe", h.transcribe)

	mux.HandleFunc("GET /v1/sessions/{id}/transcript", h.archivedTranscript)
	mux.HandleFunc("GET /v1/transcripts/search", h.searchTranscripts)
}

// ── Session ─────────────────────────────────────────────────────────────────

type startResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

type closeResponse struct {
	ID         string            `json:"id"`
	Transcript []transcript.Turn `json:"transcript"`
	Error      string            `json:"error,omitempty"`
}

func (h *handlers) startSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.sessions.StartSession(r.Context())
	switch {
	case errors.Is(err, ErrSessionActive):
		writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, ErrLiveUnavailable), errors.Is(err, ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{ID: id, State: session.StateConnecting.String()})
}

func (h *handlers) closeSession(w http.ResponseWriter, r *http.Request) {
	id := h.sessions.Status().ID
	turns, err := h.sessions.CloseSession(r.Context())
	if errors.Is(err, ErrNoSession) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, err)
		return
	}

	resp := closeResponse{ID: id, Transcript: turns}
	if resp.Transcript == nil {
		resp.Transcript = []transcript.Turn{}
	}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) sessionStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Status())
}

// ── Chat ────────────────────────────────────────────────────────────────────

type chatRequest struct {
	History     []chat.Message    `json:"history"`
	Message     string            `json:"message"`
	Attachments []chat.Attachment `json:"attachments"`
}

type analyzeRequest struct {
	Image  chat.Attachment `json:"image"`
	Prompt string          `json:"prompt"`
}

type transcribeRequest struct {
	Audio chat.Attachment `json:"audio"`
}

type textResponse struct {
	Text string `json:"text"`
}

// streamChat writes the reply as plain text, flushing after every chunk. A
// failure after the first byte cannot change the status code; it ends the
// body early and is logged.
func (h *handlers) streamChat(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("chat provider not configured"))
		return
	}
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Message == "" && len(req.Attachments) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("message or attachments required"))
		return
	}

	ctx, span := observe.StartSpan(r.Context(), "chat.stream",
		trace.WithAttributes(
			attribute.Int("history_len", len(req.History)),
			attribute.Int("attachments", len(req.Attachments)),
		),
	)
	start := time.Now()
	var streamErr error
	defer func() {
		h.recordChat(r, "chat", start)
		observe.EndSpan(span, streamErr)
	}()

	ch, err := h.chat.StreamChat(ctx, req.History, req.Message, req.Attachments)
	if err != nil {
		streamErr = err
		writeError(w, http.StatusBadGateway, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for c := range ch {
		if c.Err != nil {
			streamErr = c.Err
			observe.Logger(ctx).Warn("chat stream failed", "err", c.Err)
			return
		}
		if _, err := w.Write([]byte(c.Text)); err != nil {
			streamErr = err
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (h *handlers) analyzeImage(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("chat provider not configured"))
		return
	}
	var req analyzeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Image.Data) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("image required"))
		return
	}

	ctx, span := observe.StartSpan(r.Context(), "chat.analyze_image")
	start := time.Now()
	text, err := h.chat.AnalyzeImage(ctx, req.Image, req.Prompt)
	h.recordChat(r, "analyze_image", start)
	observe.EndSpan(span, err)
	if err != nil {
		writeError(w, providerStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, textResponse{Text: text})
}

func (h *handlers) transcribe(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("chat provider not configured"))
		return
	}
	var req transcribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Audio.Data) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("audio required"))
		return
	}

	ctx, span := observe.StartSpan(r.Context(), "chat.transcribe")
	start := time.Now()
	text, err := h.chat.TranscribeAudio(ctx, req.Audio)
	h.recordChat(r, "transcribe", start)
	observe.EndSpan(span, err)
	if err != nil {
		writeError(w, providerStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, textResponse{Text: text})
}

func (h *handlers) recordChat(r *http.Request, kind string, start time.Time) {
	h.metrics.ChatDuration.Record(r.Context(), time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// providerStatus maps a provider failure to an HTTP status.
func providerStatus(err error) int {
	if errors.Is(err, chat.ErrUnsupported) {
		return http.StatusUnsupportedMediaType
	}
	return http.StatusBadGateway
}

// ── Archive ─────────────────────────────────────────────────────────────────

func (h *handlers) archivedTranscript(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("transcript archive not configured"))
		return
	}
	id := r.PathValue("id")

	var since time.Duration
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("since must be a positive duration such as 10m"))
			return
		}
		since = d
	}

	// The guard swallows store errors; IsDegraded right after a call tells
	// an outage apart from an empty result.
	n, _ := h.archive.EntryCount(r.Context(), id)
	if h.archive.IsDegraded() {
		writeError(w, http.StatusServiceUnavailable, errArchiveUnavailable)
		return
	}
	if n == 0 {
		writeError(w, http.StatusNotFound, fmt.Errorf("session %q not archived", id))
		return
	}

	var entries []memory.TranscriptEntry
	if since > 0 {
		entries, _ = h.archive.GetRecent(r.Context(), id, since)
	} else {
		entries, _ = h.archive.GetSession(r.Context(), id)
	}
	if h.archive.IsDegraded() {
		writeError(w, http.StatusServiceUnavailable, errArchiveUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handlers) searchTranscripts(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("transcript archive not configured"))
		return
	}
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, errors.New("q required"))
		return
	}

	opts := memory.SearchOpts{
		SessionID: q.Get("session_id"),
		Role:      q.Get("role"),
		Limit:     searchLimit,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		opts.Limit = n
	}
	for key, dst := range map[string]*time.Time{"after": &opts.After, "before": &opts.Before} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New(key+" must be an RFC 3339 timestamp"))
			return
		}
		*dst = ts
	}

	entries, _ := h.archive.Search(r.Context(), query, opts)
	if h.archive.IsDegraded() {
		writeError(w, http.StatusServiceUnavailable, errArchiveUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ── Helpers ─────────────────────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
