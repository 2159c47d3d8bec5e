// Package gemini provides a chat provider backed by the Gemini API through
// the official google.golang.org/genai SDK.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/superslash/slashvoice/pkg/provider/chat"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-3-flash-preview"

// Provider implements chat.Provider using the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
	system string
}

type config struct {
	model      string
	baseURL    string
	system     string
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(c *config) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL overrides the Gemini API endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithSystemPrompt replaces [chat.DefaultSystemPrompt] for StreamChat.
func WithSystemPrompt(prompt string) Option {
	return func(c *config) {
		c.system = prompt
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a Gemini chat Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("chat/gemini: apiKey must not be empty")
	}

	cfg := &config{model: DefaultModel, system: chat.DefaultSystemPrompt}
	for _, o := range opts {
		o(cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.httpClient,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("chat/gemini: new client: %w", err)
	}
	return &Provider{client: client, model: cfg.model, system: cfg.system}, nil
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// StreamChat implements chat.Provider.
func (p *Provider) StreamChat(ctx context.Context, history []chat.Message, message string, attachments []chat.Attachment) (<-chan chat.Chunk, error) {
	contents, err := buildContents(history, message, attachments)
	if err != nil {
		return nil, err
	}

	var gc *genai.GenerateContentConfig
	if p.system != "" {
		gc = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(p.system, genai.RoleUser),
		}
	}

	ch := make(chan chat.Chunk, 32)
	go func() {
		defer close(ch)
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, gc) {
			var c chat.Chunk
			if err != nil {
				c.Err = fmt.Errorf("chat/gemini: stream: %w", err)
			} else if c.Text = resp.Text(); c.Text == "" {
				continue
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
			if c.Err != nil {
				return
			}
		}
	}()
	return ch, nil
}

// AnalyzeImage implements chat.Provider.
func (p *Provider) AnalyzeImage(ctx context.Context, image chat.Attachment, prompt string) (string, error) {
	text, err := p.generate(ctx, image, prompt)
	if err != nil {
		return "", fmt.Errorf("chat/gemini: analyze image: %w", err)
	}
	return text, nil
}

// TranscribeAudio implements chat.Provider. The model is prompted to return
// only the spoken words.
func (p *Provider) TranscribeAudio(ctx context.Context, audio chat.Attachment) (string, error) {
	text, err := p.generate(ctx, audio, chat.TranscriptionPrompt)
	if err != nil {
		return "", fmt.Errorf("chat/gemini: transcribe: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (p *Provider) generate(ctx context.Context, media chat.Attachment, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(media.Data, media.MIMEType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// buildContents converts chat history plus the new user turn into Gemini
// contents.
func buildContents(history []chat.Message, message string, attachments []chat.Attachment) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role, err := convertRole(m.Role)
		if err != nil {
			return nil, err
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}

	parts := make([]*genai.Part, 0, len(attachments)+1)
	for _, a := range attachments {
		parts = append(parts, genai.NewPartFromBytes(a.Data, a.MIMEType))
	}
	if message != "" {
		parts = append(parts, genai.NewPartFromText(message))
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("chat/gemini: empty message")
	}
	return append(contents, genai.NewContentFromParts(parts, genai.RoleUser)), nil
}

func convertRole(r chat.Role) (genai.Role, error) {
	switch r {
	case chat.RoleUser:
		return genai.RoleUser, nil
	case chat.RoleModel:
		return genai.RoleModel, nil
	default:
		return "", fmt.Errorf("chat/gemini: unknown message role %q", r)
	}
}

var _ chat.Provider = (*Provider)(nil)
