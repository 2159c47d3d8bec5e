// Package openai provides a chat provider backed by the OpenAI API.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/superslash/slashvoice/pkg/provider/chat"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// Provider implements chat.Provider using the OpenAI API.
type Provider struct {
	client     oai.Client
	model      string
	system     string
	transcribe oai.AudioModel
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	system       string
	transcribe   oai.AudioModel
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithSystemPrompt replaces [chat.DefaultSystemPrompt] for StreamChat.
func WithSystemPrompt(prompt string) Option {
	return func(c *config) {
		c.system = prompt
	}
}

// WithTranscriptionModel overrides the speech-to-text model. Defaults to
// whisper-1.
func WithTranscriptionModel(model string) Option {
	return func(c *config) {
		if model != "" {
			c.transcribe = oai.AudioModel(model)
		}
	}
}

// New constructs a new OpenAI chat Provider. An empty model selects
// [DefaultModel].
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("chat/openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{
		system:     chat.DefaultSystemPrompt,
		transcribe: oai.AudioModelWhisper1,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:     oai.NewClient(reqOpts...),
		model:      model,
		system:     cfg.system,
		transcribe: cfg.transcribe,
	}, nil
}

// Model returns the configured chat model.
func (p *Provider) Model() string { return p.model }

// StreamChat implements chat.Provider.
func (p *Provider) StreamChat(ctx context.Context, history []chat.Message, message string, attachments []chat.Attachment) (<-chan chat.Chunk, error) {
	params, err := p.buildParams(history, message, attachments)
	if err != nil {
		return nil, fmt.Errorf("chat/openai: build params: %w", err)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("chat/openai: start stream: %w", err)
	}

	ch := make(chan chat.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case ch <- chat.Chunk{Text: chunk.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- chat.Chunk{Err: fmt.Errorf("chat/openai: stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// AnalyzeImage implements chat.Provider.
func (p *Provider) AnalyzeImage(ctx context.Context, image chat.Attachment, prompt string) (string, error) {
	part, err := imagePart(image)
	if err != nil {
		return "", fmt.Errorf("chat/openai: analyze image: %w", err)
	}
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage([]oai.ChatCompletionContentPartUnionParam{part, oai.TextContentPart(prompt)}),
		},
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat/openai: analyze image: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat/openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// TranscribeAudio implements chat.Provider using the transcription endpoint.
func (p *Provider) TranscribeAudio(ctx context.Context, audio chat.Attachment) (string, error) {
	resp, err := p.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio.Data), audioFilename(audio.MIMEType), audio.MIMEType),
		Model: p.transcribe,
	})
	if err != nil {
		return "", fmt.Errorf("chat/openai: transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// buildParams converts the chat history and new message into OpenAI SDK
// params. Image attachments are sent as data URLs on the final user message.
func (p *Provider) buildParams(history []chat.Message, message string, attachments []chat.Attachment) (oai.ChatCompletionNewParams, error) {
	if message == "" && len(attachments) == 0 {
		return oai.ChatCompletionNewParams{}, fmt.Errorf("message must not be empty")
	}

	var messages []oai.ChatCompletionMessageParamUnion
	if p.system != "" {
		messages = append(messages, oai.SystemMessage(p.system))
	}

	for _, m := range history {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	if len(attachments) == 0 {
		messages = append(messages, oai.UserMessage(message))
	} else {
		parts := make([]oai.ChatCompletionContentPartUnionParam, 0, len(attachments)+1)
		for _, a := range attachments {
			part, err := imagePart(a)
			if err != nil {
				return oai.ChatCompletionNewParams{}, err
			}
			parts = append(parts, part)
		}
		if message != "" {
			parts = append(parts, oai.TextContentPart(message))
		}
		messages = append(messages, oai.UserMessage(parts))
	}

	return oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}, nil
}

// convertMessage converts a chat.Message to an OpenAI SDK message param.
func convertMessage(m chat.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case chat.RoleUser:
		return oai.UserMessage(m.Text), nil

	case chat.RoleModel:
		asst := oai.ChatCompletionAssistantMessageParam{}
		asst.Content.OfString = oai.String(m.Text)
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unknown message role %q", m.Role)
	}
}

func imagePart(a chat.Attachment) (oai.ChatCompletionContentPartUnionParam, error) {
	if !strings.HasPrefix(a.MIMEType, "image/") {
		return oai.ChatCompletionContentPartUnionParam{}, fmt.Errorf("attachment type %q: %w", a.MIMEType, chat.ErrUnsupported)
	}
	url := "data:" + a.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
	return oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{URL: url}), nil
}

// audioFilename picks a filename whose extension the transcription endpoint
// accepts for mime.
func audioFilename(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	switch base {
	case "audio/webm":
		return "audio.webm"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "audio.wav"
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/ogg":
		return "audio.ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "audio.m4a"
	default:
		return "audio.webm"
	}
}

var _ chat.Provider = (*Provider)(nil)
