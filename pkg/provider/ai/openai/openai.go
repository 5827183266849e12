// Package openai provides an AI provider backed by the OpenAI API.
//
// Text and vision requests go through the Chat Completions streaming API;
// audio requests go through the Transcriptions API with the segment's PCM
// wrapped in a WAV container.
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
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/auricle-audio/auricle/pkg/audio"
	"github.com/auricle-audio/auricle/pkg/provider/ai"
	"github.com/auricle-audio/auricle/pkg/types"
)

// Compile-time assertion that Provider satisfies ai.Provider.
var _ ai.Provider = (*Provider)(nil)

// Provider implements ai.Provider using the OpenAI API.
type Provider struct {
	client          oai.Client
	model           string
	transcribeModel string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL         string
	organization    string
	timeout         time.Duration
	transcribeModel string
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

// WithTranscribeModel overrides the model used for audio transcription.
// Defaults to whisper-1.
func WithTranscribeModel(model string) Option {
	return func(c *config) {
		c.transcribeModel = model
	}
}

// New constructs a new OpenAI Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{
		transcribeModel: string(oai.AudioModelWhisper1),
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

	client := oai.NewClient(reqOpts...)
	return &Provider{
		client:          client,
		model:           model,
		transcribeModel: cfg.transcribeModel,
	}, nil
}

// GenerateText implements ai.Provider.
func (p *Provider) GenerateText(ctx context.Context, req ai.TextRequest) (<-chan ai.Chunk, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("openai: prompt must not be empty")
	}

	var messages []oai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, turn := range req.History {
		if turn.Transcription != "" {
			messages = append(messages, oai.UserMessage(turn.Transcription))
		}
		if turn.Response != "" {
			messages = append(messages, oai.AssistantMessage(turn.Response))
		}
	}
	messages = append(messages, oai.UserMessage(req.Prompt))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.chatModel(req.Model)),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	return p.stream(ctx, params)
}

// AnalyzeImage implements ai.Provider.
func (p *Provider) AnalyzeImage(ctx context.Context, req ai.ImageRequest) (<-chan ai.Chunk, error) {
	model := p.chatModel(req.Model)
	if !supportsVision(model) {
		return nil, fmt.Errorf("openai: model %q does not support vision", model)
	}
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("openai: image must not be empty")
	}

	mime := req.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(req.Image))

	parts := []oai.ChatCompletionContentPartUnionParam{
		oai.TextContentPart(req.Prompt),
		oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
			URL: dataURL,
		}),
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: []oai.ChatCompletionMessageParamUnion{oai.UserMessage(parts)},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	return p.stream(ctx, params)
}

// TranscribeAudio implements ai.Provider. The Transcriptions API is not
// streaming, so the full transcript arrives as a single chunk.
func (p *Provider) TranscribeAudio(ctx context.Context, req ai.AudioRequest) (<-chan ai.Chunk, error) {
	seg := req.Segment
	if len(seg.PCM) == 0 {
		return nil, fmt.Errorf("openai: segment must not be empty")
	}

	wav := audio.EncodeWAV(seg.PCM, seg.SampleRate, seg.Channels)

	model := p.transcribeModel
	if req.Model != "" {
		model = req.Model
	}
	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(model),
		File:  oai.File(bytes.NewReader(wav), "segment.wav", "audio/wav"),
	}
	if req.Language != "" {
		params.Language = param.NewOpt(req.Language)
	}

	ch := make(chan ai.Chunk, 1)
	go func() {
		defer close(ch)

		resp, err := p.client.Audio.Transcriptions.New(ctx, params)
		if err != nil {
			select {
			case ch <- ai.Chunk{FinishReason: ai.FinishReasonError, Err: fmt.Errorf("openai: transcription: %w", err)}:
			case <-ctx.Done():
			}
			return
		}

		select {
		case ch <- ai.Chunk{Text: resp.Text, FinishReason: "stop"}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// Capabilities implements ai.Provider.
func (p *Provider) Capabilities() types.Capabilities {
	return types.Capabilities{
		SupportsVision:        supportsVision(p.model),
		SupportsStreaming:     true,
		SupportsTranscription: true,
	}
}

// chatModel resolves the effective chat model for a request: the per-request
// override when set, the configured default otherwise.
func (p *Provider) chatModel(override string) string {
	if override != "" {
		return override
	}
	return p.model
}

// supportsVision reports whether a known OpenAI model accepts image inputs.
func supportsVision(model string) bool {
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-4o"),
		strings.HasPrefix(lower, "gpt-4.1"),
		strings.HasPrefix(lower, "gpt-4-turbo"),
		strings.HasPrefix(lower, "o1"),
		strings.HasPrefix(lower, "o3"):
		return !strings.HasPrefix(lower, "o1-mini") && !strings.HasPrefix(lower, "o3-mini")
	default:
		return false
	}
}

// stream starts a chat completion stream and normalizes its events.
func (p *Provider) stream(ctx context.Context, params oai.ChatCompletionNewParams) (<-chan ai.Chunk, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan ai.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		var usage ai.Usage
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = ai.Usage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			out := ai.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			if choice.FinishReason != "" {
				out.Usage = usage
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- ai.Chunk{FinishReason: ai.FinishReasonError, Err: fmt.Errorf("openai: stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}
