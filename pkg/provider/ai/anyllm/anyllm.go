// Package anyllm provides a universal text-generation provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// The any-llm interface is chat-only: AnalyzeImage and TranscribeAudio are
// not supported and return an error. Dispatch preferences that need vision or
// transcription should point at a provider that implements them natively.
//
// Usage:
//
//	p, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-..."))
//	p, err := anyllm.NewGemini("gemini-2.0-flash")
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/auricle-audio/auricle/pkg/provider/ai"
	"github.com/auricle-audio/auricle/pkg/types"
)

// Compile-time assertion that Provider satisfies ai.Provider.
var _ ai.Provider = (*Provider)(nil)

// Provider implements ai.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a new Provider backed by the given backend name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile".
//
// model is the specific model to use (e.g., "gpt-4o", "claude-3-5-sonnet-latest").
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the backend falls
// back to its environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Provider{backend: backend, model: model}, nil
}

// NewAnthropic creates a Provider backed by Anthropic.
// Without options, it reads the ANTHROPIC_API_KEY environment variable.
func NewAnthropic(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("anthropic", model, opts...)
}

// NewGemini creates a Provider backed by Google Gemini.
// Without options, it reads the GEMINI_API_KEY or GOOGLE_API_KEY environment variable.
func NewGemini(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("gemini", model, opts...)
}

// NewOllama creates a Provider backed by Ollama (local inference).
// Without options, it connects to http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// NewGroq creates a Provider backed by Groq.
// Without options, it reads the GROQ_API_KEY environment variable.
func NewGroq(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("groq", model, opts...)
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// GenerateText implements ai.Provider.
func (p *Provider) GenerateText(ctx context.Context, req ai.TextRequest) (<-chan ai.Chunk, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("anyllm: prompt must not be empty")
	}

	params := p.buildParams(req)
	backendChunks, backendErrs := p.backend.CompletionStream(ctx, params)

	ch := make(chan ai.Chunk, 32)
	go func() {
		defer close(ch)

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			out := ai.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		// Check for backend errors after the chunk channel is drained.
		if err := <-backendErrs; err != nil {
			select {
			case ch <- ai.Chunk{FinishReason: ai.FinishReasonError, Err: fmt.Errorf("anyllm: stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// AnalyzeImage implements ai.Provider. The any-llm chat interface is
// text-only, so image analysis is not supported through this adapter.
func (p *Provider) AnalyzeImage(context.Context, ai.ImageRequest) (<-chan ai.Chunk, error) {
	return nil, fmt.Errorf("anyllm: image analysis is not supported")
}

// TranscribeAudio implements ai.Provider. Transcription is not supported
// through this adapter.
func (p *Provider) TranscribeAudio(context.Context, ai.AudioRequest) (<-chan ai.Chunk, error) {
	return nil, fmt.Errorf("anyllm: audio transcription is not supported")
}

// Capabilities implements ai.Provider.
func (p *Provider) Capabilities() types.Capabilities {
	return types.Capabilities{
		SupportsStreaming: true,
	}
}

// buildParams converts a TextRequest into anyllm CompletionParams.
func (p *Provider) buildParams(req ai.TextRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, turn := range req.History {
		if turn.Transcription != "" {
			messages = append(messages, anyllmlib.Message{
				Role:    "user",
				Content: turn.Transcription,
			})
		}
		if turn.Response != "" {
			messages = append(messages, anyllmlib.Message{
				Role:    "assistant",
				Content: turn.Response,
			})
		}
	}
	messages = append(messages, anyllmlib.Message{
		Role:    "user",
		Content: req.Prompt,
	})

	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	params := anyllmlib.CompletionParams{
		Model:    model,
		Messages: messages,
	}

	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}

	return params
}
