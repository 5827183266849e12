// Package whisper provides a local transcription provider backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.
//
// The model is loaded once at startup and shared across all inferences; each
// TranscribeAudio call creates its own whisper context, so calls can run
// concurrently.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/auricle-audio/auricle/pkg/audio"
	"github.com/auricle-audio/auricle/pkg/provider/ai"
	"github.com/auricle-audio/auricle/pkg/types"
)

const defaultLanguage = "en"

// Compile-time assertion that Provider satisfies ai.Provider.
var _ ai.Provider = (*Provider)(nil)

// Provider implements ai.Provider's transcription surface using whisper.cpp.
// Text generation and image analysis are not supported.
type Provider struct {
	model    whisperlib.Model
	language string
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en". A per-request Language hint
// takes precedence.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// New creates a Provider that loads the whisper.cpp model from the given file
// path. The caller must call Close when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// GenerateText implements ai.Provider. Whisper is a transcription model; text
// generation is not supported.
func (p *Provider) GenerateText(context.Context, ai.TextRequest) (<-chan ai.Chunk, error) {
	return nil, errors.New("whisper: text generation is not supported")
}

// AnalyzeImage implements ai.Provider. Not supported.
func (p *Provider) AnalyzeImage(context.Context, ai.ImageRequest) (<-chan ai.Chunk, error) {
	return nil, errors.New("whisper: image analysis is not supported")
}

// TranscribeAudio implements ai.Provider. Inference runs on a goroutine; each
// decoded whisper segment is emitted as its own chunk, followed by a terminal
// "stop" chunk. A single model file is loaded at construction, so the
// request's Model override is ignored.
func (p *Provider) TranscribeAudio(ctx context.Context, req ai.AudioRequest) (<-chan ai.Chunk, error) {
	seg := req.Segment
	if len(seg.PCM) == 0 {
		return nil, errors.New("whisper: segment must not be empty")
	}
	if seg.Channels <= 0 {
		return nil, fmt.Errorf("whisper: invalid channel count %d", seg.Channels)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	ch := make(chan ai.Chunk, 8)
	go func() {
		defer close(ch)

		samples := audio.PCMToFloat32Mono(seg.PCM, seg.Channels)

		// Each context is NOT thread-safe, but the model can be shared
		// across goroutines.
		wctx, err := p.model.NewContext()
		if err != nil {
			emitError(ctx, ch, fmt.Errorf("whisper: create context: %w", err))
			return
		}
		if err := wctx.SetLanguage(lang); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
		}

		if err := wctx.Process(samples, nil, nil, nil); err != nil {
			emitError(ctx, ch, fmt.Errorf("whisper: process audio: %w", err))
			return
		}

		for {
			segment, err := wctx.NextSegment()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				emitError(ctx, ch, fmt.Errorf("whisper: read segment: %w", err))
				return
			}
			text := strings.TrimSpace(segment.Text)
			if text == "" {
				continue
			}
			select {
			case ch <- ai.Chunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case ch <- ai.Chunk{FinishReason: "stop"}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// Capabilities implements ai.Provider.
func (p *Provider) Capabilities() types.Capabilities {
	return types.Capabilities{
		SupportsStreaming:     true,
		SupportsTranscription: true,
	}
}

func emitError(ctx context.Context, ch chan<- ai.Chunk, err error) {
	select {
	case ch <- ai.Chunk{FinishReason: ai.FinishReasonError, Err: err}:
	case <-ctx.Done():
	}
}
