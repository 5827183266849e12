// Package mock provides a deterministic, scriptable ai.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/auricle-audio/auricle/pkg/provider/ai"
	"github.com/auricle-audio/auricle/pkg/types"
)

// Compile-time assertion that Provider satisfies ai.Provider.
var _ ai.Provider = (*Provider)(nil)

// Provider is a scriptable ai.Provider. Configure the exported fields before
// use; the zero value streams a single empty "stop" chunk for every call.
//
// All methods are safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Chunks is the scripted stream emitted by every successful call. When
	// empty, a single terminal chunk with FinishReason "stop" is emitted.
	Chunks []ai.Chunk

	// StartErr, when non-nil, is returned before a stream is opened. This
	// models failures like invalid credentials or malformed requests.
	StartErr error

	// StreamErr, when non-nil, is emitted as a terminal error chunk after the
	// scripted chunks. This models failures mid-stream.
	StreamErr error

	// Caps is what Capabilities reports. Defaults to all-false.
	Caps types.Capabilities

	textCalls       int
	imageCalls      int
	transcribeCalls int

	lastText  ai.TextRequest
	lastImage ai.ImageRequest
	lastAudio ai.AudioRequest
}

// GenerateText implements ai.Provider.
func (p *Provider) GenerateText(ctx context.Context, req ai.TextRequest) (<-chan ai.Chunk, error) {
	p.mu.Lock()
	p.textCalls++
	p.lastText = req
	p.mu.Unlock()
	return p.replay(ctx)
}

// AnalyzeImage implements ai.Provider.
func (p *Provider) AnalyzeImage(ctx context.Context, req ai.ImageRequest) (<-chan ai.Chunk, error) {
	p.mu.Lock()
	p.imageCalls++
	p.lastImage = req
	p.mu.Unlock()
	return p.replay(ctx)
}

// TranscribeAudio implements ai.Provider.
func (p *Provider) TranscribeAudio(ctx context.Context, req ai.AudioRequest) (<-chan ai.Chunk, error) {
	p.mu.Lock()
	p.transcribeCalls++
	p.lastAudio = req
	p.mu.Unlock()
	return p.replay(ctx)
}

// Capabilities implements ai.Provider.
func (p *Provider) Capabilities() types.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Caps
}

// TextCalls returns how many times GenerateText was invoked.
func (p *Provider) TextCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.textCalls
}

// ImageCalls returns how many times AnalyzeImage was invoked.
func (p *Provider) ImageCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.imageCalls
}

// TranscribeCalls returns how many times TranscribeAudio was invoked.
func (p *Provider) TranscribeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transcribeCalls
}

// LastText returns the most recent GenerateText request.
func (p *Provider) LastText() ai.TextRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastText
}

// LastImage returns the most recent AnalyzeImage request.
func (p *Provider) LastImage() ai.ImageRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastImage
}

// LastAudio returns the most recent TranscribeAudio request.
func (p *Provider) LastAudio() ai.AudioRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAudio
}

func (p *Provider) replay(ctx context.Context) (<-chan ai.Chunk, error) {
	p.mu.Lock()
	startErr := p.StartErr
	streamErr := p.StreamErr
	script := make([]ai.Chunk, len(p.Chunks))
	copy(script, p.Chunks)
	p.mu.Unlock()

	if startErr != nil {
		return nil, startErr
	}

	ch := make(chan ai.Chunk, len(script)+1)
	go func() {
		defer close(ch)

		if len(script) == 0 && streamErr == nil {
			script = []ai.Chunk{{FinishReason: "stop"}}
		}
		for _, c := range script {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
		if streamErr != nil {
			select {
			case ch <- ai.Chunk{FinishReason: ai.FinishReasonError, Err: streamErr}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// Streaming returns a provider scripted to emit the given text fragments
// followed by a "stop" chunk, reporting full capabilities.
func Streaming(fragments ...string) *Provider {
	chunks := make([]ai.Chunk, 0, len(fragments)+1)
	for _, f := range fragments {
		chunks = append(chunks, ai.Chunk{Text: f})
	}
	chunks = append(chunks, ai.Chunk{FinishReason: "stop"})
	return &Provider{
		Chunks: chunks,
		Caps: types.Capabilities{
			SupportsVision:        true,
			SupportsStreaming:     true,
			SupportsTranscription: true,
		},
	}
}

// Failing returns a provider whose every call fails before the stream opens.
func Failing(err error) *Provider {
	return &Provider{
		StartErr: err,
		Caps: types.Capabilities{
			SupportsVision:        true,
			SupportsStreaming:     true,
			SupportsTranscription: true,
		},
	}
}
