// Package ai defines the Provider interface for AI model backends.
//
// An AI provider wraps a remote or local model API (e.g., OpenAI GPT-4o,
// Anthropic Claude, or a local whisper.cpp model) and exposes a uniform
// interface for the dispatcher to generate text, analyze images, and
// transcribe audio without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by the
// streaming methods must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package ai

import (
	"context"

	"github.com/auricle-audio/auricle/pkg/types"
)

// FinishReasonError is the FinishReason value carried by the terminal chunk of
// a stream that failed after it was opened. The chunk's Err field holds the
// underlying error.
const FinishReasonError = "error"

// Usage holds token accounting information returned by the backend.
// Counts are in the model's native token unit and may differ between
// providers for the same content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input. This value
	// directly affects billing and quota tracking.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Some providers return it
	// directly rather than computing it from the parts.
	TotalTokens int
}

// TextRequest carries everything a provider needs to produce a text response.
// Callers should treat a zero-value request as invalid; at minimum Prompt must
// be non-empty.
type TextRequest struct {
	// Model overrides the provider's configured model for this request. The
	// dispatcher sets it to the routed preference's model so that the model
	// charged against quota is the model actually served. Providers whose
	// backend selects the model per request must honor it; providers bound to
	// a single loaded model serve that model regardless.
	Model string

	// Prompt is the user's input text, typically a transcribed utterance.
	Prompt string

	// History is the ordered prior conversation. Providers prepend it to the
	// prompt so the model sees full context.
	History []types.ConversationTurn

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation. If the provider does not natively support a dedicated
	// system prompt, implementors should prepend it as a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// requests the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int
}

// ImageRequest carries an image plus an instruction for a vision-capable model.
type ImageRequest struct {
	// Model overrides the provider's configured model. See TextRequest.Model.
	Model string

	// Image is the raw encoded image bytes.
	Image []byte

	// MIMEType identifies the image encoding, e.g. "image/png" or "image/jpeg".
	MIMEType string

	// Prompt is the instruction describing what to do with the image.
	Prompt string

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int
}

// AudioRequest carries a speech segment for transcription.
type AudioRequest struct {
	// Model overrides the provider's configured transcription model. See
	// TextRequest.Model.
	Model string

	// Segment is the committed speech segment to transcribe. PCM is 16-bit
	// little-endian at Segment.SampleRate.
	Segment types.AudioSegment

	// Language is an optional ISO-639-1 hint ("en", "de", ...). Empty lets the
	// model auto-detect.
	Language string
}

// Chunk is a single fragment emitted by a streaming response. All providers
// normalize their native stream events into this shape so consumers never see
// SDK-specific types.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty if the
	// chunk carries only a FinishReason or Usage.
	Text string

	// FinishReason is set on the final chunk and indicates why generation
	// stopped. Common values are "stop" (natural end), "length" (token cap
	// reached), and FinishReasonError (stream failed mid-flight).
	FinishReason string

	// Usage is set on the final chunk when the backend reports token counts.
	Usage Usage

	// Err is non-nil only when FinishReason is FinishReasonError.
	Err error
}

// Provider is the abstraction over any AI model backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Each method should propagate context cancellation promptly: when ctx is
// cancelled the method must close its channel as quickly as possible.
//
// Callers must drain returned channels to avoid goroutine leaks. Errors that
// occur after a channel is opened are surfaced as a final Chunk with
// FinishReason set to FinishReasonError; the initial error return is non-nil
// only for failures that prevent the stream from starting (invalid
// credentials, malformed request, unsupported task kind).
type Provider interface {
	// GenerateText sends req to the model and returns a read-only channel that
	// emits Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes or when ctx is cancelled.
	GenerateText(ctx context.Context, req TextRequest) (<-chan Chunk, error)

	// AnalyzeImage sends an image plus instruction to a vision-capable model
	// and streams the textual analysis. Providers whose Capabilities report
	// SupportsVision false must return an error without opening a stream.
	AnalyzeImage(ctx context.Context, req ImageRequest) (<-chan Chunk, error)

	// TranscribeAudio converts a speech segment to text. The transcript is
	// streamed as one or more chunks; local models may emit it per decoded
	// segment, remote APIs typically emit a single chunk.
	TranscribeAudio(ctx context.Context, req AudioRequest) (<-chan Chunk, error)

	// Capabilities returns static metadata describing what this provider's
	// underlying model supports. The result is assumed to be constant for the
	// lifetime of the Provider instance.
	Capabilities() types.Capabilities
}

// Supports reports whether p can serve the given task kind, based on its
// static capabilities. Text generation is assumed universal.
func Supports(p Provider, kind types.TaskKind) bool {
	caps := p.Capabilities()
	switch kind {
	case types.TaskVision:
		return caps.SupportsVision
	case types.TaskAudio:
		return caps.SupportsTranscription
	default:
		return true
	}
}
