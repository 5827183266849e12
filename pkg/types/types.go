// Package types defines the shared types used across all Auricle packages.
//
// These types form the lingua franca between the segmentation engine, the
// dispatcher, the provider adapters, and the session continuity layer. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// AudioFrame represents a single fixed-size frame of linear PCM audio flowing
// through the pipeline. Frames are the atomic unit of audio transport: the
// capture collaborator pushes them into the segmentation engine, which either
// buffers them into segments or forwards them directly in streaming mode.
//
// Data is signed 16-bit little-endian PCM. A frame is immutable once produced;
// stages must not modify Data in place.
type AudioFrame struct {
	// Data holds the raw PCM bytes (two bytes per sample per channel).
	Data []byte

	// SampleRate in Hz (e.g., 16000 for speech models).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play-out duration of the frame derived from its PCM
// length, sample rate, and channel count. Returns zero for malformed frames.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 || len(f.Data) == 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// AudioSegment is an ordered concatenation of AudioFrames representing one
// spoken utterance, including any pre-roll and post-roll padding. Segments are
// created by the segmentation engine on a commit transition, consumed exactly
// once by the dispatcher, and never mutated after creation.
type AudioSegment struct {
	// PCM is the concatenated frame data (s16le, mono unless noted otherwise).
	PCM []byte

	// SampleRate in Hz of the concatenated PCM.
	SampleRate int

	// Channels of the concatenated PCM.
	Channels int

	// FrameCount is the number of frames merged into this segment.
	FrameCount int

	// Duration is the total play-out length of the segment.
	Duration time.Duration

	// CapturedAt is the wall-clock time when the first frame was buffered.
	CapturedAt time.Time
}

// ConversationTurn is one completed exchange: what the user said (or typed)
// and what the model answered. Turns are appended to an in-memory ordered
// history for the lifetime of a session and replayed after a duplex-session
// reconnect to restore context.
type ConversationTurn struct {
	// Timestamp is when the turn completed.
	Timestamp time.Time

	// Transcription is the user-side text (STT output or typed input).
	Transcription string

	// Response is the model's reply text.
	Response string
}

// VADDecision is the per-frame classification produced by a voice activity
// detector.
type VADDecision struct {
	// Speech reports whether the frame was classified as voiced.
	Speech bool

	// Probability is the detector's speech probability score (0.0–1.0).
	Probability float64

	// Energy is the frame's RMS energy, normalised to [0.0, 1.0].
	Energy float64
}

// TaskKind identifies the logical category of a dispatch, which selects the
// provider capability used to serve it.
type TaskKind int

const (
	// TaskText is a plain text-generation request.
	TaskText TaskKind = iota

	// TaskVision is an image-analysis request (screen capture plus prompt).
	TaskVision

	// TaskAudio is an audio-to-text request over a committed segment.
	TaskAudio
)

// String returns the human-readable name of the task kind.
func (k TaskKind) String() string {
	switch k {
	case TaskText:
		return "text"
	case TaskVision:
		return "vision"
	case TaskAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Capabilities describes what a provider's model supports. The dispatcher uses
// these flags to reject a task kind before issuing a doomed network call.
type Capabilities struct {
	// SupportsVision indicates the model accepts image inputs.
	SupportsVision bool

	// SupportsStreaming indicates the model emits incremental token deltas.
	// Non-streaming providers are still normalised into the chunk-stream shape;
	// the whole response simply arrives as a single chunk.
	SupportsStreaming bool

	// SupportsTranscription indicates the model accepts audio segments for
	// speech-to-text.
	SupportsTranscription bool

	// SupportsLiveAudio indicates the provider offers a duplex real-time
	// audio session.
	SupportsLiveAudio bool
}

// ModelLimits holds the quota ceilings for one (provider, model) pair.
// A zero value for any field means that dimension is unlimited.
type ModelLimits struct {
	// RequestsPerDay caps the number of successful requests per UTC day.
	RequestsPerDay int

	// TokensPerMinute caps token throughput. Advisory; enforced by providers
	// server-side, tracked here for reporting.
	TokensPerMinute int

	// AudioSecondsPerDay caps transcribed audio per UTC day.
	AudioSecondsPerDay float64

	// AudioSecondsPerHour caps transcribed audio per rolling hour.
	AudioSecondsPerHour float64
}

// ModelRef identifies one concrete model at one provider.
type ModelRef struct {
	// Provider is the registry name of the backend (e.g., "openai", "anyllm").
	Provider string

	// Model is the provider-specific model identifier (e.g., "gpt-4o-mini").
	Model string
}

// String returns "provider/model", the form used in logs and ledger keys.
func (r ModelRef) String() string {
	return r.Provider + "/" + r.Model
}

// IsZero reports whether the reference is unset.
func (r ModelRef) IsZero() bool {
	return r.Provider == "" && r.Model == ""
}

// DispatchPreference names the primary and fallback model for one task
// category. Callers supply one preference per logical task (chat message,
// screen analysis, audio transcription).
type DispatchPreference struct {
	// Primary is tried first, subject to ledger approval.
	Primary ModelRef

	// Fallback is tried when the primary is unusable or fails. A zero value
	// disables fallback for this preference.
	Fallback ModelRef
}
