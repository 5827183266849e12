// Package config provides the configuration schema and loader for the
// Auricle assistant core.
package config

import (
	"fmt"
	"strings"

	"github.com/auricle-audio/auricle/pkg/types"
)

// LogLevel controls log verbosity for the Auricle server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SegmenterMode selects how speech segments are delimited.
type SegmenterMode string

const (
	// ModeAutomatic delimits segments with voice activity detection.
	ModeAutomatic SegmenterMode = "automatic"

	// ModeManual delimits segments with explicit pause/resume calls.
	ModeManual SegmenterMode = "manual"
)

// IsValid reports whether m is a recognised segmenter mode.
func (m SegmenterMode) IsValid() bool {
	return m == ModeAutomatic || m == ModeManual
}

// Config is the root configuration structure for Auricle.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Providers ProvidersConfig `yaml:"providers"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Live      LiveConfig      `yaml:"live"`
	History   HistoryConfig   `yaml:"history"`
}

// ServerConfig holds network and logging settings for the Auricle server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig declares the PCM format delivered by the capture collaborator.
type AudioConfig struct {
	// SampleRate in Hz. Defaults to 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the duration of one frame in milliseconds. Defaults to 20.
	FrameMs int `yaml:"frame_ms"`

	// Channels: 1 for mono, 2 for stereo. Defaults to 1.
	Channels int `yaml:"channels"`
}

// SegmenterConfig tunes the speech segmentation engine. Zero values select
// the engine defaults.
type SegmenterConfig struct {
	// Mode selects automatic (VAD-driven) or manual segmentation.
	Mode SegmenterMode `yaml:"mode"`

	// Streaming forwards frames directly instead of buffering segments.
	Streaming bool `yaml:"streaming"`

	// PreRollFrames is how many frames preceding speech onset are prepended
	// to each segment.
	PreRollFrames int `yaml:"pre_roll_frames"`

	// VoiceStartFrames is how many consecutive voiced frames open a segment.
	VoiceStartFrames int `yaml:"voice_start_frames"`

	// SilenceThresholdMs is how much trailing silence closes a segment.
	SilenceThresholdMs int `yaml:"silence_threshold_ms"`

	// MinSegmentMs discards segments shorter than this much speech.
	MinSegmentMs int `yaml:"min_segment_ms"`

	// MaxSegmentS force-commits segments that reach this many seconds.
	MaxSegmentS int `yaml:"max_segment_s"`

	// PostRollFrames is how much trailing silence is retained on commit.
	PostRollFrames int `yaml:"post_roll_frames"`

	VAD      VADConfig      `yaml:"vad"`
	Adaptive AdaptiveConfig `yaml:"adaptive"`
}

// VADConfig tunes the voice activity detector.
type VADConfig struct {
	// SpeechThreshold is the probability above which a frame counts as
	// voiced, in [0, 1].
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// NoiseFloor is the minimum RMS energy for a frame to count as voiced.
	NoiseFloor float64 `yaml:"noise_floor"`
}

// AdaptiveConfig tunes automatic threshold adjustment, which is on by
// default.
type AdaptiveConfig struct {
	// Disabled switches adaptive thresholding off.
	Disabled bool `yaml:"disabled"`

	// Min and Max clamp the adjusted threshold.
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`

	// Step is the per-adjustment threshold delta.
	Step float64 `yaml:"step"`

	// WindowFrames is how many classifications feed one adjustment decision.
	WindowFrames int `yaml:"window_frames"`
}

// ProvidersConfig declares credentials and models for each provider backend.
type ProvidersConfig struct {
	OpenAI  ProviderEntry `yaml:"openai"`
	AnyLLM  AnyLLMEntry   `yaml:"anyllm"`
	Whisper WhisperEntry  `yaml:"whisper"`
	Gemini  ProviderEntry `yaml:"gemini_live"`
}

// ProviderEntry is the common configuration block shared by remote providers.
type ProviderEntry struct {
	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`
}

// AnyLLMEntry configures the multi-backend text provider.
type AnyLLMEntry struct {
	// Backend is the underlying service: "anthropic", "gemini", "ollama",
	// "deepseek", "mistral", "groq", "llamacpp", "llamafile", or "openai".
	Backend string `yaml:"backend"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// WhisperEntry configures the local whisper.cpp transcription provider.
type WhisperEntry struct {
	// ModelPath is the filesystem path to the GGML model file.
	ModelPath string `yaml:"model_path"`

	// Language is the default transcription language hint ("en", "de", ...).
	Language string `yaml:"language"`
}

// LedgerConfig configures usage tracking.
type LedgerConfig struct {
	// PostgresDSN is the connection string for durable counters. Empty keeps
	// counters in memory only.
	PostgresDSN string `yaml:"postgres_dsn"`

	// SafetyMargin is the proactive capacity threshold in (0, 1].
	// Zero selects the default of 0.9.
	SafetyMargin float64 `yaml:"safety_margin"`

	// Limits maps "provider/model" keys to quota ceilings.
	Limits map[string]LimitsEntry `yaml:"limits"`
}

// LimitsEntry holds the quota ceilings for one model. Zero means unlimited.
type LimitsEntry struct {
	RequestsPerDay      int     `yaml:"requests_per_day"`
	TokensPerMinute     int     `yaml:"tokens_per_minute"`
	AudioSecondsPerDay  float64 `yaml:"audio_seconds_per_day"`
	AudioSecondsPerHour float64 `yaml:"audio_seconds_per_hour"`
}

// ModelLimits converts the entry to the shared types representation.
func (e LimitsEntry) ModelLimits() types.ModelLimits {
	return types.ModelLimits{
		RequestsPerDay:      e.RequestsPerDay,
		TokensPerMinute:     e.TokensPerMinute,
		AudioSecondsPerDay:  e.AudioSecondsPerDay,
		AudioSecondsPerHour: e.AudioSecondsPerHour,
	}
}

// DispatchConfig names the primary and fallback model per task category.
type DispatchConfig struct {
	Text   PreferenceEntry `yaml:"text"`
	Vision PreferenceEntry `yaml:"vision"`
	Audio  PreferenceEntry `yaml:"audio"`
}

// PreferenceEntry holds "provider/model" references for one task category.
type PreferenceEntry struct {
	Primary  string `yaml:"primary"`
	Fallback string `yaml:"fallback"`
}

// Preference parses the entry into a DispatchPreference. An empty primary
// yields a zero preference.
func (e PreferenceEntry) Preference() (types.DispatchPreference, error) {
	var pref types.DispatchPreference
	if e.Primary != "" {
		ref, err := ParseModelRef(e.Primary)
		if err != nil {
			return pref, fmt.Errorf("primary: %w", err)
		}
		pref.Primary = ref
	}
	if e.Fallback != "" {
		ref, err := ParseModelRef(e.Fallback)
		if err != nil {
			return pref, fmt.Errorf("fallback: %w", err)
		}
		pref.Fallback = ref
	}
	return pref, nil
}

// LiveConfig configures the duplex session and its continuity supervision.
type LiveConfig struct {
	// Instructions is the system-level prompt for live sessions.
	Instructions string `yaml:"instructions"`

	// MaxAttempts bounds recovery attempts per drop. Zero selects the
	// default of 3.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryDelayMs is the fixed delay between recovery attempts. Zero
	// selects the default of 2000.
	RetryDelayMs int `yaml:"retry_delay_ms"`

	// PrimingTurns is how many recent turns are replayed after a reconnect.
	// Zero selects the default of 20.
	PrimingTurns int `yaml:"priming_turns"`
}

// HistoryConfig bounds the in-memory conversation record.
type HistoryConfig struct {
	// MaxTurns caps retained turns. Zero means unbounded.
	MaxTurns int `yaml:"max_turns"`

	// MaxAgeMinutes evicts turns older than this. Zero means unbounded.
	MaxAgeMinutes int `yaml:"max_age_minutes"`
}

// ParseModelRef parses a "provider/model" string into a types.ModelRef.
func ParseModelRef(s string) (types.ModelRef, error) {
	provider, model, ok := strings.Cut(s, "/")
	if !ok || provider == "" || model == "" {
		return types.ModelRef{}, fmt.Errorf("model reference %q is not in provider/model form", s)
	}
	return types.ModelRef{Provider: provider, Model: model}, nil
}
