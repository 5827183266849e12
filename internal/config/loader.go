package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameMs < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d must not be negative", cfg.Audio.FrameMs))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [0, 2]", cfg.Audio.Channels))
	}

	// Segmenter
	if cfg.Segmenter.Mode != "" && !cfg.Segmenter.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("segmenter.mode %q is invalid; valid values: automatic, manual", cfg.Segmenter.Mode))
	}
	if t := cfg.Segmenter.VAD.SpeechThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("segmenter.vad.speech_threshold %.2f is out of range [0, 1]", t))
	}
	if f := cfg.Segmenter.VAD.NoiseFloor; f < 0 || f > 1 {
		errs = append(errs, fmt.Errorf("segmenter.vad.noise_floor %.2f is out of range [0, 1]", f))
	}
	if a := cfg.Segmenter.Adaptive; !a.Disabled {
		if a.Min < 0 || a.Max > 1 || a.Min > a.Max {
			errs = append(errs, fmt.Errorf("segmenter.adaptive range [%.2f, %.2f] is invalid", a.Min, a.Max))
		}
		if a.Step < 0 {
			errs = append(errs, fmt.Errorf("segmenter.adaptive.step %.2f must not be negative", a.Step))
		}
	}

	// Ledger
	if m := cfg.Ledger.SafetyMargin; m < 0 || m > 1 {
		errs = append(errs, fmt.Errorf("ledger.safety_margin %.2f is out of range [0, 1]", m))
	}
	for key := range cfg.Ledger.Limits {
		if _, err := ParseModelRef(key); err != nil {
			errs = append(errs, fmt.Errorf("ledger.limits: %w", err))
		}
	}

	// Dispatch preferences
	for _, pe := range []struct {
		name  string
		entry PreferenceEntry
	}{
		{"dispatch.text", cfg.Dispatch.Text},
		{"dispatch.vision", cfg.Dispatch.Vision},
		{"dispatch.audio", cfg.Dispatch.Audio},
	} {
		if pe.entry.Primary == "" && pe.entry.Fallback != "" {
			errs = append(errs, fmt.Errorf("%s: fallback configured without a primary", pe.name))
		}
		if _, err := pe.entry.Preference(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pe.name, err))
		}
	}

	// Live session
	if cfg.Live.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("live.max_attempts %d must not be negative", cfg.Live.MaxAttempts))
	}
	if cfg.Live.RetryDelayMs < 0 {
		errs = append(errs, fmt.Errorf("live.retry_delay_ms %d must not be negative", cfg.Live.RetryDelayMs))
	}

	// History
	if cfg.History.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("history.max_turns %d must not be negative", cfg.History.MaxTurns))
	}

	return errors.Join(errs...)
}
