package config_test

import (
	"strings"
	"testing"

	"github.com/auricle-audio/auricle/internal/config"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  log_level: debug
audio:
  sample_rate: 16000
  frame_ms: 20
  channels: 1
segmenter:
  mode: automatic
  pre_roll_frames: 5
  voice_start_frames: 3
  silence_threshold_ms: 200
  min_segment_ms: 200
  max_segment_s: 20
  post_roll_frames: 10
  vad:
    speech_threshold: 0.5
    noise_floor: 0.01
  adaptive:
    min: 0.25
    max: 0.85
    step: 0.05
    window_frames: 100
providers:
  openai:
    api_key: sk-test
    model: gpt-4o-mini
  anyllm:
    backend: anthropic
    api_key: sk-ant-test
    model: claude-3-5-sonnet-latest
  whisper:
    model_path: /models/ggml-base.en.bin
    language: en
  gemini_live:
    api_key: AIza-test
    model: gemini-2.0-flash-live-001
ledger:
  postgres_dsn: postgres://auricle@localhost/auricle
  safety_margin: 0.9
  limits:
    openai/gpt-4o-mini:
      requests_per_day: 500
      audio_seconds_per_day: 3600
      audio_seconds_per_hour: 600
dispatch:
  text:
    primary: openai/gpt-4o-mini
    fallback: anyllm/claude-3-5-sonnet-latest
  audio:
    primary: whisper/ggml-base.en
live:
  instructions: Answer briefly.
  max_attempts: 3
  retry_delay_ms: 2000
  priming_turns: 20
history:
  max_turns: 200
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Segmenter.Mode != config.ModeAutomatic {
		t.Errorf("segmenter.mode = %q", cfg.Segmenter.Mode)
	}
	if cfg.Providers.AnyLLM.Backend != "anthropic" {
		t.Errorf("anyllm.backend = %q", cfg.Providers.AnyLLM.Backend)
	}

	limits, ok := cfg.Ledger.Limits["openai/gpt-4o-mini"]
	if !ok {
		t.Fatal("ledger limit for openai/gpt-4o-mini missing")
	}
	if ml := limits.ModelLimits(); ml.RequestsPerDay != 500 || ml.AudioSecondsPerHour != 600 {
		t.Errorf("ModelLimits = %+v", ml)
	}

	pref, err := cfg.Dispatch.Text.Preference()
	if err != nil {
		t.Fatalf("text preference: %v", err)
	}
	if pref.Primary.Provider != "openai" || pref.Primary.Model != "gpt-4o-mini" {
		t.Errorf("primary = %+v", pref.Primary)
	}
	if pref.Fallback.Provider != "anyllm" {
		t.Errorf("fallback = %+v", pref.Fallback)
	}
}

func TestLoad_ShippedExampleConfig(t *testing.T) {
	t.Parallel()
	// The example referenced by the startup hint must always load cleanly.
	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr == "" {
		t.Error("example config has no listen_addr")
	}
	if _, err := cfg.Dispatch.Text.Preference(); err != nil {
		t.Errorf("example text preference: %v", err)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  max_connections: 10
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_InvalidSegmenterMode(t *testing.T) {
	t.Parallel()
	yaml := `
segmenter:
  mode: continuous
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid segmenter mode, got nil")
	}
	if !strings.Contains(err.Error(), "segmenter.mode") {
		t.Errorf("error should mention segmenter.mode, got: %v", err)
	}
}

func TestValidate_ThresholdOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
segmenter:
  vad:
    speech_threshold: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range threshold, got nil")
	}
	if !strings.Contains(err.Error(), "speech_threshold") {
		t.Errorf("error should mention speech_threshold, got: %v", err)
	}
}

func TestValidate_BadModelRef(t *testing.T) {
	t.Parallel()
	yaml := `
dispatch:
  text:
    primary: gpt-4o-mini
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for bare model reference, got nil")
	}
	if !strings.Contains(err.Error(), "provider/model") {
		t.Errorf("error should mention provider/model form, got: %v", err)
	}
}

func TestValidate_FallbackWithoutPrimary(t *testing.T) {
	t.Parallel()
	yaml := `
dispatch:
  vision:
    fallback: openai/gpt-4o-mini
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for fallback without primary, got nil")
	}
	if !strings.Contains(err.Error(), "without a primary") {
		t.Errorf("error should mention missing primary, got: %v", err)
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
segmenter:
  mode: psychic
ledger:
  safety_margin: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"log_level", "segmenter.mode", "safety_margin"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %s, got: %v", want, err)
		}
	}
}

func TestParseModelRef(t *testing.T) {
	t.Parallel()
	ref, err := config.ParseModelRef("openai/gpt-4o-mini")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Provider != "openai" || ref.Model != "gpt-4o-mini" {
		t.Errorf("ref = %+v", ref)
	}

	for _, bad := range []string{"", "openai", "/model", "openai/"} {
		if _, err := config.ParseModelRef(bad); err == nil {
			t.Errorf("ParseModelRef(%q) succeeded, want error", bad)
		}
	}
}
