package app

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/auricle-audio/auricle/internal/config"
	"github.com/auricle-audio/auricle/internal/ledger"
	"github.com/auricle-audio/auricle/internal/segmenter"
	"github.com/auricle-audio/auricle/pkg/provider/ai"
	aimock "github.com/auricle-audio/auricle/pkg/provider/ai/mock"
	vadmock "github.com/auricle-audio/auricle/pkg/provider/vad/mock"
	"github.com/auricle-audio/auricle/pkg/types"
)

const testTimeout = 5 * time.Second

// testConfig returns a config wired for mock providers: "stt" serves audio
// tasks, "llm" serves text and vision tasks.
func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Audio.SampleRate = 16000
	cfg.Audio.FrameMs = 20
	cfg.Audio.Channels = 1
	cfg.Segmenter.Mode = config.ModeAutomatic
	cfg.Dispatch.Audio.Primary = "stt/base"
	cfg.Dispatch.Text.Primary = "llm/main"
	cfg.Dispatch.Vision.Primary = "llm/main"
	return cfg
}

// newTestApp builds an App over scripted mocks and an in-memory store.
func newTestApp(t *testing.T, cfg *config.Config, det *vadmock.Detector) (*App, *aimock.Provider, *aimock.Provider) {
	t.Helper()

	stt := aimock.Streaming("hello", " there")
	llm := aimock.Streaming("hi, how can I help?")

	a, err := New(context.Background(), cfg, &Providers{
		AI:  map[string]ai.Provider{"stt": stt, "llm": llm},
		VAD: det,
	}, WithStore(ledger.NewMemoryStore()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, stt, llm
}

// waitRunning blocks until Run has started the segmentation engine.
func waitRunning(t *testing.T, a *App) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for {
		a.mu.Lock()
		started := a.runCtx != nil
		a.mu.Unlock()
		if started && a.seg.State() != segmenter.StateIdle {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("app did not start")
		}
		time.Sleep(time.Millisecond)
	}
}

// frame returns one 20 ms mono frame of silence-valued PCM at 16 kHz. The
// scripted detector decides voicing, not the samples.
func frame() types.AudioFrame {
	return types.AudioFrame{
		Data:       make([]byte, 16000/50*2),
		SampleRate: 16000,
		Channels:   1,
	}
}

func TestNew_WiresSubsystems(t *testing.T) {
	a, _, _ := newTestApp(t, testConfig(), vadmock.NewDetector(vadmock.Silence(1)))

	names := a.Dispatcher().Providers()
	if len(names) != 2 {
		t.Fatalf("registered providers = %v, want 2", names)
	}
	if a.History().Len() != 0 {
		t.Errorf("history starts at %d turns, want 0", a.History().Len())
	}
}

func TestHealthHandler_ReadyWithProviders(t *testing.T) {
	a, _, _ := newTestApp(t, testConfig(), vadmock.NewDetector(vadmock.Silence(1)))

	rec := httptest.NewRecorder()
	a.HealthHandler().Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 200 {
		t.Fatalf("readyz status = %d, want 200, body %s", rec.Code, rec.Body)
	}
}

func TestRun_SegmentToReply(t *testing.T) {
	det := vadmock.NewDetector(vadmock.Speech(20), vadmock.Silence(40))
	a, stt, llm := newTestApp(t, testConfig(), det)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()
	waitRunning(t, a)

	// 20 voiced frames open a recording, sustained silence commits it.
	for range 60 {
		a.ProcessFrame(frame())
	}

	select {
	case reply := <-a.Replies():
		if reply.Transcript != "hello there" {
			t.Errorf("transcript = %q, want %q", reply.Transcript, "hello there")
		}
		if reply.Text != "hi, how can I help?" {
			t.Errorf("reply = %q, want %q", reply.Text, "hi, how can I help?")
		}
		if reply.Ref.Provider != "llm" {
			t.Errorf("reply served by %q, want %q", reply.Ref.Provider, "llm")
		}
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a reply")
	}

	if stt.TranscribeCalls() != 1 {
		t.Errorf("transcribe calls = %d, want 1", stt.TranscribeCalls())
	}
	if llm.TextCalls() != 1 {
		t.Errorf("text calls = %d, want 1", llm.TextCalls())
	}
	if got := a.History().Len(); got != 1 {
		t.Errorf("recorded turns = %d, want 1", got)
	}

	cancel()
	select {
	case err := <-runDone:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_EmptyTranscriptSkipsResponse(t *testing.T) {
	det := vadmock.NewDetector(vadmock.Speech(20), vadmock.Silence(40))
	a, stt, llm := newTestApp(t, testConfig(), det)
	stt.Chunks = nil // default script: single empty stop chunk

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()
	waitRunning(t, a)

	for range 60 {
		a.ProcessFrame(frame())
	}

	deadline := time.Now().Add(testTimeout)
	for stt.TranscribeCalls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("segment was never transcribed")
		}
		time.Sleep(time.Millisecond)
	}

	// Give the pipeline a moment; no text dispatch should follow.
	time.Sleep(50 * time.Millisecond)
	if llm.TextCalls() != 0 {
		t.Errorf("text calls = %d, want 0 for empty transcript", llm.TextCalls())
	}

	cancel()
	<-runDone
}

func TestAsk_WithoutLiveSessionDispatchesText(t *testing.T) {
	a, _, llm := newTestApp(t, testConfig(), vadmock.NewDetector(vadmock.Silence(1)))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	if err := a.Ask(ctx, "what time is it?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if llm.TextCalls() != 1 {
		t.Errorf("text calls = %d, want 1", llm.TextCalls())
	}
	if got := a.History().Len(); got != 1 {
		t.Errorf("recorded turns = %d, want 1", got)
	}

	select {
	case reply := <-a.Replies():
		if reply.Transcript != "what time is it?" {
			t.Errorf("transcript = %q, want the asked text", reply.Transcript)
		}
	default:
		t.Error("no reply emitted for Ask")
	}
}

func TestAnalyzeImage_UsesVisionPreference(t *testing.T) {
	a, _, llm := newTestApp(t, testConfig(), vadmock.NewDetector(vadmock.Silence(1)))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	text, err := a.AnalyzeImage(ctx, []byte{0x89, 0x50}, "image/png", "what is on screen?")
	if err != nil {
		t.Fatalf("AnalyzeImage: %v", err)
	}
	if !strings.Contains(text, "hi, how can I help?") {
		t.Errorf("answer = %q, want the scripted reply", text)
	}
	if llm.ImageCalls() != 1 {
		t.Errorf("image calls = %d, want 1", llm.ImageCalls())
	}
}

func TestNew_RejectsBadPreference(t *testing.T) {
	cfg := testConfig()
	cfg.Dispatch.Text.Primary = "not-a-ref"

	_, err := New(context.Background(), cfg, &Providers{
		VAD: vadmock.NewDetector(vadmock.Silence(1)),
	}, WithStore(ledger.NewMemoryStore()))
	if err == nil {
		t.Fatal("expected error for malformed model reference")
	}
}
