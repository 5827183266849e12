package energy

import (
	"encoding/binary"
	"testing"

	"github.com/auricle-audio/auricle/pkg/provider/vad"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := New(vad.Config{SampleRate: 16000, FrameSizeMs: 20})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

// frame produces a 20ms/16kHz mono frame filled with a constant amplitude.
func frame(amplitude int16) []byte {
	const samples = 320 // 16000 Hz * 20 ms
	out := make([]byte, samples*2)
	for i := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(amplitude))
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(vad.Config{FrameSizeMs: 20}); err == nil {
		t.Error("expected error for missing sample rate")
	}
	if _, err := New(vad.Config{SampleRate: 16000}); err == nil {
		t.Error("expected error for missing frame size")
	}
}

func TestClassify_WrongFrameSize(t *testing.T) {
	d := newTestDetector(t)
	if _, err := d.Classify(make([]byte, 10)); err == nil {
		t.Fatal("expected error for undersized frame")
	}
}

func TestClassify_SilenceVsSpeech(t *testing.T) {
	d := newTestDetector(t)

	dec, err := d.Classify(frame(0))
	if err != nil {
		t.Fatalf("Classify silence: %v", err)
	}
	if dec.Speech {
		t.Error("silent frame classified as speech")
	}

	// Loud frames should cross the threshold within a few frames of EMA warmup.
	var speechSeen bool
	for range 5 {
		dec, err = d.Classify(frame(16000))
		if err != nil {
			t.Fatalf("Classify loud: %v", err)
		}
		if dec.Speech {
			speechSeen = true
		}
	}
	if !speechSeen {
		t.Errorf("loud frames never classified as speech (prob=%v)", dec.Probability)
	}
}

func TestSetThreshold_Clamps(t *testing.T) {
	d := newTestDetector(t)
	d.SetThreshold(1.5)
	if got := d.Threshold(); got != 1.0 {
		t.Errorf("Threshold = %v, want clamped to 1.0", got)
	}
	d.SetThreshold(-0.2)
	if got := d.Threshold(); got != 0.0 {
		t.Errorf("Threshold = %v, want clamped to 0.0", got)
	}
}

func TestReset_ClearsSmoothing(t *testing.T) {
	d := newTestDetector(t)
	for range 10 {
		_, _ = d.Classify(frame(16000))
	}
	d.Reset()

	dec, err := d.Classify(frame(0))
	if err != nil {
		t.Fatalf("Classify after reset: %v", err)
	}
	if dec.Speech {
		t.Error("silence after Reset still classified as speech")
	}
}
