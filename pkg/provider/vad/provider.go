// Package vad defines the Detector interface for frame-level voice activity
// classification.
//
// A detector wraps a speech classifier (an energy heuristic, WebRTC VAD, or a
// full model) and surfaces it as a stateful per-stream instance. Each detector
// maintains its own internal state (smoothing history, noise floor estimate)
// so that multiple concurrent audio streams can be classified independently.
//
// Detection is synchronous by design: Classify returns immediately with a
// decision, making it suitable for the low-latency segmentation loop that
// gates dispatch. A single Detector must not be shared across goroutines
// unless the implementation explicitly documents thread safety.
package vad

import "github.com/auricle-audio/auricle/pkg/types"

// Config holds the parameters for a detector instance.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to Classify. Common values: 8000, 16000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// Classify returns an error when a frame does not match this size.
	FrameSizeMs int

	// SpeechThreshold is the probability above which a frame is classified as
	// speech. Range: [0.0, 1.0]. Higher values reduce false positives at the
	// cost of increased speech-start latency. Typical: 0.5.
	SpeechThreshold float64

	// NoiseFloor is the RMS energy below which a frame is always treated as
	// silence regardless of probability. Range: [0.0, 1.0]. Typical: 0.01.
	NoiseFloor float64
}

// Detector classifies individual PCM frames as speech or silence.
//
// SetThreshold exists so the segmentation engine can apply its adaptive
// threshold nudges without recreating the detector.
type Detector interface {
	// Classify analyses a single s16le PCM frame and returns the decision.
	// Returns an error if the frame size is wrong or the detector has been
	// closed. It must not block.
	Classify(frame []byte) (types.VADDecision, error)

	// SetThreshold replaces the active speech-probability threshold.
	// Values are clamped to [0.0, 1.0].
	SetThreshold(threshold float64)

	// Threshold returns the active speech-probability threshold.
	Threshold() float64

	// Reset clears accumulated state (smoothing history, counters) without
	// closing the detector. Use when the audio stream restarts.
	Reset()
}
