// Package energy implements vad.Detector with an RMS-energy heuristic.
//
// The detector maps a frame's RMS energy onto a pseudo-probability via a
// smoothed sigmoid around the noise floor. It is intentionally simple: no
// model weights, no cgo, deterministic output — which makes it the default
// detector and the reference implementation for segmentation tests. The
// probability shape is compatible with model-backed detectors so the
// segmentation engine's adaptive threshold works unchanged against either.
package energy

import (
	"errors"
	"fmt"
	"math"

	"github.com/auricle-audio/auricle/pkg/audio"
	"github.com/auricle-audio/auricle/pkg/provider/vad"
	"github.com/auricle-audio/auricle/pkg/types"
)

// Compile-time assertion that Detector satisfies vad.Detector.
var _ vad.Detector = (*Detector)(nil)

const (
	defaultSpeechThreshold = 0.5
	defaultNoiseFloor      = 0.01

	// smoothing is the exponential moving average weight applied to the raw
	// per-frame probability. Dampens single-frame spikes from clicks and pops.
	smoothing = 0.7

	// sigmoidSteepness controls how sharply probability rises once energy
	// exceeds the noise floor.
	sigmoidSteepness = 80.0
)

// Detector is an energy-based vad.Detector. It is stateful (EMA smoothing)
// and must not be shared across goroutines.
type Detector struct {
	expectedBytes int
	noiseFloor    float64
	threshold     float64
	smoothed      float64
	primed        bool
}

// New creates an energy detector from cfg. SampleRate and FrameSizeMs are
// required; zero-valued thresholds fall back to package defaults.
func New(cfg vad.Config) (*Detector, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("energy: sample rate must be positive")
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, errors.New("energy: frame size must be positive")
	}
	threshold := cfg.SpeechThreshold
	if threshold == 0 {
		threshold = defaultSpeechThreshold
	}
	noiseFloor := cfg.NoiseFloor
	if noiseFloor == 0 {
		noiseFloor = defaultNoiseFloor
	}
	return &Detector{
		expectedBytes: cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
		noiseFloor:    noiseFloor,
		threshold:     threshold,
	}, nil
}

// Classify implements vad.Detector.
func (d *Detector) Classify(frame []byte) (types.VADDecision, error) {
	if len(frame) != d.expectedBytes {
		return types.VADDecision{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), d.expectedBytes)
	}

	rms := audio.RMSEnergy(frame)

	// Sigmoid centred on the noise floor: energy at the floor maps to 0.5
	// before smoothing, well below it tends to 0, well above tends to 1.
	raw := 1.0 / (1.0 + math.Exp(-sigmoidSteepness*(rms-d.noiseFloor)))

	if !d.primed {
		d.smoothed = raw
		d.primed = true
	} else {
		d.smoothed = smoothing*d.smoothed + (1-smoothing)*raw
	}

	speech := d.smoothed >= d.threshold && rms > d.noiseFloor
	return types.VADDecision{
		Speech:      speech,
		Probability: d.smoothed,
		Energy:      rms,
	}, nil
}

// SetThreshold implements vad.Detector.
func (d *Detector) SetThreshold(threshold float64) {
	d.threshold = math.Min(1.0, math.Max(0.0, threshold))
}

// Threshold implements vad.Detector.
func (d *Detector) Threshold() float64 { return d.threshold }

// Reset implements vad.Detector.
func (d *Detector) Reset() {
	d.smoothed = 0
	d.primed = false
}
