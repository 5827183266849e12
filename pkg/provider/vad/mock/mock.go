// Package mock provides a scriptable test double for the vad.Detector
// interface.
//
// Script the Detector with a sequence of per-frame decisions; once the script
// is exhausted the last decision repeats. Segmentation tests use this to
// drive exact voice/silence patterns without synthesising audio.
//
// Example:
//
//	det := mock.NewDetector(
//	    mock.Speech(10),  // ten voiced frames
//	    mock.Silence(15), // then fifteen silent frames
//	)
package mock

import (
	"sync"

	"github.com/auricle-audio/auricle/pkg/provider/vad"
	"github.com/auricle-audio/auricle/pkg/types"
)

// Compile-time assertion that Detector satisfies vad.Detector.
var _ vad.Detector = (*Detector)(nil)

// Speech returns n voiced decisions with probability 0.9.
func Speech(n int) []types.VADDecision {
	return repeat(types.VADDecision{Speech: true, Probability: 0.9, Energy: 0.3}, n)
}

// Silence returns n silent decisions with probability 0.05.
func Silence(n int) []types.VADDecision {
	return repeat(types.VADDecision{Speech: false, Probability: 0.05, Energy: 0.001}, n)
}

func repeat(d types.VADDecision, n int) []types.VADDecision {
	out := make([]types.VADDecision, n)
	for i := range out {
		out[i] = d
	}
	return out
}

// Detector is a mock vad.Detector that replays a scripted decision sequence.
type Detector struct {
	mu sync.Mutex

	// ClassifyErr, if non-nil, is returned by every Classify call.
	ClassifyErr error

	script    []types.VADDecision
	pos       int
	threshold float64

	// FrameCount is the number of Classify calls observed.
	FrameCount int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int
}

// NewDetector builds a Detector from one or more decision runs, concatenated
// in order. The initial threshold is 0.5.
func NewDetector(runs ...[]types.VADDecision) *Detector {
	var script []types.VADDecision
	for _, r := range runs {
		script = append(script, r...)
	}
	return &Detector{script: script, threshold: 0.5}
}

// Classify returns the next scripted decision. When the script is exhausted
// the final decision repeats; an empty script yields silence.
func (d *Detector) Classify(_ []byte) (types.VADDecision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.FrameCount++
	if d.ClassifyErr != nil {
		return types.VADDecision{}, d.ClassifyErr
	}
	if len(d.script) == 0 {
		return types.VADDecision{}, nil
	}
	dec := d.script[min(d.pos, len(d.script)-1)]
	if d.pos < len(d.script) {
		d.pos++
	}
	// Re-derive Speech from the live threshold so adaptive-threshold tests
	// observe the effect of SetThreshold.
	dec.Speech = dec.Probability >= d.threshold
	return dec, nil
}

// SetThreshold implements vad.Detector.
func (d *Detector) SetThreshold(threshold float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.threshold = threshold
}

// Threshold implements vad.Detector.
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// Reset implements vad.Detector. It rewinds the script.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pos = 0
	d.ResetCallCount++
}
