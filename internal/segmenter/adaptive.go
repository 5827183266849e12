package segmenter

// adaptiveConfig tunes the adaptive threshold controller.
type adaptiveConfig struct {
	// window is the number of recent frames the speech-rate is measured over.
	window int

	// raiseAbove is the speech-rate above which the threshold is nudged up
	// (probable false positives from sustained noise).
	raiseAbove float64

	// lowerBelow is the speech-rate below which the threshold is nudged down
	// (probable under-sensitivity in a very quiet environment).
	lowerBelow float64

	// step is the nudge magnitude.
	step float64

	// min and max bound the threshold so a pathological environment can
	// never drive it somewhere unrecoverable.
	min, max float64
}

// adaptiveThreshold tracks the speech-classification rate over a rolling
// frame window and proposes bounded threshold adjustments. A fixed threshold
// drifts badly wrong in noisy or very quiet rooms; this keeps it sane without
// requiring per-deployment calibration.
//
// Not safe for concurrent use; the engine calls it under its own lock.
type adaptiveThreshold struct {
	cfg        adaptiveConfig
	ring       []bool
	pos        int
	filled     int
	speech     int
	sinceNudge int
}

func newAdaptiveThreshold(cfg adaptiveConfig) *adaptiveThreshold {
	return &adaptiveThreshold{
		cfg:  cfg,
		ring: make([]bool, cfg.window),
	}
}

// observe records one classification and returns (newThreshold, true) when a
// nudge should be applied to the detector. Nudges happen at most once per
// window of frames so a single adjustment can take effect before the next is
// considered.
func (a *adaptiveThreshold) observe(speech bool, current float64) (float64, bool) {
	if a.filled == len(a.ring) && a.ring[a.pos] {
		a.speech--
	}
	a.ring[a.pos] = speech
	if speech {
		a.speech++
	}
	a.pos = (a.pos + 1) % len(a.ring)
	if a.filled < len(a.ring) {
		a.filled++
	}
	a.sinceNudge++

	if a.filled < len(a.ring) || a.sinceNudge < len(a.ring) {
		return 0, false
	}

	rate := float64(a.speech) / float64(a.filled)
	switch {
	case rate > a.cfg.raiseAbove && current < a.cfg.max:
		a.sinceNudge = 0
		return clamp(current+a.cfg.step, a.cfg.min, a.cfg.max), true
	case rate < a.cfg.lowerBelow && current > a.cfg.min:
		a.sinceNudge = 0
		return clamp(current-a.cfg.step, a.cfg.min, a.cfg.max), true
	}
	return 0, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
