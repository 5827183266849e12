// Package segmenter turns a continuous stream of PCM frames into discrete
// utterance segments.
//
// The engine is a small state machine driven entirely by ProcessFrame calls:
//
//	IDLE → LISTENING ⇄ RECORDING → LISTENING   (automatic mode)
//	IDLE → PAUSED ⇄ RECORDING → PAUSED         (manual mode)
//
// In automatic mode a pre-roll ring buffer holds the most recent frames so
// that the first phoneme of an utterance survives detector latency; a run of
// consecutive voiced frames opens a recording, a sustained silence gap closes
// it, and a hard duration ceiling bounds the buffer against a stuck-open
// microphone. Manual mode replaces voice-activated open/close with explicit
// Resume/Pause calls. Streaming deployments bypass buffering entirely and
// forward each frame downstream as it arrives.
//
// Timing decisions are derived from frame counts and the configured frame
// duration, not wall-clock reads, so behaviour is deterministic under test.
//
// The engine performs no blocking I/O. ProcessFrame never panics and never
// returns an error: malformed frames are logged and skipped. All methods are
// safe for concurrent use, though frames are expected to arrive from a single
// capture goroutine.
package segmenter

import (
	"log/slog"
	"sync"
	"time"

	"github.com/auricle-audio/auricle/pkg/provider/vad"
	"github.com/auricle-audio/auricle/pkg/types"
)

// State is the segmentation engine's lifecycle state.
type State int

const (
	// StateIdle means the engine has not been started (or has been stopped).
	StateIdle State = iota

	// StateListening means the engine is watching for speech onset (automatic
	// mode only).
	StateListening

	// StateRecording means an utterance is being buffered.
	StateRecording

	// StatePaused means the engine is running but the user has closed the
	// microphone (manual mode, or automatic mode after Pause).
	StatePaused
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Mode selects how recordings open and close.
type Mode int

const (
	// ModeAutomatic opens a recording on sustained voice activity and closes
	// it on sustained silence.
	ModeAutomatic Mode = iota

	// ModeManual opens a recording on Resume and closes it on Pause. The
	// microphone conceptually closes after each committed utterance.
	ModeManual
)

// Default engine tuning. All of these are empirically chosen starting points,
// overridable via Config; none is a hard requirement of correctness except
// MaxSegment, which bounds memory.
const (
	DefaultPreRollFrames    = 5
	DefaultVoiceStartFrames = 3
	DefaultPostRollFrames   = 10
	DefaultSilenceThreshold = 200 * time.Millisecond
	DefaultMinSegment       = 200 * time.Millisecond
	DefaultMaxSegment       = 20 * time.Second
)

// Adaptive threshold defaults. See adaptive.go.
const (
	DefaultAdaptiveWindow = 100
	DefaultRaiseAbove     = 0.80
	DefaultLowerBelow     = 0.05
	DefaultThresholdStep  = 0.05
	DefaultThresholdMin   = 0.25
	DefaultThresholdMax   = 0.85
)

// Config tunes an Engine. Zero-valued fields take the package defaults above.
type Config struct {
	// SampleRate is the PCM sample rate in Hz of incoming frames.
	SampleRate int

	// FrameSizeMs is the duration of each incoming frame in milliseconds.
	FrameSizeMs int

	// Mode selects automatic (voice-activated) or manual (user-toggled)
	// recording boundaries.
	Mode Mode

	// Streaming, when true, forwards every frame downstream immediately
	// instead of buffering segments. Selected per deployment, not per
	// utterance.
	Streaming bool

	// PreRollFrames is the number of frames retained before speech onset and
	// prepended to each segment.
	PreRollFrames int

	// VoiceStartFrames is the number of consecutive voiced frames required to
	// open a recording in automatic mode.
	VoiceStartFrames int

	// PostRollFrames caps the trailing silence frames kept on a committed
	// segment.
	PostRollFrames int

	// SilenceThreshold is the sustained-silence duration that closes a
	// recording.
	SilenceThreshold time.Duration

	// MinSegment is the minimum recorded speech duration for a commit;
	// shorter recordings that hit a silence gap are discarded as noise blips.
	MinSegment time.Duration

	// MaxSegment is the hard ceiling on recording duration. Reaching it
	// forces a commit regardless of silence state.
	MaxSegment time.Duration

	// DisableAdaptive turns off the adaptive threshold controller.
	DisableAdaptive bool

	// ThresholdMin and ThresholdMax bound the adaptive threshold. Zero
	// selects the package defaults.
	ThresholdMin float64
	ThresholdMax float64

	// ThresholdStep is the per-adjustment threshold delta.
	ThresholdStep float64

	// AdaptiveWindow is how many classifications feed one adjustment
	// decision.
	AdaptiveWindow int
}

func (c *Config) applyDefaults() {
	if c.PreRollFrames <= 0 {
		c.PreRollFrames = DefaultPreRollFrames
	}
	if c.VoiceStartFrames <= 0 {
		c.VoiceStartFrames = DefaultVoiceStartFrames
	}
	if c.PostRollFrames <= 0 {
		c.PostRollFrames = DefaultPostRollFrames
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.MinSegment <= 0 {
		c.MinSegment = DefaultMinSegment
	}
	if c.MaxSegment <= 0 {
		c.MaxSegment = DefaultMaxSegment
	}
	if c.ThresholdMin <= 0 {
		c.ThresholdMin = DefaultThresholdMin
	}
	if c.ThresholdMax <= 0 {
		c.ThresholdMax = DefaultThresholdMax
	}
	if c.ThresholdStep <= 0 {
		c.ThresholdStep = DefaultThresholdStep
	}
	if c.AdaptiveWindow <= 0 {
		c.AdaptiveWindow = DefaultAdaptiveWindow
	}
}

// CommitFunc receives each finalized utterance segment. It is invoked
// synchronously from ProcessFrame, exactly once per segment; implementations
// should hand the segment off quickly (e.g., into a dispatch goroutine).
type CommitFunc func(types.AudioSegment)

// StreamFunc receives individual frames in streaming deployments.
type StreamFunc func(types.AudioFrame)

// Engine is the speech segmentation state machine. Create one per audio
// stream with New.
type Engine struct {
	detector vad.Detector
	cfg      Config
	frameDur time.Duration
	commit   CommitFunc
	stream   StreamFunc

	mu       sync.Mutex
	state    State
	preRoll  [][]byte // ring of the last PreRollFrames frames before onset, oldest first
	onset    [][]byte // voiced frames of an unconfirmed onset run while LISTENING
	recorded [][]byte // frames of the open recording, pre-roll included

	voiceRun        int // consecutive voiced frames while LISTENING
	silenceRun      int // consecutive silent frames while RECORDING
	speechFrames    int // voiced frames in the open recording
	recordedFrames  int // frames appended since the recording opened (pre-roll excluded)
	recordingOpened time.Time

	adaptive *adaptiveThreshold
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithStreamFunc registers the downstream frame consumer used when
// Config.Streaming is set.
func WithStreamFunc(fn StreamFunc) Option {
	return func(e *Engine) { e.stream = fn }
}

// New creates an Engine in the IDLE state. commit receives finalized
// segments; it must be non-nil unless the engine runs in streaming mode.
func New(detector vad.Detector, cfg Config, commit CommitFunc, opts ...Option) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		detector: detector,
		cfg:      cfg,
		frameDur: time.Duration(cfg.FrameSizeMs) * time.Millisecond,
		commit:   commit,
		state:    StateIdle,
	}
	if !cfg.DisableAdaptive {
		e.adaptive = newAdaptiveThreshold(adaptiveConfig{
			window:     cfg.AdaptiveWindow,
			raiseAbove: DefaultRaiseAbove,
			lowerBelow: DefaultLowerBelow,
			step:       cfg.ThresholdStep,
			min:        cfg.ThresholdMin,
			max:        cfg.ThresholdMax,
		})
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start moves the engine out of IDLE: to LISTENING in automatic mode, or to
// PAUSED in manual mode (the user opens the mic explicitly via Resume).
// Start on a running engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return
	}
	if e.cfg.Mode == ModeManual {
		e.state = StatePaused
	} else {
		e.state = StateListening
	}
	e.detector.Reset()
	slog.Info("segmenter started",
		"mode", e.modeName(),
		"streaming", e.cfg.Streaming,
		"state", e.state.String(),
	)
}

// Stop force-commits any in-flight recording and returns the engine to IDLE.
// Audio is never silently dropped on shutdown.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateIdle {
		return
	}
	if e.state == StateRecording {
		e.commitLocked(false)
	}
	e.resetBuffersLocked()
	e.state = StateIdle
	slog.Info("segmenter stopped")
}

// Pause closes the microphone. Any in-flight recording is force-committed
// first so explicit user action never discards captured speech. Valid in both
// modes; a paused engine ignores frames until Resume.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateIdle, StatePaused:
		return
	case StateRecording:
		e.commitLocked(false)
	}
	e.state = StatePaused
	slog.Debug("segmenter paused")
}

// Resume opens the microphone after a Pause. In manual mode it moves directly
// to RECORDING — the user's explicit action is the speech trigger, so no
// voice-onset detection is required. In automatic mode it returns to
// LISTENING.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return
	}
	if e.cfg.Mode == ModeManual {
		e.openRecordingLocked()
	} else {
		e.state = StateListening
	}
	slog.Debug("segmenter resumed", "state", e.state.String())
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ProcessFrame feeds one captured frame into the state machine. It is a no-op
// in IDLE and PAUSED. Malformed frames are logged and skipped; ProcessFrame
// never interrupts the audio stream.
func (e *Engine) ProcessFrame(frame types.AudioFrame) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateIdle || e.state == StatePaused {
		return
	}

	// Streaming deployments trade segmentation for minimum latency: every
	// frame goes straight downstream, no buffering, no state transitions.
	if e.cfg.Streaming {
		if e.stream != nil {
			e.stream(frame)
		}
		return
	}

	dec, err := e.detector.Classify(frame.Data)
	if err != nil {
		slog.Warn("segmenter: dropping malformed frame",
			"err", err,
			"bytes", len(frame.Data),
		)
		return
	}

	if e.adaptive != nil {
		if next, ok := e.adaptive.observe(dec.Speech, e.detector.Threshold()); ok {
			e.detector.SetThreshold(next)
			slog.Debug("segmenter: adaptive threshold nudged",
				"threshold", next,
			)
		}
	}

	switch e.state {
	case StateListening:
		e.onListeningFrame(frame, dec)
	case StateRecording:
		e.onRecordingFrame(frame, dec)
	}
}

// onListeningFrame buffers pre-roll and watches for speech onset. Voiced
// frames are held aside in an onset run so they never evict pre-roll history:
// a committed segment keeps the full PreRollFrames frames that preceded the
// first voice-classified frame, when that many exist.
// Must be called with e.mu held.
func (e *Engine) onListeningFrame(frame types.AudioFrame, dec types.VADDecision) {
	if !dec.Speech {
		// A broken onset run was not speech after all; its frames rejoin
		// the ordinary pre-roll history in arrival order.
		for _, f := range e.onset {
			e.pushPreRollLocked(f)
		}
		e.onset = e.onset[:0]
		e.voiceRun = 0
		e.pushPreRollLocked(frame.Data)
		return
	}

	e.onset = append(e.onset, frame.Data)
	e.voiceRun++
	if e.voiceRun < e.cfg.VoiceStartFrames {
		return
	}

	// Speech confirmed: open the recording seeded with the pre-roll buffer
	// followed by the onset run, so the first phoneme is never lost to
	// detector latency.
	e.openRecordingLocked()
}

// onRecordingFrame appends the frame and applies the silence-closure and
// max-duration rules. Must be called with e.mu held.
func (e *Engine) onRecordingFrame(frame types.AudioFrame, dec types.VADDecision) {
	e.recorded = append(e.recorded, frame.Data)
	e.recordedFrames++

	if dec.Speech {
		e.speechFrames++
		e.silenceRun = 0
	} else {
		e.silenceRun++
	}

	segmentDur := time.Duration(e.recordedFrames) * e.frameDur
	silenceDur := time.Duration(e.silenceRun) * e.frameDur

	// Safety valve: a stuck-open microphone must not buffer unboundedly.
	if segmentDur >= e.cfg.MaxSegment {
		slog.Warn("segmenter: max segment duration reached, forcing commit",
			"duration", segmentDur,
		)
		e.commitLocked(true)
		return
	}

	if silenceDur < e.cfg.SilenceThreshold {
		return
	}

	speechDur := time.Duration(e.speechFrames) * e.frameDur
	if e.cfg.Mode == ModeAutomatic && speechDur < e.cfg.MinSegment {
		// A noise blip followed by silence: discard rather than dispatch.
		// Manual recordings are exempt — the user's explicit Resume implies
		// intent, so even a short take is committed.
		slog.Debug("segmenter: discarding sub-minimum recording",
			"speech", speechDur,
			"min", e.cfg.MinSegment,
		)
		e.resetBuffersLocked()
		e.state = StateListening
		return
	}

	e.commitLocked(true)
}

// openRecordingLocked transitions to RECORDING, seeding the segment with the
// pre-roll buffer followed by any onset run. Must be called with e.mu held.
func (e *Engine) openRecordingLocked() {
	e.recorded = e.recorded[:0]
	e.recorded = append(e.recorded, e.preRoll...)
	e.recorded = append(e.recorded, e.onset...)
	e.preRoll = e.preRoll[:0]
	e.onset = e.onset[:0]
	e.recordedFrames = 0
	// The onset frames that confirmed speech live in the seed; count them
	// toward the minimum-duration check.
	e.speechFrames = e.voiceRun
	e.silenceRun = 0
	e.voiceRun = 0
	e.recordingOpened = time.Now()
	e.state = StateRecording
}

// commitLocked finalizes the open recording into an AudioSegment, trims
// trailing silence down to the post-roll allowance, invokes the commit
// callback exactly once, and transitions to the mode's resting state.
// trimPostRoll is false for forced commits (Pause/Stop), where the trailing
// frames are user speech cut off mid-word, not detector silence.
// Must be called with e.mu held.
func (e *Engine) commitLocked(trimPostRoll bool) {
	frames := e.recorded
	if trimPostRoll && e.silenceRun > e.cfg.PostRollFrames {
		frames = frames[:len(frames)-(e.silenceRun-e.cfg.PostRollFrames)]
	}

	if len(frames) > 0 && e.commit != nil {
		var total int
		for _, f := range frames {
			total += len(f)
		}
		pcm := make([]byte, 0, total)
		for _, f := range frames {
			pcm = append(pcm, f...)
		}

		seg := types.AudioSegment{
			PCM:        pcm,
			SampleRate: e.cfg.SampleRate,
			Channels:   1,
			FrameCount: len(frames),
			Duration:   time.Duration(len(frames)) * e.frameDur,
			CapturedAt: e.recordingOpened,
		}
		slog.Info("segmenter: utterance committed",
			"frames", seg.FrameCount,
			"duration", seg.Duration,
		)
		e.commit(seg)
	}

	e.resetBuffersLocked()
	if e.cfg.Mode == ModeManual {
		e.state = StatePaused
	} else {
		e.state = StateListening
	}
}

// pushPreRollLocked appends a frame to the pre-roll ring, evicting the
// oldest when full. Must be called with e.mu held.
func (e *Engine) pushPreRollLocked(data []byte) {
	if len(e.preRoll) >= e.cfg.PreRollFrames {
		// Shift rather than reslice so evicted frames do not pin the
		// backing array for the stream's lifetime.
		copy(e.preRoll, e.preRoll[1:])
		e.preRoll = e.preRoll[:len(e.preRoll)-1]
	}
	e.preRoll = append(e.preRoll, data)
}

// resetBuffersLocked clears all per-recording state. Must be called with
// e.mu held.
func (e *Engine) resetBuffersLocked() {
	e.recorded = nil
	e.preRoll = e.preRoll[:0]
	e.onset = e.onset[:0]
	e.voiceRun = 0
	e.silenceRun = 0
	e.speechFrames = 0
	e.recordedFrames = 0
}

func (e *Engine) modeName() string {
	if e.cfg.Mode == ModeManual {
		return "manual"
	}
	return "automatic"
}
