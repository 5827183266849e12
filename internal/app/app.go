// Package app wires all Auricle subsystems into a running assistant core.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the processing loops, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/auricle-audio/auricle/internal/config"
	"github.com/auricle-audio/auricle/internal/dispatch"
	"github.com/auricle-audio/auricle/internal/health"
	"github.com/auricle-audio/auricle/internal/history"
	"github.com/auricle-audio/auricle/internal/ledger"
	"github.com/auricle-audio/auricle/internal/ledger/postgres"
	livemgr "github.com/auricle-audio/auricle/internal/live"
	"github.com/auricle-audio/auricle/internal/observe"
	"github.com/auricle-audio/auricle/internal/segmenter"
	"github.com/auricle-audio/auricle/pkg/provider/ai"
	liveprov "github.com/auricle-audio/auricle/pkg/provider/live"
	"github.com/auricle-audio/auricle/pkg/provider/vad"
	"github.com/auricle-audio/auricle/pkg/provider/vad/energy"
	"github.com/auricle-audio/auricle/pkg/types"
)

// Providers holds one value per provider slot. Nil (or empty) means the slot
// is not configured. Populated by main.go from the config.
type Providers struct {
	// AI maps dispatcher registry names ("openai", "anyllm", "whisper") to
	// task providers.
	AI map[string]ai.Provider

	// Live is the duplex session provider. Nil disables live mode.
	Live liveprov.Provider

	// VAD overrides the energy detector built from config. Nil builds one.
	VAD vad.Detector
}

// Reply is one completed segment-to-response exchange emitted on
// [App.Replies].
type Reply struct {
	// Transcript is the user-side text the reply answers.
	Transcript string

	// Text is the model's full response.
	Text string

	// Ref identifies the model that produced Text.
	Ref types.ModelRef
}

// App owns all subsystem lifetimes and orchestrates the capture → segment →
// transcribe → respond pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	store      ledger.Store
	usage      *ledger.Ledger
	dispatcher *dispatch.Dispatcher
	turns      *history.Buffer
	seg        *segmenter.Engine
	manager    *livemgr.Manager
	metrics    *observe.Metrics

	textPref   types.DispatchPreference
	visionPref types.DispatchPreference
	audioPref  types.DispatchPreference

	replies chan Reply

	// runCtx bounds segment-processing goroutines; set by Run.
	mu     sync.Mutex
	runCtx context.Context
	wg     sync.WaitGroup

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a ledger store instead of creating one from config.
func WithStore(s ledger.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics instance instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go. Use Option functions to inject test doubles.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		replies:   make(chan Reply, 16),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initLedger(ctx); err != nil {
		return nil, fmt.Errorf("app: init ledger: %w", err)
	}
	if err := a.initDispatch(); err != nil {
		return nil, fmt.Errorf("app: init dispatch: %w", err)
	}
	a.initHistory()
	if err := a.initSegmenter(); err != nil {
		return nil, fmt.Errorf("app: init segmenter: %w", err)
	}
	a.initLive()

	return a, nil
}

// initLedger sets up the usage ledger over a durable or in-memory store.
func (a *App) initLedger(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Ledger.PostgresDSN; dsn != "" {
			store, err := postgres.NewStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.store = store
			a.closers = append(a.closers, func() error {
				store.Close()
				return nil
			})
		} else {
			slog.Warn("ledger.postgres_dsn not set, usage counters will not survive a restart")
			a.store = ledger.NewMemoryStore()
		}
	}

	limits := make(map[string]types.ModelLimits, len(a.cfg.Ledger.Limits))
	for key, entry := range a.cfg.Ledger.Limits {
		limits[key] = entry.ModelLimits()
	}

	var lopts []ledger.Option
	if a.cfg.Ledger.SafetyMargin > 0 {
		lopts = append(lopts, ledger.WithSafetyMargin(a.cfg.Ledger.SafetyMargin))
	}
	a.usage = ledger.New(a.store, limits, lopts...)
	return nil
}

// initDispatch builds the dispatcher, registers providers, and parses the
// per-task model preferences.
func (a *App) initDispatch() error {
	a.dispatcher = dispatch.New(a.usage)
	for name, p := range a.providers.AI {
		a.dispatcher.Register(name, p)
		slog.Info("registered provider", "name", name)
	}

	var err error
	if a.textPref, err = a.cfg.Dispatch.Text.Preference(); err != nil {
		return fmt.Errorf("dispatch.text: %w", err)
	}
	if a.visionPref, err = a.cfg.Dispatch.Vision.Preference(); err != nil {
		return fmt.Errorf("dispatch.vision: %w", err)
	}
	if a.audioPref, err = a.cfg.Dispatch.Audio.Preference(); err != nil {
		return fmt.Errorf("dispatch.audio: %w", err)
	}
	return nil
}

// initHistory creates the bounded conversation buffer.
func (a *App) initHistory() {
	maxAge := time.Duration(a.cfg.History.MaxAgeMinutes) * time.Minute
	a.turns = history.New(a.cfg.History.MaxTurns, maxAge)
}

// initSegmenter builds the VAD detector and the segmentation engine.
func (a *App) initSegmenter() error {
	det := a.providers.VAD
	if det == nil {
		d, err := energy.New(vad.Config{
			SampleRate:      a.cfg.Audio.SampleRate,
			FrameSizeMs:     a.cfg.Audio.FrameMs,
			SpeechThreshold: a.cfg.Segmenter.VAD.SpeechThreshold,
			NoiseFloor:      a.cfg.Segmenter.VAD.NoiseFloor,
		})
		if err != nil {
			return fmt.Errorf("create detector: %w", err)
		}
		det = d
	}

	mode := segmenter.ModeAutomatic
	if a.cfg.Segmenter.Mode == config.ModeManual {
		mode = segmenter.ModeManual
	}

	segCfg := segmenter.Config{
		SampleRate:       a.cfg.Audio.SampleRate,
		FrameSizeMs:      a.cfg.Audio.FrameMs,
		Mode:             mode,
		Streaming:        a.cfg.Segmenter.Streaming,
		PreRollFrames:    a.cfg.Segmenter.PreRollFrames,
		VoiceStartFrames: a.cfg.Segmenter.VoiceStartFrames,
		PostRollFrames:   a.cfg.Segmenter.PostRollFrames,
		SilenceThreshold: time.Duration(a.cfg.Segmenter.SilenceThresholdMs) * time.Millisecond,
		MinSegment:       time.Duration(a.cfg.Segmenter.MinSegmentMs) * time.Millisecond,
		MaxSegment:       time.Duration(a.cfg.Segmenter.MaxSegmentS) * time.Second,
		DisableAdaptive:  a.cfg.Segmenter.Adaptive.Disabled,
		ThresholdMin:     a.cfg.Segmenter.Adaptive.Min,
		ThresholdMax:     a.cfg.Segmenter.Adaptive.Max,
		ThresholdStep:    a.cfg.Segmenter.Adaptive.Step,
		AdaptiveWindow:   a.cfg.Segmenter.Adaptive.WindowFrames,
	}

	a.seg = segmenter.New(det, segCfg, a.handleSegment,
		segmenter.WithStreamFunc(a.forwardFrame))
	return nil
}

// initLive creates the session continuity manager when a live provider is
// configured.
func (a *App) initLive() {
	if a.providers.Live == nil {
		return
	}

	var opts []livemgr.Option
	if n := a.cfg.Live.MaxAttempts; n > 0 {
		opts = append(opts, livemgr.WithMaxAttempts(n))
	}
	if ms := a.cfg.Live.RetryDelayMs; ms > 0 {
		opts = append(opts, livemgr.WithRetryDelay(time.Duration(ms)*time.Millisecond))
	}
	if n := a.cfg.Live.PrimingTurns; n > 0 {
		opts = append(opts, livemgr.WithPrimingTurns(n))
	}
	a.manager = livemgr.NewManager(a.providers.Live, a.turns, opts...)
}

// Run starts the processing loops and blocks until ctx is cancelled. When a
// live provider is configured the duplex session is established first; a
// failed initial connect aborts Run.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	a.runCtx = ctx
	a.mu.Unlock()

	a.seg.Start()
	defer a.seg.Stop()

	g, ctx := errgroup.WithContext(ctx)

	if a.manager != nil {
		if err := a.manager.Initialize(ctx, liveprov.SessionConfig{
			Instructions: a.cfg.Live.Instructions,
			SampleRate:   a.cfg.Audio.SampleRate,
		}); err != nil {
			return fmt.Errorf("app: open live session: %w", err)
		}
		a.metrics.ActiveSessions.Add(ctx, 1)
		defer a.metrics.ActiveSessions.Add(context.Background(), -1)

		g.Go(func() error { return a.watchEvents(ctx) })
		g.Go(func() error { return a.watchTranscripts(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()
		if a.manager != nil {
			if err := a.manager.Close(); err != nil {
				slog.Warn("live session close error", "error", err)
			}
		}
		return ctx.Err()
	})

	slog.Info("app running",
		"mode", string(a.cfg.Segmenter.Mode),
		"streaming", a.cfg.Segmenter.Streaming,
		"live", a.manager != nil,
		"providers", a.dispatcher.Providers())

	err := g.Wait()
	a.wg.Wait()
	return err
}

// watchEvents drains continuity events, logging and counting them.
func (a *App) watchEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-a.manager.Events():
			if !ok {
				return nil
			}
			switch ev.Kind {
			case livemgr.EventReconnecting:
				slog.Info("live session reconnecting",
					"attempt", ev.Attempt, "max_attempts", ev.MaxAttempts)
				a.metrics.RecordReconnectAttempt(ctx, "started")
			case livemgr.EventReconnected:
				slog.Info("live session reconnected")
				a.metrics.RecordReconnectAttempt(ctx, "reconnected")
			case livemgr.EventReconnectFailed:
				slog.Error("live session recovery exhausted", "error", ev.Err)
				a.metrics.RecordReconnectAttempt(ctx, "failed")
			case livemgr.EventConnected:
				slog.Info("live session connected")
			}
		}
	}
}

// watchTranscripts forwards completed model turns from the live session to
// the replies channel. Turn recording happens inside the manager.
func (a *App) watchTranscripts(ctx context.Context) error {
	var pending strings.Builder
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr, ok := <-a.manager.Transcripts():
			if !ok {
				return nil
			}
			if tr.Source != liveprov.SourceModel {
				continue
			}
			pending.WriteString(tr.Text)
			if !tr.TurnComplete {
				continue
			}
			a.deliver(ctx, Reply{Text: pending.String()})
			pending.Reset()
		}
	}
}

// ProcessFrame feeds one captured PCM frame into the segmentation engine.
// Call from the audio capture loop.
func (a *App) ProcessFrame(frame types.AudioFrame) {
	a.seg.ProcessFrame(frame)
}

// Pause suspends segmentation (manual-mode mic close). A recording in
// progress is committed.
func (a *App) Pause() { a.seg.Pause() }

// Resume re-opens segmentation after Pause (manual-mode mic open).
func (a *App) Resume() { a.seg.Resume() }

// Replies emits one entry per completed exchange, in order.
func (a *App) Replies() <-chan Reply { return a.replies }

// History returns the conversation buffer.
func (a *App) History() *history.Buffer { return a.turns }

// Dispatcher returns the task dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// HealthHandler builds the readiness handler over the app's dependencies.
func (a *App) HealthHandler() *health.Handler {
	return health.New(
		health.PingCheck("ledger", a.store),
		health.ProvidersCheck(a.dispatcher),
	)
}

// forwardFrame pushes one frame into the open duplex session. Used in
// streaming deployments.
func (a *App) forwardFrame(frame types.AudioFrame) {
	if a.manager == nil {
		return
	}
	if err := a.manager.SendAudio(frame.Data); err != nil {
		slog.Debug("drop streamed frame", "error", err)
	}
}

// handleSegment receives committed segments from the engine. It hands each
// one to a processing goroutine so the capture loop is never blocked on
// provider latency.
func (a *App) handleSegment(seg types.AudioSegment) {
	a.mu.Lock()
	ctx := a.runCtx
	a.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		slog.Debug("drop segment, app not running", "duration", seg.Duration)
		return
	}

	a.metrics.SegmentDuration.Record(ctx, seg.Duration.Seconds())
	a.metrics.SegmentsCommitted.Add(ctx, 1,
		metric.WithAttributes(observe.Attr("mode", string(a.cfg.Segmenter.Mode))))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.processSegment(ctx, seg)
	}()
}

// processSegment runs the transcribe → respond pipeline for one committed
// segment and records the completed turn.
func (a *App) processSegment(ctx context.Context, seg types.AudioSegment) {
	ctx, span := observe.StartSpan(ctx, "pipeline.segment")
	defer span.End()
	start := time.Now()

	transcript, err := a.transcribe(ctx, seg)
	if err != nil {
		slog.Error("transcription failed", "duration", seg.Duration, "error", err)
		return
	}
	if strings.TrimSpace(transcript) == "" {
		slog.Debug("empty transcript, skipping response", "duration", seg.Duration)
		return
	}

	reply, ref, err := a.respond(ctx, transcript)
	if err != nil {
		slog.Error("response generation failed", "transcript", transcript, "error", err)
		return
	}

	a.turns.Add(types.ConversationTurn{
		Transcription: transcript,
		Response:      reply,
	})
	a.metrics.DispatchDuration.Record(ctx, time.Since(start).Seconds())

	a.deliver(ctx, Reply{Transcript: transcript, Text: reply, Ref: ref})
}

// transcribe dispatches the segment as an audio task and collects the text.
func (a *App) transcribe(ctx context.Context, seg types.AudioSegment) (string, error) {
	res, err := a.dispatcher.Dispatch(ctx, dispatch.Task{
		Kind: types.TaskAudio,
		Audio: ai.AudioRequest{
			Segment:  seg,
			Language: a.cfg.Providers.Whisper.Language,
		},
	}, a.audioPref)
	if err != nil {
		return "", err
	}

	text, err := collect(res.Stream)
	a.recordOutcome(ctx, res.Ref, "audio", err)
	return text, err
}

// respond dispatches the transcript as a text task with the recent
// conversation as context.
func (a *App) respond(ctx context.Context, transcript string) (string, types.ModelRef, error) {
	res, err := a.dispatcher.Dispatch(ctx, dispatch.Task{
		Kind: types.TaskText,
		Text: ai.TextRequest{
			Prompt:       transcript,
			History:      a.turns.Recent(history.DefaultPrimingTurns),
			SystemPrompt: a.cfg.Live.Instructions,
		},
	}, a.textPref)
	if err != nil {
		return "", types.ModelRef{}, err
	}

	if res.Ref != a.textPref.Primary {
		a.metrics.DispatchFallbacks.Add(ctx, 1)
	}

	text, err := collect(res.Stream)
	a.recordOutcome(ctx, res.Ref, "text", err)
	return text, res.Ref, err
}

// AnalyzeImage dispatches a screen capture as a vision task and returns the
// model's full answer.
func (a *App) AnalyzeImage(ctx context.Context, image []byte, mimeType, prompt string) (string, error) {
	res, err := a.dispatcher.Dispatch(ctx, dispatch.Task{
		Kind: types.TaskVision,
		Image: ai.ImageRequest{
			Image:    image,
			MIMEType: mimeType,
			Prompt:   prompt,
		},
	}, a.visionPref)
	if err != nil {
		return "", err
	}

	text, err := collect(res.Stream)
	a.recordOutcome(ctx, res.Ref, "vision", err)
	return text, err
}

// Ask submits typed user input. With an open duplex session the text goes
// over the session; otherwise it is dispatched as a regular text task and
// the reply is emitted on Replies.
func (a *App) Ask(ctx context.Context, text string) error {
	if a.manager != nil && a.manager.State() == livemgr.StateOpen {
		return a.manager.SendText(text)
	}

	reply, ref, err := a.respond(ctx, text)
	if err != nil {
		return err
	}
	a.turns.Add(types.ConversationTurn{Transcription: text, Response: reply})
	a.deliver(ctx, Reply{Transcript: text, Text: reply, Ref: ref})
	return nil
}

// deliver pushes a reply without blocking past ctx cancellation.
func (a *App) deliver(ctx context.Context, r Reply) {
	select {
	case a.replies <- r:
	case <-ctx.Done():
	}
}

// recordOutcome updates provider request/error counters for one stream.
func (a *App) recordOutcome(ctx context.Context, ref types.ModelRef, task string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		a.metrics.RecordProviderError(ctx, ref.String(), task)
	}
	a.metrics.RecordProviderRequest(ctx, ref.String(), task, status)
}

// collect drains a chunk stream into its concatenated text. A terminal error
// chunk becomes the returned error; partial text is still returned.
func collect(stream <-chan ai.Chunk) (string, error) {
	var (
		b    strings.Builder
		errs []error
	)
	for chunk := range stream {
		b.WriteString(chunk.Text)
		if chunk.Err != nil {
			errs = append(errs, chunk.Err)
		}
	}
	return b.String(), errors.Join(errs...)
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.seg.Stop()
		if a.manager != nil {
			if err := a.manager.Close(); err != nil {
				slog.Warn("live session close error", "error", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
