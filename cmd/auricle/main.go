// Command auricle is the main entry point for the Auricle assistant core.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/auricle-audio/auricle/internal/app"
	"github.com/auricle-audio/auricle/internal/config"
	"github.com/auricle-audio/auricle/internal/observe"
	"github.com/auricle-audio/auricle/pkg/provider/ai"
	"github.com/auricle-audio/auricle/pkg/provider/ai/anyllm"
	"github.com/auricle-audio/auricle/pkg/provider/ai/openai"
	"github.com/auricle-audio/auricle/pkg/provider/ai/whisper"
	geminilive "github.com/auricle-audio/auricle/pkg/provider/live/gemini"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "auricle: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "auricle: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("auricle starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "auricle",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, closeProviders, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer closeProviders()

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── HTTP server: health + metrics ─────────────────────────────────────────
	var httpServer *http.Server
	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		application.HealthHandler().Register(mux)
		mux.Handle("GET /metrics", promhttp.Handler())

		httpServer = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "err", err)
			}
		}()
		slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
	}

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders instantiates all providers configured in cfg and returns
// them in an [app.Providers] struct, plus a cleanup function for providers
// that hold native resources.
func buildProviders(cfg *config.Config) (*app.Providers, func(), error) {
	ps := &app.Providers{AI: make(map[string]ai.Provider)}
	var closers []func()
	cleanup := func() {
		for _, fn := range closers {
			fn()
		}
	}

	if entry := cfg.Providers.OpenAI; entry.APIKey != "" {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		p, err := openai.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, cleanup, fmt.Errorf("create openai provider: %w", err)
		}
		ps.AI["openai"] = p
		slog.Info("provider created", "name", "openai", "model", entry.Model)
	}

	if entry := cfg.Providers.AnyLLM; entry.Backend != "" {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New(entry.Backend, entry.Model, opts...)
		if err != nil {
			return nil, cleanup, fmt.Errorf("create anyllm provider %q: %w", entry.Backend, err)
		}
		ps.AI["anyllm"] = p
		slog.Info("provider created", "name", "anyllm", "backend", entry.Backend, "model", entry.Model)
	}

	if entry := cfg.Providers.Whisper; entry.ModelPath != "" {
		var opts []whisper.Option
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		p, err := whisper.New(entry.ModelPath, opts...)
		if err != nil {
			return nil, cleanup, fmt.Errorf("create whisper provider: %w", err)
		}
		closers = append(closers, func() {
			if err := p.Close(); err != nil {
				slog.Warn("whisper close error", "err", err)
			}
		})
		ps.AI["whisper"] = p
		slog.Info("provider created", "name", "whisper", "model_path", entry.ModelPath)
	}

	if entry := cfg.Providers.Gemini; entry.APIKey != "" {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		ps.Live = geminilive.New(entry.APIKey, opts...)
		slog.Info("provider created", "name", "gemini_live", "model", entry.Model)
	}

	if len(ps.AI) == 0 {
		return nil, cleanup, errors.New("no AI providers configured")
	}
	return ps, cleanup, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
