// Command paperwave is the main entry point for the Paperwave research-paper
// assistant server.
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
	"golang.org/x/sync/errgroup"

	"github.com/paperwave/paperwave/internal/chat"
	"github.com/paperwave/paperwave/internal/config"
	"github.com/paperwave/paperwave/internal/health"
	"github.com/paperwave/paperwave/internal/library"
	"github.com/paperwave/paperwave/internal/observe"
	"github.com/paperwave/paperwave/internal/server"
	"github.com/paperwave/paperwave/internal/voice"
	"github.com/paperwave/paperwave/pkg/audio"
	"github.com/paperwave/paperwave/pkg/audio/bridge"
	geminilive "github.com/paperwave/paperwave/pkg/provider/live/gemini"
	"github.com/paperwave/paperwave/pkg/provider/llm"
	"github.com/paperwave/paperwave/pkg/provider/llm/anyllm"
	openaillm "github.com/paperwave/paperwave/pkg/provider/llm/openai"
)

// version is overridden at build time via -ldflags.
var version = "dev"

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
			fmt.Fprintf(os.Stderr, "paperwave: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "paperwave: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("paperwave starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "paperwave",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	llmProvider, err := buildLLMProvider(cfg)
	if err != nil {
		slog.Error("failed to build llm provider", "err", err)
		return 1
	}

	var liveOpts []geminilive.Option
	if cfg.Live.Model != "" {
		liveOpts = append(liveOpts, geminilive.WithModel(cfg.Live.Model))
	}
	if cfg.Live.BaseURL != "" {
		liveOpts = append(liveOpts, geminilive.WithBaseURL(cfg.Live.BaseURL))
	}
	liveProvider := geminilive.New(cfg.Live.APIKey, liveOpts...)

	// ── Voice pipeline ────────────────────────────────────────────────────────
	audioBridge := bridge.New()
	capture := audio.NewCapture(audioBridge,
		audio.WithCaptureRate(cfg.Audio.CaptureRate),
		audio.WithBlockSize(cfg.Audio.BlockSize),
	)
	scheduler := audio.NewScheduler(audioBridge, audioBridge,
		audio.WithDeviceRate(cfg.Audio.PlaybackRate),
	)
	manager := voice.NewManager(capture, scheduler, liveProvider,
		voice.WithVoice(cfg.Live.Voice),
	)

	// ── Application services ──────────────────────────────────────────────────
	fetcher := library.NewFetcher(llmProvider)
	agent := chat.NewAgent(llmProvider)

	healthHandler := health.New(
		health.NewChecker("llm", func(ctx context.Context) error {
			if llmProvider == nil {
				return errors.New("no llm provider configured")
			}
			return nil
		}),
		health.NewChecker("live", func(ctx context.Context) error {
			if cfg.Live.APIKey == "" {
				return errors.New("live api key not configured")
			}
			return nil
		}),
	)

	srv := server.New(fetcher, agent,
		server.WithVoiceManager(manager),
		server.WithVoiceStream(http.HandlerFunc(audioBridge.HandleWS)),
		server.WithHealth(healthHandler),
		server.WithPaperCounts(cfg.Papers.DefaultCount, cfg.Papers.MaxCount),
	)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")

		if err := manager.Deactivate(); err != nil {
			slog.Warn("voice teardown error", "err", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildLLMProvider constructs the configured LLM backend. OpenAI goes
// through the official SDK directly; every other provider name goes through
// any-llm. A missing provider section is not fatal: paper search and chat
// will refuse requests, but the voice pipeline still works.
func buildLLMProvider(cfg *config.Config) (llm.Provider, error) {
	if cfg.LLM.Provider == "" {
		slog.Warn("no llm provider configured — paper search and chat disabled")
		return nil, nil
	}

	var (
		p   llm.Provider
		err error
	)
	switch cfg.LLM.Provider {
	case "openai":
		apiKey := cfg.LLM.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		var opts []openaillm.Option
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, openaillm.WithBaseURL(cfg.LLM.BaseURL))
		}
		p, err = openaillm.New(apiKey, cfg.LLM.Model, opts...)
	default:
		var opts []anyllmlib.Option
		if cfg.LLM.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.LLM.APIKey))
		}
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.LLM.BaseURL))
		}
		p, err = anyllm.New(cfg.LLM.Provider, cfg.LLM.Model, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.LLM.Provider, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.LLM.Provider, "model", cfg.LLM.Model)
	return p, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Paperwave — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("LLM", joinNonEmpty(cfg.LLM.Provider, cfg.LLM.Model))
	printEntry("Live voice", joinNonEmpty(cfg.Live.Model, cfg.Live.Voice))
	printEntry("Capture", fmt.Sprintf("%d Hz / %d smp", cfg.Audio.CaptureRate, cfg.Audio.BlockSize))
	printEntry("Playback", fmt.Sprintf("%d Hz", cfg.Audio.PlaybackRate))
	printEntry("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEntry(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s   : %-19s ║\n", kind, value)
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " / " + b
	}
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
