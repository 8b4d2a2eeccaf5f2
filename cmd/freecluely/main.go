// Command freecluely is the main entry point for the FreeCluely assistant
// server: the streaming chat engine, ambient suggestion pipeline, and live
// transcription core behind the overlay HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/K8rrik/FreeCluely/internal/assistant"
	"github.com/K8rrik/FreeCluely/internal/config"
	"github.com/K8rrik/FreeCluely/internal/health"
	"github.com/K8rrik/FreeCluely/internal/history"
	"github.com/K8rrik/FreeCluely/internal/observe"
	"github.com/K8rrik/FreeCluely/internal/resilience"
	"github.com/K8rrik/FreeCluely/internal/ui"
	"github.com/K8rrik/FreeCluely/pkg/provider/model"
	"github.com/K8rrik/FreeCluely/pkg/provider/model/gemini"
	"github.com/K8rrik/FreeCluely/pkg/provider/transcribe"
	"github.com/K8rrik/FreeCluely/pkg/provider/transcribe/deepgram"
)

// version is set at build time via -ldflags.
var version = "dev"

// defaultListenAddr is used when server.listen_addr is not configured. The
// overlay talks to the core over loopback only.
const defaultListenAddr = "127.0.0.1:8553"

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
			fmt.Fprintf(os.Stderr, "freecluely: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "freecluely: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}

	slog.Info("freecluely starting",
		"version", version,
		"config", *configPath,
		"listen_addr", listenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	chatProv, analysisProv, transcriber, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if chatProv == nil {
		slog.Error("no chat model provider configured — set providers.model in the config")
		return 1
	}

	// ── History store ─────────────────────────────────────────────────────────
	store, checkers, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open history store", "err", err)
		return 1
	}
	defer closeStore()
	checkers = append(checkers,
		health.ProviderChecker("model", chatProv != nil),
		health.ProviderChecker("transcribe", transcriber != nil),
	)

	// ── Assistant core ────────────────────────────────────────────────────────
	var srv *ui.Server
	mgr, err := assistant.New(assistant.Config{
		ChatProvider:     chatProv,
		AnalysisProvider: analysisProv,
		Transcriber:      transcriber,
		Transcription:    transcriptionConfig(cfg.Providers.Transcribe),
		Store:            store,
		Params:           chatParams(cfg),
		AnalysisParams:   analysisParams(cfg),
		Debounce:         cfg.Assistant.Debounce,
		SuggestionTTL:    cfg.Assistant.SuggestionTTL,
		OnEvent: func(e assistant.EventType) {
			if srv != nil {
				srv.Notify(e)
			}
		},
	})
	if err != nil {
		slog.Error("failed to initialise assistant", "err", err)
		return 1
	}
	defer mgr.Close()

	if err := mgr.Start(ctx); err != nil {
		slog.Error("failed to load history", "err", err)
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srvCfg := ui.Config{
		Addr:    listenAddr,
		Manager: mgr,
		Health:  health.New(version, checkers...),
	}
	if cfg.Server.TLS != nil {
		srvCfg.CertFile = cfg.Server.TLS.CertFile
		srvCfg.KeyFile = cfg.Server.TLS.KeyFile
	}
	srv, err = ui.New(srvCfg)
	if err != nil {
		slog.Error("failed to initialise http server", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(mgr, logLevel, old, new)
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg, listenAddr)
	slog.Info("server ready — press Ctrl+C to shut down")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with the
// server into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterModel("gemini", func(entry config.ProviderEntry) (model.Provider, error) {
		var opts []gemini.Option
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...)
	})

	reg.RegisterTranscribe("deepgram", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})
}

// buildProviders instantiates the configured providers. The analysis provider
// prefers the fast model and falls back to the chat model when the fast one
// errors or its circuit opens.
func buildProviders(cfg *config.Config, reg *config.Registry) (chatProv, analysisProv model.Provider, transcriber transcribe.Provider, err error) {
	if name := cfg.Providers.Model.Name; name != "" {
		chatProv, err = reg.CreateModel(cfg.Providers.Model)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create model provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "model", "name", name, "model", cfg.Providers.Model.Model)
	}

	analysisProv = chatProv
	if name := cfg.Providers.FastModel.Name; name != "" {
		fast, err := reg.CreateModel(cfg.Providers.FastModel)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create fast_model provider %q: %w", name, err)
		}
		fb := resilience.NewModelFallback(fast, "fast_model", resilience.FallbackConfig{})
		if chatProv != nil {
			fb.AddFallback("model", chatProv)
		}
		analysisProv = fb
		slog.Info("provider created", "kind", "fast_model", "name", name, "model", cfg.Providers.FastModel.Model)
	}

	if name := cfg.Providers.Transcribe.Name; name != "" {
		transcriber, err = reg.CreateTranscribe(cfg.Providers.Transcribe)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create transcribe provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "transcribe", "name", name, "model", cfg.Providers.Transcribe.Model)
	}

	return chatProv, analysisProv, transcriber, nil
}

// buildStore opens the configured history store. Postgres takes precedence
// over the JSON file; with neither configured, history is in-memory only.
func buildStore(ctx context.Context, cfg *config.Config) (history.Store, []health.Checker, func(), error) {
	switch {
	case cfg.History.PostgresDSN != "":
		pg, err := history.NewPostgresStore(ctx, cfg.History.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		slog.Info("history store opened", "backend", "postgres")
		return pg, []health.Checker{health.StoreChecker(pg)}, pg.Close, nil
	case cfg.History.Path != "":
		slog.Info("history store opened", "backend", "file", "path", cfg.History.Path)
		return history.NewFileStore(cfg.History.Path), nil, func() {}, nil
	default:
		slog.Info("history persistence disabled — sessions are in-memory only")
		return nil, nil, func() {}, nil
	}
}

// transcriptionConfig derives the stream settings from the provider entry's
// options block. Defaults match system loopback capture: 48 kHz mono.
func transcriptionConfig(entry config.ProviderEntry) transcribe.StreamConfig {
	sc := transcribe.StreamConfig{
		SampleRate: optInt(entry.Options, "sample_rate", 48000),
		Channels:   optInt(entry.Options, "channels", 1),
		Language:   optString(entry.Options, "language"),
	}
	return sc
}

func chatParams(cfg *config.Config) model.GenerationParams {
	return model.GenerationParams{
		Model:        cfg.Providers.Model.Model,
		SystemPrompt: assistant.BuildSystemPrompt(cfg.Assistant.SystemPrompt),
		Thinking: model.ThinkingConfig{
			IncludeThoughts: cfg.Assistant.Thinking,
		},
		EnableSearch: cfg.Assistant.Search,
	}
}

func analysisParams(cfg *config.Config) model.GenerationParams {
	m := cfg.Providers.FastModel.Model
	if m == "" {
		m = cfg.Providers.Model.Model
	}
	return model.GenerationParams{Model: m}
}

// applyConfigChange hot-applies a changed config file: log level and
// reconfigurable assistant settings. Everything else needs a restart.
func applyConfigChange(mgr *assistant.Manager, logLevel *slog.LevelVar, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AssistantChanged {
		if old.Assistant.Debounce != new.Assistant.Debounce ||
			old.Assistant.SuggestionTTL != new.Assistant.SuggestionTTL {
			slog.Warn("debounce and suggestion_ttl changes require a restart")
		}
		mgr.ApplySettings(chatParams(new))
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, listenAddr string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        FreeCluely — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Model", cfg.Providers.Model.Name, cfg.Providers.Model.Model)
	printProvider("Fast model", cfg.Providers.FastModel.Name, cfg.Providers.FastModel.Model)
	printProvider("Transcribe", cfg.Providers.Transcribe.Name, cfg.Providers.Transcribe.Model)
	switch {
	case cfg.History.PostgresDSN != "":
		fmt.Printf("║  History         : %-19s ║\n", "postgres")
	case cfg.History.Path != "":
		fmt.Printf("║  History         : %-19s ║\n", "file")
	default:
		fmt.Printf("║  History         : %-19s ║\n", "(in-memory)")
	}
	fmt.Printf("║  Listen addr     : %-19s ║\n", listenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	if v, ok := opts[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// whole numbers as int, so only that case is handled.
func optInt(opts map[string]any, key string, def int) int {
	if v, ok := opts[key]; ok {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return def
}
