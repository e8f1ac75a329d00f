// Command lectern is the main entry point for the Lectern read-aloud server.
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
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/lectern/internal/app"
	"github.com/MrWong99/lectern/internal/config"
	"github.com/MrWong99/lectern/internal/document"
	"github.com/MrWong99/lectern/internal/health"
	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/pkg/synth"
	"github.com/MrWong99/lectern/pkg/synth/coqui"
	"github.com/MrWong99/lectern/pkg/synth/mock"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	docPath := flag.String("document", "", "path to the UTF-8 text document to read aloud")
	startPara := flag.Int("start", 0, "paragraph index to start reading from")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lectern: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lectern: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("lectern starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Document ──────────────────────────────────────────────────────────────
	if *docPath == "" {
		fmt.Fprintln(os.Stderr, "lectern: -document is required")
		return 1
	}
	source, err := loadDocument(*docPath)
	if err != nil {
		slog.Error("failed to load document", "path", *docPath, "err", err)
		return 1
	}

	// ── Synthesis backend ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	syn, err := reg.Create(cfg.Synthesis)
	if err != nil {
		slog.Error("failed to create synthesis backend", "backend", cfg.Synthesis.Backend, "err", err)
		return 1
	}
	slog.Info("synthesis backend created", "backend", cfg.Synthesis.Backend, "voice", cfg.Synthesis.VoiceID)

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

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, source, app.WithSynthesizer(syn))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(oldCfg, newCfg *config.Config) {
		applyConfigChange(logLevel, application, oldCfg, newCfg)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Metrics + health server ───────────────────────────────────────────────
	srv := newHTTPServer(cfg, application)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
		}
	}()

	printStartupSummary(cfg, source, *docPath)

	// ── Playback ──────────────────────────────────────────────────────────────
	application.Play(*startPara)
	slog.Info("reading aloud — press Ctrl+C to stop",
		"document", source.ID(), "start_paragraph", *startPara)

	exitCode := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exitCode = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exitCode = 1
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	slog.Info("goodbye")
	return exitCode
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the synthesis backends that ship with Lectern
// into reg. "coqui" targets a local Coqui TTS server; "mock" renders silent
// deterministic clips and exists for smoke tests without a model server.
func registerBuiltinBackends(reg *config.Registry) {
	reg.Register("coqui", func(sc config.SynthesisConfig) (synth.Synthesizer, error) {
		serverURL := optString(sc.Options, "server_url")
		if serverURL == "" {
			serverURL = "http://localhost:5002"
		}
		var opts []coqui.Option
		if lang := optString(sc.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(sc.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(serverURL, opts...)
	})

	reg.Register("mock", func(config.SynthesisConfig) (synth.Synthesizer, error) {
		return &mock.Synthesizer{}, nil
	})
}

// ── HTTP server ───────────────────────────────────────────────────────────────

// newHTTPServer builds the metrics/health endpoint server wrapped in the
// tracing middleware.
func newHTTPServer(cfg *config.Config, application *app.App) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(application.Checkers()...).Register(mux)

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	return &http.Server{
		Addr:    addr,
		Handler: observe.Middleware(observe.DefaultMetrics())(mux),
	}
}

// ── Document loading ──────────────────────────────────────────────────────────

// loadDocument reads a UTF-8 text file and splits it into paragraphs on blank
// lines. The file path doubles as the document's cache identity.
func loadDocument(path string) (document.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	var paragraphs []string
	for _, block := range strings.Split(text, "\n\n") {
		p := strings.TrimSpace(strings.ReplaceAll(block, "\n", " "))
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	if len(paragraphs) == 0 {
		return nil, errors.New("document contains no text")
	}

	return document.NewTextSource(path, paragraphs), nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, source document.Source, docPath string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Lectern — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Backend", cfg.Synthesis.Backend)
	printField("Voice", cfg.Synthesis.VoiceID)
	printField("Cache", string(cacheBackendOrDefault(cfg)))
	printField("Document", docPath)
	fmt.Printf("║  Paragraphs      : %-19d ║\n", source.ParagraphCount())
	if cfg.Server.ListenAddr != "" {
		printField("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(name, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", name, value)
}

func cacheBackendOrDefault(cfg *config.Config) config.CacheBackend {
	if cfg.Cache.Backend == "" {
		return config.CacheSQLite
	}
	return cfg.Cache.Backend
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger around a [slog.LevelVar] so the level
// can be raised or lowered on config reload without replacing the handler.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(h), lvl
}

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

// ── Config hot reload ─────────────────────────────────────────────────────────

// applyConfigChange applies the hot-reloadable parts of a config edit: log
// level immediately, voice and speed through the pipeline's rendition
// switch. Changes to the backend, listen address, cache, or pipeline bounds
// only log a restart hint.
func applyConfigChange(level *slog.LevelVar, application *app.App, oldCfg, newCfg *config.Config) {
	d := config.Diff(oldCfg, newCfg)

	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level updated", "level", d.NewLogLevel)
	}
	if d.VoiceChanged || d.SpeedChanged {
		application.SetRendition(newCfg.Synthesis.VoiceID, newCfg.Synthesis.Speed)
		slog.Info("rendition updated",
			"voice", newCfg.Synthesis.VoiceID, "speed", newCfg.Synthesis.Speed)
	}
	if d.RestartRequired {
		slog.Warn("config change requires a restart to take effect")
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a backend Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
