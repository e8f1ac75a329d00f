// Package app wires all Lectern subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the playback loop, and Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithSynthesizer,
// WithStore, WithWordHandler). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/lectern/internal/align"
	"github.com/MrWong99/lectern/internal/aligncache"
	"github.com/MrWong99/lectern/internal/aligncache/postgres"
	"github.com/MrWong99/lectern/internal/aligncache/sqlite"
	"github.com/MrWong99/lectern/internal/config"
	"github.com/MrWong99/lectern/internal/document"
	"github.com/MrWong99/lectern/internal/health"
	"github.com/MrWong99/lectern/internal/highlight"
	"github.com/MrWong99/lectern/internal/pipeline"
	"github.com/MrWong99/lectern/internal/resilience"
	"github.com/MrWong99/lectern/pkg/synth"
)

// App owns all subsystem lifetimes and orchestrates the read-aloud pipeline.
type App struct {
	cfg    *config.Config
	source document.Source

	// Subsystems — initialised in New, torn down in Shutdown.
	syn     synth.Synthesizer
	engine  *align.Engine
	store   aligncache.Store
	cache   *aligncache.Cache
	queue   *pipeline.ReadyQueue
	tracker *highlight.Tracker
	onWord  func(highlight.Event)

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSynthesizer injects the synthesis backend. Required unless main has
// built one through the config registry.
func WithSynthesizer(s synth.Synthesizer) Option {
	return func(a *App) { a.syn = s }
}

// WithStore injects a durable alignment store instead of opening one from
// config.
func WithStore(s aligncache.Store) Option {
	return func(a *App) { a.store = s }
}

// WithAlignEngine injects an alignment engine instead of the default.
func WithAlignEngine(e *align.Engine) Option {
	return func(a *App) { a.engine = e }
}

// WithWordHandler replaces the default slog word-event handler. The handler
// is called from the tracker goroutine and must not block.
func WithWordHandler(fn func(highlight.Event)) Option {
	return func(a *App) { a.onWord = fn }
}

// New creates an App by wiring all subsystems together. The synthesizer
// comes from main (built via the config registry) or from WithSynthesizer.
func New(ctx context.Context, cfg *config.Config, source document.Source, opts ...Option) (*App, error) {
	a := &App{
		cfg:    cfg,
		source: source,
		onWord: defaultWordHandler,
	}
	for _, o := range opts {
		o(a)
	}

	if a.syn == nil {
		return nil, errors.New("app: no synthesizer configured")
	}
	if len(cfg.Synthesis.FallbackVoices) > 0 {
		a.syn = resilience.NewVoiceFallback(a.syn, cfg.Synthesis.FallbackVoices...)
	}

	if a.engine == nil {
		a.engine = align.NewEngine()
	}

	if err := a.initCache(ctx); err != nil {
		return nil, fmt.Errorf("app: init cache: %w", err)
	}

	a.queue = pipeline.New(a.source, a.syn, a.engine, a.cache, pipeline.Config{
		VoiceID:              cfg.Synthesis.VoiceID,
		Speed:                cfg.Synthesis.Speed,
		MaxSentenceLookahead: cfg.Pipeline.MaxSentenceLookahead,
		MaxParagraphWindow:   cfg.Pipeline.MaxParagraphWindow,
		MaxBufferBytes:       cfg.Pipeline.MaxBufferBytes,
		MaxRetries:           cfg.Pipeline.MaxRetries,
		Workers:              cfg.Pipeline.Workers,
	})
	a.closers = append(a.closers, func() error {
		a.queue.Close()
		return nil
	})

	a.tracker = highlight.New(a.onWord)
	a.closers = append(a.closers, func() error {
		a.tracker.Close()
		return nil
	})

	return a, nil
}

// initCache opens the durable alignment store selected by config and builds
// the two-tier cache over it. An injected store takes precedence.
func (a *App) initCache(ctx context.Context) error {
	if a.store == nil {
		switch a.cfg.Cache.Backend {
		case config.CachePostgres:
			store, err := postgres.NewStore(ctx, a.cfg.Cache.PostgresDSN)
			if err != nil {
				return err
			}
			a.store = store

		case config.CacheNone:
			// Memory-only; alignments are recomputed after restart.

		default: // sqlite
			if a.cfg.Cache.Path == "" {
				slog.Warn("cache.path is empty, running memory-only")
				break
			}
			store, err := sqlite.Open(a.cfg.Cache.Path)
			if err != nil {
				return err
			}
			a.store = store
		}
	}

	if a.store != nil {
		store := a.store
		a.closers = append(a.closers, store.Close)
	}
	a.cache = aligncache.New(a.store)
	return nil
}

// Play begins (or restarts) playback at the given paragraph.
func (a *App) Play(paragraph int) {
	a.queue.StartFrom(paragraph)
}

// Stop halts playback and releases all buffered synthesis state.
func (a *App) Stop() {
	a.queue.Stop()
	a.tracker.Pause()
}

// SetHighlightEnabled toggles word-highlight events without touching
// playback.
func (a *App) SetHighlightEnabled(enabled bool) {
	a.tracker.SetEnabled(enabled)
}

// SetRendition switches the synthesis voice and speed. Audio buffered for
// the old rendition is discarded; playback resumes at the current position.
func (a *App) SetRendition(voiceID string, speed float64) {
	a.queue.SetRendition(voiceID, speed)
}

// Checkers returns the readiness checks for this deployment: the durable
// alignment store (when one is configured) and the synthesis backend.
func (a *App) Checkers() []health.Checker {
	checkers := []health.Checker{health.SynthChecker(a.syn)}
	if a.store != nil {
		checkers = append(checkers, health.CacheChecker(a.store))
	}
	return checkers
}

// Run executes the playback loop until the document ends, playback is
// stopped, or ctx is cancelled. Call Play first to position the pipeline.
//
// Device audio routing lives outside this module, so Run paces consumption
// at real time instead: it sleeps for each chunk's acoustic length, which
// makes highlight events fire at the moments a real audio sink would reach
// them.
func (a *App) Run(ctx context.Context) error {
	for {
		s, err := a.queue.NextReady(ctx)
		switch {
		case err == nil:
		case errors.Is(err, pipeline.ErrEndOfDocument):
			slog.Info("document finished", "document", a.source.ID())
			return nil
		case errors.Is(err, pipeline.ErrStopped), errors.Is(err, pipeline.ErrClosed):
			return nil
		default:
			return err
		}

		if s.Err != nil {
			slog.Warn("sentence failed, skipping",
				"paragraph", s.Key.Paragraph, "sentence", s.Key.Sentence, "err", s.Err)
			continue
		}
		if s.Empty {
			continue
		}

		slog.Debug("playing sentence",
			"paragraph", s.Key.Paragraph, "sentence", s.Key.Sentence, "text", s.Text)

		a.tracker.Begin(s.Key, s.Alignment)
		err = a.playout(ctx, s)
		a.tracker.Pause()
		if err != nil {
			return err
		}
	}
}

// playout sleeps through the sentence's audio chunk by chunk.
func (a *App) playout(ctx context.Context, s *pipeline.ReadySentence) error {
	for _, chunk := range s.Chunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(chunk.Duration()):
		}
	}
	return nil
}

// Shutdown tears down all subsystems in reverse-init order, so the pipeline
// and tracker stop before the store they write to closes. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// defaultWordHandler logs highlight events at debug level.
func defaultWordHandler(ev highlight.Event) {
	slog.Debug("word highlighted",
		"paragraph", ev.Sentence.Paragraph,
		"sentence", ev.Sentence.Sentence,
		"index", ev.Word.WordIndex,
		"word", ev.Word.Text,
	)
}
