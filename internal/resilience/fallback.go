package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry in a [FallbackGroup] produced a
// successful call, including entries skipped because their breaker was open.
var ErrAllFailed = errors.New("all backends failed")

// FallbackConfig carries the breaker settings applied to every entry in a
// [FallbackGroup]. Entry names override the breaker name per entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// guarded pairs one backend value with the breaker that watches it.
type guarded[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds an ordered chain of interchangeable backends, each
// behind its own [CircuitBreaker]. Calls go to the first entry whose breaker
// admits them and that returns success; later entries only see traffic when
// everything before them is failing or open.
//
// Safe for concurrent use once all fallbacks are registered.
type FallbackGroup[T any] struct {
	chain []guarded[T]
	cfg   FallbackConfig
}

// NewFallbackGroup starts a group with primary as the preferred entry.
// Register alternatives with [FallbackGroup.AddFallback] before use.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.chain = append(g.chain, g.entry(primaryName, primary))
	return g
}

// AddFallback appends an alternative tried after every earlier entry.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.chain = append(fg.chain, fg.entry(name, fallback))
}

func (fg *FallbackGroup[T]) entry(name string, value T) guarded[T] {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	return guarded[T]{name: name, value: value, breaker: NewCircuitBreaker(cbCfg)}
}

// Execute runs fn against each entry in chain order until one call succeeds.
// Open-breaker entries are skipped without invoking fn. When nothing
// succeeds the last error is wrapped in [ErrAllFailed].
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	var lastErr error
	for i := range fg.chain {
		e := &fg.chain[i]
		err := e.breaker.Execute(func() error { return fn(e.value) })
		if err == nil {
			return nil
		}
		lastErr = err
		logChainFailure(e.name, err)
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. A package-level function because methods cannot introduce the
// result type parameter.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.chain {
		e := &fg.chain[i]
		var result R
		err := e.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(e.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		logChainFailure(e.name, err)
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

func logChainFailure(name string, err error) {
	if errors.Is(err, ErrCircuitOpen) {
		slog.Debug("skipping backend, circuit open", "backend", name)
		return
	}
	slog.Warn("backend failed, trying next in chain", "backend", name, "error", err)
}
