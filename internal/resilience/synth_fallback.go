package resilience

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/lectern/pkg/synth"
)

// SynthFallback implements [synth.Synthesizer] with automatic failover across
// multiple synthesis backends. Each backend has its own circuit breaker, so a
// crashing model process is bypassed without waiting for it on every sentence.
type SynthFallback struct {
	group *FallbackGroup[synth.Synthesizer]
}

// Compile-time interface assertion.
var _ synth.Synthesizer = (*SynthFallback)(nil)

// NewSynthFallback creates a [SynthFallback] with primary as the preferred
// backend.
func NewSynthFallback(primary synth.Synthesizer, primaryName string, cfg FallbackConfig) *SynthFallback {
	return &SynthFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesis backend as a fallback.
func (f *SynthFallback) AddFallback(name string, s synth.Synthesizer) {
	f.group.AddFallback(name, s)
}

// Synthesize renders text with the first healthy backend.
func (f *SynthFallback) Synthesize(ctx context.Context, text, voiceID string, speed float64) (*synth.Clip, error) {
	return ExecuteWithResult(f.group, func(s synth.Synthesizer) (*synth.Clip, error) {
		return s.Synthesize(ctx, text, voiceID, speed)
	})
}

// Voices returns the voices of the first healthy backend.
func (f *SynthFallback) Voices(ctx context.Context) ([]string, error) {
	return ExecuteWithResult(f.group, func(s synth.Synthesizer) ([]string, error) {
		return s.Voices(ctx)
	})
}

// VoiceFallback implements [synth.Synthesizer] by retrying a failed sentence
// with substitute voices on the same backend. Voice-specific failures (a
// corrupt or missing voice model) then degrade to a different voice instead
// of surfacing a per-sentence error.
type VoiceFallback struct {
	inner  synth.Synthesizer
	voices []string
}

var _ synth.Synthesizer = (*VoiceFallback)(nil)

// NewVoiceFallback wraps inner with the given substitute voices, tried in
// order after the requested voice fails with a [*synth.SynthesisError].
func NewVoiceFallback(inner synth.Synthesizer, voices ...string) *VoiceFallback {
	return &VoiceFallback{inner: inner, voices: voices}
}

// Synthesize renders text, substituting fallback voices when the requested
// voice fails. Non-synthesis errors (context cancellation) are returned
// immediately.
func (f *VoiceFallback) Synthesize(ctx context.Context, text, voiceID string, speed float64) (*synth.Clip, error) {
	clip, err := f.inner.Synthesize(ctx, text, voiceID, speed)
	if err == nil {
		return clip, nil
	}

	var synthErr *synth.SynthesisError
	if !errors.As(err, &synthErr) {
		return nil, err
	}

	for _, voice := range f.voices {
		if voice == voiceID {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("voice failed, substituting fallback voice",
			"voice", voiceID, "fallback", voice, "error", err)
		clip, err = f.inner.Synthesize(ctx, text, voice, speed)
		if err == nil {
			return clip, nil
		}
	}
	return nil, err
}

// Voices returns the backend's voices.
func (f *VoiceFallback) Voices(ctx context.Context) ([]string, error) {
	return f.inner.Voices(ctx)
}
