// Package synth defines the Synthesizer interface for speech-synthesis
// backends and the event types they emit.
//
// A synthesizer converts one sentence of text into raw PCM audio plus a
// sequence of [PhonemeEvent] values carrying character-offset hints into the
// synthesizer's own (possibly normalized) text. The neural model behind the
// interface is opaque to this module: the pipeline only depends on the
// input/output contract here.
//
// Implementations must be safe for concurrent use. Multiple sentences may be
// synthesized in parallel by the lookahead scheduler.
package synth

import (
	"context"
	"fmt"
	"time"
)

// PhonemeEvent is one emitted phoneme or sub-word token.
type PhonemeEvent struct {
	// Symbol is the phoneme or token symbol as produced by the model.
	Symbol string

	// Duration is the real acoustic duration of this unit. Only meaningful
	// when HasDuration is true; synthesizers that expose no per-unit timing
	// leave it zero and the aligner estimates instead.
	Duration time.Duration

	// HasDuration reports whether Duration carries real model timing.
	HasDuration bool

	// TextStart and TextEnd form a half-open rune range into the
	// synthesizer's own normalized text (see [Clip.Text]). Synthesizers
	// typically expose word-level positions, so all phonemes of one
	// synthesized word share one range.
	TextStart int
	TextEnd   int
}

// Clip is the result of synthesizing one sentence.
type Clip struct {
	// PCM is raw little-endian 16-bit audio.
	PCM []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is the channel count (1 for every known backend).
	Channels int

	// Events are the phoneme/token events in emission order.
	Events []PhonemeEvent

	// Text is the synthesizer's own rendition of the input text after
	// normalization (e.g. "Dr." expanded to "doctor"). Event ranges index
	// into this string, not into the display text.
	Text string
}

// Duration returns the acoustic length of the clip computed from the PCM
// byte count. A clip with no audio has zero duration.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	samples := len(c.PCM) / (2 * c.Channels)
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// Synthesizer is the abstraction over any speech-synthesis backend.
type Synthesizer interface {
	// Synthesize renders text with the given voice at the given speed
	// (1.0 = normal). It blocks until the full clip is available or ctx is
	// cancelled. Failures are reported as a [*SynthesisError]; the pipeline
	// treats them as retryable for that sentence only.
	Synthesize(ctx context.Context, text, voiceID string, speed float64) (*Clip, error)

	// Voices returns the identifiers of voices this backend can render.
	Voices(ctx context.Context) ([]string, error)
}

// SynthesisError reports a per-sentence synthesis failure. It is the only
// error class the pipeline surfaces to the playback controller; everything
// else degrades internally.
type SynthesisError struct {
	// VoiceID is the voice the failed request asked for.
	VoiceID string

	// Reason describes the failure.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("synthesis failed (voice %s): %s: %v", e.VoiceID, e.Reason, e.Err)
	}
	return fmt.Sprintf("synthesis failed (voice %s): %s", e.VoiceID, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *SynthesisError) Unwrap() error { return e.Err }
