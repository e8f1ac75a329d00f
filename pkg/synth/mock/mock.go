// Package mock provides a test double for the synth.Synthesizer interface.
//
// Use Synthesizer to feed controlled clips to the pipeline and to verify the
// text, voice, and speed passed to the backend:
//
//	m := &mock.Synthesizer{
//	    Clips: map[string]*synth.Clip{"Hello world": clip},
//	}
//	got, _ := m.Synthesize(ctx, "Hello world", "en-1", 1.0)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/lectern/pkg/synth"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text    string
	VoiceID string
	Speed   float64
}

// Synthesizer is a mock implementation of synth.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Clips maps input text to the clip returned for it. When a text has no
	// entry and DefaultClip is nil, a deterministic clip is generated from
	// the text (one event per word, 100 ms each, 16 kHz mono PCM).
	Clips map[string]*synth.Clip

	// DefaultClip, if non-nil, is returned for any text not in Clips.
	DefaultClip *synth.Clip

	// Err, if non-nil, is returned from every Synthesize call.
	Err error

	// FailTexts lists inputs that should fail with a SynthesisError even
	// when Err is nil.
	FailTexts map[string]bool

	// Delay is slept (context-aware) before each Synthesize returns, to
	// simulate model latency in concurrency tests.
	Delay time.Duration

	// VoiceIDs is returned from Voices. Defaults to ["mock-voice"].
	VoiceIDs []string

	calls []SynthesizeCall
}

var _ synth.Synthesizer = (*Synthesizer)(nil)

// Synthesize records the call and returns the configured clip or error.
func (m *Synthesizer) Synthesize(ctx context.Context, text, voiceID string, speed float64) (*synth.Clip, error) {
	m.mu.Lock()
	m.calls = append(m.calls, SynthesizeCall{Text: text, VoiceID: voiceID, Speed: speed})
	delay := m.Delay
	err := m.Err
	fail := m.FailTexts[text]
	clip := m.Clips[text]
	if clip == nil {
		clip = m.DefaultClip
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	if fail {
		return nil, &synth.SynthesisError{VoiceID: voiceID, Reason: "mock failure"}
	}
	if clip == nil {
		clip = GenerateClip(text)
	}
	return clip, nil
}

// Voices returns the configured voice list.
func (m *Synthesizer) Voices(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.VoiceIDs) == 0 {
		return []string{"mock-voice"}, nil
	}
	return append([]string(nil), m.VoiceIDs...), nil
}

// Calls returns a copy of all recorded Synthesize invocations.
func (m *Synthesizer) Calls() []SynthesizeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SynthesizeCall(nil), m.calls...)
}

// GenerateClip builds a deterministic clip for text: one 100 ms event per
// whitespace-separated word, with matching 16 kHz mono PCM so that clip
// duration and event durations agree.
func GenerateClip(text string) *synth.Clip {
	const (
		sampleRate = 16000
		perWord    = 100 * time.Millisecond
	)

	var events []synth.PhonemeEvent
	runes := []rune(text)
	i, words := 0, 0
	for i < len(runes) {
		for i < len(runes) && (runes[i] == ' ' || runes[i] == '\t') {
			i++
		}
		start := i
		for i < len(runes) && runes[i] != ' ' && runes[i] != '\t' {
			i++
		}
		if i > start {
			events = append(events, synth.PhonemeEvent{
				Symbol:      string(runes[start:i]),
				Duration:    perWord,
				HasDuration: true,
				TextStart:   start,
				TextEnd:     i,
			})
			words++
		}
	}

	samples := int(perWord.Seconds()*float64(sampleRate)) * words
	return &synth.Clip{
		PCM:        make([]byte, samples*2),
		SampleRate: sampleRate,
		Channels:   1,
		Events:     events,
		Text:       text,
	}
}
