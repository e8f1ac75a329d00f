package align

import (
	"log/slog"
	"time"

	"github.com/MrWong99/lectern/internal/document"
	"github.com/MrWong99/lectern/pkg/synth"
)

const (
	// defaultPhonemeDuration is the estimate used per phoneme when the
	// synthesizer exposes no real timing. Derived from typical forced-aligner
	// frame math (20 ms frames, ~4 frames per phoneme at normal speed).
	defaultPhonemeDuration = 80 * time.Millisecond

	// durationTolerance is the acceptable relative deviation between the
	// alignment's total duration and the true clip duration before the
	// engine rescales or extends.
	durationTolerance = 0.10

	// minMatchQuality is the fraction of display words that must be matched
	// with textual evidence (exact or fuzzy) before the engine trusts the
	// alignment at all. Below this it falls back to a uniform split.
	minMatchQuality = 0.2
)

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithPhonemeDuration overrides the per-phoneme estimate used when the
// synthesizer provides no real timing. Default: 80 ms.
func WithPhonemeDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.phonemeDuration = d
		}
	}
}

// Engine maps phoneme/token events onto display words.
// It is stateless apart from configuration and safe for concurrent use.
type Engine struct {
	phonemeDuration time.Duration
}

// NewEngine returns an [Engine] configured with the supplied options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{phonemeDuration: defaultPhonemeDuration}
	for _, o := range opts {
		o(e)
	}
	return e
}

// tokenGroup is a run of consecutive phoneme events sharing one character
// range in the synthesizer's normalized text, i.e. one synthesized word.
type tokenGroup struct {
	text      string
	duration  time.Duration
	estimated bool
}

// Align maps events onto the sentence's display words.
//
// audioDuration is the true acoustic length of the synthesized clip; the
// result's TotalDuration is kept within tolerance of it by folding trailing
// unmatched time into the last word, never by truncating.
//
// Align never returns an error: insufficient alignment quality degrades to
// a deterministic uniform split, and a genuinely empty sentence produces a
// zero-word, zero-duration result.
func (e *Engine) Align(events []synth.PhonemeEvent, synthesizedText string, words []document.WordPosition, audioDuration time.Duration) *Result {
	if len(words) == 0 {
		// Genuinely empty source text. Distinct from any failure: zero words
		// and zero duration, nothing to highlight, nothing to retry.
		return &Result{Words: nil, TotalDuration: 0}
	}

	groups := e.groupEvents(events, synthesizedText)
	if len(groups) == 0 {
		slog.Debug("no phoneme events for non-empty sentence, using uniform split",
			"words", len(words), "audio_duration", audioDuration)
		return uniformSplit(words, audioDuration)
	}

	display := make([]string, len(words))
	for i, w := range words {
		display[i] = w.Text
	}
	synthesized := make([]string, len(groups))
	for i, g := range groups {
		synthesized[i] = g.text
	}

	matches := matchWords(display, synthesized)
	if quality(matches) < minMatchQuality {
		slog.Debug("alignment quality below threshold, using uniform split",
			"words", len(words), "groups", len(groups))
		return uniformSplit(words, audioDuration)
	}

	// Per-word durations: sum the durations of each word's groups.
	estimated := false
	durations := make([]time.Duration, len(words))
	lastMatched := -1
	consumed := 0
	for _, m := range matches {
		for _, g := range m.Groups {
			durations[m.Word] += groups[g].duration
			if groups[g].estimated {
				estimated = true
			}
			if g+1 > consumed {
				consumed = g + 1
			}
		}
		if len(m.Groups) > 0 {
			lastMatched = m.Word
		}
	}

	// Mismatch policy: trailing groups that matched no display word keep
	// their time by folding into the last matched word, so highlighting
	// never runs out before the audio does.
	for g := consumed; g < len(groups); g++ {
		if lastMatched >= 0 {
			durations[lastMatched] += groups[g].duration
			if groups[g].estimated {
				estimated = true
			}
		}
	}

	return buildResult(words, durations, audioDuration, estimated)
}

// groupEvents collapses consecutive events sharing a character range into
// per-word token groups and computes each group's duration, estimating with
// the per-phoneme constant when real timing is absent.
func (e *Engine) groupEvents(events []synth.PhonemeEvent, text string) []tokenGroup {
	runes := []rune(text)
	var groups []tokenGroup

	i := 0
	for i < len(events) {
		start, end := events[i].TextStart, events[i].TextEnd
		j := i
		var real time.Duration
		realCount := 0
		for j < len(events) && events[j].TextStart == start && events[j].TextEnd == end {
			if events[j].HasDuration {
				real += events[j].Duration
				realCount++
			}
			j++
		}
		count := j - i

		g := tokenGroup{text: sliceRunes(runes, start, end)}
		if realCount == count {
			g.duration = real
		} else if realCount > 0 {
			// Mixed: keep what is real, estimate the rest.
			g.duration = real + time.Duration(count-realCount)*e.phonemeDuration
			g.estimated = true
		} else {
			g.duration = time.Duration(count) * e.phonemeDuration
			g.estimated = true
		}
		groups = append(groups, g)
		i = j
	}
	return groups
}

// buildResult converts per-word durations into cumulative timings, pins the
// first word to t=0, and reconciles the total against the true audio length.
func buildResult(words []document.WordPosition, durations []time.Duration, audioDuration time.Duration, estimated bool) *Result {
	var total time.Duration
	for _, d := range durations {
		total += d
	}

	// Estimated totals can drift arbitrarily far from the real clip; rescale
	// proportionally so cursor queries track the audio, then extend the last
	// word to absorb any residue. Real-timing totals are only extended (the
	// clip may carry trailing silence) and never truncated.
	if audioDuration > 0 && total > 0 {
		drift := float64(total-audioDuration) / float64(audioDuration)
		if drift < 0 {
			drift = -drift
		}
		if estimated && drift > durationTolerance {
			for i := range durations {
				durations[i] = time.Duration(float64(durations[i]) * float64(audioDuration) / float64(total))
			}
			total = 0
			for _, d := range durations {
				total += d
			}
		}
		if total < audioDuration {
			durations[len(durations)-1] += audioDuration - total
			total = audioDuration
		}
	}

	timings := make([]WordTiming, len(words))
	var cursor time.Duration
	for i, w := range words {
		cs, ce := wordRange(w)
		timings[i] = WordTiming{
			WordIndex: i,
			Start:     cursor,
			Duration:  durations[i],
			Text:      w.Text,
			CharStart: cs,
			CharEnd:   ce,
		}
		cursor += durations[i]
	}

	return &Result{Words: timings, TotalDuration: total, Estimated: estimated}
}

// uniformSplit distributes audioDuration evenly across the display words.
// Deterministic fallback for missing events or untrustworthy matches.
func uniformSplit(words []document.WordPosition, audioDuration time.Duration) *Result {
	if audioDuration < 0 {
		audioDuration = 0
	}
	per := audioDuration / time.Duration(len(words))
	durations := make([]time.Duration, len(words))
	for i := range durations {
		durations[i] = per
	}
	// Integer division leaves a remainder; buildResult's final-word
	// extension absorbs it.
	return buildResult(words, durations, audioDuration, true)
}

// quality is the fraction of display words matched with textual evidence.
func quality(matches []WordMatch) float64 {
	if len(matches) == 0 {
		return 0
	}
	good := 0
	for _, m := range matches {
		if m.Kind == MatchExact || m.Kind == MatchFuzzy {
			good++
		}
	}
	return float64(good) / float64(len(matches))
}

// sliceRunes returns runes[start:end] clamped to valid bounds.
func sliceRunes(runes []rune, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start >= end {
		return ""
	}
	return string(runes[start:end])
}
