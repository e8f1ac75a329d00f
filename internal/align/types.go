// Package align implements forced alignment: mapping a synthesizer's
// phoneme/token stream back onto the original display words of a sentence,
// producing per-word start times and durations for highlighting.
//
// The synthesizer tokenizes its own normalized rendition of the text
// ("Dr." becomes "doctor", "Listen2" becomes "listen two"), so the display
// and synthesized word sequences rarely agree positionally. The [Engine]
// bridges the two with a tagged matcher (exact, fuzzy, positional) and
// degrades to a uniform duration split when the match quality is too poor to
// trust. Alignment never fails in a way that blocks playback.
package align

import (
	"time"

	"github.com/MrWong99/lectern/internal/document"
)

// WordTiming is one aligned display word.
type WordTiming struct {
	// WordIndex is the word's index within the sentence's display words.
	WordIndex int `json:"wordIndex"`

	// Start is the word's start time relative to the sentence audio.
	Start time.Duration `json:"start"`

	// Duration is the word's acoustic length. Never negative.
	Duration time.Duration `json:"duration"`

	// Text is the display word.
	Text string `json:"text"`

	// CharStart and CharEnd form a half-open rune range into the paragraph's
	// display text.
	CharStart int `json:"charStart"`
	CharEnd   int `json:"charEnd"`
}

// End returns the word's end time.
func (w WordTiming) End() time.Duration { return w.Start + w.Duration }

// Result is the alignment output for one sentence.
//
// Invariants: Words is sorted by Start non-decreasing, durations are
// non-negative, character ranges do not cross in source order, and
// TotalDuration tracks the true audio duration of the synthesized clip
// (enforced by extending the final word, never by truncating).
type Result struct {
	// Words holds the per-word timings in display order.
	Words []WordTiming `json:"words"`

	// TotalDuration is the acoustic length covered by the alignment.
	TotalDuration time.Duration `json:"totalDuration"`

	// Estimated reports that at least one duration was estimated (fixed
	// per-phoneme constant or uniform fallback) rather than taken from real
	// model timing. Consumers that want acoustic truth can re-align later
	// with a timing-capable synthesizer.
	Estimated bool `json:"estimated"`
}

// Empty reports whether the result aligns a genuinely empty sentence.
func (r *Result) Empty() bool { return len(r.Words) == 0 }

// WordRanges converts display word positions to the char ranges recorded in
// timings. Helper shared by the engine and its fallback paths.
func wordRange(w document.WordPosition) (start, end int) {
	return w.Offset, w.End()
}
