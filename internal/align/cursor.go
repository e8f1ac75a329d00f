package align

import (
	"sort"
	"time"
)

// Cursor answers "which word is active at time t" for one alignment result.
// It is queried by the render loop at a fixed frame rate, independently of
// synthesis, so lookups are a binary search over the sorted word timings.
//
// A Cursor is read-only after construction and safe for concurrent use.
type Cursor struct {
	words []WordTiming
}

// NewCursor creates a cursor over the result's word timings. The result must
// not be mutated while the cursor is in use.
func NewCursor(result *Result) *Cursor {
	if result == nil {
		return &Cursor{}
	}
	return &Cursor{words: result.Words}
}

// WordAt returns the word active at the given elapsed playback time.
//
// Boundary policy: while words exist, WordAt never reports "no word" during
// active playback, because a missing highlight is a visible UI defect.
// Elapsed times before the first word's start (leading synthesis silence)
// resolve to the first word; times past the last word's end resolve to the
// last word. ok is false only when the alignment has no words at all.
func (c *Cursor) WordAt(elapsed time.Duration) (WordTiming, bool) {
	if len(c.words) == 0 {
		return WordTiming{}, false
	}

	// First index whose start is after elapsed; the active word is the one
	// before it.
	idx := sort.Search(len(c.words), func(i int) bool {
		return c.words[i].Start > elapsed
	})
	if idx == 0 {
		return c.words[0], true
	}
	return c.words[idx-1], true
}

// Len returns the number of words the cursor indexes.
func (c *Cursor) Len() int { return len(c.words) }
