// Package highlight drives word highlighting during playback.
//
// A [Tracker] polls a [align.Cursor] on a fixed-rate ticker against the
// elapsed playback time and fires a callback whenever the highlighted word
// changes. The render layer only receives change events, never the raw
// timer, so a slow UI cannot fall behind the clock.
//
// Highlighting can be switched off with [Tracker.SetEnabled]; the tracker
// then stops querying but the alignment pipeline keeps running, since cached
// alignments benefit later playback of the same material.
package highlight

import (
	"sync"
	"time"

	"github.com/MrWong99/lectern/internal/align"
	"github.com/MrWong99/lectern/internal/document"
)

// defaultInterval is the polling rate. 50 ms is comfortably below the
// shortest plausible word duration at normal reading speed.
const defaultInterval = 50 * time.Millisecond

// Event reports a highlighted-word change.
type Event struct {
	// Sentence addresses the sentence being played.
	Sentence document.SentenceKey

	// Word is the newly highlighted word.
	Word align.WordTiming
}

// Tracker polls word timings during playback. Safe for concurrent use.
// Create with [New]; callers must [Tracker.Close] when done.
type Tracker struct {
	onWord   func(Event)
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	enabled   bool
	cursor    *align.Cursor
	sentence  document.SentenceKey
	startedAt time.Time
	playing   bool
	lastIndex int

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithInterval overrides the polling interval.
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// withNow injects a clock for tests.
func withNow(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a Tracker that calls onWord whenever the highlighted word
// changes, and starts its polling goroutine. The tracker begins enabled but
// idle; call [Tracker.Begin] when audio for a sentence starts playing.
func New(onWord func(Event), opts ...Option) *Tracker {
	t := &Tracker{
		onWord:   onWord,
		interval: defaultInterval,
		now:      time.Now,
		enabled:  true,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.run()
	return t
}

// Begin starts tracking a sentence whose audio playback starts now.
// A nil or empty alignment leaves the tracker idle for this sentence; the
// previous highlight simply persists until the next Begin.
func (t *Tracker) Begin(sentence document.SentenceKey, alignment *align.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if alignment == nil || alignment.Empty() {
		t.playing = false
		t.cursor = nil
		return
	}
	t.sentence = sentence
	t.cursor = align.NewCursor(alignment)
	t.startedAt = t.now()
	t.playing = true
	t.lastIndex = -1
}

// Pause stops tracking until the next Begin. The current highlight is left
// in place; clearing it is a render-layer decision.
func (t *Tracker) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = false
}

// SetEnabled switches highlighting on or off. While off, the tracker does
// not query the cursor and fires no events.
func (t *Tracker) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	if enabled {
		// Re-fire the current word on the next tick after re-enabling.
		t.lastIndex = -1
	}
}

// Enabled reports whether highlighting is on.
func (t *Tracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Close stops the polling goroutine.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Tracker) run() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

// tick performs one poll. The callback runs outside the lock so a slow
// handler cannot stall Begin or SetEnabled.
func (t *Tracker) tick() {
	t.mu.Lock()
	if !t.enabled || !t.playing || t.cursor == nil {
		t.mu.Unlock()
		return
	}
	elapsed := t.now().Sub(t.startedAt)
	word, ok := t.cursor.WordAt(elapsed)
	if !ok || word.WordIndex == t.lastIndex {
		t.mu.Unlock()
		return
	}
	t.lastIndex = word.WordIndex
	ev := Event{Sentence: t.sentence, Word: word}
	onWord := t.onWord
	t.mu.Unlock()

	if onWord != nil {
		onWord(ev)
	}
}
