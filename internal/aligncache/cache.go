// Package aligncache persists alignment results across playback sessions.
//
// Results are keyed by (document, paragraph, sentence, voice, speed) so that
// a voice or speed change is a guaranteed miss: the cache can never serve
// timing computed for a different rendition. Two tiers are kept: an in-process map
// for the current session and a durable [Store] (SQLite locally, Postgres
// for shared deployments).
//
// The durable tier is strictly best-effort. A failed write is logged and
// swallowed; a row that fails to decode is a miss. Nothing in this package
// ever propagates an error into the playback path.
package aligncache

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/MrWong99/lectern/internal/align"
)

// Key identifies one cached alignment. One row exists per synthesis unit:
// a sentence within a paragraph.
type Key struct {
	// DocumentID is the stable identifier of the document.
	DocumentID string

	// Paragraph is the paragraph index within the document.
	Paragraph int

	// Sentence is the sentence index within the paragraph.
	Sentence int

	// VoiceID is the voice the alignment was computed for.
	VoiceID string

	// SpeedCenti is the playback speed in hundredths (1.0x = 100). Stored
	// quantized so that float jitter cannot split logically equal keys.
	SpeedCenti int
}

// NewKey builds a Key, quantizing speed to hundredths.
func NewKey(documentID string, paragraph, sentence int, voiceID string, speed float64) Key {
	return Key{
		DocumentID: documentID,
		Paragraph:  paragraph,
		Sentence:   sentence,
		VoiceID:    voiceID,
		SpeedCenti: int(math.Round(speed * 100)),
	}
}

// Store is the durable tier behind the in-memory cache.
//
// Load returns (nil, nil) on a miss; implementations must map corrupt or
// undecodable rows to a miss, not an error. All methods must be safe for
// concurrent use.
type Store interface {
	Load(ctx context.Context, key Key) (*align.Result, error)
	Save(ctx context.Context, key Key, result *align.Result) error
	Clear(ctx context.Context, documentID string) error

	// Ping reports whether the store is reachable; used by readiness checks.
	Ping(ctx context.Context) error

	Close() error
}

// Cache is the two-tier alignment cache. Safe for concurrent use.
//
// Results handed to Save and returned from Load are treated as immutable;
// callers must not mutate them.
type Cache struct {
	mu    sync.RWMutex
	local map[Key]*align.Result

	store Store // nil = memory-only
}

// New creates a Cache over an optional durable store. Pass nil to run
// memory-only (alignment is recomputed after restart).
func New(store Store) *Cache {
	return &Cache{
		local: make(map[Key]*align.Result),
		store: store,
	}
}

// Load returns the cached alignment for key, consulting the in-memory tier
// first and falling back to the durable store. Durable hits are promoted
// into memory. ok is false on a miss; misses are normal control flow.
func (c *Cache) Load(ctx context.Context, key Key) (*align.Result, bool) {
	c.mu.RLock()
	if r, hit := c.local[key]; hit {
		c.mu.RUnlock()
		return r, true
	}
	c.mu.RUnlock()

	if c.store == nil {
		return nil, false
	}

	r, err := c.store.Load(ctx, key)
	if err != nil {
		slog.Warn("alignment cache: durable load failed, treating as miss",
			"document", key.DocumentID, "paragraph", key.Paragraph, "err", err)
		return nil, false
	}
	if r == nil {
		return nil, false
	}

	c.mu.Lock()
	c.local[key] = r
	c.mu.Unlock()
	return r, true
}

// Save records the alignment under key in both tiers. Durable failures are
// logged and swallowed; the in-memory tier always succeeds.
func (c *Cache) Save(ctx context.Context, key Key, result *align.Result) {
	if result == nil {
		return
	}

	c.mu.Lock()
	c.local[key] = result
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, key, result); err != nil {
		slog.Warn("alignment cache: durable save failed",
			"document", key.DocumentID, "paragraph", key.Paragraph, "err", err)
	}
}

// Clear drops every cached alignment for the given document from both tiers.
func (c *Cache) Clear(ctx context.Context, documentID string) {
	c.mu.Lock()
	for k := range c.local {
		if k.DocumentID == documentID {
			delete(c.local, k)
		}
	}
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.Clear(ctx, documentID); err != nil {
		slog.Warn("alignment cache: durable clear failed",
			"document", documentID, "err", err)
	}
}

// Len returns the number of entries in the in-memory tier. For tests.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.local)
}
