// Package pipeline implements the lookahead synthesis queue that feeds the
// playback controller.
//
// A [ReadyQueue] runs synthesis and alignment ahead of playback, bounded by
// a sliding window over sentences, paragraphs, and buffered audio bytes.
// Consumers pull with [ReadyQueue.NextReady], which returns sentences in
// strict playback order regardless of the order in which background workers
// finish.
//
// All queue state (ready results, in-flight markers, skip markers, retry
// bookkeeping, waiter list) is owned by a single actor goroutine and mutated
// only through its command channel. Workers never touch the maps directly:
// they synthesize and align outside the actor, then submit the outcome as a
// command carrying the session counter they captured at start. The actor
// discards any command whose session is stale, which is the entire
// cancellation model: no tokens, one atomically incremented integer.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/lectern/internal/align"
	"github.com/MrWong99/lectern/internal/aligncache"
	"github.com/MrWong99/lectern/internal/document"
	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/pkg/audio"
	"github.com/MrWong99/lectern/pkg/synth"
)

// Errors returned by [ReadyQueue.NextReady].
var (
	// ErrStopped reports that the pipeline is not running: either StartFrom
	// was never called or Stop released all buffered state.
	ErrStopped = &queueError{"pipeline stopped"}

	// ErrEndOfDocument reports that every sentence up to the end of the
	// document has been delivered.
	ErrEndOfDocument = &queueError{"end of document"}

	// ErrClosed reports that the queue was closed and can no longer be used.
	ErrClosed = &queueError{"pipeline closed"}
)

type queueError struct{ msg string }

func (e *queueError) Error() string { return e.msg }

// Config bounds the lookahead window and tunes the synthesis workers.
// The zero value is usable; zero fields take the defaults noted per field.
type Config struct {
	// VoiceID selects the initial synthesis voice. Part of every cache key.
	// Changeable at runtime via [ReadyQueue.SetRendition].
	VoiceID string

	// Speed is the initial playback speed multiplier (1.0 = normal). Zero
	// means 1.0.
	Speed float64

	// MaxSentenceLookahead caps synthesized-but-unconsumed sentences,
	// counting ready, in-flight, skipped, and failed entries. Default 4.
	MaxSentenceLookahead int

	// MaxParagraphWindow caps how many paragraphs the scheduler may run
	// ahead of the consumption point. Default 2.
	MaxParagraphWindow int

	// MaxBufferBytes caps the raw PCM held in memory across all ready
	// sentences. Scheduling pauses while the buffer is at or above the cap.
	// Default 8 MiB.
	MaxBufferBytes int

	// MaxRetries is how many times a sentence is re-synthesized after a
	// failure before the failure is delivered to the consumer. Default 2.
	MaxRetries int

	// ChunkBytes is the maximum size of one buffered audio chunk.
	// Default 64 KiB.
	ChunkBytes int

	// Workers bounds concurrent synthesis calls. Default 2.
	Workers int64
}

func (c Config) withDefaults() Config {
	if c.Speed == 0 {
		c.Speed = 1.0
	}
	if c.MaxSentenceLookahead <= 0 {
		c.MaxSentenceLookahead = 4
	}
	if c.MaxParagraphWindow <= 0 {
		c.MaxParagraphWindow = 2
	}
	if c.MaxBufferBytes <= 0 {
		c.MaxBufferBytes = 8 << 20
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.ChunkBytes <= 0 {
		c.ChunkBytes = 64 << 10
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	return c
}

// ReadySentence is one fully prepared unit of playback.
//
// Exactly one of the following holds: Chunks+Alignment are populated (normal
// case), Empty is true (the source text was genuinely empty; nothing to
// play), or Err is set (synthesis failed after retries; the controller may
// skip the sentence or surface a transient error). Cancelled work never
// produces a ReadySentence at all.
type ReadySentence struct {
	// Key addresses the sentence within the document.
	Key document.SentenceKey

	// Text is the display text that was synthesized.
	Text string

	// Chunks is the synthesized audio, split for byte-exact buffer
	// accounting. Owned by the receiver after delivery.
	Chunks []audio.Chunk

	// Alignment carries the word timings for highlight tracking.
	Alignment *align.Result

	// Empty reports that the sentence had no synthesizable text.
	Empty bool

	// Err is the synthesis failure for this sentence, after retries.
	Err error
}

// ReadyQueue is the pipeline orchestrator. Create with [New], drive with
// [ReadyQueue.StartFrom] and [ReadyQueue.NextReady], and release with
// [ReadyQueue.Close]. All methods are safe for concurrent use.
type ReadyQueue struct {
	source  document.Source
	syn     synth.Synthesizer
	engine  *align.Engine
	cache   *aligncache.Cache // nil = no alignment caching
	metrics *observe.Metrics
	cfg     Config

	// session is the generation counter. Bumped by StartFrom and Stop,
	// captured by workers at spawn, compared by the actor before every
	// state commit.
	session atomic.Int64

	sem  *semaphore.Weighted
	cmds chan command

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a ReadyQueue.
type Option func(*ReadyQueue)

// WithMetrics overrides the metrics instance, mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(q *ReadyQueue) { q.metrics = m }
}

// New creates a ReadyQueue over the given collaborators and starts its actor
// goroutine. cache may be nil to disable alignment caching. The queue is
// idle until [ReadyQueue.StartFrom] is called.
func New(source document.Source, syn synth.Synthesizer, engine *align.Engine, cache *aligncache.Cache, cfg Config, opts ...Option) *ReadyQueue {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	q := &ReadyQueue{
		source: source,
		syn:    syn,
		engine: engine,
		cache:  cache,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.Workers),
		cmds:   make(chan command),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.metrics == nil {
		q.metrics = observe.DefaultMetrics()
	}
	go q.run()
	return q
}

// StartFrom begins (or restarts) the pipeline at the given paragraph. The
// session counter is incremented first, so every result still in flight from
// a previous position is discarded at commit time, and all buffered state is
// released before scheduling resumes.
func (q *ReadyQueue) StartFrom(paragraph int) {
	s := q.session.Add(1)
	q.send(command{kind: cmdStart, session: s, paragraph: paragraph})
}

// Stop increments the session and releases all buffered state. Blocked
// NextReady callers are released with [ErrStopped].
func (q *ReadyQueue) Stop() {
	s := q.session.Add(1)
	q.send(command{kind: cmdStop, session: s})
}

// SetRendition switches the synthesis voice and speed. All buffered and
// in-flight audio for the old rendition is discarded; when the pipeline is
// running, synthesis resumes at the current playback position with the new
// rendition. A zero speed means 1.0.
func (q *ReadyQueue) SetRendition(voiceID string, speed float64) {
	if speed == 0 {
		speed = 1.0
	}
	s := q.session.Add(1)
	q.send(command{kind: cmdRendition, session: s, voiceID: voiceID, speed: speed})
}

// Close shuts the queue down permanently. In-flight workers are cancelled
// through their context; blocked callers are released with [ErrClosed].
func (q *ReadyQueue) Close() {
	q.session.Add(1)
	q.cancel()
}

// NextReady blocks until the next sentence in playback order is ready and
// returns it. It returns [ErrStopped] when the pipeline is not running,
// [ErrEndOfDocument] once the document is exhausted, and ctx.Err() when the
// caller gives up waiting. A per-sentence synthesis failure is delivered as
// a ReadySentence with Err set, not as a NextReady error.
func (q *ReadyQueue) NextReady(ctx context.Context) (*ReadySentence, error) {
	resp := make(chan waitResult, 1)
	cmd := command{kind: cmdNext, waiter: waiter{ctx: ctx, resp: resp}}

	select {
	case q.cmds <- cmd:
	case <-q.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-resp:
		return r.sentence, r.err
	case <-q.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		// Prefer a delivery that raced with the cancellation: the actor has
		// already consumed the sentence, so dropping it here would lose it.
		select {
		case r := <-resp:
			return r.sentence, r.err
		default:
		}
		return nil, ctx.Err()
	}
}

// send submits a command, giving up silently if the queue is closed.
func (q *ReadyQueue) send(cmd command) {
	select {
	case q.cmds <- cmd:
	case <-q.ctx.Done():
	}
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdRendition
	cmdNext
	cmdCommit
	cmdFail
)

type waitResult struct {
	sentence *ReadySentence
	err      error
}

type waiter struct {
	ctx  context.Context
	resp chan waitResult
}

type command struct {
	kind      cmdKind
	session   int64
	paragraph int
	voiceID   string
	speed     float64
	key       document.SentenceKey
	result    *ReadySentence
	err       error
	waiter    waiter
}

// queueState is the actor-private pipeline state. Every map here indexes by
// sentence key; slideWindowTo must walk all of them when the window moves.
type queueState struct {
	running bool
	session int64

	// Current rendition. Changed only by cmdRendition; workers receive
	// these as arguments so a change never races a running synthesis.
	voiceID string
	speed   float64

	// cursor is the next key to deliver; next is the next key to schedule.
	cursor document.SentenceKey
	next   document.SentenceKey
	atEnd  bool // scheduler has passed the last sentence

	ready    map[document.SentenceKey]*ReadySentence
	inflight map[document.SentenceKey]struct{}
	skipped  map[document.SentenceKey]struct{}
	failed   map[document.SentenceKey]error
	attempts map[document.SentenceKey]int
	retry    []document.SentenceKey

	waiters       []waiter
	bufferedBytes int
}

func newQueueState() *queueState {
	return &queueState{
		ready:    make(map[document.SentenceKey]*ReadySentence),
		inflight: make(map[document.SentenceKey]struct{}),
		skipped:  make(map[document.SentenceKey]struct{}),
		failed:   make(map[document.SentenceKey]error),
		attempts: make(map[document.SentenceKey]int),
	}
}

// run is the actor goroutine. It is the only code that touches queueState.
func (q *ReadyQueue) run() {
	st := newQueueState()
	st.voiceID = q.cfg.VoiceID
	st.speed = q.cfg.Speed
	for {
		select {
		case <-q.ctx.Done():
			for _, w := range st.waiters {
				w.resp <- waitResult{err: ErrClosed}
			}
			return
		case cmd := <-q.cmds:
			q.handle(st, cmd)
		}
	}
}

func (q *ReadyQueue) handle(st *queueState, cmd command) {
	switch cmd.kind {
	case cmdStart:
		q.reset(st)
		st.running = true
		st.session = cmd.session
		start, ok := q.normalize(document.SentenceKey{Paragraph: cmd.paragraph})
		st.cursor = start
		st.next = start
		st.atEnd = !ok
		slog.Info("pipeline started",
			"paragraph", cmd.paragraph, "session", cmd.session)
		q.serveWaiters(st)
		q.schedule(st)

	case cmdStop:
		q.reset(st)
		st.session = cmd.session
		for _, w := range st.waiters {
			w.resp <- waitResult{err: ErrStopped}
		}
		st.waiters = nil
		slog.Info("pipeline stopped", "session", cmd.session)

	case cmdRendition:
		wasRunning := st.running
		cursor := st.cursor
		q.reset(st)
		st.session = cmd.session
		st.voiceID = cmd.voiceID
		st.speed = cmd.speed
		slog.Info("rendition changed",
			"voice", cmd.voiceID, "speed", cmd.speed, "session", cmd.session)
		if wasRunning {
			st.running = true
			start, ok := q.normalize(cursor)
			if ok {
				st.cursor = start
				st.next = start
			} else {
				st.cursor = cursor
				st.atEnd = true
			}
			q.serveWaiters(st)
			q.schedule(st)
		}

	case cmdNext:
		st.waiters = append(st.waiters, cmd.waiter)
		q.serveWaiters(st)
		q.schedule(st)

	case cmdCommit:
		if cmd.session != st.session {
			q.metrics.SupersededSentences.Add(q.ctx, 1)
			return
		}
		if _, ok := st.inflight[cmd.key]; !ok {
			// Evicted while in flight; the paragraph left the window.
			return
		}
		delete(st.inflight, cmd.key)
		delete(st.attempts, cmd.key)
		if cmd.result.Empty {
			st.skipped[cmd.key] = struct{}{}
		} else {
			size := audio.TotalSize(cmd.result.Chunks)
			st.ready[cmd.key] = cmd.result
			st.bufferedBytes += size
			q.metrics.BufferedSentences.Add(q.ctx, 1)
			q.metrics.BufferedBytes.Add(q.ctx, int64(size))
		}
		q.serveWaiters(st)
		q.schedule(st)

	case cmdFail:
		if cmd.session != st.session {
			q.metrics.SupersededSentences.Add(q.ctx, 1)
			return
		}
		if _, ok := st.inflight[cmd.key]; !ok {
			return
		}
		delete(st.inflight, cmd.key)
		st.attempts[cmd.key]++
		if st.attempts[cmd.key] <= q.cfg.MaxRetries {
			slog.Warn("sentence synthesis failed, retrying",
				"key", cmd.key, "attempt", st.attempts[cmd.key], "err", cmd.err)
			st.retry = append(st.retry, cmd.key)
		} else {
			slog.Error("sentence synthesis failed permanently",
				"key", cmd.key, "attempts", st.attempts[cmd.key], "err", cmd.err)
			st.failed[cmd.key] = cmd.err
			q.metrics.RecordSynthesisFailure(q.ctx, st.voiceID, cmd.err.Error())
		}
		q.serveWaiters(st)
		q.schedule(st)
	}
}

// reset drops every buffered and scheduled entry. Waiters survive a reset;
// a following StartFrom serves them from the new session.
func (q *ReadyQueue) reset(st *queueState) {
	q.metrics.BufferedSentences.Add(q.ctx, -int64(len(st.ready)))
	q.metrics.BufferedBytes.Add(q.ctx, -int64(st.bufferedBytes))
	st.ready = make(map[document.SentenceKey]*ReadySentence)
	st.inflight = make(map[document.SentenceKey]struct{})
	st.skipped = make(map[document.SentenceKey]struct{})
	st.failed = make(map[document.SentenceKey]error)
	st.attempts = make(map[document.SentenceKey]int)
	st.retry = nil
	st.bufferedBytes = 0
	st.running = false
	st.atEnd = false
}

// serveWaiters delivers in-order sentences to blocked NextReady callers for
// as long as the head of the queue is decided.
func (q *ReadyQueue) serveWaiters(st *queueState) {
	for len(st.waiters) > 0 {
		w := st.waiters[0]
		if w.ctx != nil && w.ctx.Err() != nil {
			// Caller gave up; do not consume a sentence for it.
			st.waiters = st.waiters[1:]
			continue
		}
		res, ok := q.takeHead(st)
		if !ok {
			return
		}
		st.waiters = st.waiters[1:]
		w.resp <- res
	}
}

// takeHead consumes the sentence at the delivery cursor if its outcome is
// decided. ok is false when the head is still pending or in flight.
func (q *ReadyQueue) takeHead(st *queueState) (waitResult, bool) {
	if !st.running {
		return waitResult{err: ErrStopped}, true
	}
	if _, valid := q.normalize(st.cursor); !valid {
		return waitResult{err: ErrEndOfDocument}, true
	}

	key := st.cursor
	if rs, ok := st.ready[key]; ok {
		size := audio.TotalSize(rs.Chunks)
		delete(st.ready, key)
		st.bufferedBytes -= size
		q.metrics.BufferedSentences.Add(q.ctx, -1)
		q.metrics.BufferedBytes.Add(q.ctx, -int64(size))
		q.metrics.RecordSentenceDelivered(q.ctx, "synthesized")
		q.advance(st)
		return waitResult{sentence: rs}, true
	}
	if _, ok := st.skipped[key]; ok {
		delete(st.skipped, key)
		q.metrics.RecordSentenceDelivered(q.ctx, "empty")
		q.advance(st)
		return waitResult{sentence: &ReadySentence{Key: key, Empty: true}}, true
	}
	if err, ok := st.failed[key]; ok {
		delete(st.failed, key)
		delete(st.attempts, key)
		q.metrics.RecordSentenceDelivered(q.ctx, "failed")
		q.advance(st)
		return waitResult{sentence: &ReadySentence{Key: key, Err: err}}, true
	}
	return waitResult{}, false
}

// advance moves the delivery cursor to the next sentence and slides the
// window, evicting everything that fell behind the new leading edge.
func (q *ReadyQueue) advance(st *queueState) {
	next, ok := q.normalize(document.SentenceKey{
		Paragraph: st.cursor.Paragraph,
		Sentence:  st.cursor.Sentence + 1,
	})
	if !ok {
		// Park the cursor past the end; takeHead reports ErrEndOfDocument.
		st.cursor = document.SentenceKey{Paragraph: q.source.ParagraphCount()}
		return
	}
	st.cursor = next
	q.slideWindowTo(st, next.Paragraph)
}

// slideWindowTo evicts every entry whose paragraph fell behind the leading
// edge. It must walk every paragraph-indexed map; missing one leaks memory
// over long playback sessions.
func (q *ReadyQueue) slideWindowTo(st *queueState, leadingEdge int) {
	for key, rs := range st.ready {
		if key.Paragraph < leadingEdge {
			size := audio.TotalSize(rs.Chunks)
			delete(st.ready, key)
			st.bufferedBytes -= size
			q.metrics.BufferedSentences.Add(q.ctx, -1)
			q.metrics.BufferedBytes.Add(q.ctx, -int64(size))
		}
	}
	for key := range st.inflight {
		if key.Paragraph < leadingEdge {
			// The worker result will arrive without a marker and be dropped.
			delete(st.inflight, key)
		}
	}
	for key := range st.skipped {
		if key.Paragraph < leadingEdge {
			delete(st.skipped, key)
		}
	}
	for key := range st.failed {
		if key.Paragraph < leadingEdge {
			delete(st.failed, key)
		}
	}
	for key := range st.attempts {
		if key.Paragraph < leadingEdge {
			delete(st.attempts, key)
		}
	}
	kept := st.retry[:0]
	for _, key := range st.retry {
		if key.Paragraph >= leadingEdge {
			kept = append(kept, key)
		}
	}
	st.retry = kept
}

// schedule spawns workers until the lookahead window is full or nothing is
// left to do.
func (q *ReadyQueue) schedule(st *queueState) {
	if !st.running {
		return
	}
	for {
		pending := len(st.ready) + len(st.inflight) + len(st.skipped) + len(st.failed)
		if pending >= q.cfg.MaxSentenceLookahead {
			return
		}
		if st.bufferedBytes >= q.cfg.MaxBufferBytes {
			return
		}

		var key document.SentenceKey
		switch {
		case len(st.retry) > 0:
			key = st.retry[0]
			st.retry = st.retry[1:]
		case !st.atEnd && st.next.Paragraph-st.cursor.Paragraph < q.cfg.MaxParagraphWindow:
			key = st.next
			if n, ok := q.normalize(document.SentenceKey{
				Paragraph: st.next.Paragraph,
				Sentence:  st.next.Sentence + 1,
			}); ok {
				st.next = n
			} else {
				st.atEnd = true
			}
		default:
			return
		}

		snt := q.source.Sentences(key.Paragraph)[key.Sentence]
		st.inflight[key] = struct{}{}
		go q.work(st.session, snt, st.voiceID, st.speed)
	}
}

// normalize returns the first existing sentence key at or after k, skipping
// paragraphs without sentences. ok is false past the end of the document.
func (q *ReadyQueue) normalize(k document.SentenceKey) (document.SentenceKey, bool) {
	s := k.Sentence
	for p := k.Paragraph; p < q.source.ParagraphCount(); p++ {
		if s < len(q.source.Sentences(p)) {
			return document.SentenceKey{Paragraph: p, Sentence: s}, true
		}
		s = 0
	}
	return document.SentenceKey{}, false
}

// work synthesizes and aligns one sentence outside the actor, then submits
// the outcome as a command. session and rendition were captured before
// spawn; the actor performs the authoritative staleness check at commit
// time.
func (q *ReadyQueue) work(session int64, snt document.Sentence, voiceID string, speed float64) {
	if err := q.sem.Acquire(q.ctx, 1); err != nil {
		return
	}
	defer q.sem.Release(1)

	// Cheap pre-check so a superseded sentence does not waste a synthesis
	// call. The real check happens when the actor receives the commit.
	if q.session.Load() != session {
		return
	}

	key := snt.Key
	if strings.TrimSpace(snt.Text) == "" {
		q.send(command{kind: cmdCommit, session: session, key: key,
			result: &ReadySentence{Key: key, Empty: true}})
		return
	}

	start := time.Now()
	clip, err := q.syn.Synthesize(q.ctx, snt.Text, voiceID, speed)
	q.metrics.SynthesisDuration.Record(q.ctx, time.Since(start).Seconds())
	if err != nil {
		q.send(command{kind: cmdFail, session: session, key: key, err: err})
		return
	}
	if len(clip.PCM) == 0 {
		q.send(command{kind: cmdCommit, session: session, key: key,
			result: &ReadySentence{Key: key, Text: snt.Text, Empty: true}})
		return
	}

	result := q.alignment(key, snt, clip, voiceID, speed)

	q.send(command{kind: cmdCommit, session: session, key: key, result: &ReadySentence{
		Key:       key,
		Text:      snt.Text,
		Chunks:    audio.Split(clip.PCM, clip.SampleRate, clip.Channels, q.cfg.ChunkBytes),
		Alignment: result,
	}})
}

// alignment returns the word timings for a synthesized sentence, consulting
// the cache first. Alignment never fails; degraded input falls back to
// estimation inside the engine.
func (q *ReadyQueue) alignment(key document.SentenceKey, snt document.Sentence, clip *synth.Clip, voiceID string, speed float64) *align.Result {
	ck := aligncache.NewKey(q.source.ID(), key.Paragraph, key.Sentence, voiceID, speed)
	if q.cache != nil {
		r, hit := q.cache.Load(q.ctx, ck)
		q.metrics.RecordCacheLookup(q.ctx, hit)
		if hit {
			return r
		}
	}

	start := time.Now()
	result := q.engine.Align(clip.Events, clip.Text, q.sentenceWords(snt), clip.Duration())
	q.metrics.AlignmentDuration.Record(q.ctx, time.Since(start).Seconds())

	if q.cache != nil {
		q.cache.Save(q.ctx, ck, result)
	}
	return result
}

// sentenceWords selects the display words belonging to one sentence from
// the paragraph word map.
func (q *ReadyQueue) sentenceWords(snt document.Sentence) []document.WordPosition {
	all := q.source.Words(snt.Key.Paragraph)
	end := snt.End()
	var words []document.WordPosition
	for _, w := range all {
		if w.Offset >= snt.Offset && w.Offset < end {
			words = append(words, w)
		}
	}
	return words
}
