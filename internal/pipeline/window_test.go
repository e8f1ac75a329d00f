package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/lectern/internal/document"
	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/pkg/audio"
)

// bareQueue builds a ReadyQueue without starting its actor, for direct
// testing of the window helpers.
func bareQueue(source document.Source) *ReadyQueue {
	return &ReadyQueue{
		source:  source,
		cfg:     Config{}.withDefaults(),
		metrics: observe.DefaultMetrics(),
		ctx:     context.Background(),
	}
}

func key(p, s int) document.SentenceKey {
	return document.SentenceKey{Paragraph: p, Sentence: s}
}

func TestSlideWindowTo_EvictsEveryMap(t *testing.T) {
	t.Parallel()

	q := bareQueue(document.NewTextSource("doc", nil))
	st := newQueueState()

	chunk := func(n int) []audio.Chunk {
		return []audio.Chunk{{Data: make([]byte, n), SampleRate: 16000, Channels: 1}}
	}
	for p := 0; p < 4; p++ {
		st.ready[key(p, 0)] = &ReadySentence{Key: key(p, 0), Chunks: chunk(100)}
		st.bufferedBytes += 100
		st.inflight[key(p, 1)] = struct{}{}
		st.skipped[key(p, 2)] = struct{}{}
		st.failed[key(p, 3)] = errors.New("boom")
		st.attempts[key(p, 3)] = 2
		st.retry = append(st.retry, key(p, 4))
	}

	q.slideWindowTo(st, 2)

	for k := range st.ready {
		if k.Paragraph < 2 {
			t.Errorf("ready still holds evicted key %v", k)
		}
	}
	for k := range st.inflight {
		if k.Paragraph < 2 {
			t.Errorf("inflight still holds evicted key %v", k)
		}
	}
	for k := range st.skipped {
		if k.Paragraph < 2 {
			t.Errorf("skipped still holds evicted key %v", k)
		}
	}
	for k := range st.failed {
		if k.Paragraph < 2 {
			t.Errorf("failed still holds evicted key %v", k)
		}
	}
	for k := range st.attempts {
		if k.Paragraph < 2 {
			t.Errorf("attempts still holds evicted key %v", k)
		}
	}
	for _, k := range st.retry {
		if k.Paragraph < 2 {
			t.Errorf("retry still holds evicted key %v", k)
		}
	}

	if len(st.ready) != 2 || len(st.inflight) != 2 || len(st.skipped) != 2 ||
		len(st.failed) != 2 || len(st.attempts) != 2 || len(st.retry) != 2 {
		t.Errorf("kept entries = ready %d inflight %d skipped %d failed %d attempts %d retry %d, want 2 each",
			len(st.ready), len(st.inflight), len(st.skipped), len(st.failed), len(st.attempts), len(st.retry))
	}
	if st.bufferedBytes != 200 {
		t.Errorf("bufferedBytes after eviction = %d, want 200", st.bufferedBytes)
	}
}

func TestNormalize_SkipsEmptyParagraphs(t *testing.T) {
	t.Parallel()

	q := bareQueue(document.NewTextSource("doc", []string{
		"One. Two.",
		"", // paragraph without sentences
		"Three.",
	}))

	tests := []struct {
		name string
		in   document.SentenceKey
		want document.SentenceKey
		ok   bool
	}{
		{"in range", key(0, 1), key(0, 1), true},
		{"past paragraph end", key(0, 2), key(2, 0), true},
		{"empty paragraph", key(1, 0), key(2, 0), true},
		{"past document end", key(2, 1), document.SentenceKey{}, false},
		{"past last paragraph", key(3, 0), document.SentenceKey{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := q.normalize(tc.in)
			if ok != tc.ok || got != tc.want {
				t.Errorf("normalize(%v) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
			}
		})
	}
}
