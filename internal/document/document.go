// Package document defines the text data model consumed by the read-aloud
// pipeline: paragraph/sentence addressing, display-word positions, and the
// [Source] interface through which the pipeline pulls synthesizable text.
//
// Documents themselves (PDF/EPUB parsing, paragraph detection, tables of
// contents) are produced by an external extraction stage. This package only
// models the result of that stage; nothing here mutates document text.
package document

import (
	"strings"
	"unicode"
)

// SentenceKey identifies one unit of synthesizable text within a document.
// It is immutable and used as a map key throughout the pipeline.
type SentenceKey struct {
	// Paragraph is the zero-based paragraph index within the document.
	Paragraph int

	// Sentence is the zero-based sentence index within the paragraph.
	Sentence int
}

// Sentence is one synthesizable unit of display text.
type Sentence struct {
	// Key addresses this sentence within the document.
	Key SentenceKey

	// Text is the display text of the sentence, exactly as the reader sees it.
	Text string

	// Offset is the rune offset of the sentence's first character within the
	// paragraph text. Used to select the display words belonging to this
	// sentence from the paragraph word map.
	Offset int
}

// End returns the half-open end offset of the sentence within its paragraph.
func (s Sentence) End() int {
	return s.Offset + len([]rune(s.Text))
}

// WordPosition locates one word in the original display text of a paragraph.
// Offsets are relative to the paragraph's own text, not the whole document.
//
// WordPosition values are owned by the document and are read-only inputs to
// the alignment engine.
type WordPosition struct {
	// Text is the word as displayed, including any trailing punctuation that
	// belongs to the word's visual extent (e.g. "Dr.").
	Text string

	// Offset is the rune offset of the word's first character within the
	// paragraph text.
	Offset int

	// Length is the word's length in runes.
	Length int

	// Paragraph is the paragraph this word belongs to.
	Paragraph int
}

// End returns the half-open end offset of the word within its paragraph.
func (w WordPosition) End() int {
	return w.Offset + w.Length
}

// WordMap holds the display words of a document grouped by paragraph index.
// It is produced by the external text-extraction stage and treated as
// read-only by everything in this module.
type WordMap struct {
	words map[int][]WordPosition
}

// NewWordMap builds a WordMap from per-paragraph word lists.
// The input slices are referenced, not copied; callers must not mutate them
// after handing them over.
func NewWordMap(byParagraph map[int][]WordPosition) *WordMap {
	if byParagraph == nil {
		byParagraph = make(map[int][]WordPosition)
	}
	return &WordMap{words: byParagraph}
}

// Words returns the display words of the given paragraph in document order.
// Unknown paragraphs return nil.
func (m *WordMap) Words(paragraph int) []WordPosition {
	return m.words[paragraph]
}

// Source supplies the pipeline with sentences and display words.
//
// Implementations wrap the output of the document-extraction collaborator.
// All methods must be safe for concurrent use; the pipeline calls them from
// its scheduling goroutine while the render loop may inspect words.
type Source interface {
	// ParagraphCount returns the number of paragraphs in the document.
	ParagraphCount() int

	// Sentences returns the sentences of the given paragraph in order.
	// Out-of-range paragraphs return an empty slice.
	Sentences(paragraph int) []Sentence

	// Words returns the display words of the given paragraph in order.
	Words(paragraph int) []WordPosition

	// ID returns a stable identifier for the document, used as part of
	// alignment cache keys.
	ID() string
}

// SplitWords tokenizes paragraph text into display words with rune offsets.
// A word is a maximal run of non-space characters; surrounding punctuation
// stays attached so that offsets match what the reader sees on screen.
//
// Intended for Source implementations and tests; real extraction stages
// usually carry their own word maps.
func SplitWords(text string, paragraph int) []WordPosition {
	var words []WordPosition
	runes := []rune(text)

	i := 0
	for i < len(runes) {
		for i < len(runes) && unicode.IsSpace(runes[i]) {
			i++
		}
		start := i
		for i < len(runes) && !unicode.IsSpace(runes[i]) {
			i++
		}
		if i > start {
			words = append(words, WordPosition{
				Text:      string(runes[start:i]),
				Offset:    start,
				Length:    i - start,
				Paragraph: paragraph,
			})
		}
	}
	return words
}

// abbreviations that end with a period but do not terminate a sentence.
var abbreviations = map[string]bool{
	"dr.": true, "mr.": true, "mrs.": true, "ms.": true, "prof.": true,
	"st.": true, "vs.": true, "etc.": true, "e.g.": true, "i.e.": true,
	"jr.": true, "sr.": true, "no.": true, "fig.": true,
}

// SplitSentences breaks paragraph text into sentences on terminal
// punctuation (. ! ?) followed by whitespace. A short list of common
// abbreviations ("Dr.", "e.g.", ...) is exempted. Sentence granularity only
// affects pipeline batching, not alignment correctness, so the heuristic is
// deliberately simple.
func SplitSentences(text string, paragraph int) []Sentence {
	runes := []rune(text)
	var sentences []Sentence
	idx := 0
	start := 0

	flush := func(end int) {
		s, e := start, end
		for s < e && unicode.IsSpace(runes[s]) {
			s++
		}
		for e > s && unicode.IsSpace(runes[e-1]) {
			e--
		}
		start = end
		if s == e {
			return
		}
		sentences = append(sentences, Sentence{
			Key:    SentenceKey{Paragraph: paragraph, Sentence: idx},
			Text:   string(runes[s:e]),
			Offset: s,
		})
		idx++
	}

	for i, r := range runes {
		if r == '.' || r == '!' || r == '?' {
			if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
				continue
			}
			if r == '.' && abbreviations[lastToken(string(runes[start:i+1]))] {
				continue
			}
			flush(i + 1)
		}
	}
	flush(len(runes))
	return sentences
}

// lastToken returns the final whitespace-delimited token of s, lowercased.
func lastToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}
