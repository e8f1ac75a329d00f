package document

// TextSource is a Source backed by in-memory paragraph strings. It computes
// sentence boundaries and word positions once at construction and is
// read-only afterwards, so all methods are safe for concurrent use.
//
// Real deployments wrap the extraction stage's own word maps instead; this
// implementation exists for plain-text documents, the demo command, and tests.
type TextSource struct {
	id        string
	sentences [][]Sentence
	words     [][]WordPosition
}

var _ Source = (*TextSource)(nil)

// NewTextSource builds a TextSource from ordered paragraph texts.
func NewTextSource(id string, paragraphs []string) *TextSource {
	s := &TextSource{
		id:        id,
		sentences: make([][]Sentence, len(paragraphs)),
		words:     make([][]WordPosition, len(paragraphs)),
	}
	for i, text := range paragraphs {
		s.sentences[i] = SplitSentences(text, i)
		s.words[i] = SplitWords(text, i)
	}
	return s
}

// ID returns the document identifier.
func (s *TextSource) ID() string { return s.id }

// ParagraphCount returns the number of paragraphs.
func (s *TextSource) ParagraphCount() int { return len(s.sentences) }

// Sentences returns the sentences of the given paragraph, or nil when the
// paragraph is out of range.
func (s *TextSource) Sentences(paragraph int) []Sentence {
	if paragraph < 0 || paragraph >= len(s.sentences) {
		return nil
	}
	return s.sentences[paragraph]
}

// Words returns the display words of the given paragraph, or nil when the
// paragraph is out of range.
func (s *TextSource) Words(paragraph int) []WordPosition {
	if paragraph < 0 || paragraph >= len(s.words) {
		return nil
	}
	return s.words[paragraph]
}
