package align

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// MatchKind tags how a display word was paired with synthesized token
// groups. Keeping the decision explicit makes alignment auditable and
// testable in isolation from any synthesizer.
type MatchKind int

const (
	// MatchExact means the normalized display and synthesized words are equal.
	MatchExact MatchKind = iota

	// MatchFuzzy means the pair was accepted on edit-distance / phonetic
	// similarity (normalization expansions like "Listen2" vs "listen two").
	MatchFuzzy

	// MatchPositional means no textual evidence supported the pair; the words
	// were matched by position only ("Dr." vs "doctor" after a failed fuzzy
	// pass still maps positionally).
	MatchPositional
)

// String returns the human-readable name of the match kind.
func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchFuzzy:
		return "fuzzy"
	case MatchPositional:
		return "positional"
	default:
		return "unknown"
	}
}

// WordMatch pairs one display word with the synthesized token groups that
// produced it. Groups holds indices into the synthesized group sequence;
// expansions ("Listen2" -> "listen two") attach multiple groups to one word.
type WordMatch struct {
	Word   int
	Groups []int
	Kind   MatchKind
}

const (
	// maxExpansion is the maximum number of synthesized groups that may be
	// merged to match a single display word.
	maxExpansion = 3

	// fuzzyDistanceRatio is the maximum Levenshtein distance relative to the
	// longer string for a fuzzy acceptance.
	fuzzyDistanceRatio = 0.35

	// fuzzyJaroWinkler is the minimum Jaro-Winkler similarity for a fuzzy
	// acceptance when the distance ratio test fails.
	fuzzyJaroWinkler = 0.84
)

// matchWords aligns display words against synthesized words in order.
// Both sequences are consumed monotonically: the i-th returned match refers
// to display word i, and group indices never decrease across matches.
//
// Synthesized groups left over after the last display word are NOT attached
// here; the engine folds their durations into the last matched word.
func matchWords(display, synthesized []string) []WordMatch {
	matches := make([]WordMatch, 0, len(display))

	j := 0
	for i := range display {
		dw := normalizeToken(display[i])

		if j >= len(synthesized) {
			// Synthesizer contracted: nothing left to pair. Record an empty
			// positional match so the word still gets a (zero) slot.
			matches = append(matches, WordMatch{Word: i, Kind: MatchPositional})
			continue
		}

		// Exact match on the next group.
		if dw == normalizeToken(synthesized[j]) {
			matches = append(matches, WordMatch{Word: i, Groups: []int{j}, Kind: MatchExact})
			j++
			continue
		}

		// Expansion: groups j..j+k-1 concatenated match this word
		// ("listen2" vs "listen"+"two"). Prefer the longest acceptable run.
		if run, kind, ok := bestExpansion(dw, synthesized, j); ok {
			groups := make([]int, run)
			for g := range groups {
				groups[g] = j + g
			}
			matches = append(matches, WordMatch{Word: i, Groups: groups, Kind: kind})
			j += run
			continue
		}

		// Positional fallback: pair one-to-one and move on. Normalization
		// rewrites like "dr" vs "doctor" land here; order still carries the
		// timing information we need.
		matches = append(matches, WordMatch{Word: i, Groups: []int{j}, Kind: MatchPositional})
		j++
	}

	return matches
}

// bestExpansion tests whether the concatenation of up to maxExpansion
// synthesized groups starting at j matches word. All run lengths are tried
// before deciding: an exact concatenation at any length beats a fuzzy hit at
// a shorter one ("listentwo" must win over a fuzzy "listen"). Single-group
// fuzzy matches are reported as run 1.
func bestExpansion(word string, synthesized []string, j int) (run int, kind MatchKind, ok bool) {
	limit := maxExpansion
	if rest := len(synthesized) - j; rest < limit {
		limit = rest
	}

	bestRun, bestScore := 0, 0.0
	var concat strings.Builder
	for k := 1; k <= limit; k++ {
		concat.WriteString(normalizeToken(synthesized[j+k-1]))
		candidate := concat.String()
		if candidate == word {
			return k, MatchExact, true
		}
		if similarTokens(word, candidate) {
			if score := matchr.JaroWinkler(word, candidate, false); score > bestScore {
				bestRun, bestScore = k, score
			}
		}
	}
	if bestRun > 0 {
		return bestRun, MatchFuzzy, true
	}
	return 0, MatchPositional, false
}

// similarTokens reports whether two normalized tokens are close enough to be
// the same word after synthesizer normalization. Distance-ratio first, then
// Jaro-Winkler as a second opinion for short tokens where one edit is large.
func similarTokens(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	dist := matchr.Levenshtein(a, b)
	if float64(dist)/float64(longer) <= fuzzyDistanceRatio {
		return true
	}
	return matchr.JaroWinkler(a, b, false) >= fuzzyJaroWinkler
}

// digitWords spells single digits the way synthesizer normalization does.
// Multi-digit numbers are spelled digit by digit, which is wrong for "42"
// ("fourtwo" vs "forty two") but close enough for the fuzzy pass to bridge.
var digitWords = [10]string{
	"zero", "one", "two", "three", "four",
	"five", "six", "seven", "eight", "nine",
}

// normalizeToken lowercases a token, strips everything that is not a letter
// or digit, and spells out digits, so "Dr." compares as "dr", "can't" as
// "cant", and "Listen2" as "listentwo".
func normalizeToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteString(digitWords[r-'0'])
		case unicode.IsLetter(r):
			b.WriteRune(r)
		}
	}
	return b.String()
}
