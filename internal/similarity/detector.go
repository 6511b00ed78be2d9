// Package similarity flags explanations that merely reword an earlier attempt.
// It is a heuristic filter; false positives and negatives are expected.
package similarity

import (
	"sort"
	"strings"
	"unicode"
)

// Reasons reported for a duplicate
const (
	ReasonTechniqueOverlap = "technique-overlap"
	ReasonWordingOverlap   = "wording-overlap"
)

// DefaultMinSharedWords is the content-word overlap that marks a rewording
const DefaultMinSharedWords = 3

// Term is a technique keyword. Each token matches a word that starts with it,
// so "hash" matches both "hash map" and "hashmap".
type Term struct {
	Name   string
	Tokens []string
}

// Result describes the outcome of a duplicate check
type Result struct {
	Duplicate    bool
	MatchedIndex int
	Reason       string
	Shared       []string
}

// Detector compares a new explanation against prior ones
type Detector struct {
	terms          []Term
	stopwords      map[string]bool
	minSharedWords int
}

// Option configures a Detector
type Option func(*Detector)

// WithTerms replaces the technique vocabulary
func WithTerms(terms []string) Option {
	return func(d *Detector) {
		d.terms = buildTerms(terms)
	}
}

// WithMinSharedWords overrides the wording threshold
func WithMinSharedWords(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.minSharedWords = n
		}
	}
}

// NewDetector creates a detector with the default vocabulary
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		terms:          buildTerms(defaultTerms),
		stopwords:      make(map[string]bool, len(defaultStopwords)),
		minSharedWords: DefaultMinSharedWords,
	}
	for _, w := range defaultStopwords {
		d.stopwords[w] = true
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Check tests text against history in order; the first matching entry wins.
func (d *Detector) Check(text string, history []string) Result {
	tokens := Tokenize(text)
	terms := d.techniques(tokens)
	words := d.contentWords(tokens)

	for i, prior := range history {
		priorTokens := Tokenize(prior)

		if len(terms) > 0 {
			if shared := intersect(terms, d.techniques(priorTokens)); len(shared) > 0 {
				return Result{Duplicate: true, MatchedIndex: i, Reason: ReasonTechniqueOverlap, Shared: shared}
			}
		}

		if shared := intersect(words, d.contentWords(priorTokens)); len(shared) >= d.minSharedWords {
			return Result{Duplicate: true, MatchedIndex: i, Reason: ReasonWordingOverlap, Shared: shared}
		}
	}

	return Result{MatchedIndex: -1}
}

// Techniques returns the vocabulary terms present in text
func (d *Detector) Techniques(text string) []string {
	return sortedKeys(d.techniques(Tokenize(text)))
}

func (d *Detector) techniques(tokens []string) map[string]bool {
	found := make(map[string]bool)
	for _, term := range d.terms {
		if matchesSequence(tokens, term.Tokens) {
			found[term.Name] = true
		}
	}
	return found
}

func (d *Detector) contentWords(tokens []string) map[string]bool {
	words := make(map[string]bool)
	for _, tok := range tokens {
		if len([]rune(tok)) > 3 && !d.stopwords[tok] {
			words[tok] = true
		}
	}
	return words
}

// Normalize lowercases text, drops punctuation and collapses whitespace
func Normalize(text string) string {
	return strings.Join(Tokenize(text), " ")
}

// Tokenize splits normalized text into words. Apostrophes are dropped so
// "I'll" becomes "ill" rather than two fragments.
func Tokenize(text string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '\'' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

func matchesSequence(tokens, seq []string) bool {
	if len(seq) == 0 || len(tokens) < len(seq) {
		return false
	}
	for i := 0; i+len(seq) <= len(tokens); i++ {
		ok := true
		for j, want := range seq {
			if !strings.HasPrefix(tokens[i+j], want) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func buildTerms(names []string) []Term {
	terms := make([]Term, 0, len(names))
	for _, n := range names {
		toks := Tokenize(n)
		if len(toks) == 0 {
			continue
		}
		terms = append(terms, Term{Name: strings.Join(toks, " "), Tokens: toks})
	}
	return terms
}

func intersect(a, b map[string]bool) []string {
	var out []string
	for k := range a {
		if b[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
