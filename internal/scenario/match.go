package scenario

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// MatchOption is a functional option for configuring a [Matcher].
type MatchOption func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a candidate
// that also sounds like the query. Default: 0.70.
func WithPhoneticThreshold(threshold float64) MatchOption {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a candidate
// that does not sound like the query. Default: 0.85.
func WithFuzzyThreshold(threshold float64) MatchOption {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher resolves misspelt or spoken persona names ("julli", "l'artisan")
// against a list of labels.
//
// Candidates whose Double Metaphone codes overlap the query's are ranked by
// Jaro-Winkler similarity against the lower phonetic threshold; when none
// qualifies, plain Jaro-Winkler similarity above the fuzzy threshold is used.
// A Matcher is read-only after construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a [Matcher] configured with opts.
func NewMatcher(opts ...MatchOption) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the best label for query and its score. ok is false when no
// label clears its threshold.
func (m *Matcher) Match(query string, labels []string) (label string, score float64, ok bool) {
	qTokens := tokens(query)
	if len(qTokens) == 0 || len(labels) == 0 {
		return "", 0, false
	}
	qCodes := metaphones(qTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, l := range labels {
		lTokens := tokens(l)
		if len(lTokens) == 0 {
			continue
		}
		s := similarity(qTokens, lTokens)
		phonetic := overlaps(qCodes, metaphones(lTokens))

		switch {
		case phonetic && s >= m.phoneticThreshold:
			if !bestPhonetic || s > bestScore {
				best, bestScore, bestPhonetic = l, s, true
			}
		case !bestPhonetic && s >= m.fuzzyThreshold && s > bestScore:
			best, bestScore = l, s
		}
	}
	return best, bestScore, best != ""
}

// tokens lower-cases s and splits it on anything that is not a letter or
// digit, so "Marc - L'Artisan" yields [marc l artisan].
func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func metaphones(toks []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(toks)*2)
	for _, t := range toks {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score over the joined strings, the
// space-stripped strings and every token pair. Single-letter tokens are left
// out of the pairwise pass so elided articles ("l", "d") cannot match alone.
func similarity(q, l []string) float64 {
	score := matchr.JaroWinkler(strings.Join(q, " "), strings.Join(l, " "), false)
	if s := matchr.JaroWinkler(strings.Join(q, ""), strings.Join(l, ""), false); s > score {
		score = s
	}
	for _, a := range q {
		if len([]rune(a)) < 2 {
			continue
		}
		for _, b := range l {
			if len([]rune(b)) < 2 {
				continue
			}
			if s := matchr.JaroWinkler(a, b, false); s > score {
				score = s
			}
		}
	}
	return score
}
