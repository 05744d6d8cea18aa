package engine

import (
	"strings"
	"unicode"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"
)

// termMatcher backs the MATCH operator: one automaton over the query terms,
// scanned once per candidate value.
type termMatcher struct {
	ac    ahocorasick.AhoCorasick
	terms []string
}

func newTermMatcher(query string) *termMatcher {
	terms := matchTerms(query)
	m := &termMatcher{terms: terms}
	if len(terms) == 0 {
		return m
	}
	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  true,
		MatchKind:            ahocorasick.LeftMostLongestMatch,
	})
	m.ac = builder.Build(terms)
	return m
}

// Match reports whether any term occurs in text as a whole word.
func (m *termMatcher) Match(text string) bool {
	if len(m.terms) == 0 || text == "" {
		return false
	}
	return len(m.ac.FindAll(strings.ToLower(text))) > 0
}

func matchTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	})
	seen := make(map[string]bool, len(fields))
	terms := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			terms = append(terms, f)
		}
	}
	return terms
}
