package resorank

import (
	"sort"
	"strings"
	"unicode"
)

// stopWords are dropped by Tokenize.
var stopWords = map[string]bool{
	"the": true, "of": true, "and": true, "a": true, "an": true,
	"to": true, "in": true, "on": true, "for": true, "at": true, "by": true,
	"is": true, "it": true, "as": true, "be": true, "was": true, "or": true,
	"are": true, "been": true, "with": true, "from": true, "into": true,
	"that": true, "this": true, "has": true, "have": true, "had": true,
	"its": true, "their": true,
}

// Tokenize lowercases text, splits it on anything that is not a letter or
// digit and drops stop words.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if !stopWords[w] {
			out = append(out, w)
		}
	}
	return out
}

// Analyze tokenizes each field and builds the per-term metadata for
// IndexDocument. Fields are laid out in name order; a token's segment is
// its position, scaled down when the document has more tokens than
// maxSegments.
func Analyze(fields map[string]string, maxSegments uint32) (DocumentMetadata, map[string]TokenMetadata) {
	if maxSegments == 0 || maxSegments > 32 {
		maxSegments = 32
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	perField := make(map[string][]string, len(fields))
	meta := DocumentMetadata{FieldLengths: make(map[string]int, len(fields))}
	for _, name := range names {
		toks := Tokenize(fields[name])
		perField[name] = toks
		meta.FieldLengths[name] = len(toks)
		meta.TotalTokenCount += len(toks)
	}

	tokens := make(map[string]TokenMetadata)
	pos := 0
	for _, name := range names {
		for _, tok := range perField[name] {
			seg := uint32(pos)
			if meta.TotalTokenCount > int(maxSegments) {
				seg = uint32(pos * int(maxSegments) / meta.TotalTokenCount)
			}
			pos++

			tm, ok := tokens[tok]
			if !ok {
				tm = TokenMetadata{FieldOccurrences: make(map[string]FieldOccurrence)}
			}
			occ := tm.FieldOccurrences[name]
			occ.TF++
			occ.FieldLength = meta.FieldLengths[name]
			tm.FieldOccurrences[name] = occ
			tm.SegmentMask |= 1 << seg
			tokens[tok] = tm
		}
	}
	return meta, tokens
}
