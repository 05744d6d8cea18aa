package cursor

import (
	"sort"
	"strings"
)

// Vocabulary supplies the schema-dependent completion candidates.
type Vocabulary struct {
	Entities []string
	Fields   []string
	Values   map[string][]string
}

var (
	statementWords = []string{"FIND", "COUNT", "AGGREGATE", "UPDATE", "EXPLAIN"}
	operatorWords  = []string{
		"=", "!=", "<", "<=", ">", ">=", "~", "!~",
		"IN", "NOT", "IS", "WAS", "CHANGED", "EXISTS",
		"CONTAINS", "LIKE", "MATCH", "INCLUDES", "EXCLUDES",
		"BEFORE", "AFTER", "ON", "DURING", "BETWEEN",
	}
	negatableWords = []string{"IN", "EXISTS", "CONTAINS", "LIKE", "INCLUDES", "EXCLUDES"}
	clauseWords    = []string{"FROM", "JOIN", "SET", "WHERE", "GROUP BY", "HAVING", "ORDER BY", "LIMIT", "OFFSET"}
	logicalWords   = []string{"AND", "OR", "GROUP BY", "HAVING", "ORDER BY", "LIMIT", "OFFSET"}
	qualifierWords = []string{"FROM", "TO", "BY", "DURING", "AND", "OR", "ORDER BY", "LIMIT", "OFFSET"}
	directionWords = []string{"ASC", "DESC", "LIMIT", "OFFSET"}
)

// Suggest returns completion candidates for ctx, filtered case-insensitively
// by the typed prefix. Results are sorted and free of duplicates.
func Suggest(ctx Context, vocab Vocabulary) []string {
	var candidates []string
	switch ctx.Expecting {
	case expectStatement:
		candidates = statementWords
	case expectEntity, expectSource:
		candidates = vocab.Entities
	case expectField, expectOrderField:
		candidates = append(candidates, vocab.Fields...)
		if ctx.Expecting == expectField {
			candidates = append(candidates, "NOT")
		}
	case expectOperator:
		candidates = operatorWords
		if ctx.Operator == "NOT" {
			candidates = negatableWords
		}
	case expectValue:
		switch ctx.Operator {
		case "IS":
			candidates = []string{"NULL", "EMPTY", "NOT"}
		case "IS NOT":
			candidates = []string{"NULL", "EMPTY"}
		default:
			candidates = vocab.Values[ctx.Field]
		}
	case expectClause:
		candidates = clauseWords
	case expectLogical:
		candidates = logicalWords
	case expectQualifier:
		candidates = qualifierWords
	case expectBy:
		candidates = []string{"BY"}
	case expectDirection:
		candidates = directionWords
	}

	prefix := strings.ToUpper(ctx.Prefix)
	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if seen[c] || !strings.HasPrefix(strings.ToUpper(c), prefix) {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
