package engine

import (
	"strings"
	"time"

	"github.com/knesgoda/outpaged-opql/pkg/history"
	"github.com/knesgoda/outpaged-opql/pkg/opql"
	"github.com/knesgoda/outpaged-opql/pkg/value"
)

// lookup reads a canonical field from a projected row. Masked fields read
// as absent; id, type, workspace_id and score fall back to row metadata.
func lookup(r Row, field string) (any, bool) {
	if r.IsMasked(field) {
		return nil, false
	}
	if v, ok := r.Values[field]; ok {
		return v, true
	}
	switch field {
	case "id":
		return r.EntityID, true
	case "type":
		return r.EntityType, true
	case "workspace_id":
		return r.WorkspaceID, true
	case ScoreField:
		return r.Score, true
	}
	if alias, rest, ok := strings.Cut(field, "."); ok {
		switch rest {
		case "id", "type", "workspace_id":
			v, ok := r.Values[alias+"."+rest]
			return v, ok
		}
	}
	return nil, false
}

type evaluator struct {
	c   *compiled
	now time.Time
	// evidence for EXPLAIN; nil when not requested
	scans *[]history.Match
}

func (ev *evaluator) eval(p opql.Predicate, r Row) bool {
	switch n := p.(type) {
	case nil:
		return true
	case *opql.Logical:
		if n.Op == opql.LogicalOr {
			for _, child := range n.Children {
				if ev.eval(child, r) {
					return true
				}
			}
			return false
		}
		for _, child := range n.Children {
			if !ev.eval(child, r) {
				return false
			}
		}
		return true
	case *opql.Not:
		return !ev.eval(n.Child, r)
	case *opql.Comparison:
		return ev.compare(n, r)
	case *opql.HistoryPredicate:
		return ev.history(n, r)
	}
	return false
}

func (ev *evaluator) history(h *opql.HistoryPredicate, r Row) bool {
	q := ev.c.history[h]
	var m history.Match
	if r.IsMasked(q.Field) {
		m = history.Match{Field: q.Field, Verb: q.Verb}
	} else {
		current, _ := lookup(r, q.Field)
		m = history.Evaluate(q, r.History.Segments(q.Field, current), ev.now)
	}
	if ev.scans != nil {
		*ev.scans = append(*ev.scans, m)
	}
	return m.Matched
}

func (ev *evaluator) operands(cmp *opql.Comparison, r Row) []any {
	refs := ev.c.refs[cmp]
	out := make([]any, len(cmp.Values))
	for i, v := range cmp.Values {
		if i < len(refs) && refs[i] != "" {
			out[i], _ = lookup(r, refs[i])
			continue
		}
		out[i] = v.Interface()
	}
	return out
}

func (ev *evaluator) compare(cmp *opql.Comparison, r Row) bool {
	field := ev.c.fields[cmp.Field]
	v, present := lookup(r, field)
	operands := ev.operands(cmp, r)

	switch cmp.Op {
	case opql.OpEquals:
		return anyEqual(v, operands[0])
	case opql.OpNotEquals:
		return !anyEqual(v, operands[0])
	case opql.OpLess, opql.OpLessEq, opql.OpGreater, opql.OpGreaterEq:
		c, ok := value.Compare(v, operands[0])
		if !ok {
			return false
		}
		switch cmp.Op {
		case opql.OpLess:
			return c < 0
		case opql.OpLessEq:
			return c <= 0
		case opql.OpGreater:
			return c > 0
		default:
			return c >= 0
		}
	case opql.OpIn:
		return inList(v, operands)
	case opql.OpNotIn:
		return !inList(v, operands)
	case opql.OpIncludes:
		for _, o := range operands {
			if !anyEqual(v, o) {
				return false
			}
		}
		return true
	case opql.OpExcludes:
		return !inList(v, operands)
	case opql.OpContains:
		return contains(v, value.AsString(operands[0]))
	case opql.OpNotContains:
		return !contains(v, value.AsString(operands[0]))
	case opql.OpLike:
		pattern := value.AsString(operands[0])
		for _, e := range value.AsList(v) {
			if like(value.AsString(e), pattern) {
				return true
			}
		}
		return false
	case opql.OpMatch:
		m := ev.c.matchers[cmp]
		for _, e := range value.AsList(v) {
			if m.Match(value.AsString(e)) {
				return true
			}
		}
		return false
	case opql.OpExists:
		return present && v != nil
	case opql.OpNotExists:
		return !present || v == nil
	case opql.OpIsNull:
		return v == nil
	case opql.OpIsNotNull:
		return v != nil
	case opql.OpIsEmpty:
		return value.IsEmpty(v)
	case opql.OpIsNotEmpty:
		return !value.IsEmpty(v)
	case opql.OpBefore, opql.OpAfter, opql.OpOn, opql.OpDuring:
		t, ok := value.AsTime(v)
		times := ev.c.times[cmp]
		if !ok || len(times) == 0 {
			return false
		}
		switch cmp.Op {
		case opql.OpBefore:
			return t.Before(times[0])
		case opql.OpAfter:
			return t.After(times[0])
		case opql.OpOn:
			return sameDay(t, times[0])
		default:
			return !t.Before(times[0]) && !t.After(times[1])
		}
	case opql.OpBetween:
		lo, ok1 := value.Compare(v, operands[0])
		hi, ok2 := value.Compare(v, operands[1])
		return ok1 && ok2 && lo >= 0 && hi <= 0
	}
	return false
}

// anyEqual treats list-valued fields as matching when any element does.
func anyEqual(v, operand any) bool {
	if v == nil {
		return false
	}
	for _, e := range value.AsList(v) {
		if value.Equal(e, operand) {
			return true
		}
	}
	return false
}

func inList(v any, operands []any) bool {
	for _, o := range operands {
		if anyEqual(v, o) {
			return true
		}
	}
	return false
}

func contains(v any, needle string) bool {
	needle = strings.ToLower(needle)
	for _, e := range value.AsList(v) {
		if strings.Contains(strings.ToLower(value.AsString(e)), needle) {
			return true
		}
	}
	return false
}

func sameDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// like matches SQL LIKE patterns case-insensitively: % is any run, _ is
// one character.
func like(s, pattern string) bool {
	s, pattern = strings.ToLower(s), strings.ToLower(pattern)
	str := []rune(s)
	pat := []rune(pattern)

	// classic two-pointer wildcard match with backtracking to the last %
	si, pi := 0, 0
	star, mark := -1, 0
	for si < len(str) {
		switch {
		case pi < len(pat) && (pat[pi] == '_' || pat[pi] == str[si]):
			si++
			pi++
		case pi < len(pat) && pat[pi] == '%':
			star, mark = pi, si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pat) && pat[pi] == '%' {
		pi++
	}
	return pi == len(pat)
}
