// Package opql implements the OPQL statement model and parser.
//
//	FIND tasks WHERE status WAS "In Progress" DURING (2024-01-01, 2024-01-11)
//	  AND assignee IN ("user:ana", "user:ben") ORDER BY updated_at DESC LIMIT 20
package opql

import (
	"strconv"
	"strings"

	"github.com/knesgoda/outpaged-opql/pkg/opql/syntax"
)

// StatementKind selects what a statement does with its matches.
type StatementKind int

const (
	StatementFind StatementKind = iota
	StatementCount
	StatementAggregate
	StatementUpdate
	StatementExplain
)

func (k StatementKind) String() string {
	switch k {
	case StatementCount:
		return "COUNT"
	case StatementAggregate:
		return "AGGREGATE"
	case StatementUpdate:
		return "UPDATE"
	case StatementExplain:
		return "EXPLAIN"
	default:
		return "FIND"
	}
}

// Statement is a parsed OPQL statement. Treat it as read-only.
type Statement struct {
	Kind StatementKind
	// Target is the explained statement kind when Kind is StatementExplain.
	Target StatementKind

	Entity  string
	Source  string // FROM clause
	Joins   []Join
	Where   Predicate // nil matches everything
	GroupBy []string
	Having  Predicate
	OrderBy []Ordering
	Limit   *int
	Offset  *int
	Set     []Assignment
}

// Effective returns the kind that drives execution, unwrapping EXPLAIN.
func (s *Statement) Effective() StatementKind {
	if s.Kind == StatementExplain {
		return s.Target
	}
	return s.Kind
}

// CountField names the per-group row count in HAVING clauses.
const CountField = "count"

// Join binds Alias to rows of Entity that satisfy On.
type Join struct {
	Entity string
	Alias  string
	On     Predicate
}

// Ordering is one ORDER BY key.
type Ordering struct {
	Field string
	Desc  bool
}

// Assignment is one UPDATE ... SET pair.
type Assignment struct {
	Field string
	Value Value
}

// ValueKind is the lexical origin of a literal.
type ValueKind int

const (
	ValueString ValueKind = iota // quoted
	ValueNumber
	ValueIdent // bare word; may name an aliased field in join conditions
)

// Value is a literal operand.
type Value struct {
	Kind ValueKind
	Raw  string
	Num  float64
}

// Interface returns the Go value used for comparisons.
func (v Value) Interface() any {
	if v.Kind == ValueNumber {
		return v.Num
	}
	return v.Raw
}

func (v Value) String() string {
	switch v.Kind {
	case ValueString:
		return syntax.Quote(v.Raw)
	default:
		return v.Raw
	}
}

// Window is a closed [Start, End] time range.
type Window struct {
	Start Value
	End   Value
}

func (w Window) String() string {
	return "DURING (" + w.Start.String() + ", " + w.End.String() + ")"
}

// Predicate is a node in a WHERE tree.
type Predicate interface {
	predicateNode()
	String() string
}

// Operator is a structural comparison operator.
type Operator int

const (
	OpEquals Operator = iota
	OpNotEquals
	OpLess
	OpLessEq
	OpGreater
	OpGreaterEq
	OpIn
	OpNotIn
	OpIncludes
	OpExcludes
	OpContains
	OpNotContains
	OpLike
	OpMatch
	OpExists
	OpNotExists
	OpIsNull
	OpIsNotNull
	OpIsEmpty
	OpIsNotEmpty
	OpBefore
	OpAfter
	OpOn
	OpDuring
	OpBetween
)

var operatorText = map[Operator]string{
	OpEquals:      "=",
	OpNotEquals:   "!=",
	OpLess:        "<",
	OpLessEq:      "<=",
	OpGreater:     ">",
	OpGreaterEq:   ">=",
	OpIn:          "IN",
	OpNotIn:       "NOT IN",
	OpIncludes:    "INCLUDES",
	OpExcludes:    "EXCLUDES",
	OpContains:    "CONTAINS",
	OpNotContains: "NOT CONTAINS",
	OpLike:        "LIKE",
	OpMatch:       "MATCH",
	OpExists:      "EXISTS",
	OpNotExists:   "NOT EXISTS",
	OpIsNull:      "IS NULL",
	OpIsNotNull:   "IS NOT NULL",
	OpIsEmpty:     "IS EMPTY",
	OpIsNotEmpty:  "IS NOT EMPTY",
	OpBefore:      "BEFORE",
	OpAfter:       "AFTER",
	OpOn:          "ON",
	OpDuring:      "DURING",
	OpBetween:     "BETWEEN",
}

func (op Operator) String() string {
	return operatorText[op]
}

// Arity returns how many operands the operator takes; -1 means a list.
func (op Operator) Arity() int {
	switch op {
	case OpExists, OpNotExists, OpIsNull, OpIsNotNull, OpIsEmpty, OpIsNotEmpty:
		return 0
	case OpIn, OpNotIn:
		return -1
	case OpDuring, OpBetween:
		return 2
	default:
		return 1
	}
}

// Comparison tests the current value of a field.
type Comparison struct {
	Field  string
	Op     Operator
	Values []Value
}

func (*Comparison) predicateNode() {}

func (c *Comparison) String() string {
	switch c.Op.Arity() {
	case 0:
		return c.Field + " " + c.Op.String()
	case -1:
		return c.Field + " " + c.Op.String() + " (" + joinValues(c.Values) + ")"
	}
	switch c.Op {
	case OpDuring:
		return c.Field + " DURING (" + joinValues(c.Values) + ")"
	case OpBetween:
		return c.Field + " BETWEEN " + c.Values[0].String() + " AND " + c.Values[1].String()
	}
	return c.Field + " " + c.Op.String() + " " + c.Values[0].String()
}

// LogicalOp combines child predicates.
type LogicalOp int

const (
	LogicalAnd LogicalOp = iota
	LogicalOr
)

func (op LogicalOp) String() string {
	if op == LogicalOr {
		return "OR"
	}
	return "AND"
}

// Logical is an AND/OR node with two or more children.
type Logical struct {
	Op       LogicalOp
	Children []Predicate
}

func (*Logical) predicateNode() {}

func (l *Logical) String() string {
	parts := make([]string, len(l.Children))
	for i, c := range l.Children {
		s := c.String()
		if inner, ok := c.(*Logical); ok && inner.Op != l.Op {
			s = "(" + s + ")"
		}
		parts[i] = s
	}
	return strings.Join(parts, " "+l.Op.String()+" ")
}

// Not negates its child.
type Not struct {
	Child Predicate
}

func (*Not) predicateNode() {}

func (n *Not) String() string {
	return "NOT (" + n.Child.String() + ")"
}

// HistoryVerb selects how a history predicate reads the segment list.
type HistoryVerb int

const (
	VerbWas HistoryVerb = iota
	VerbWasNot
	VerbChanged
)

func (v HistoryVerb) String() string {
	switch v {
	case VerbWasNot:
		return "WAS NOT"
	case VerbChanged:
		return "CHANGED"
	default:
		return "WAS"
	}
}

// HistoryPredicate tests a field's past values or transitions.
type HistoryPredicate struct {
	Field  string
	Verb   HistoryVerb
	Value  *Value // WAS / WAS NOT operand
	From   *Value
	To     *Value
	By     *Value
	During *Window
}

func (*HistoryPredicate) predicateNode() {}

func (h *HistoryPredicate) String() string {
	var b strings.Builder
	b.WriteString(h.Field)
	b.WriteString(" ")
	b.WriteString(h.Verb.String())
	if h.Value != nil {
		b.WriteString(" " + h.Value.String())
	}
	if h.From != nil {
		b.WriteString(" FROM " + h.From.String())
	}
	if h.To != nil {
		b.WriteString(" TO " + h.To.String())
	}
	if h.By != nil {
		b.WriteString(" BY " + h.By.String())
	}
	if h.During != nil {
		b.WriteString(" " + h.During.String())
	}
	return b.String()
}

// String renders the statement as canonical OPQL.
func (s *Statement) String() string {
	var b strings.Builder
	kind := s.Kind
	if kind == StatementExplain {
		b.WriteString("EXPLAIN ")
		kind = s.Target
	}
	b.WriteString(kind.String())
	b.WriteString(" ")
	b.WriteString(s.Entity)
	if s.Source != "" {
		b.WriteString(" FROM " + s.Source)
	}
	for _, j := range s.Joins {
		b.WriteString(" JOIN " + j.Entity + " AS " + j.Alias + " ON " + j.On.String())
	}
	if len(s.Set) > 0 {
		parts := make([]string, len(s.Set))
		for i, a := range s.Set {
			parts[i] = a.Field + " = " + a.Value.String()
		}
		b.WriteString(" SET " + strings.Join(parts, ", "))
	}
	if s.Where != nil {
		b.WriteString(" WHERE " + s.Where.String())
	}
	if len(s.GroupBy) > 0 {
		b.WriteString(" GROUP BY " + strings.Join(s.GroupBy, ", "))
	}
	if s.Having != nil {
		b.WriteString(" HAVING " + s.Having.String())
	}
	if len(s.OrderBy) > 0 {
		parts := make([]string, len(s.OrderBy))
		for i, o := range s.OrderBy {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts[i] = o.Field + " " + dir
		}
		b.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if s.Limit != nil {
		b.WriteString(" LIMIT " + strconv.Itoa(*s.Limit))
	}
	if s.Offset != nil {
		b.WriteString(" OFFSET " + strconv.Itoa(*s.Offset))
	}
	return b.String()
}

func joinValues(values []Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

// Walk visits every predicate in the tree depth-first. Returning false from
// fn stops descent into that node's children.
func Walk(p Predicate, fn func(Predicate) bool) {
	if p == nil || !fn(p) {
		return
	}
	switch n := p.(type) {
	case *Logical:
		for _, c := range n.Children {
			Walk(c, fn)
		}
	case *Not:
		Walk(n.Child, fn)
	}
}
