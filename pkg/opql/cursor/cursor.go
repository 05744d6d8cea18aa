// Package cursor infers the grammatical position of a caret inside OPQL text
// so editors can offer completions. Analysis is pure and total: any text and
// any offset produce a Context, never an error.
package cursor

import (
	"strings"

	"github.com/knesgoda/outpaged-opql/pkg/opql/syntax"
)

// State is the public grammar position reported to editors.
type State string

const (
	StateRoot     State = "root"
	StateEntity   State = "entity"
	StateField    State = "field"
	StateOperator State = "operator"
	StateValue    State = "value"
	StatePostfix  State = "postfix"
)

// Internal expectations. Several map onto the same public State.
const (
	expectStatement  = "statement"
	expectEntity     = "entity"
	expectSource     = "source"
	expectAlias      = "alias"
	expectClause     = "clause"
	expectField      = "field"
	expectOperator   = "operator"
	expectValue      = "value"
	expectLogical    = "logical"
	expectQualifier  = "qualifier" // FROM / TO / BY / DURING after CHANGED
	expectBy         = "by"
	expectOrderField = "order_field"
	expectDirection  = "direction"
	expectNumber     = "number"
)

var stateOf = map[string]State{
	expectStatement:  StateRoot,
	expectEntity:     StateEntity,
	expectSource:     StateEntity,
	expectAlias:      StateEntity,
	expectClause:     StatePostfix,
	expectField:      StateField,
	expectOperator:   StateOperator,
	expectValue:      StateValue,
	expectLogical:    StatePostfix,
	expectQualifier:  StatePostfix,
	expectBy:         StatePostfix,
	expectOrderField: StateField,
	expectDirection:  StatePostfix,
	expectNumber:     StateValue,
}

// Context describes the caret position.
type Context struct {
	Token            string `json:"token"`
	Prefix           string `json:"prefix"`
	State            State  `json:"state"`
	PreviousToken    string `json:"previousToken"`
	PrecedingKeyword string `json:"precedingKeyword"`
	Field            string `json:"field"`
	Operator         string `json:"operator"`
	Expecting        string `json:"expecting"`
	InList           bool   `json:"inList"`
	Depth            int    `json:"depth"`
}

// Analyze returns the grammatical context at byte offset cursor in text.
// Offsets outside the text are clamped.
func Analyze(text string, offset int) Context {
	if offset < 0 {
		offset = 0
	}
	if offset > len(text) {
		offset = len(text)
	}

	tokens := syntax.Scan(text)

	var ctx Context
	limit := offset
	for _, t := range tokens {
		if t.Start < offset && offset <= t.End && typeable(t.Kind) {
			ctx.Token = t.Text
			ctx.Prefix = text[t.Start:offset]
			if t.Kind == syntax.KindString {
				ctx.Prefix = strings.TrimLeft(ctx.Prefix, `"'`)
			}
			limit = t.Start
			break
		}
	}

	m := machine{expect: expectStatement}
	for _, t := range tokens {
		if t.End > limit {
			break
		}
		m.step(t)
		ctx.PreviousToken = t.Text
	}

	ctx.Expecting = m.expect
	ctx.State = stateOf[m.expect]
	ctx.PrecedingKeyword = m.keyword
	ctx.Field = m.field
	ctx.Operator = m.operator
	ctx.InList = m.inList
	ctx.Depth = m.depth
	return ctx
}

func typeable(k syntax.TokenKind) bool {
	switch k {
	case syntax.KindIdent, syntax.KindNumber, syntax.KindString, syntax.KindOperator:
		return true
	}
	return false
}

type machine struct {
	expect   string
	keyword  string
	clause   string // WHERE, JOIN, SET, ORDER, GROUP, HAVING
	field    string
	operator string
	depth    int
	inList   bool

	// BETWEEN bounds seen so far; the AND after the first joins the range
	bounds int
}

func (m *machine) step(t syntax.Token) {
	switch t.Kind {
	case syntax.KindLParen:
		m.depth++
		if m.expect == expectValue && (listOperator(m.operator) || m.keyword == "DURING") {
			m.inList = true
			return
		}
		m.expect = expectField
	case syntax.KindRParen:
		if m.depth > 0 {
			m.depth--
		}
		if m.inList {
			m.inList = false
			if m.operator == "CHANGED" {
				m.expect = expectQualifier
				return
			}
		}
		m.expect = expectLogical
	case syntax.KindComma:
		m.comma()
	case syntax.KindOperator:
		if m.expect == expectOperator || m.expect == expectValue {
			m.operator = t.Text
			m.expect = expectValue
		}
	case syntax.KindString, syntax.KindNumber:
		m.value()
	case syntax.KindIdent:
		if kw := t.Keyword(); kw != "" && !(kw == "COUNT" && m.expect == expectField) {
			m.keywordStep(kw)
			return
		}
		m.word(t.Text)
	}
}

func (m *machine) comma() {
	switch {
	case m.inList:
		m.expect = expectValue
	case m.clause == "ORDER":
		m.expect = expectOrderField
	case m.clause == "GROUP" || m.clause == "SET":
		m.expect = expectField
	case listOperator(m.operator):
		m.expect = expectValue
	default:
		m.expect = expectField
	}
}

func (m *machine) value() {
	switch {
	case m.expect == expectNumber:
		m.expect = expectClause
	case m.inList:
		m.expect = expectValue
	case m.operator == "BETWEEN" && m.bounds == 0:
		m.bounds = 1
		m.expect = expectLogical
	case m.operator == "CHANGED":
		m.expect = expectQualifier
	default:
		m.expect = expectLogical
	}
}

func (m *machine) word(text string) {
	switch m.expect {
	case expectStatement:
		m.expect = expectClause
	case expectEntity:
		if m.clause == "JOIN" {
			m.expect = expectAlias
			return
		}
		m.expect = expectClause
	case expectSource:
		m.expect = expectClause
	case expectAlias:
		m.expect = expectClause
	case expectClause:
		if m.clause == "JOIN" {
			m.expect = expectClause
		}
	case expectField:
		m.field = text
		m.operator = ""
		m.bounds = 0
		m.expect = expectOperator
	case expectOrderField:
		m.field = text
		m.expect = expectDirection
	case expectValue, expectNumber:
		m.value()
	}
}

func (m *machine) keywordStep(kw string) {
	switch kw {
	case "FIND", "COUNT", "AGGREGATE", "UPDATE", "EXPLAIN":
		m.keyword = kw
		m.expect = expectEntity
	case "FROM":
		m.keyword = kw
		if m.operator == "CHANGED" {
			m.expect = expectValue
			return
		}
		m.expect = expectSource
	case "TO":
		m.keyword = kw
		m.expect = expectValue
	case "WHERE", "HAVING":
		m.keyword = kw
		m.clause = kw
		m.resetCondition()
		m.expect = expectField
	case "AND":
		if m.operator == "BETWEEN" && m.bounds == 1 && m.expect == expectLogical {
			m.keyword = kw
			m.bounds = 2
			m.expect = expectValue
			return
		}
		m.keyword = kw
		m.resetCondition()
		m.expect = expectField
	case "OR":
		m.keyword = kw
		m.resetCondition()
		m.expect = expectField
	case "NOT":
		m.keyword = kw
		switch {
		case m.expect == expectOperator:
			m.operator = "NOT"
		case m.operator == "IS" || m.operator == "WAS":
			m.operator += " NOT"
			m.expect = expectValue
		default:
			m.expect = expectField
		}
	case "IN":
		m.keyword = kw
		m.operator = prefixed(m.operator, "IN")
		m.expect = expectValue
	case "IS", "WAS":
		m.keyword = kw
		m.operator = kw
		m.expect = expectValue
	case "CHANGED":
		m.keyword = kw
		m.operator = kw
		m.expect = expectQualifier
	case "BY":
		m.keyword = kw
		switch {
		case m.expect == expectBy && m.clause == "ORDER":
			m.expect = expectOrderField
		case m.expect == expectBy:
			m.expect = expectField
		default:
			m.expect = expectValue
		}
	case "DURING":
		m.keyword = kw
		if m.expect == expectOperator {
			m.operator = kw
		}
		m.expect = expectValue
	case "ORDER", "GROUP":
		m.keyword = kw
		m.clause = kw
		m.expect = expectBy
	case "LIMIT", "OFFSET":
		m.keyword = kw
		m.expect = expectNumber
	case "ASC", "DESC":
		m.keyword = kw
		m.expect = expectDirection
	case "JOIN":
		m.keyword = kw
		m.clause = kw
		m.expect = expectEntity
	case "AS":
		m.keyword = kw
		m.expect = expectAlias
	case "ON":
		m.keyword = kw
		if m.clause == "JOIN" && m.expect != expectOperator {
			m.resetCondition()
			m.expect = expectField
			return
		}
		m.operator = kw
		m.expect = expectValue
	case "SET":
		m.keyword = kw
		m.clause = kw
		m.expect = expectField
	case "EXISTS":
		m.keyword = kw
		m.operator = prefixed(m.operator, kw)
		m.expect = expectLogical
	case "NULL", "EMPTY":
		m.keyword = kw
		m.expect = expectLogical
	case "LIKE", "MATCH", "CONTAINS", "INCLUDES", "EXCLUDES", "BEFORE", "AFTER", "BETWEEN":
		m.keyword = kw
		m.operator = prefixed(m.operator, kw)
		m.bounds = 0
		m.expect = expectValue
	default:
		m.keyword = kw
	}
}

func (m *machine) resetCondition() {
	m.field = ""
	m.operator = ""
	m.bounds = 0
	m.inList = false
}

func prefixed(current, op string) string {
	if current == "NOT" {
		return "NOT " + op
	}
	return op
}

func listOperator(op string) bool {
	switch op {
	case "IN", "NOT IN", "INCLUDES", "EXCLUDES", "NOT INCLUDES", "NOT EXCLUDES":
		return true
	}
	return false
}
