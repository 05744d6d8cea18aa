package opql

import (
	"strconv"

	"github.com/knesgoda/outpaged-opql/pkg/opql/syntax"
)

type parser struct {
	text string
	toks []syntax.Token
	pos  int
}

// Parse turns OPQL text into a Statement. Malformed input fails with a
// *SyntaxError carrying the offending token's byte offset.
func Parse(text string) (*Statement, error) {
	p := &parser{text: text, toks: syntax.Scan(text)}
	if len(p.toks) == 0 {
		return nil, &SyntaxError{Pos: 0, Msg: "empty query"}
	}
	for _, t := range p.toks {
		if t.Unterminated {
			return nil, &SyntaxError{Pos: t.Start, Token: t.Text, Msg: "unterminated string"}
		}
	}

	stmt, err := p.statement()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		t := p.peek()
		if t.Kind == syntax.KindRParen {
			return nil, p.errorf(t, "unbalanced parenthesis")
		}
		return nil, p.errorf(t, "unexpected token")
	}
	return stmt, nil
}

// MustParse is Parse for literals known to be valid; it panics otherwise.
func MustParse(text string) *Statement {
	stmt, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return stmt
}

// =============================================================================
// Token cursor
// =============================================================================

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() syntax.Token {
	if p.done() {
		return syntax.Token{Kind: syntax.KindError, Start: len(p.text), End: len(p.text)}
	}
	return p.toks[p.pos]
}

func (p *parser) next() syntax.Token {
	t := p.peek()
	if !p.done() {
		p.pos++
	}
	return t
}

func (p *parser) peekKeyword(kw string) bool {
	return !p.done() && p.toks[p.pos].Is(kw)
}

func (p *parser) accept(kw string) bool {
	if p.peekKeyword(kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if p.accept(kw) {
		return nil
	}
	return p.errorf(p.peek(), "expected "+kw)
}

func (p *parser) expectKind(kind syntax.TokenKind, what string) (syntax.Token, error) {
	t := p.peek()
	if t.Kind != kind {
		if kind == syntax.KindRParen && (p.done() || t.Kind != syntax.KindComma) {
			return t, p.errorf(t, "unbalanced parenthesis")
		}
		return t, p.errorf(t, "expected "+what)
	}
	p.pos++
	return t, nil
}

func (p *parser) errorf(t syntax.Token, msg string) *SyntaxError {
	if p.done() && t.Kind == syntax.KindError {
		return &SyntaxError{Pos: len(p.text), Msg: msg + ", got end of input"}
	}
	return &SyntaxError{Pos: t.Start, Token: t.Text, Msg: msg}
}

// name consumes an identifier that is not a reserved word.
func (p *parser) name(what string) (string, error) {
	t := p.peek()
	if t.Kind != syntax.KindIdent || t.Keyword() != "" {
		return "", p.errorf(t, "expected "+what)
	}
	p.pos++
	return t.Text, nil
}

// =============================================================================
// Statements
// =============================================================================

func (p *parser) statement() (*Statement, error) {
	head := p.next()
	kind, ok := statementKind(head.Keyword())
	if !ok {
		return nil, p.errorf(head, "expected FIND, COUNT, AGGREGATE, UPDATE or EXPLAIN")
	}

	stmt := &Statement{Kind: kind}
	if kind == StatementExplain {
		if target, ok := statementKind(p.peek().Keyword()); ok {
			if target == StatementExplain {
				return nil, p.errorf(p.peek(), "EXPLAIN cannot be nested")
			}
			p.pos++
			stmt.Target = target
		}
	}

	var err error
	if stmt.Entity, err = p.name("entity"); err != nil {
		return nil, err
	}
	if p.accept("FROM") {
		if stmt.Source, err = p.name("source"); err != nil {
			return nil, err
		}
	}
	for p.accept("JOIN") {
		join, err := p.join()
		if err != nil {
			return nil, err
		}
		stmt.Joins = append(stmt.Joins, join)
	}
	if stmt.Effective() == StatementUpdate {
		if stmt.Set, err = p.assignments(); err != nil {
			return nil, err
		}
	}
	if p.accept("WHERE") {
		if stmt.Where, err = p.or(); err != nil {
			return nil, err
		}
	}
	if p.peekKeyword("GROUP") {
		t := p.next()
		if stmt.Effective() != StatementAggregate {
			return nil, p.errorf(t, "GROUP BY requires AGGREGATE")
		}
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		if stmt.GroupBy, err = p.nameList("group field"); err != nil {
			return nil, err
		}
	}
	if p.peekKeyword("HAVING") {
		t := p.next()
		if stmt.Effective() != StatementAggregate {
			return nil, p.errorf(t, "HAVING requires AGGREGATE")
		}
		if stmt.Having, err = p.or(); err != nil {
			return nil, err
		}
	}
	if p.accept("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		if stmt.OrderBy, err = p.orderings(); err != nil {
			return nil, err
		}
	}
	for p.peekKeyword("LIMIT") || p.peekKeyword("OFFSET") {
		t := p.next()
		n, err := p.count()
		if err != nil {
			return nil, err
		}
		if t.Is("LIMIT") {
			if stmt.Limit != nil {
				return nil, p.errorf(t, "duplicate LIMIT")
			}
			stmt.Limit = &n
		} else {
			if stmt.Offset != nil {
				return nil, p.errorf(t, "duplicate OFFSET")
			}
			stmt.Offset = &n
		}
	}
	return stmt, nil
}

func statementKind(kw string) (StatementKind, bool) {
	switch kw {
	case "FIND":
		return StatementFind, true
	case "COUNT":
		return StatementCount, true
	case "AGGREGATE":
		return StatementAggregate, true
	case "UPDATE":
		return StatementUpdate, true
	case "EXPLAIN":
		return StatementExplain, true
	}
	return 0, false
}

func (p *parser) join() (Join, error) {
	var j Join
	var err error
	if j.Entity, err = p.name("join entity"); err != nil {
		return j, err
	}
	p.accept("AS")
	if j.Alias, err = p.name("join alias"); err != nil {
		return j, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return j, err
	}
	if j.On, err = p.or(); err != nil {
		return j, err
	}
	return j, nil
}

func (p *parser) assignments() ([]Assignment, error) {
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	var out []Assignment
	for {
		field, err := p.name("field")
		if err != nil {
			return nil, err
		}
		if t := p.peek(); t.Kind != syntax.KindOperator || t.Text != "=" {
			return nil, p.errorf(t, "expected =")
		}
		p.pos++
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out = append(out, Assignment{Field: field, Value: v})
		if p.peek().Kind != syntax.KindComma {
			return out, nil
		}
		p.pos++
	}
}

func (p *parser) nameList(what string) ([]string, error) {
	var out []string
	for {
		n, err := p.name(what)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
		if p.peek().Kind != syntax.KindComma {
			return out, nil
		}
		p.pos++
	}
}

func (p *parser) orderings() ([]Ordering, error) {
	var out []Ordering
	for {
		field, err := p.name("order field")
		if err != nil {
			return nil, err
		}
		o := Ordering{Field: field}
		if p.accept("DESC") {
			o.Desc = true
		} else {
			p.accept("ASC")
		}
		out = append(out, o)
		if p.peek().Kind != syntax.KindComma {
			return out, nil
		}
		p.pos++
	}
}

func (p *parser) count() (int, error) {
	t := p.peek()
	if t.Kind != syntax.KindNumber {
		return 0, p.errorf(t, "expected non-negative integer")
	}
	n, err := strconv.Atoi(t.Text)
	if err != nil || n < 0 {
		return 0, p.errorf(t, "expected non-negative integer")
	}
	p.pos++
	return n, nil
}

// =============================================================================
// Predicates: OR < AND < NOT < condition
// =============================================================================

func (p *parser) or() (Predicate, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	children := []Predicate{left}
	for p.accept("OR") {
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return &Logical{Op: LogicalOr, Children: children}, nil
}

func (p *parser) and() (Predicate, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	children := []Predicate{left}
	for p.accept("AND") {
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return &Logical{Op: LogicalAnd, Children: children}, nil
}

func (p *parser) unary() (Predicate, error) {
	if p.accept("NOT") {
		child, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Not{Child: child}, nil
	}
	if p.peek().Kind == syntax.KindLParen {
		p.pos++
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(syntax.KindRParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return p.condition()
}

func (p *parser) condition() (Predicate, error) {
	var field string
	if t := p.peek(); t.Is("COUNT") {
		// the aggregate measure, only meaningful inside HAVING
		p.pos++
		field = CountField
	} else {
		var err error
		if field, err = p.name("field"); err != nil {
			return nil, err
		}
	}

	t := p.peek()
	if t.Kind == syntax.KindOperator {
		p.pos++
		op, ok := symbolOperator(t.Text)
		if !ok {
			return nil, p.errorf(t, "unknown operator")
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		return &Comparison{Field: field, Op: op, Values: []Value{v}}, nil
	}

	kw := t.Keyword()
	if kw == "" {
		return nil, p.errorf(t, "expected operator")
	}
	p.pos++

	switch kw {
	case "IN":
		return p.listComparison(field, OpIn)
	case "NOT":
		switch {
		case p.accept("IN"):
			return p.listComparison(field, OpNotIn)
		case p.accept("EXISTS"):
			return &Comparison{Field: field, Op: OpNotExists}, nil
		case p.accept("CONTAINS"):
			return p.unaryComparison(field, OpNotContains)
		case p.accept("LIKE"):
			c, err := p.unaryComparison(field, OpLike)
			if err != nil {
				return nil, err
			}
			return &Not{Child: c}, nil
		}
		return nil, p.errorf(p.peek(), "expected IN, EXISTS, CONTAINS or LIKE after NOT")
	case "IS":
		negated := p.accept("NOT")
		switch {
		case p.accept("NULL"):
			if negated {
				return &Comparison{Field: field, Op: OpIsNotNull}, nil
			}
			return &Comparison{Field: field, Op: OpIsNull}, nil
		case p.accept("EMPTY"):
			if negated {
				return &Comparison{Field: field, Op: OpIsNotEmpty}, nil
			}
			return &Comparison{Field: field, Op: OpIsEmpty}, nil
		}
		return nil, p.errorf(p.peek(), "expected NULL or EMPTY")
	case "EXISTS":
		return &Comparison{Field: field, Op: OpExists}, nil
	case "INCLUDES", "EXCLUDES":
		op := OpIncludes
		if kw == "EXCLUDES" {
			op = OpExcludes
		}
		if p.peek().Kind == syntax.KindLParen {
			return p.listComparison(field, op)
		}
		return p.unaryComparison(field, op)
	case "CONTAINS":
		return p.unaryComparison(field, OpContains)
	case "LIKE":
		return p.unaryComparison(field, OpLike)
	case "MATCH":
		return p.unaryComparison(field, OpMatch)
	case "BEFORE":
		return p.unaryComparison(field, OpBefore)
	case "AFTER":
		return p.unaryComparison(field, OpAfter)
	case "ON":
		return p.unaryComparison(field, OpOn)
	case "DURING":
		w, err := p.window()
		if err != nil {
			return nil, err
		}
		return &Comparison{Field: field, Op: OpDuring, Values: []Value{w.Start, w.End}}, nil
	case "BETWEEN":
		lo, err := p.value()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		hi, err := p.value()
		if err != nil {
			return nil, err
		}
		return &Comparison{Field: field, Op: OpBetween, Values: []Value{lo, hi}}, nil
	case "WAS":
		return p.was(field)
	case "CHANGED":
		return p.changed(field)
	}
	return nil, p.errorf(t, "expected operator")
}

func symbolOperator(sym string) (Operator, bool) {
	switch sym {
	case "=", "==":
		return OpEquals, true
	case "!=":
		return OpNotEquals, true
	case "<":
		return OpLess, true
	case "<=":
		return OpLessEq, true
	case ">":
		return OpGreater, true
	case ">=":
		return OpGreaterEq, true
	case "~":
		return OpContains, true
	case "!~":
		return OpNotContains, true
	}
	return 0, false
}

func (p *parser) unaryComparison(field string, op Operator) (Predicate, error) {
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	return &Comparison{Field: field, Op: op, Values: []Value{v}}, nil
}

func (p *parser) listComparison(field string, op Operator) (Predicate, error) {
	values, err := p.list()
	if err != nil {
		return nil, err
	}
	return &Comparison{Field: field, Op: op, Values: values}, nil
}

func (p *parser) was(field string) (Predicate, error) {
	h := &HistoryPredicate{Field: field, Verb: VerbWas}
	if p.accept("NOT") {
		h.Verb = VerbWasNot
	}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	h.Value = &v
	if p.accept("DURING") {
		w, err := p.window()
		if err != nil {
			return nil, err
		}
		h.During = &w
	}
	return h, nil
}

func (p *parser) changed(field string) (Predicate, error) {
	h := &HistoryPredicate{Field: field, Verb: VerbChanged}
	for {
		t := p.peek()
		var slot **Value
		switch t.Keyword() {
		case "FROM":
			slot = &h.From
		case "TO":
			slot = &h.To
		case "BY":
			slot = &h.By
		case "DURING":
			if h.During != nil {
				return nil, p.errorf(t, "duplicate DURING")
			}
			p.pos++
			w, err := p.window()
			if err != nil {
				return nil, err
			}
			h.During = &w
			continue
		default:
			return h, nil
		}
		if *slot != nil {
			return nil, p.errorf(t, "duplicate "+t.Keyword())
		}
		p.pos++
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		*slot = &v
	}
}

// =============================================================================
// Operands
// =============================================================================

func (p *parser) value() (Value, error) {
	t := p.peek()
	switch t.Kind {
	case syntax.KindString:
		p.pos++
		return Value{Kind: ValueString, Raw: t.Value}, nil
	case syntax.KindNumber:
		p.pos++
		n, _ := strconv.ParseFloat(t.Text, 64)
		return Value{Kind: ValueNumber, Raw: t.Text, Num: n}, nil
	case syntax.KindIdent:
		if t.Keyword() == "" {
			p.pos++
			return Value{Kind: ValueIdent, Raw: t.Text}, nil
		}
	}
	return Value{}, p.errorf(t, "missing operand")
}

func (p *parser) list() ([]Value, error) {
	if _, err := p.expectKind(syntax.KindLParen, "("); err != nil {
		return nil, err
	}
	var values []Value
	for {
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.peek().Kind != syntax.KindComma {
			break
		}
		p.pos++
	}
	if _, err := p.expectKind(syntax.KindRParen, ")"); err != nil {
		return nil, err
	}
	return values, nil
}

func (p *parser) window() (Window, error) {
	var w Window
	if _, err := p.expectKind(syntax.KindLParen, "("); err != nil {
		return w, err
	}
	var err error
	if w.Start, err = p.value(); err != nil {
		return w, err
	}
	if _, err := p.expectKind(syntax.KindComma, ","); err != nil {
		return w, err
	}
	if w.End, err = p.value(); err != nil {
		return w, err
	}
	if _, err := p.expectKind(syntax.KindRParen, ")"); err != nil {
		return w, err
	}
	return w, nil
}
