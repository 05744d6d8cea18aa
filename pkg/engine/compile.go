package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/knesgoda/outpaged-opql/pkg/history"
	"github.com/knesgoda/outpaged-opql/pkg/opql"
	"github.com/knesgoda/outpaged-opql/pkg/value"
)

// ScoreField orders by relevance in ORDER BY.
const ScoreField = "score"

var builtinFields = map[string]FieldKind{
	"id":           KindText,
	"type":         KindEnum,
	"workspace_id": KindText,
	ScoreField:     KindNumber,
}

type compiledJoin struct {
	join   opql.Join
	alias  string
	entity *Entity
}

type ordering struct {
	field string
	desc  bool
}

// compiled is a statement validated against the schema with every operand
// pre-resolved, so evaluation never fails.
type compiled struct {
	stmt   *opql.Statement
	entity *Entity
	joins  []compiledJoin

	// query spelling -> canonical field name
	fields map[string]string
	// operands that name a field instead of a literal, per comparison
	refs     map[*opql.Comparison][]string
	times    map[*opql.Comparison][]time.Time
	matchers map[*opql.Comparison]*termMatcher
	history  map[*opql.HistoryPredicate]history.Query

	orderBy []ordering
	groupBy []string
}

func compile(schema *Schema, stmt *opql.Statement) (*compiled, error) {
	entity, err := schema.Entity(stmt.Entity)
	if err != nil {
		return nil, err
	}
	c := &compiled{
		stmt:     stmt,
		entity:   entity,
		fields:   make(map[string]string),
		refs:     make(map[*opql.Comparison][]string),
		times:    make(map[*opql.Comparison][]time.Time),
		matchers: make(map[*opql.Comparison]*termMatcher),
		history:  make(map[*opql.HistoryPredicate]history.Query),
	}

	seen := make(map[string]bool)
	for _, j := range stmt.Joins {
		je, err := schema.Entity(j.Entity)
		if err != nil {
			return nil, err
		}
		alias := strings.ToLower(j.Alias)
		if seen[alias] {
			return nil, &opql.ValidationError{Entity: j.Entity, Msg: fmt.Sprintf("duplicate join alias %q", j.Alias)}
		}
		seen[alias] = true
		c.joins = append(c.joins, compiledJoin{join: j, alias: alias, entity: je})
	}
	for _, j := range c.joins {
		if err := c.predicate(j.join.On, true); err != nil {
			return nil, err
		}
	}

	if err := c.predicate(stmt.Where, false); err != nil {
		return nil, err
	}

	for _, f := range stmt.GroupBy {
		name, _, err := c.field(f)
		if err != nil {
			return nil, err
		}
		c.groupBy = append(c.groupBy, name)
	}
	if stmt.Having != nil {
		if err := c.having(stmt.Having); err != nil {
			return nil, err
		}
	}

	for _, o := range stmt.OrderBy {
		name, err := c.orderField(o.Field)
		if err != nil {
			return nil, err
		}
		c.orderBy = append(c.orderBy, ordering{field: name, desc: o.Desc})
	}

	for _, a := range stmt.Set {
		name, _, err := c.field(a.Field)
		if err != nil {
			return nil, err
		}
		if _, builtin := builtinFields[name]; builtin || strings.Contains(name, ".") {
			return nil, &opql.ValidationError{Field: a.Field, Msg: "field is read-only"}
		}
	}
	return c, nil
}

// field resolves a field reference to its canonical name. alias.field
// references must name a join alias.
func (c *compiled) field(ref string) (string, FieldSpec, error) {
	if name, ok := c.fields[ref]; ok {
		return name, c.spec(name), nil
	}

	if alias, rest, ok := strings.Cut(ref, "."); ok {
		for _, j := range c.joins {
			if j.alias != strings.ToLower(alias) {
				continue
			}
			spec, found := j.entity.Field(rest)
			if !found {
				kind, builtin := builtinFields[strings.ToLower(rest)]
				if !builtin {
					return "", FieldSpec{}, &opql.ValidationError{Field: ref, Msg: "unknown field on " + j.entity.Name}
				}
				spec = FieldSpec{Name: strings.ToLower(rest), Kind: kind}
			}
			name := j.alias + "." + spec.Name
			c.fields[ref] = name
			return name, spec, nil
		}
		return "", FieldSpec{}, &opql.ValidationError{Field: ref, Msg: fmt.Sprintf("unknown join alias %q", alias)}
	}

	spec, found := c.entity.Field(ref)
	if !found {
		kind, builtin := builtinFields[strings.ToLower(ref)]
		if !builtin {
			return "", FieldSpec{}, &opql.ValidationError{Field: ref, Msg: "unknown field on " + c.entity.Name}
		}
		spec = FieldSpec{Name: strings.ToLower(ref), Kind: kind}
	}
	c.fields[ref] = spec.Name
	return spec.Name, spec, nil
}

func (c *compiled) spec(name string) FieldSpec {
	if alias, rest, ok := strings.Cut(name, "."); ok {
		for _, j := range c.joins {
			if j.alias == alias {
				if s, ok := j.entity.Field(rest); ok {
					return s
				}
			}
		}
		return FieldSpec{Name: rest, Kind: builtinFields[rest]}
	}
	if s, ok := c.entity.Field(name); ok {
		return s
	}
	return FieldSpec{Name: name, Kind: builtinFields[name]}
}

func (c *compiled) orderField(ref string) (string, error) {
	if c.stmt.Effective() == opql.StatementAggregate {
		if strings.EqualFold(ref, opql.CountField) {
			return opql.CountField, nil
		}
		name, _, err := c.field(ref)
		if err != nil {
			return "", err
		}
		for _, g := range c.groupBy {
			if g == name {
				return name, nil
			}
		}
		return "", &opql.ValidationError{Field: ref, Msg: "ORDER BY in AGGREGATE must name a grouped field or count"}
	}
	name, _, err := c.field(ref)
	return name, err
}

func (c *compiled) predicate(p opql.Predicate, joinCondition bool) error {
	var err error
	opql.Walk(p, func(node opql.Predicate) bool {
		if err != nil {
			return false
		}
		switch n := node.(type) {
		case *opql.Comparison:
			err = c.comparison(n, joinCondition)
		case *opql.HistoryPredicate:
			err = c.historyPredicate(n)
		}
		return true
	})
	return err
}

func (c *compiled) comparison(cmp *opql.Comparison, joinCondition bool) error {
	if cmp.Field == opql.CountField {
		return &opql.ValidationError{Field: cmp.Field, Msg: "count is only available in HAVING"}
	}
	_, spec, err := c.field(cmp.Field)
	if err != nil {
		return err
	}

	if joinCondition {
		refs := make([]string, len(cmp.Values))
		for i, v := range cmp.Values {
			if v.Kind != opql.ValueIdent {
				continue
			}
			if name, _, err := c.field(v.Raw); err == nil {
				refs[i] = name
			}
		}
		c.refs[cmp] = refs
	}

	switch cmp.Op {
	case opql.OpBefore, opql.OpAfter, opql.OpOn, opql.OpDuring:
		if spec.Kind != KindTime {
			return &opql.ValidationError{Field: cmp.Field, Msg: cmp.Op.String() + " requires a time field"}
		}
		times := make([]time.Time, len(cmp.Values))
		for i, v := range cmp.Values {
			t, ok := value.AsTime(v.Raw)
			if !ok {
				return &opql.ValidationError{Field: cmp.Field, Msg: fmt.Sprintf("invalid time %q", v.Raw)}
			}
			times[i] = t
		}
		c.times[cmp] = times
	case opql.OpMatch:
		c.matchers[cmp] = newTermMatcher(cmp.Values[0].Raw)
	}
	return nil
}

func (c *compiled) historyPredicate(h *opql.HistoryPredicate) error {
	if strings.Contains(h.Field, ".") {
		return &opql.ValidationError{Field: h.Field, Msg: "history predicates apply to the queried entity only"}
	}
	name, _, err := c.field(h.Field)
	if err != nil {
		return err
	}

	q := history.Query{Field: name}
	switch h.Verb {
	case opql.VerbWasNot:
		q.Verb = history.VerbWasNot
	case opql.VerbChanged:
		q.Verb = history.VerbChanged
	default:
		q.Verb = history.VerbWas
	}
	if h.Value != nil {
		q.Value = h.Value.Interface()
	}
	if h.From != nil {
		q.From = h.From.Interface()
	}
	if h.To != nil {
		q.To = h.To.Interface()
	}
	if h.By != nil {
		q.By = h.By.Interface()
	}
	if h.During != nil {
		start, ok := value.AsTime(h.During.Start.Raw)
		if !ok {
			return &opql.ValidationError{Field: h.Field, Msg: fmt.Sprintf("invalid time %q", h.During.Start.Raw)}
		}
		end, ok := value.AsTime(h.During.End.Raw)
		if !ok {
			return &opql.ValidationError{Field: h.Field, Msg: fmt.Sprintf("invalid time %q", h.During.End.Raw)}
		}
		if end.Before(start) {
			return &opql.ValidationError{Field: h.Field, Msg: "DURING window ends before it starts"}
		}
		q.During = &history.Window{Start: start, End: end}
	}
	c.history[h] = q
	return nil
}

// having validates a HAVING tree: only grouped fields and count.
func (c *compiled) having(p opql.Predicate) error {
	var err error
	opql.Walk(p, func(node opql.Predicate) bool {
		if err != nil {
			return false
		}
		switch n := node.(type) {
		case *opql.HistoryPredicate:
			err = &opql.ValidationError{Field: n.Field, Msg: "history predicates are not allowed in HAVING"}
		case *opql.Comparison:
			if n.Field == opql.CountField {
				c.fields[n.Field] = opql.CountField
				return true
			}
			name, _, ferr := c.field(n.Field)
			if ferr != nil {
				err = ferr
				return false
			}
			for _, g := range c.groupBy {
				if g == name {
					err = c.comparison(n, false)
					return true
				}
			}
			err = &opql.ValidationError{Field: n.Field, Msg: "HAVING must reference a grouped field or count"}
		}
		return true
	})
	return err
}
