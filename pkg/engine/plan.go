package engine

import (
	"sort"

	"github.com/knesgoda/outpaged-opql/pkg/opql"
)

func (e *Engine) plan(c *compiled, req Request) *Plan {
	p := &Plan{
		Statement: c.stmt.String(),
		Kind:      c.stmt.Effective().String(),
		Entity:    c.entity.Name,
		Types:     c.entity.Types,
	}
	if len(req.Types) > 0 {
		p.Types = req.Types
	}
	for _, j := range c.joins {
		p.Joins = append(p.Joins, j.entity.Name+" AS "+j.alias+" ON "+j.join.On.String())
	}

	historyFields := make(map[string]bool)
	opql.Walk(c.stmt.Where, func(node opql.Predicate) bool {
		switch n := node.(type) {
		case *opql.Comparison:
			p.Predicates = append(p.Predicates, n.String())
		case *opql.HistoryPredicate:
			p.Predicates = append(p.Predicates, n.String())
			historyFields[c.history[n].Field] = true
		}
		return true
	})
	for f := range historyFields {
		p.HistoryFields = append(p.HistoryFields, f)
	}
	sort.Strings(p.HistoryFields)

	if len(c.orderBy) == 0 {
		p.OrderBy = []string{ScoreField + " DESC", "id ASC"}
	} else {
		for _, o := range c.orderBy {
			dir := " ASC"
			if o.desc {
				dir = " DESC"
			}
			p.OrderBy = append(p.OrderBy, o.field+dir)
		}
		p.OrderBy = append(p.OrderBy, "id ASC")
	}

	offset, limit := e.window(c.stmt, req.Page)
	p.Offset = offset
	if limit > 0 {
		p.Limit = limit
	}
	return p
}
