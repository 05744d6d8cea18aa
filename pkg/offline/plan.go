// Package offline answers OPQL queries from rows recorded out of earlier
// online responses. It applies the same engine, permission masking and
// paging as the online path; only ranking falls back to a local score when
// no stored order exists for the query.
package offline

import (
	"strings"

	"github.com/knesgoda/outpaged-opql/pkg/opql"
	"github.com/knesgoda/outpaged-opql/pkg/search"
)

// Filters are the structural constraints the local index can narrow on.
type Filters struct {
	ProjectID  string   `json:"projectId,omitempty"`
	Statuses   []string `json:"statuses,omitempty"`
	Labels     []string `json:"labels,omitempty"`
	Assignees  []string `json:"assignees,omitempty"`
	Types      []string `json:"types,omitempty"`
	Priorities []string `json:"priorities,omitempty"`
}

// Empty reports whether no filter was extracted.
func (f Filters) Empty() bool {
	return f.ProjectID == "" && len(f.Statuses) == 0 && len(f.Labels) == 0 &&
		len(f.Assignees) == 0 && len(f.Types) == 0 && len(f.Priorities) == 0
}

// Plan is the offline reading of a query. A non-empty Unsupported list
// means offline results may be incomplete.
type Plan struct {
	Kind        string          `json:"kind"`
	Entity      string          `json:"entity"`
	Filters     Filters         `json:"filters"`
	Unsupported []string        `json:"unsupported"`
	Supported   bool            `json:"supported"`
	Statement   *opql.Statement `json:"-"`
}

// filterFields maps row fields to the Filters slot they feed.
var filterFields = map[string]string{
	"project_id": "projectId",
	"status":     "statuses",
	"labels":     "labels",
	"assignee":   "assignees",
	"type":       "types",
	"priority":   "priorities",
}

// PlanOfflineQuery extracts filters from the equality, IN and INCLUDES
// comparisons of the top-level AND chain, and records constructs the
// replica cannot honor instead of failing. Free text is planned as the
// same MATCH query the online search runs. Only syntax errors fail.
func PlanOfflineQuery(text string) (Plan, error) {
	stmt, err := opql.Parse(search.Normalize(text))
	if err != nil {
		return Plan{}, err
	}
	return planStatement(stmt), nil
}

func planStatement(stmt *opql.Statement) Plan {
	p := Plan{
		Kind:        stmt.Effective().String(),
		Entity:      stmt.Entity,
		Unsupported: []string{},
		Statement:   stmt,
	}

	for _, j := range stmt.Joins {
		p.Unsupported = append(p.Unsupported, "join:"+j.Alias)
	}
	switch stmt.Effective() {
	case opql.StatementAggregate:
		p.Unsupported = append(p.Unsupported, "statement:aggregate")
	case opql.StatementUpdate:
		p.Unsupported = append(p.Unsupported, "statement:update")
	}
	if len(stmt.GroupBy) > 0 {
		p.Unsupported = append(p.Unsupported, "aggregate:group_by")
	}
	if stmt.Having != nil {
		p.Unsupported = append(p.Unsupported, "aggregate:having")
	}
	p.Supported = len(p.Unsupported) == 0

	for _, pred := range conjuncts(stmt.Where) {
		c, ok := pred.(*opql.Comparison)
		if !ok {
			continue
		}
		p.Filters.add(c)
	}
	return p
}

// conjuncts flattens nested ANDs. Anything else is a single conjunct.
func conjuncts(p opql.Predicate) []opql.Predicate {
	l, ok := p.(*opql.Logical)
	if !ok || l.Op != opql.LogicalAnd {
		if p == nil {
			return nil
		}
		return []opql.Predicate{p}
	}
	var out []opql.Predicate
	for _, child := range l.Children {
		out = append(out, conjuncts(child)...)
	}
	return out
}

func (f *Filters) add(c *opql.Comparison) {
	slot, ok := filterFields[strings.ToLower(c.Field)]
	if !ok {
		return
	}
	switch c.Op {
	case opql.OpEquals, opql.OpIn:
	case opql.OpIncludes:
		if slot != "labels" {
			return
		}
	default:
		return
	}

	values := make([]string, 0, len(c.Values))
	for _, v := range c.Values {
		if v.Kind == opql.ValueIdent && strings.Contains(v.Raw, ".") {
			// alias.field reference, not a literal
			return
		}
		values = append(values, v.Raw)
	}

	switch slot {
	case "projectId":
		if f.ProjectID == "" && len(values) == 1 {
			f.ProjectID = values[0]
		}
	case "statuses":
		f.Statuses = appendNew(f.Statuses, values...)
	case "labels":
		f.Labels = appendNew(f.Labels, values...)
	case "assignees":
		f.Assignees = appendNew(f.Assignees, values...)
	case "types":
		f.Types = appendNew(f.Types, values...)
	case "priorities":
		f.Priorities = appendNew(f.Priorities, values...)
	}
}

func appendNew(list []string, values ...string) []string {
	for _, v := range values {
		dup := false
		for _, have := range list {
			if have == v {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, v)
		}
	}
	return list
}
