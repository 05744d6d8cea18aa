package engine

import (
	"sort"
	"strings"
)

// join attaches, for every join clause, the first visible row of the joined
// entity (in EntityID order) whose merged view satisfies the ON condition.
// Rows without a partner for every clause are dropped (inner join).
func (c *compiled) join(base, visible []Row, ev *evaluator) []Row {
	partners := make([][]Row, len(c.joins))
	for i, j := range c.joins {
		for _, r := range visible {
			if j.entity.Covers(r.EntityType) {
				partners[i] = append(partners[i], r)
			}
		}
		sort.SliceStable(partners[i], func(a, b int) bool {
			return partners[i][a].EntityID < partners[i][b].EntityID
		})
	}

	out := make([]Row, 0, len(base))
	for _, r := range base {
		combined, ok := r, true
		for i, j := range c.joins {
			found := false
			for _, p := range partners[i] {
				if p.EntityID == r.EntityID && p.EntityType == r.EntityType {
					continue
				}
				merged := attach(combined, j.alias, p)
				if ev.eval(j.join.On, merged) {
					combined, found = merged, true
					break
				}
			}
			if !found {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, combined)
		}
	}
	return out
}

// attach copies r and adds partner's values under alias. Masked partner
// fields stay masked under their aliased name.
func attach(r Row, alias string, partner Row) Row {
	out := r
	out.Values = make(map[string]any, len(r.Values)+len(partner.Values)+3)
	for k, v := range r.Values {
		out.Values[k] = v
	}
	prefix := strings.ToLower(alias) + "."
	for k, v := range partner.Values {
		out.Values[prefix+k] = v
	}
	out.Values[prefix+"id"] = partner.EntityID
	out.Values[prefix+"type"] = partner.EntityType
	out.Values[prefix+"workspace_id"] = partner.WorkspaceID

	out.Masked = append([]string(nil), r.Masked...)
	for _, m := range partner.Masked {
		out.Masked = append(out.Masked, prefix+m)
	}
	return out
}
