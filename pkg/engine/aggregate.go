package engine

import (
	"sort"
	"strings"

	"github.com/knesgoda/outpaged-opql/pkg/opql"
	"github.com/knesgoda/outpaged-opql/pkg/value"
)

// aggregate buckets matched rows by the GROUP BY fields, applies HAVING and
// orders the buckets. Without GROUP BY all rows share one bucket.
func (c *compiled) aggregate(rows []Row, ev *evaluator) []Group {
	index := make(map[string]int)
	var buckets []Group

	for _, r := range rows {
		parts := make([]string, len(c.groupBy))
		key := make(map[string]any, len(c.groupBy))
		for i, f := range c.groupBy {
			v, _ := lookup(r, f)
			key[f] = v
			parts[i] = strings.ToLower(value.AsString(v))
		}
		k := strings.Join(parts, "\x1f")
		if i, ok := index[k]; ok {
			buckets[i].Count++
			continue
		}
		index[k] = len(buckets)
		buckets = append(buckets, Group{Key: key, Count: 1})
	}

	groups := make([]Group, 0, len(buckets))
	for _, g := range buckets {
		if c.stmt.Having != nil && !ev.eval(c.stmt.Having, groupRow(g)) {
			continue
		}
		groups = append(groups, g)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		for _, o := range c.orderBy {
			a := groupValue(groups[i], o.field)
			b := groupValue(groups[j], o.field)
			if d := compareKeys(a, b, o.desc); d != 0 {
				return d < 0
			}
		}
		if len(c.orderBy) == 0 && groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groupKey(groups[i], c.groupBy) < groupKey(groups[j], c.groupBy)
	})
	return groups
}

func groupKey(g Group, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = strings.ToLower(value.AsString(g.Key[f]))
	}
	return strings.Join(parts, "\x1f")
}

func groupValue(g Group, field string) any {
	if field == opql.CountField {
		return float64(g.Count)
	}
	return g.Key[field]
}

// groupRow exposes a bucket to HAVING: grouped fields plus count.
func groupRow(g Group) Row {
	values := make(map[string]any, len(g.Key)+1)
	for k, v := range g.Key {
		values[k] = v
	}
	values[opql.CountField] = float64(g.Count)
	return Row{Values: values}
}
