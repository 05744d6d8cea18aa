package search

import (
	"sort"

	"github.com/knesgoda/outpaged-opql/pkg/engine"
	"github.com/knesgoda/outpaged-opql/pkg/opql/cursor"
	"github.com/knesgoda/outpaged-opql/pkg/value"
)

// Vocabulary builds completion candidates from the schema, with enum
// values drawn from rows. Pass rows as the caller sees them; masked values
// are skipped.
func Vocabulary(schema *engine.Schema, rows []engine.Row) cursor.Vocabulary {
	vocab := cursor.Vocabulary{
		Entities: schema.Entities(),
		Values:   make(map[string][]string),
	}

	fields := make(map[string]bool)
	enums := make(map[string]bool)
	for _, name := range vocab.Entities {
		ent, err := schema.Entity(name)
		if err != nil {
			continue
		}
		for fname, spec := range ent.Fields {
			fields[fname] = true
			if spec.Kind == engine.KindEnum {
				enums[fname] = true
			}
		}
	}
	for f := range fields {
		vocab.Fields = append(vocab.Fields, f)
	}
	sort.Strings(vocab.Fields)

	seen := make(map[string]map[string]bool, len(enums))
	add := func(field, v string) {
		if v == "" || v == engine.MaskedValue {
			return
		}
		if seen[field] == nil {
			seen[field] = make(map[string]bool)
		}
		if !seen[field][v] {
			seen[field][v] = true
			vocab.Values[field] = append(vocab.Values[field], v)
		}
	}
	for _, r := range rows {
		for field := range enums {
			if v, ok := r.Get(field); ok && v != nil {
				add(field, value.AsString(v))
			} else if field == "type" {
				add(field, r.EntityType)
			}
		}
	}
	for field := range vocab.Values {
		sort.Strings(vocab.Values[field])
	}
	return vocab
}
