package engine

import (
	"sort"
	"strings"

	"github.com/knesgoda/outpaged-opql/pkg/opql"
)

// FieldKind is the value type a field holds.
type FieldKind int

const (
	KindText FieldKind = iota
	KindNumber
	KindTime
	KindList
	KindEnum
)

// FieldSpec describes one queryable field.
type FieldSpec struct {
	Name string    `json:"name"`
	Kind FieldKind `json:"kind"`
	// Searchable fields feed text ranking.
	Searchable bool `json:"searchable,omitempty"`
}

// Entity is a queryable entity. Types lists the row EntityType values it
// covers; an empty list covers every type.
type Entity struct {
	Name    string               `json:"name"`
	Aliases []string             `json:"aliases,omitempty"`
	Types   []string             `json:"types,omitempty"`
	Fields  map[string]FieldSpec `json:"fields"`
}

// Field looks up a field by name, case-insensitively.
func (e *Entity) Field(name string) (FieldSpec, bool) {
	if f, ok := e.Fields[name]; ok {
		return f, true
	}
	for k, f := range e.Fields {
		if strings.EqualFold(k, name) {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Covers reports whether rows of entityType belong to e.
func (e *Entity) Covers(entityType string) bool {
	if len(e.Types) == 0 {
		return true
	}
	for _, t := range e.Types {
		if strings.EqualFold(t, entityType) {
			return true
		}
	}
	return false
}

// SearchableFields returns the sorted names of text-ranked fields.
func (e *Entity) SearchableFields() []string {
	var names []string
	for k, f := range e.Fields {
		if f.Searchable {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// Schema is the field registry. Unknown entities and fields are validation
// errors rather than silent non-matches.
type Schema struct {
	entities map[string]*Entity
}

// NewSchema builds a registry from entities.
func NewSchema(entities ...Entity) *Schema {
	s := &Schema{entities: make(map[string]*Entity)}
	for i := range entities {
		s.Register(entities[i])
	}
	return s
}

// Register adds or replaces an entity under its name and aliases.
func (s *Schema) Register(e Entity) {
	ent := e
	s.entities[strings.ToLower(e.Name)] = &ent
	for _, a := range e.Aliases {
		s.entities[strings.ToLower(a)] = &ent
	}
}

// Entity resolves name or alias.
func (s *Schema) Entity(name string) (*Entity, error) {
	if e, ok := s.entities[strings.ToLower(name)]; ok {
		return e, nil
	}
	return nil, &opql.ValidationError{Entity: name, Msg: "unknown entity"}
}

// Entities returns the distinct entity names, sorted.
func (s *Schema) Entities() []string {
	seen := make(map[string]bool)
	var names []string
	for _, e := range s.entities {
		if !seen[e.Name] {
			seen[e.Name] = true
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names
}

func commonFields() map[string]FieldSpec {
	return map[string]FieldSpec{
		"id":           {Name: "id", Kind: KindText},
		"type":         {Name: "type", Kind: KindEnum},
		"title":        {Name: "title", Kind: KindText, Searchable: true},
		"snippet":      {Name: "snippet", Kind: KindText, Searchable: true},
		"project_id":   {Name: "project_id", Kind: KindText},
		"status":       {Name: "status", Kind: KindEnum},
		"labels":       {Name: "labels", Kind: KindList},
		"owner":        {Name: "owner", Kind: KindText},
		"created_at":   {Name: "created_at", Kind: KindTime},
		"updated_at":   {Name: "updated_at", Kind: KindTime},
		"workspace_id": {Name: "workspace_id", Kind: KindText},
	}
}

func withFields(base map[string]FieldSpec, extra ...FieldSpec) map[string]FieldSpec {
	for _, f := range extra {
		base[f.Name] = f
	}
	return base
}

// DefaultSchema registers the project-management entities.
func DefaultSchema() *Schema {
	taskFields := []FieldSpec{
		{Name: "assignee", Kind: KindText},
		{Name: "reporter", Kind: KindText},
		{Name: "priority", Kind: KindEnum},
		{Name: "points", Kind: KindNumber},
		{Name: "sprint", Kind: KindText},
		{Name: "due_at", Kind: KindTime},
		{Name: "resolved_at", Kind: KindTime},
	}

	all := withFields(commonFields(), taskFields...)
	all = withFields(all,
		FieldSpec{Name: "body", Kind: KindText, Searchable: true},
		FieldSpec{Name: "author", Kind: KindText},
		FieldSpec{Name: "task_id", Kind: KindText},
		FieldSpec{Name: "key", Kind: KindText},
		FieldSpec{Name: "lead", Kind: KindText},
	)

	return NewSchema(
		Entity{Name: "items", Aliases: []string{"all", "everything"}, Fields: all},
		Entity{Name: "tasks", Aliases: []string{"task", "issues", "tickets"}, Types: []string{"task", "issue", "ticket"},
			Fields: withFields(commonFields(), taskFields...)},
		Entity{Name: "projects", Aliases: []string{"project"}, Types: []string{"project"},
			Fields: withFields(commonFields(),
				FieldSpec{Name: "key", Kind: KindText},
				FieldSpec{Name: "lead", Kind: KindText},
				FieldSpec{Name: "due_at", Kind: KindTime},
			)},
		Entity{Name: "comments", Aliases: []string{"comment"}, Types: []string{"comment"},
			Fields: withFields(commonFields(),
				FieldSpec{Name: "body", Kind: KindText, Searchable: true},
				FieldSpec{Name: "author", Kind: KindText},
				FieldSpec{Name: "task_id", Kind: KindText},
			)},
		Entity{Name: "docs", Aliases: []string{"doc", "pages"}, Types: []string{"doc"},
			Fields: withFields(commonFields(),
				FieldSpec{Name: "body", Kind: KindText, Searchable: true},
				FieldSpec{Name: "author", Kind: KindText},
			)},
	)
}
