package engine

import (
	"sort"
	"strings"

	"github.com/knesgoda/outpaged-opql/pkg/history"
)

// MaskedValue replaces field values the principal may not read.
const MaskedValue = "[masked]"

// Row is a candidate search row. Values is keyed by field name; joined
// values appear as alias.field.
type Row struct {
	EntityID    string         `json:"entityId"`
	EntityType  string         `json:"entityType"`
	WorkspaceID string         `json:"workspaceId"`
	Score       float64        `json:"score"`
	Values      map[string]any `json:"values"`
	History     *history.Log   `json:"history,omitempty"`
	Access      Access         `json:"permissions,omitempty"`
	Embedding   []float32      `json:"embedding,omitempty"`

	// Masked lists the fields replaced by MaskedValue for this caller.
	Masked []string `json:"masked,omitempty"`
}

// Access declares what a principal needs to see a row and its fields.
type Access struct {
	// Required permissions; all must be held to see the row at all.
	Required []string `json:"required,omitempty"`
	// Fields maps a field to the permission needed to read it unmasked.
	Fields map[string]string `json:"fields,omitempty"`
}

// Principal is the caller a query runs on behalf of.
type Principal struct {
	PrincipalID string   `json:"principalId"`
	WorkspaceID string   `json:"workspaceId"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	AllowAll    bool     `json:"allowAll,omitempty"`
}

// Can reports whether the principal holds perm. A granted "*" matches
// everything and "search.*" matches every permission under "search.".
func (p Principal) Can(perm string) bool {
	if p.AllowAll {
		return true
	}
	for _, granted := range p.Permissions {
		switch {
		case granted == "*", granted == perm:
			return true
		case strings.HasSuffix(granted, ".*") && strings.HasPrefix(perm, strings.TrimSuffix(granted, "*")):
			return true
		}
	}
	return false
}

// Visible reports whether p may see the row at all.
func (p Principal) Visible(r Row) bool {
	for _, perm := range r.Access.Required {
		if !p.Can(perm) {
			return false
		}
	}
	return true
}

// Project returns the row as p may see it: values guarded by a missing
// field permission are replaced by MaskedValue and listed in Masked. The
// input row is not modified. The history of a masked field is stripped
// from the returned log, and embeddings are dropped when any field is
// masked, since they are derived from row text.
func (p Principal) Project(r Row) Row {
	out := r
	out.Values = make(map[string]any, len(r.Values))
	for k, v := range r.Values {
		out.Values[k] = v
	}
	out.Masked = nil
	for field, perm := range r.Access.Fields {
		if p.Can(perm) {
			continue
		}
		if _, ok := out.Values[field]; ok {
			out.Values[field] = MaskedValue
		}
		out.Masked = append(out.Masked, field)
	}
	if len(out.Masked) > 0 {
		sort.Strings(out.Masked)
		out.History = r.History.Without(out.Masked...)
		out.Embedding = nil
	}
	return out
}

// IsMasked reports whether field was masked by Project.
func (r Row) IsMasked(field string) bool {
	for _, m := range r.Masked {
		if m == field {
			return true
		}
	}
	return false
}

// Get returns the value of field as seen by predicates: masked fields read
// as absent.
func (r Row) Get(field string) (any, bool) {
	if r.IsMasked(field) {
		return nil, false
	}
	v, ok := r.Values[field]
	return v, ok
}
