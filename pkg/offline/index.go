package offline

import (
	"strconv"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/knesgoda/outpaged-opql/pkg/engine"
	"github.com/knesgoda/outpaged-opql/pkg/value"
)

// rowKey addresses a row across workspaces.
func rowKey(workspaceID, entityID string) string {
	return workspaceID + "\x1f" + entityID
}

// docIDMapper maintains bidirectional mapping between row keys and uint32
// ordinals. Ordinals are never reused.
type docIDMapper struct {
	toUint32 map[string]uint32
	toString map[uint32]string
	nextID   uint32
}

func newDocIDMapper() *docIDMapper {
	return &docIDMapper{
		toUint32: make(map[string]uint32),
		toString: make(map[uint32]string),
		nextID:   1, // 0 reserved for not-found
	}
}

func (m *docIDMapper) getOrAssign(key string) uint32 {
	if id, ok := m.toUint32[key]; ok {
		return id
	}
	id := m.nextID
	m.nextID++
	m.toUint32[key] = id
	m.toString[id] = key
	return id
}

func (m *docIDMapper) get(key string) uint32 {
	return m.toUint32[key]
}

// filterIndex keeps one roaring posting list per (field, value) so plan
// filters narrow candidates before the engine runs. Narrowing only ever
// drops rows the engine would reject, so it never changes results.
type filterIndex struct {
	mapper     *docIDMapper
	workspaces map[string]*roaring.Bitmap
	postings   map[string]*roaring.Bitmap
	terms      map[uint32][]string // ordinal -> posting keys, for replacement
}

func newFilterIndex() *filterIndex {
	return &filterIndex{
		mapper:     newDocIDMapper(),
		workspaces: make(map[string]*roaring.Bitmap),
		postings:   make(map[string]*roaring.Bitmap),
		terms:      make(map[uint32][]string),
	}
}

// indexedFields are the row fields Filters can name.
var indexedFields = []string{"project_id", "status", "labels", "assignee", "type", "priority"}

// add indexes r, replacing any earlier version of it.
func (x *filterIndex) add(r engine.Row) {
	ord := x.mapper.getOrAssign(rowKey(r.WorkspaceID, r.EntityID))
	x.remove(ord)

	ws, ok := x.workspaces[r.WorkspaceID]
	if !ok {
		ws = roaring.New()
		x.workspaces[r.WorkspaceID] = ws
	}
	ws.Add(ord)

	var keys []string
	for _, field := range indexedFields {
		v, ok := r.Values[field]
		if !ok && field == "type" {
			v, ok = r.EntityType, true
		}
		if !ok {
			continue
		}
		for _, elem := range value.AsList(v) {
			if elem == nil {
				continue
			}
			key := postingKey(field, elem)
			bm, ok := x.postings[key]
			if !ok {
				bm = roaring.New()
				x.postings[key] = bm
			}
			bm.Add(ord)
			keys = append(keys, key)
		}
	}
	x.terms[ord] = keys
}

func (x *filterIndex) remove(ord uint32) {
	for _, key := range x.terms[ord] {
		if bm, ok := x.postings[key]; ok {
			bm.Remove(ord)
			if bm.IsEmpty() {
				delete(x.postings, key)
			}
		}
	}
	delete(x.terms, ord)
}

// workspaceIDs lists the workspaces that have indexed rows.
func (x *filterIndex) workspaceIDs() []string {
	ids := make([]string, 0, len(x.workspaces))
	for ws := range x.workspaces {
		ids = append(ids, ws)
	}
	return ids
}

// candidates returns the ordinals in workspaceID that satisfy f: values
// within one filter are alternatives, separate filters all apply. The
// result is a fresh bitmap the caller owns.
func (x *filterIndex) candidates(workspaceID string, f Filters) *roaring.Bitmap {
	ws, ok := x.workspaces[workspaceID]
	if !ok {
		return roaring.New()
	}
	result := ws.Clone()

	groups := []struct {
		field  string
		values []string
	}{
		{"status", f.Statuses},
		{"labels", f.Labels},
		{"assignee", f.Assignees},
		{"type", f.Types},
		{"priority", f.Priorities},
	}
	if f.ProjectID != "" {
		groups = append(groups, struct {
			field  string
			values []string
		}{"project_id", []string{f.ProjectID}})
	}

	for _, g := range groups {
		if len(g.values) == 0 {
			continue
		}
		union := roaring.New()
		for _, v := range g.values {
			if bm, ok := x.postings[postingKey(g.field, v)]; ok {
				union.Or(bm)
			}
		}
		result.And(union)
	}
	return result
}

// postingKey canonicalizes v so that values the engine considers equal
// share a posting list.
func postingKey(field string, v any) string {
	return field + "\x00" + canonical(v)
}

func canonical(v any) string {
	if n, ok := value.AsNumber(v); ok {
		return "n:" + strconv.FormatFloat(n, 'g', -1, 64)
	}
	if b, ok := v.(bool); ok {
		return "s:" + strconv.FormatBool(b)
	}
	if t, ok := value.AsTime(v); ok {
		return "t:" + t.UTC().Format(time.RFC3339Nano)
	}
	return "s:" + strings.ToLower(value.AsString(v))
}
