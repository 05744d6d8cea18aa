package offline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/knesgoda/outpaged-opql/internal/store"
	"github.com/knesgoda/outpaged-opql/pkg/engine"
	"github.com/knesgoda/outpaged-opql/pkg/vector"
)

// RelatedRequest asks for rows semantically close to one entity.
type RelatedRequest struct {
	WorkspaceID string           `json:"workspaceId,omitempty"`
	EntityID    string           `json:"entityId"`
	Principal   engine.Principal `json:"principal"`
	Limit       int              `json:"limit,omitempty"`
}

// RelatedItem is a neighbour and its cosine similarity to the source.
type RelatedItem struct {
	Row        engine.Row `json:"row"`
	Similarity float64    `json:"similarity"`
}

// Related returns the nearest recorded rows to req.EntityID by embedding,
// most similar first. Rows the principal cannot see, and rows whose
// embedding would be dropped by masking, are never returned; an unknown or
// hidden source yields no items.
func (r *Replica) Related(ctx context.Context, req RelatedRequest) ([]RelatedItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	workspace := req.WorkspaceID
	if workspace == "" {
		workspace = req.Principal.WorkspaceID
	}
	if workspace == "" || (req.Principal.WorkspaceID != "" && req.Principal.WorkspaceID != workspace) {
		return nil, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	source, ok, err := r.visibleRow(workspace, req.EntityID, req.Principal)
	if err != nil || !ok || len(source.Embedding) == 0 {
		return nil, err
	}

	ids, err := r.nearest(workspace, source.Embedding, limit*4+1)
	if err != nil {
		return nil, err
	}

	var items []RelatedItem
	for _, id := range ids {
		if id == req.EntityID {
			continue
		}
		row, ok, err := r.visibleRow(workspace, id, req.Principal)
		if err != nil {
			return nil, err
		}
		if !ok || len(row.Embedding) == 0 {
			continue
		}
		items = append(items, RelatedItem{
			Row:        row,
			Similarity: vector.Similarity(source.Embedding, row.Embedding),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Similarity != items[j].Similarity {
			return items[i].Similarity > items[j].Similarity
		}
		return items[i].Row.EntityID < items[j].Row.EntityID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// neighbourStore is a row store that can rank embeddings itself.
type neighbourStore interface {
	NearestRows(workspaceID string, vec []float32, k int) ([]string, error)
}

// nearest returns up to k candidate ids of the workspace close to vec. A
// store with vector support answers directly; otherwise the HNSW index
// does, with other workspaces filtered out.
func (r *Replica) nearest(workspace string, vec []float32, k int) ([]string, error) {
	if ns, ok := r.store.(neighbourStore); ok {
		ids, err := ns.NearestRows(workspace, vec, k)
		switch {
		case err == nil:
			return ids, nil
		case !errors.Is(err, store.ErrNoVectorSupport):
			return nil, fmt.Errorf("failed to search stored embeddings: %w", err)
		}
	}

	keys, err := r.vectors.Search(vec, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector index: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if ws, id, _ := strings.Cut(key, "\x1f"); ws == workspace {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// visibleRow loads a row as p sees it.
func (r *Replica) visibleRow(workspace, id string, p engine.Principal) (engine.Row, bool, error) {
	rec, err := r.store.GetRow(workspace, id)
	if errors.Is(err, store.ErrNotFound) {
		return engine.Row{}, false, nil
	}
	if err != nil {
		return engine.Row{}, false, err
	}
	if !p.Visible(rec.Row) {
		return engine.Row{}, false, nil
	}
	return p.Project(rec.Row), true, nil
}
