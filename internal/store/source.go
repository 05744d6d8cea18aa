package store

import (
	"context"

	"github.com/knesgoda/outpaged-opql/pkg/engine"
)

// Source serves cached rows as engine candidates.
type Source struct {
	Store Storer
}

// NewSource wraps s.
func NewSource(s Storer) *Source {
	return &Source{Store: s}
}

// Rows returns the current version of every cached row in the workspace.
func (src *Source) Rows(ctx context.Context, workspaceID string, types []string) ([]engine.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := src.Store.ListRows(workspaceID, types)
	if err != nil {
		return nil, err
	}
	rows := make([]engine.Row, len(records))
	for i, rec := range records {
		rows[i] = rec.Row
	}
	return rows, nil
}
