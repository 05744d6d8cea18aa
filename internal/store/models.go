// Package store persists the rows and relevance orders recorded from online
// OPQL responses, so the offline replica can rebuild its indexes.
package store

import (
	"errors"

	"github.com/knesgoda/outpaged-opql/pkg/engine"
)

// ErrNotFound is returned when a row or snapshot does not exist.
var ErrNotFound = errors.New("not found")

// Record is one version of a cached row.
// Uses the temporal table pattern: every upsert closes the current version
// and opens a new one.
type Record struct {
	WorkspaceID string     `json:"workspaceId"`
	EntityID    string     `json:"entityId"`
	EntityType  string     `json:"entityType"`
	Version     int        `json:"version"`
	Row         engine.Row `json:"row"`

	// Temporal fields for version tracking
	ValidFrom    int64  `json:"validFrom"`
	ValidTo      *int64 `json:"validTo,omitempty"`
	IsCurrent    bool   `json:"isCurrent"`
	ChangeReason string `json:"changeReason,omitempty"`
}

// Snapshot is the relevance order of one online response.
type Snapshot struct {
	ID          string   `json:"id"`
	WorkspaceID string   `json:"workspaceId"`
	Query       string   `json:"query"`
	EntityIDs   []string `json:"entityIds"`
	RecordedAt  int64    `json:"recordedAt"`
}

// Storer defines the interface for data persistence.
// MemStore backs tests; SQLiteStore backs the CLI and the browser build.
type Storer interface {
	// Rows - version-aware; Get/List return current versions only
	UpsertRow(row engine.Row, at int64, reason string) (*Record, error)
	GetRow(workspaceID, entityID string) (*Record, error)
	ListRows(workspaceID string, types []string) ([]*Record, error)
	ListRowVersions(workspaceID, entityID string) ([]*Record, error)
	DeleteRow(workspaceID, entityID string) error
	CountRows(workspaceID string) (int, error)

	// Snapshots
	SaveSnapshot(snap *Snapshot) error
	LatestSnapshot(workspaceID, query string) (*Snapshot, error)
	ListSnapshots(workspaceID string) ([]*Snapshot, error)

	// Lifecycle
	Close() error
}
