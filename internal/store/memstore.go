package store

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/knesgoda/outpaged-opql/pkg/engine"
)

// MemStore is an in-memory implementation of Storer for testing.
type MemStore struct {
	mu        sync.RWMutex
	rows      map[rowKey][]*Record // versions, oldest first
	snapshots map[string][]*Snapshot
}

type rowKey struct {
	workspace string
	entity    string
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		rows:      make(map[rowKey][]*Record),
		snapshots: make(map[string][]*Snapshot),
	}
}

// Close is a no-op for MemStore.
func (s *MemStore) Close() error {
	return nil
}

// =============================================================================
// Row CRUD
// =============================================================================

func (s *MemStore) UpsertRow(row engine.Row, at int64, reason string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Deep copy to avoid mutation issues
	stored, err := cloneRow(row)
	if err != nil {
		return nil, err
	}

	key := rowKey{row.WorkspaceID, row.EntityID}
	versions := s.rows[key]
	rec := &Record{
		WorkspaceID:  row.WorkspaceID,
		EntityID:     row.EntityID,
		EntityType:   row.EntityType,
		Version:      len(versions) + 1,
		Row:          stored,
		ValidFrom:    at,
		IsCurrent:    true,
		ChangeReason: reason,
	}
	if n := len(versions); n > 0 && versions[n-1].IsCurrent {
		closedAt := at
		versions[n-1].ValidTo = &closedAt
		versions[n-1].IsCurrent = false
	}
	s.rows[key] = append(versions, rec)

	out := *rec
	return &out, nil
}

func (s *MemStore) GetRow(workspaceID, entityID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.rows[rowKey{workspaceID, entityID}]
	if n := len(versions); n > 0 && versions[n-1].IsCurrent {
		out := *versions[n-1]
		return &out, nil
	}
	return nil, ErrNotFound
}

func (s *MemStore) ListRows(workspaceID string, types []string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	var result []*Record
	for key, versions := range s.rows {
		if key.workspace != workspaceID {
			continue
		}
		cur := versions[len(versions)-1]
		if !cur.IsCurrent || (len(allowed) > 0 && !allowed[cur.EntityType]) {
			continue
		}
		out := *cur
		result = append(result, &out)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EntityID < result[j].EntityID })
	return result, nil
}

func (s *MemStore) ListRowVersions(workspaceID, entityID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.rows[rowKey{workspaceID, entityID}]
	result := make([]*Record, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		out := *versions[i]
		result = append(result, &out)
	}
	return result, nil
}

func (s *MemStore) DeleteRow(workspaceID, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, rowKey{workspaceID, entityID})
	return nil
}

func (s *MemStore) CountRows(workspaceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for key, versions := range s.rows {
		if key.workspace == workspaceID && versions[len(versions)-1].IsCurrent {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Snapshots
// =============================================================================

func (s *MemStore) SaveSnapshot(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	copy := *snap
	copy.EntityIDs = append([]string(nil), snap.EntityIDs...)
	for ws, snaps := range s.snapshots {
		for i, existing := range snaps {
			if existing.ID == snap.ID {
				s.snapshots[ws] = append(snaps[:i:i], snaps[i+1:]...)
				break
			}
		}
	}
	s.snapshots[snap.WorkspaceID] = append(s.snapshots[snap.WorkspaceID], &copy)
	return nil
}

func (s *MemStore) LatestSnapshot(workspaceID, query string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Snapshot
	for _, snap := range s.snapshots[workspaceID] {
		// later saves win ties
		if snap.Query == query && (latest == nil || snap.RecordedAt >= latest.RecordedAt) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	copy := *latest
	return &copy, nil
}

func (s *MemStore) ListSnapshots(workspaceID string) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Snapshot, 0, len(s.snapshots[workspaceID]))
	for _, snap := range s.snapshots[workspaceID] {
		copy := *snap
		result = append(result, &copy)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].RecordedAt < result[j].RecordedAt })
	return result, nil
}

// cloneRow round-trips a row through JSON so MemStore hands out the same
// shapes SQLiteStore decodes.
func cloneRow(row engine.Row) (engine.Row, error) {
	data, err := ToJSON(row)
	if err != nil {
		return engine.Row{}, err
	}
	out, err := FromJSON[engine.Row](data)
	if err != nil {
		return engine.Row{}, err
	}
	return *out, nil
}

// =============================================================================
// JSON Helpers
// =============================================================================

// ToJSON serializes a value to JSON bytes.
func ToJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// FromJSON deserializes JSON bytes to a value.
func FromJSON[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Compile-time interface check
var _ Storer = (*MemStore)(nil)
