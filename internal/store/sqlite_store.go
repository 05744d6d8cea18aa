// Package store provides SQLite-backed persistence for the offline replica.
// Uses ncruces/go-sqlite3/driver which provides a database/sql interface.
package store

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/knesgoda/outpaged-opql/pkg/engine"
)

// SQLiteStore is the SQLite-backed data store.
// Thread-safe for concurrent WASM callbacks.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB

	// vec is set when the sqlite-vec functions are available.
	vec bool
}

// ErrNoVectorSupport is returned by NearestRows when the database was
// opened without the sqlite-vec extension.
var ErrNoVectorSupport = errors.New("sqlite-vec not available")

// schema defines the row cache with temporal versioning plus snapshot orders.
const schema = `
-- Rows (Temporal versioning pattern)
-- Composite primary key enables full version history per workspace/entity
CREATE TABLE IF NOT EXISTS cached_rows (
    workspace_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    entity_type TEXT NOT NULL,
    data TEXT NOT NULL,
    valid_from INTEGER NOT NULL,
    valid_to INTEGER,
    is_current INTEGER DEFAULT 1,
    change_reason TEXT,
    PRIMARY KEY (workspace_id, entity_id, version)
);

-- Partial indexes for current versions (fast queries)
CREATE INDEX IF NOT EXISTS idx_rows_current ON cached_rows(workspace_id, entity_id) WHERE is_current = 1;
CREATE INDEX IF NOT EXISTS idx_rows_type ON cached_rows(workspace_id, entity_type) WHERE is_current = 1;

-- Snapshots (relevance order of one online response)
CREATE TABLE IF NOT EXISTS snapshots (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL,
    query TEXT NOT NULL,
    entity_ids TEXT NOT NULL,
    recorded_at INTEGER NOT NULL,
    seq INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_query ON snapshots(workspace_id, query, recorded_at);

-- Embeddings of current rows, as little-endian float32 blobs for sqlite-vec
CREATE TABLE IF NOT EXISTS row_embeddings (
    workspace_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    dim INTEGER NOT NULL,
    embedding BLOB NOT NULL,
    PRIMARY KEY (workspace_id, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_embeddings_dim ON row_embeddings(workspace_id, dim);
`

// NewSQLiteStore creates a new in-memory SQLite store.
func NewSQLiteStore() (*SQLiteStore, error) {
	return NewSQLiteStoreWithDSN(":memory:")
}

// NewSQLiteStoreWithDSN creates a store with a specific data source name.
// Use ":memory:" for in-memory or a file path for persistent storage.
func NewSQLiteStoreWithDSN(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// every :memory: connection is its own database
	db.SetMaxOpenConns(1)

	// Create schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	var version string
	vec := db.QueryRow(`SELECT vec_version()`).Scan(&version) == nil

	return &SQLiteStore{db: db, vec: vec}, nil
}

// HasVectorSupport reports whether NearestRows can run.
func (s *SQLiteStore) HasVectorSupport() bool {
	return s.vec
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// Row CRUD
// =============================================================================

const rowColumns = `workspace_id, entity_id, version, entity_type, data, valid_from, valid_to, is_current, change_reason`

// UpsertRow closes the current version of the row, if any, and inserts a
// new current version.
func (s *SQLiteStore) UpsertRow(row engine.Row, at int64, reason string) (*Record, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("failed to encode row: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRow(`
		SELECT COALESCE(MAX(version), 0) FROM cached_rows
		WHERE workspace_id = ? AND entity_id = ?
	`, row.WorkspaceID, row.EntityID).Scan(&version)
	if err != nil {
		return nil, err
	}

	// Close old current version
	if _, err := tx.Exec(`
		UPDATE cached_rows SET valid_to = ?, is_current = 0
		WHERE workspace_id = ? AND entity_id = ? AND is_current = 1
	`, at, row.WorkspaceID, row.EntityID); err != nil {
		return nil, err
	}

	// Insert new version
	if _, err := tx.Exec(`
		INSERT INTO cached_rows (`+rowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, NULL, 1, ?)
	`, row.WorkspaceID, row.EntityID, version+1, row.EntityType, string(data), at, reason); err != nil {
		return nil, err
	}
	if err := putEmbedding(tx, row); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	stored, err := FromJSON[engine.Row](data)
	if err != nil {
		return nil, err
	}
	return &Record{
		WorkspaceID:  row.WorkspaceID,
		EntityID:     row.EntityID,
		EntityType:   row.EntityType,
		Version:      version + 1,
		Row:          *stored,
		ValidFrom:    at,
		IsCurrent:    true,
		ChangeReason: reason,
	}, nil
}

// GetRow retrieves the current version of a row.
func (s *SQLiteStore) GetRow(workspaceID, entityID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := scanRecord(s.db.QueryRow(`
		SELECT `+rowColumns+` FROM cached_rows
		WHERE workspace_id = ? AND entity_id = ? AND is_current = 1
	`, workspaceID, entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListRows returns the current version of every row in the workspace,
// optionally restricted to entity types, ordered by entity id.
func (s *SQLiteStore) ListRows(workspaceID string, types []string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + rowColumns + ` FROM cached_rows WHERE workspace_id = ? AND is_current = 1`
	args := []any{workspaceID}
	if len(types) > 0 {
		query += ` AND entity_type IN (?` + strings.Repeat(`, ?`, len(types)-1) + `)`
		for _, t := range types {
			args = append(args, t)
		}
	}
	query += ` ORDER BY entity_id`

	return s.queryRecords(query, args...)
}

// ListRowVersions returns all versions of a row, newest first.
func (s *SQLiteStore) ListRowVersions(workspaceID, entityID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRecords(`
		SELECT `+rowColumns+` FROM cached_rows
		WHERE workspace_id = ? AND entity_id = ? ORDER BY version DESC
	`, workspaceID, entityID)
}

// DeleteRow removes a row and its history.
func (s *SQLiteStore) DeleteRow(workspaceID, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM cached_rows WHERE workspace_id = ? AND entity_id = ?`, workspaceID, entityID); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM row_embeddings WHERE workspace_id = ? AND entity_id = ?`, workspaceID, entityID)
	return err
}

// CountRows returns the number of current rows in the workspace.
func (s *SQLiteStore) CountRows(workspaceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM cached_rows WHERE workspace_id = ? AND is_current = 1`, workspaceID).Scan(&count)
	return count, err
}

func (s *SQLiteStore) queryRecords(query string, args ...any) ([]*Record, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var data string
	var isCurrent int
	var validTo sql.NullInt64
	var reason sql.NullString

	if err := row.Scan(
		&rec.WorkspaceID, &rec.EntityID, &rec.Version, &rec.EntityType, &data,
		&rec.ValidFrom, &validTo, &isCurrent, &reason,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(data), &rec.Row); err != nil {
		return nil, fmt.Errorf("failed to decode row %s: %w", rec.EntityID, err)
	}
	rec.IsCurrent = isCurrent != 0
	rec.ChangeReason = reason.String
	if validTo.Valid {
		rec.ValidTo = &validTo.Int64
	}
	return &rec, nil
}

// =============================================================================
// Embeddings
// =============================================================================

// putEmbedding replaces the stored embedding of row. Rows without a usable
// embedding have theirs removed.
func putEmbedding(tx *sql.Tx, row engine.Row) error {
	if !usable(row.Embedding) {
		_, err := tx.Exec(`DELETE FROM row_embeddings WHERE workspace_id = ? AND entity_id = ?`, row.WorkspaceID, row.EntityID)
		return err
	}
	_, err := tx.Exec(`
		INSERT INTO row_embeddings (workspace_id, entity_id, dim, embedding)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(workspace_id, entity_id) DO UPDATE SET
			dim = excluded.dim,
			embedding = excluded.embedding
	`, row.WorkspaceID, row.EntityID, len(row.Embedding), encodeFloat32Slice(row.Embedding))
	return err
}

// NearestRows returns up to k entity ids of the workspace whose embeddings
// are closest to vec by cosine distance, nearest first. Only embeddings of
// the same width are compared.
func (s *SQLiteStore) NearestRows(workspaceID string, vec []float32, k int) ([]string, error) {
	if !s.vec {
		return nil, ErrNoVectorSupport
	}
	if k <= 0 || !usable(vec) {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT entity_id FROM row_embeddings
		WHERE workspace_id = ? AND dim = ?
		ORDER BY vec_distance_cosine(embedding, ?) ASC, entity_id
		LIMIT ?
	`, workspaceID, len(vec), encodeFloat32Slice(vec), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// usable reports whether vec has a direction; cosine distance is undefined
// for the zero vector.
func usable(vec []float32) bool {
	for _, x := range vec {
		if x != 0 {
			return true
		}
	}
	return false
}

// encodeFloat32Slice encodes vec as the little-endian blob sqlite-vec reads.
func encodeFloat32Slice(vec []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}

// =============================================================================
// Snapshots
// =============================================================================

// SaveSnapshot stores a relevance order. An empty ID gets a fresh UUID.
func (s *SQLiteStore) SaveSnapshot(snap *Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	ids, err := json.Marshal(snap.EntityIDs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO snapshots (id, workspace_id, query, entity_ids, recorded_at, seq)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM snapshots))
		ON CONFLICT(id) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			query = excluded.query,
			entity_ids = excluded.entity_ids,
			recorded_at = excluded.recorded_at
	`, snap.ID, snap.WorkspaceID, snap.Query, string(ids), snap.RecordedAt)
	return err
}

// LatestSnapshot returns the most recent snapshot recorded for query.
func (s *SQLiteStore) LatestSnapshot(workspaceID, query string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, err := scanSnapshot(s.db.QueryRow(`
		SELECT id, workspace_id, query, entity_ids, recorded_at FROM snapshots
		WHERE workspace_id = ? AND query = ?
		ORDER BY recorded_at DESC, seq DESC LIMIT 1
	`, workspaceID, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return snap, err
}

// ListSnapshots returns every snapshot in the workspace, oldest first.
func (s *SQLiteStore) ListSnapshots(workspaceID string) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, workspace_id, query, entity_ids, recorded_at FROM snapshots
		WHERE workspace_id = ? ORDER BY recorded_at, seq
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func scanSnapshot(row scanner) (*Snapshot, error) {
	var snap Snapshot
	var ids string
	if err := row.Scan(&snap.ID, &snap.WorkspaceID, &snap.Query, &ids, &snap.RecordedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ids), &snap.EntityIDs); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", snap.ID, err)
	}
	return &snap, nil
}

// Compile-time interface check
var _ Storer = (*SQLiteStore)(nil)
