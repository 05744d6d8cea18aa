package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hack-pad/hackpadfs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/knesgoda/outpaged-opql/internal/store"
	"github.com/knesgoda/outpaged-opql/pkg/engine"
	"github.com/knesgoda/outpaged-opql/pkg/opql"
	"github.com/knesgoda/outpaged-opql/pkg/resorank"
	"github.com/knesgoda/outpaged-opql/pkg/search"
	"github.com/knesgoda/outpaged-opql/pkg/vector"
)

const (
	manifestFile = "replica.json"
	vectorFile   = "vectors.bin"
)

// ErrNoWorkspace is returned when a snapshot names no workspace.
var ErrNoWorkspace = errors.New("snapshot has no workspace")

// Snapshot is one page of an online response, as handed to
// RecordOpqlResponse. Rows are in the order the server ranked them.
type Snapshot struct {
	WorkspaceID string       `json:"workspaceId"`
	Query       string       `json:"query"`
	Rows        []engine.Row `json:"rows"`
	RecordedAt  time.Time    `json:"recordedAt"`
}

// Replica is the local projection of recorded responses. Writes for the
// same entity are serialized; queries read whatever the store holds when
// they start.
type Replica struct {
	fs  hackpadfs.FS
	dir string

	store   store.Storer
	vectors *vector.Store
	engine  *engine.Engine
	logger  *zap.Logger
	ranking resorank.ResoRankConfig
	limit   int
	workers int
	now     func() time.Time

	locks *keyedMutex

	mu    sync.RWMutex
	index *filterIndex
}

type Option func(*Replica)

// WithStore sets the row store. The replica closes it on Close.
func WithStore(s store.Storer) Option {
	return func(r *Replica) { r.store = s }
}

// WithEngine sets the engine used for execution; it must match the online
// engine's schema for results to agree.
func WithEngine(e *engine.Engine) Option {
	return func(r *Replica) { r.engine = e }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Replica) { r.logger = l }
}

// WithRanking sets the BM25F parameters of the fallback ranking.
func WithRanking(cfg resorank.ResoRankConfig) Option {
	return func(r *Replica) { r.ranking = cfg }
}

// WithDefaultLimit sets the page size used when a request sets none.
func WithDefaultLimit(n int) Option {
	return func(r *Replica) { r.limit = n }
}

// WithWorkers bounds how many snapshots Refresh records at once.
func WithWorkers(n int) Option {
	return func(r *Replica) { r.workers = n }
}

func WithClock(now func() time.Time) Option {
	return func(r *Replica) { r.now = now }
}

// Open loads the replica persisted under dir on fs, or starts an empty one.
func Open(fs hackpadfs.FS, dir string, opts ...Option) (*Replica, error) {
	r := &Replica{
		fs:      fs,
		dir:     dir,
		logger:  zap.NewNop(),
		ranking: resorank.DefaultConfig(),
		limit:   50,
		workers: 4,
		now:     time.Now,
		locks:   newKeyedMutex(),
		index:   newFilterIndex(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		r.store = store.NewMemStore()
	}
	if r.engine == nil {
		r.engine = engine.New(
			engine.WithLogger(r.logger),
			engine.WithClock(r.now),
			engine.WithDefaultLimit(r.limit),
		)
	}

	if dir != "" && dir != "." {
		if err := hackpadfs.MkdirAll(fs, dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create replica dir: %w", err)
		}
	}

	vectors, err := vector.NewStore(fs, r.path(vectorFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}
	r.vectors = vectors

	if err := r.restore(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Replica) path(name string) string {
	return path.Join(r.dir, name)
}

// manifest is the persisted form of the replica: current rows and stored
// orders. The vector index is saved next to it.
type manifest struct {
	SavedAt   int64             `json:"savedAt"`
	Rows      []*store.Record   `json:"rows"`
	Snapshots []*store.Snapshot `json:"snapshots"`
}

func (r *Replica) restore() error {
	data, err := hackpadfs.ReadFile(r.fs, r.path(manifestFile))
	if errors.Is(err, hackpadfs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read replica manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to decode replica manifest: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range m.Rows {
		cur, err := r.store.GetRow(rec.WorkspaceID, rec.EntityID)
		if errors.Is(err, store.ErrNotFound) {
			cur, err = r.store.UpsertRow(rec.Row, rec.ValidFrom, "restore")
		}
		if err != nil {
			return fmt.Errorf("failed to restore row %s: %w", rec.EntityID, err)
		}
		r.index.add(cur.Row)
	}
	for _, snap := range m.Snapshots {
		if err := r.store.SaveSnapshot(snap); err != nil {
			return fmt.Errorf("failed to restore snapshot %s: %w", snap.ID, err)
		}
	}

	r.logger.Info("replica restored",
		zap.Int("rows", len(m.Rows)),
		zap.Int("snapshots", len(m.Snapshots)),
	)
	return nil
}

// Save persists the replica to its filesystem.
func (r *Replica) Save() error {
	r.mu.RLock()
	workspaces := r.index.workspaceIDs()
	r.mu.RUnlock()
	sort.Strings(workspaces)

	m := manifest{SavedAt: r.now().UnixMilli()}
	for _, ws := range workspaces {
		rows, err := r.store.ListRows(ws, nil)
		if err != nil {
			return fmt.Errorf("failed to list rows: %w", err)
		}
		snaps, err := r.store.ListSnapshots(ws)
		if err != nil {
			return fmt.Errorf("failed to list snapshots: %w", err)
		}
		m.Rows = append(m.Rows, rows...)
		m.Snapshots = append(m.Snapshots, snaps...)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode replica manifest: %w", err)
	}
	if err := hackpadfs.WriteFullFile(r.fs, r.path(manifestFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write replica manifest: %w", err)
	}
	return r.vectors.Save()
}

// Close releases the row store.
func (r *Replica) Close() error {
	return r.store.Close()
}

// RecordOpqlResponse merges a response page into the replica: rows are
// upserted by entity id (last writer wins) and the page order is kept as
// the relevance order for the snapshot's query. Rows from another
// workspace are skipped.
func (r *Replica) RecordOpqlResponse(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.WorkspaceID == "" {
		return ErrNoWorkspace
	}

	var key string
	if strings.TrimSpace(snap.Query) != "" {
		stmt, err := opql.Parse(search.Normalize(snap.Query))
		if err != nil {
			return fmt.Errorf("failed to parse snapshot query: %w", err)
		}
		key = stmt.String()
	}

	at := snap.RecordedAt
	if at.IsZero() {
		at = r.now()
	}

	ids := make([]string, 0, len(snap.Rows))
	for _, row := range snap.Rows {
		if row.WorkspaceID == "" {
			row.WorkspaceID = snap.WorkspaceID
		}
		if row.EntityID == "" || row.WorkspaceID != snap.WorkspaceID {
			r.logger.Warn("skipping foreign row",
				zap.String("workspace", snap.WorkspaceID),
				zap.String("rowWorkspace", row.WorkspaceID),
				zap.String("entity", row.EntityID),
			)
			continue
		}
		if err := r.recordRow(row, at.UnixMilli()); err != nil {
			return err
		}
		ids = append(ids, row.EntityID)
	}

	if key != "" {
		err := r.store.SaveSnapshot(&store.Snapshot{
			WorkspaceID: snap.WorkspaceID,
			Query:       key,
			EntityIDs:   ids,
			RecordedAt:  at.UnixMilli(),
		})
		if err != nil {
			return fmt.Errorf("failed to store snapshot: %w", err)
		}
	}

	r.logger.Debug("opql response recorded",
		zap.String("workspace", snap.WorkspaceID),
		zap.String("query", key),
		zap.Int("rows", len(ids)),
	)
	return nil
}

func (r *Replica) recordRow(row engine.Row, at int64) error {
	key := rowKey(row.WorkspaceID, row.EntityID)
	unlock := r.locks.Lock(key)
	defer unlock()

	if _, err := r.store.UpsertRow(row, at, "record"); err != nil {
		return fmt.Errorf("failed to store row %s: %w", row.EntityID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.index.add(row)

	if len(row.Embedding) == 0 {
		r.vectors.Remove(key)
		return nil
	}
	if err := r.vectors.Add(key, row.Embedding); err != nil {
		r.vectors.Remove(key)
		r.logger.Warn("embedding not indexed", zap.String("entity", row.EntityID), zap.Error(err))
	}
	return nil
}

// Refresh records several snapshots concurrently and returns the first
// failure.
func (r *Replica) Refresh(ctx context.Context, snaps ...Snapshot) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.workers, 1))
	for _, snap := range snaps {
		g.Go(func() error {
			return r.RecordOpqlResponse(gctx, snap)
		})
	}
	return g.Wait()
}
