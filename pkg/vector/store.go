// Package vector keeps the semantic neighbour index used for related-item
// lookups. Entities are addressed by string id; the HNSW graph works on
// compact uint32 keys, so the store keeps the mapping and persists it next
// to the graph.
package vector

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/fogfish/hnsw"
	"github.com/fogfish/hnsw/vector" // fogfish/hnsw/vector alias, imports kshard/vector
	"github.com/hack-pad/hackpadfs"
	kvector "github.com/kshard/vector" // Underlying vector types
)

// ErrDimension is returned when a vector does not match the index width.
var ErrDimension = errors.New("vector dimension mismatch")

// Store manages the HNSW index and its persistence.
type Store struct {
	Index *hnsw.HNSW[vector.VF32]
	FS    hackpadfs.FS
	Path  string

	mu   sync.RWMutex
	keys map[string]uint32
	ids  map[uint32]string
	next uint32
}

// snapshot is the persisted form: graph nodes plus the id mapping.
type snapshot struct {
	Nodes hnsw.Nodes[vector.VF32]
	IDs   map[uint32]string
	Next  uint32
}

// NewStore opens the index at path, or starts an empty one when the file
// does not exist yet.
func NewStore(fs hackpadfs.FS, path string) (*Store, error) {
	s := &Store{FS: fs, Path: path}

	if err := s.Load(); err != nil {
		if !errors.Is(err, hackpadfs.ErrNotExist) {
			return nil, err
		}
		s.reset()
	}
	return s, nil
}

func (s *Store) reset() {
	s.Index = hnsw.New[vector.VF32](vector.SurfaceVF32(kvector.Cosine()))
	s.keys = make(map[string]uint32)
	s.ids = make(map[uint32]string)
	s.next = 1
}

// Len returns the number of live ids.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Add inserts or replaces the vector for id. The graph cannot delete, so a
// replaced vector stays in the graph under a retired key that Search skips.
func (s *Store) Add(id string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDim(vec); err != nil {
		return err
	}
	if old, ok := s.keys[id]; ok {
		delete(s.ids, old)
	}
	key := s.next
	s.next++
	s.keys[id] = key
	s.ids[key] = id

	s.Index.Insert(vector.VF32{Key: key, Vec: vec})
	return nil
}

// Remove retires id. Unknown ids are ignored.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.keys[id]; ok {
		delete(s.keys, id)
		delete(s.ids, key)
	}
}

func (s *Store) checkDim(vec []float32) error {
	if s.Index.Size() > 0 {
		if dim := len(s.Index.Head().Vec); len(vec) != dim {
			return fmt.Errorf("%w: expected %d, got %d", ErrDimension, dim, len(vec))
		}
	}
	return nil
}

// Search returns up to k live ids nearest to vec, closest first.
func (s *Store) Search(vec []float32, k int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || s.Index.Size() == 0 {
		return nil, nil
	}
	if err := s.checkDim(vec); err != nil {
		return nil, err
	}

	// over-fetch to make room for retired keys
	want := k + (int(s.next) - 1 - len(s.ids))
	ef := max(want*2, 100)

	results := s.Index.Search(vector.VF32{Vec: vec}, want, ef)
	ids := make([]string, 0, k)
	for _, r := range results {
		id, live := s.ids[r.Key]
		if !live {
			continue
		}
		ids = append(ids, id)
		if len(ids) == k {
			break
		}
	}
	return ids, nil
}

// Save persists the index to FS.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{Nodes: s.Index.Nodes(), IDs: s.ids, Next: s.next}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	if err := hackpadfs.WriteFullFile(s.FS, s.Path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write index file: %w", err)
	}
	return nil
}

// Load reads the index from FS.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := hackpadfs.ReadFile(s.FS, s.Path)
	if err != nil {
		return err
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(content)).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode index: %w", err)
	}

	s.Index = hnsw.FromNodes[vector.VF32](vector.SurfaceVF32(kvector.Cosine()), snap.Nodes)
	s.ids = snap.IDs
	if s.ids == nil {
		s.ids = make(map[uint32]string)
	}
	s.keys = make(map[string]uint32, len(s.ids))
	for key, id := range s.ids {
		s.keys[id] = key
	}
	s.next = max(snap.Next, 1)
	return nil
}

// Similarity is the cosine similarity of a and b, or 0 when their widths
// differ or either has zero length.
func Similarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
