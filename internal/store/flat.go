package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lerrors "github.com/lorekeep/lorebase/internal/errors"
)

// FlatStore implements VectorStore with an exact brute-force cosine scan.
// For corpora in the thousands of chunks the full scan is fast, exact, and
// has no tuning parameters, so it is the default backend.
type FlatStore struct {
	mu      sync.RWMutex
	config  VectorStoreConfig
	ids     []string            // insertion order, for stable iteration
	vectors map[string][]float32 // unit-normalized
	closed  bool
}

// Verify interface implementation at compile time.
var _ VectorStore = (*FlatStore)(nil)

// flatSnapshot is the gob persistence format.
type flatSnapshot struct {
	Config  VectorStoreConfig
	IDs     []string
	Vectors map[string][]float32
}

// NewFlatStore creates an empty flat store.
func NewFlatStore(cfg VectorStoreConfig) *FlatStore {
	return &FlatStore{
		config:  cfg,
		vectors: make(map[string][]float32),
	}
}

// Add inserts vectors with their IDs. Existing IDs are replaced in place.
func (s *FlatStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return dimensionError(s.config.Dimensions, len(v))
		}
	}

	for i, id := range ids {
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		if _, exists := s.vectors[id]; !exists {
			s.ids = append(s.ids, id)
		}
		s.vectors[id] = vec
	}

	return nil
}

// Search scans every vector and returns the k best matches ordered by
// score descending, then ID ascending. The ordering is fully deterministic
// for a given store state and query.
func (s *FlatStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, dimensionError(s.config.Dimensions, len(query))
	}
	if k <= 0 || len(s.vectors) == 0 {
		return []*VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	results := make([]*VectorResult, 0, len(s.vectors))
	for _, id := range s.ids {
		vec, ok := s.vectors[id]
		if !ok {
			continue
		}
		results = append(results, &VectorResult{ID: id, Score: dotProduct(q, vec)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete removes vectors by ID.
func (s *FlatStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	removed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, exists := s.vectors[id]; exists {
			delete(s.vectors, id)
			removed[id] = struct{}{}
		}
	}
	if len(removed) == 0 {
		return nil
	}

	kept := s.ids[:0]
	for _, id := range s.ids {
		if _, gone := removed[id]; !gone {
			kept = append(kept, id)
		}
	}
	s.ids = kept
	return nil
}

// Get returns the stored unit-normalized vector for an ID.
func (s *FlatStore) Get(id string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false
	}
	vec, ok := s.vectors[id]
	if !ok {
		return nil, false
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

// AllIDs returns every vector ID in insertion order.
func (s *FlatStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}
	ids := make([]string, len(s.ids))
	copy(ids, s.ids)
	return ids
}

// Count returns the number of vectors.
func (s *FlatStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return len(s.vectors)
}

// Save persists the store to disk with a temp-file write and atomic rename.
func (s *FlatStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	snap := flatSnapshot{
		Config:  s.config,
		IDs:     s.ids,
		Vectors: s.vectors,
	}
	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode vectors: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// Load replaces the store contents from disk. A file that cannot be
// decoded is reported as a corrupt index.
func (s *FlatStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open vector file: %w", err)
	}
	defer file.Close()

	var snap flatSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return lerrors.CorruptIndex("vector store file is unreadable", err).
			WithDetail("path", path)
	}
	if len(snap.IDs) != len(snap.Vectors) {
		return lerrors.CorruptIndex("vector store ID list and vector map disagree", nil).
			WithDetail("path", path)
	}

	s.config = snap.Config
	s.ids = snap.IDs
	s.vectors = snap.Vectors
	if s.vectors == nil {
		s.vectors = make(map[string][]float32)
	}
	return nil
}

// Close releases the store. Further calls fail.
func (s *FlatStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.vectors = nil
	s.ids = nil
	return nil
}
