// Package store provides the persistence layer for indexed data: vector
// stores (exact scan and HNSW), a bleve keyword index, and SQLite chunk
// metadata.
package store

import (
	"context"
	"fmt"
	"math"

	lerrors "github.com/lorekeep/lorebase/internal/errors"
)

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	ID    string  // chunk ID
	Score float32 // cosine similarity, 0-1 for unit vectors
}

// VectorStore holds embedding vectors keyed by chunk ID and answers
// k-nearest-neighbor queries over them.
type VectorStore interface {
	// Add inserts vectors with their IDs. Existing IDs are replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds the k most similar vectors to the query.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Get returns the stored (normalized) vector for an ID.
	Get(id string) ([]float32, bool)

	// AllIDs returns every vector ID in the store.
	AllIDs() []string

	// Count returns the number of vectors.
	Count() int

	// Save and Load persist the store to and from disk.
	Save(path string) error
	Load(path string) error

	Close() error
}

// VectorStoreConfig configures a vector store backend.
type VectorStoreConfig struct {
	// Dimensions is the embedding dimension. Required.
	Dimensions int

	// M is the HNSW max connections per layer. Ignored by the flat store.
	M int

	// EfSearch is the HNSW query-time search width. Ignored by the flat store.
	EfSearch int
}

// DefaultVectorStoreConfig returns defaults for the given dimension.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}

// NewVectorStore constructs the configured backend: "flat" for exact
// cosine scan, "hnsw" for approximate search over large corpora.
func NewVectorStore(backend string, cfg VectorStoreConfig) (VectorStore, error) {
	switch backend {
	case "", "flat":
		return NewFlatStore(cfg), nil
	case "hnsw":
		return NewHNSWStore(cfg)
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", backend)
	}
}

// dimensionError reports a vector whose length does not match the store.
func dimensionError(expected, got int) *lerrors.LoreError {
	return lerrors.New(lerrors.ErrCodeDimensionMismatch,
		fmt.Sprintf("vector dimension mismatch: expected %d, got %d", expected, got), nil).
		WithSuggestion("run 'lorebase index --force' to rebuild with the current model")
}

// normalizeInPlace scales v to unit length. Zero vectors are left as-is.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// dotProduct computes the dot product of two equal-length vectors.
// For unit vectors this is the cosine similarity.
func dotProduct(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}
