package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "github.com/lorekeep/lorebase/internal/errors"
)

func newHNSW(t *testing.T, dims int) *HNSWStore {
	t.Helper()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHNSWStore_AddAndSearch(t *testing.T) {
	s := newHNSW(t, 3)
	ctx := context.Background()

	err := s.Add(ctx, []string{"a", "b", "c"}, [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.9, 0.1, 0},
	})
	require.NoError(t, err)

	results, err := s.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
}

func TestHNSWStore_DimensionMismatch(t *testing.T) {
	s := newHNSW(t, 4)

	err := s.Add(context.Background(), []string{"a"}, [][]float32{{1, 0}})
	require.Error(t, err)
	assert.True(t, lerrors.IsCode(err, lerrors.ErrCodeDimensionMismatch))
}

func TestHNSWStore_LazyDeleteHidesVector(t *testing.T) {
	s := newHNSW(t, 2)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, s.Delete(ctx, []string{"a"}))

	assert.Equal(t, 1, s.Count())
	_, ok := s.Get("a")
	assert.False(t, ok)

	results, err := s.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID, "deleted vector must not surface")
	}
}

func TestHNSWStore_ReaddAfterDelete(t *testing.T) {
	s := newHNSW(t, 2)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{1, 0}}))
	require.NoError(t, s.Delete(ctx, []string{"a"}))
	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{0, 1}}))

	results, err := s.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestHNSWStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.hnsw")

	s := newHNSW(t, 3)
	ids := make([]string, 10)
	vecs := make([][]float32, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("chunk-%02d", i)
		vecs[i] = []float32{float32(i), float32(10 - i), 1}
	}
	require.NoError(t, s.Add(ctx, ids, vecs))
	require.NoError(t, s.Save(path))

	loaded, err := NewHNSWStore(DefaultVectorStoreConfig(3))
	require.NoError(t, err)
	defer func() { _ = loaded.Close() }()
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, 10, loaded.Count())
	results, err := loaded.Search(ctx, []float32{9, 1, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "chunk-09", results[0].ID)
}

func TestHNSWStore_LoadCorruptMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")
	require.NoError(t, writeFile(path, []byte("graph")))
	require.NoError(t, writeFile(path+".meta", []byte("not gob")))

	s := newHNSW(t, 3)
	err := s.Load(path)
	require.Error(t, err)
	assert.True(t, lerrors.IsCode(err, lerrors.ErrCodeCorruptIndex))
}

func TestHNSWStore_EmptySearch(t *testing.T) {
	s := newHNSW(t, 2)

	results, err := s.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
