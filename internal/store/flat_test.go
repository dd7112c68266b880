package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "github.com/lorekeep/lorebase/internal/errors"
)

func newFlat(t *testing.T, dims int) *FlatStore {
	t.Helper()
	s := NewFlatStore(DefaultVectorStoreConfig(dims))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFlatStore_AddAndSearch(t *testing.T) {
	s := newFlat(t, 3)
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
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}

func TestFlatStore_SearchTiesBreakByID(t *testing.T) {
	s := newFlat(t, 2)
	ctx := context.Background()

	// Same vector under three IDs: identical scores, order must be by ID.
	err := s.Add(ctx, []string{"zz", "aa", "mm"}, [][]float32{
		{1, 0}, {1, 0}, {1, 0},
	})
	require.NoError(t, err)

	results, err := s.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "aa", results[0].ID)
	assert.Equal(t, "mm", results[1].ID)
	assert.Equal(t, "zz", results[2].ID)
}

func TestFlatStore_DimensionMismatch(t *testing.T) {
	s := newFlat(t, 4)
	ctx := context.Background()

	err := s.Add(ctx, []string{"a"}, [][]float32{{1, 0}})
	require.Error(t, err)
	assert.True(t, lerrors.IsCode(err, lerrors.ErrCodeDimensionMismatch))

	_, err = s.Search(ctx, []float32{1, 0}, 1)
	require.Error(t, err)
	assert.True(t, lerrors.IsCode(err, lerrors.ErrCodeDimensionMismatch))
}

func TestFlatStore_ReplaceExistingID(t *testing.T) {
	s := newFlat(t, 2)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{1, 0}}))
	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{0, 1}}))

	assert.Equal(t, 1, s.Count())

	results, err := s.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}

func TestFlatStore_Delete(t *testing.T) {
	s := newFlat(t, 2)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, s.Delete(ctx, []string{"a", "missing"}))

	assert.Equal(t, 1, s.Count())
	_, ok := s.Get("a")
	assert.False(t, ok)
	_, ok = s.Get("b")
	assert.True(t, ok)
	assert.Equal(t, []string{"b"}, s.AllIDs())
}

func TestFlatStore_EmptySearch(t *testing.T) {
	s := newFlat(t, 2)

	results, err := s.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFlatStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.gob")

	s := newFlat(t, 3)
	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0, 0}, {0, 1, 0}}))
	require.NoError(t, s.Save(path))

	loaded := NewFlatStore(DefaultVectorStoreConfig(0))
	defer func() { _ = loaded.Close() }()
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, 2, loaded.Count())
	results, err := loaded.Search(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestFlatStore_LoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.gob")
	require.NoError(t, writeFile(path, []byte("not a gob stream")))

	s := newFlat(t, 3)
	err := s.Load(path)
	require.Error(t, err)
	assert.True(t, lerrors.IsCode(err, lerrors.ErrCodeCorruptIndex))
	assert.True(t, lerrors.IsFatal(err))
}

func TestFlatStore_ClosedRejectsCalls(t *testing.T) {
	s := NewFlatStore(DefaultVectorStoreConfig(2))
	require.NoError(t, s.Close())

	err := s.Add(context.Background(), []string{"a"}, [][]float32{{1, 0}})
	assert.Error(t, err)
	_, err = s.Search(context.Background(), []float32{1, 0}, 1)
	assert.Error(t, err)
	assert.Zero(t, s.Count())
}
