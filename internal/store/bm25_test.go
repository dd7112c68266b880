package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "github.com/lorekeep/lorebase/internal/errors"
)

func newMemKeyword(t *testing.T) *KeywordIndex {
	t.Helper()
	idx, err := NewMemKeywordIndex()
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func loreDocs() []KeywordDoc {
	return []KeywordDoc{
		{ID: "spells.pdf#00000", Text: "Fireball hurls a roaring ball of flame that explodes on impact."},
		{ID: "spells.pdf#00001", Text: "Cure wounds restores hit points to a creature you touch."},
		{ID: "monsters.pdf#00000", Text: "The red dragon breathes fire across a wide cone."},
	}
}

func TestKeywordIndex_SearchRanksMatches(t *testing.T) {
	idx := newMemKeyword(t)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, loreDocs()))

	results, err := idx.Search(ctx, "fireball flame", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "spells.pdf#00000", results[0].ID)
}

func TestKeywordIndex_CaseInsensitive(t *testing.T) {
	idx := newMemKeyword(t)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, loreDocs()))

	results, err := idx.Search(ctx, "FIREBALL", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "spells.pdf#00000", results[0].ID)
}

func TestKeywordIndex_EmptyQueryReturnsNothing(t *testing.T) {
	idx := newMemKeyword(t)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, loreDocs()))

	results, err := idx.Search(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestKeywordIndex_Delete(t *testing.T) {
	idx := newMemKeyword(t)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, loreDocs()))

	require.NoError(t, idx.Delete(ctx, []string{"spells.pdf#00000"}))

	results, err := idx.Search(ctx, "fireball", 10)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "spells.pdf#00000", r.ID)
	}

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestKeywordIndex_PersistAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keywords.bleve")

	idx, err := NewKeywordIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, loreDocs()))
	require.NoError(t, idx.Close())

	reopened, err := OpenKeywordIndex(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	results, err := reopened.Search(ctx, "dragon fire", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "monsters.pdf#00000", results[0].ID)
}

func TestKeywordIndex_ConcurrentOpensShareTheIndex(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keywords.bleve")

	idx, err := NewKeywordIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, loreDocs()))
	require.NoError(t, idx.Close())

	// A published index may be held by a retriever, a stats call, and a
	// builder reading the previous snapshot all at once. Opening must not
	// take an exclusive lock, or the second open would block forever.
	first, err := OpenKeywordIndex(path)
	require.NoError(t, err)
	defer func() { _ = first.Close() }()

	second, err := OpenKeywordIndex(path)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	for _, idx := range []*KeywordIndex{first, second} {
		results, err := idx.Search(ctx, "fireball", 10)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, "spells.pdf#00000", results[0].ID)
	}
}

func TestKeywordIndex_OpenMissingIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.bleve")

	_, err := OpenKeywordIndex(path)
	require.Error(t, err)
	assert.True(t, lerrors.IsCode(err, lerrors.ErrCodeCorruptIndex))
}

func TestKeywordIndex_OpenTornMetaIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.bleve")

	idx, err := NewKeywordIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	// Truncate the metadata file to simulate a torn write.
	require.NoError(t, writeFile(filepath.Join(path, "index_meta.json"), nil))

	_, err = OpenKeywordIndex(path)
	require.Error(t, err)
	assert.True(t, lerrors.IsCode(err, lerrors.ErrCodeCorruptIndex))
}
