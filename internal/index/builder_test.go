package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeep/lorebase/internal/config"
	"github.com/lorekeep/lorebase/internal/embed"
	lerrors "github.com/lorekeep/lorebase/internal/errors"
	"github.com/lorekeep/lorebase/internal/snapshot"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.CorpusDir = t.TempDir()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Embeddings.Provider = "static"
	return cfg
}

func writeSource(t *testing.T, cfg *config.Config, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.CorpusDir, name), []byte(content), 0o644))
}

// longText returns n characters of word-ish text.
func longText(n int) string {
	var sb strings.Builder
	for sb.Len() < n {
		sb.WriteString("lore text about dragons and dungeons ")
	}
	return sb.String()[:n]
}

func newTestBuilder(t *testing.T, cfg *config.Config) (*Builder, embed.Embedder) {
	t.Helper()
	e := embed.NewStaticEmbedder()
	t.Cleanup(func() { _ = e.Close() })
	return NewBuilder(cfg, e, nil), e
}

func TestBuilder_FreshBuild(t *testing.T) {
	cfg := testConfig(t)
	writeSource(t, cfg, "lore.txt", longText(10000))
	b, _ := newTestBuilder(t, cfg)

	stats, err := b.Run(context.Background(), ModeIncremental)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SourcesSeen)
	assert.Equal(t, 1, stats.SourcesRebuilt)
	assert.Equal(t, 0, stats.SourcesSkipped)
	assert.Equal(t, 11, stats.ChunksTotal, "10000 chars at size 1000 overlap 100 step in 900s")
	assert.Empty(t, stats.Failures)
	assert.NotEmpty(t, stats.SnapshotID)

	s, err := snapshot.Open(cfg.DataDir)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, stats.SnapshotID, s.ID)
	assert.Equal(t, 11, s.Vectors.Count())
}

func TestBuilder_NoOpRebuildKeepsSnapshotID(t *testing.T) {
	cfg := testConfig(t)
	writeSource(t, cfg, "lore.txt", longText(5000))
	b, _ := newTestBuilder(t, cfg)
	ctx := context.Background()

	first, err := b.Run(ctx, ModeIncremental)
	require.NoError(t, err)

	second, err := b.Run(ctx, ModeIncremental)
	require.NoError(t, err)

	assert.Equal(t, 0, second.SourcesRebuilt)
	assert.Equal(t, 1, second.SourcesSkipped)
	assert.Equal(t, first.SnapshotID, second.SnapshotID,
		"unchanged corpus must republish the identical snapshot")
}

func TestBuilder_ChangedSourceIsRebuilt(t *testing.T) {
	cfg := testConfig(t)
	writeSource(t, cfg, "a.txt", longText(2000))
	writeSource(t, cfg, "b.txt", longText(3000))
	b, _ := newTestBuilder(t, cfg)
	ctx := context.Background()

	first, err := b.Run(ctx, ModeIncremental)
	require.NoError(t, err)

	writeSource(t, cfg, "a.txt", "completely new dragon lore "+longText(1500))
	second, err := b.Run(ctx, ModeIncremental)
	require.NoError(t, err)

	assert.Equal(t, 1, second.SourcesRebuilt)
	assert.Equal(t, 1, second.SourcesSkipped)
	assert.NotEqual(t, first.SnapshotID, second.SnapshotID)
}

func TestBuilder_RemovedSourceIsCollected(t *testing.T) {
	cfg := testConfig(t)
	writeSource(t, cfg, "a.txt", longText(2000))
	writeSource(t, cfg, "b.txt", longText(3000))
	b, _ := newTestBuilder(t, cfg)
	ctx := context.Background()

	_, err := b.Run(ctx, ModeIncremental)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(cfg.CorpusDir, "b.txt")))
	stats, err := b.Run(ctx, ModeIncremental)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SourcesRemoved)
	assert.Equal(t, 1, stats.SourcesSkipped)

	s, err := snapshot.Open(cfg.DataDir)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, []string{"a.txt"}, s.Manifest.SourceIDs())

	ids, err := s.Chunks.SourceIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, ids)
}

func TestBuilder_ModelChangeRebuildsEverything(t *testing.T) {
	cfg := testConfig(t)
	writeSource(t, cfg, "a.txt", longText(2000))
	ctx := context.Background()

	b1, _ := newTestBuilder(t, cfg)
	_, err := b1.Run(ctx, ModeIncremental)
	require.NoError(t, err)

	renamed := &renamedEmbedder{Embedder: embed.NewStaticEmbedder(), name: "static-hash-v2"}
	t.Cleanup(func() { _ = renamed.Close() })
	b2 := NewBuilder(cfg, renamed, nil)

	stats, err := b2.Run(ctx, ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SourcesRebuilt)
	assert.Equal(t, 0, stats.SourcesSkipped)
}

func TestBuilder_FullModeFailureLeavesCurrentUntouched(t *testing.T) {
	cfg := testConfig(t)
	writeSource(t, cfg, "a.txt", longText(2000))
	ctx := context.Background()

	b, _ := newTestBuilder(t, cfg)
	first, err := b.Run(ctx, ModeIncremental)
	require.NoError(t, err)

	failing := &failingEmbedder{Embedder: embed.NewStaticEmbedder()}
	t.Cleanup(func() { _ = failing.Close() })
	bf := NewBuilder(cfg, failing, nil)
	bf.retry = embed.RetryConfig{MaxRetries: 0, InitialDelay: 1, MaxDelay: 1, Multiplier: 2}

	_, err = bf.Run(ctx, ModeFull)
	require.Error(t, err)

	layout := snapshot.Layout{DataDir: cfg.DataDir}
	current, err := layout.Current()
	require.NoError(t, err)
	assert.Equal(t, first.SnapshotID, current, "failed full rebuild must not move CURRENT")

	entries, err := os.ReadDir(layout.SnapshotsDir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".staging-"),
			"aborted build must discard its staging dir")
	}
}

func TestBuilder_IncrementalCollectsSourceFailures(t *testing.T) {
	cfg := testConfig(t)
	writeSource(t, cfg, "good.txt", longText(2000))
	writeSource(t, cfg, "bad.txt", "   ") // whitespace-only: invalid source
	b, _ := newTestBuilder(t, cfg)

	stats, err := b.Run(context.Background(), ModeIncremental)
	require.NoError(t, err, "incremental build must survive per-source failures")

	assert.Equal(t, 1, stats.SourcesRebuilt)
	require.Len(t, stats.Failures, 1)
	assert.Equal(t, "bad.txt", stats.Failures[0].SourceID)
	assert.True(t, lerrors.IsCode(stats.Failures[0].Err, lerrors.ErrCodeInvalidSource))

	s, err := snapshot.Open(cfg.DataDir)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, []string{"good.txt"}, s.Manifest.SourceIDs())
}

func TestBuilder_ConcurrentBuildIsLocked(t *testing.T) {
	cfg := testConfig(t)
	writeSource(t, cfg, "a.txt", longText(2000))
	b, _ := newTestBuilder(t, cfg)

	require.NoError(t, os.MkdirAll(cfg.DataDir, 0o755))
	other := flock.New(filepath.Join(cfg.DataDir, LockFileName))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = other.Unlock() }()

	_, err = b.Run(context.Background(), ModeIncremental)
	require.Error(t, err)
	assert.True(t, lerrors.IsCode(err, lerrors.ErrCodeBuildLocked))
}

func TestBuilder_RunsWhileReaderHoldsSnapshot(t *testing.T) {
	cfg := testConfig(t)
	writeSource(t, cfg, "a.txt", longText(2000))
	b, _ := newTestBuilder(t, cfg)
	ctx := context.Background()

	first, err := b.Run(ctx, ModeIncremental)
	require.NoError(t, err)

	// A reader keeps the published snapshot open for the whole build.
	// Publish is the only synchronization point: the build must neither
	// block on the reader's handles nor disturb them.
	reader, err := snapshot.Open(cfg.DataDir)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	writeSource(t, cfg, "b.txt", longText(3000))
	second, err := b.Run(ctx, ModeIncremental)
	require.NoError(t, err)
	assert.NotEqual(t, first.SnapshotID, second.SnapshotID)

	hits, err := reader.Keywords.Search(ctx, "dragons", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, hits, "reader must keep serving its snapshot")
}

func TestBuilder_WordSplitUnit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Chunking.SplitUnit = "word"
	writeSource(t, cfg, "a.txt", longText(3000))
	b, _ := newTestBuilder(t, cfg)

	_, err := b.Run(context.Background(), ModeIncremental)
	require.NoError(t, err)

	s, err := snapshot.Open(cfg.DataDir)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	chunks, err := s.Chunks.ChunksBySource(context.Background(), "a.txt")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	// The cleaned corpus text the chunker saw: single spaces, trimmed.
	text := []rune(strings.TrimSpace(longText(3000)))
	for _, c := range chunks {
		if c.End == len(text) {
			continue
		}
		assert.True(t, text[c.End] == ' ' || text[c.End-1] == ' ',
			"word mode must not cut %s mid-word", c.ID())
	}
}

func TestBuilder_HNSWBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.VectorBackend = "hnsw"
	writeSource(t, cfg, "a.txt", longText(3000))
	b, _ := newTestBuilder(t, cfg)

	stats, err := b.Run(context.Background(), ModeIncremental)
	require.NoError(t, err)

	s, err := snapshot.Open(cfg.DataDir)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, stats.ChunksTotal, s.Vectors.Count())
}

// renamedEmbedder overrides the reported model name.
type renamedEmbedder struct {
	embed.Embedder
	name string
}

func (r *renamedEmbedder) ModelName() string { return r.name }

// failingEmbedder reports the backend as unavailable on every call.
type failingEmbedder struct {
	embed.Embedder
}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, lerrors.EmbeddingUnavailable("backend down", nil)
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, lerrors.EmbeddingUnavailable("backend down", nil)
}
