// Package index builds snapshots: it scans the corpus, decides which
// sources are stale, chunks and embeds them, and publishes the result
// atomically. One builder runs at a time per data directory.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/lorekeep/lorebase/internal/chunk"
	"github.com/lorekeep/lorebase/internal/config"
	"github.com/lorekeep/lorebase/internal/embed"
	lerrors "github.com/lorekeep/lorebase/internal/errors"
	"github.com/lorekeep/lorebase/internal/manifest"
	"github.com/lorekeep/lorebase/internal/snapshot"
	"github.com/lorekeep/lorebase/internal/source"
	"github.com/lorekeep/lorebase/internal/store"
)

// LockFileName guards the data directory against concurrent builds.
const LockFileName = "lorebase.lock"

// buildConcurrency bounds how many sources are processed in parallel.
const buildConcurrency = 4

// Mode selects how much of the corpus a run rebuilds.
type Mode int

const (
	// ModeIncremental rebuilds only sources whose content or embedding
	// model changed since the last snapshot.
	ModeIncremental Mode = iota

	// ModeFull rebuilds everything from scratch. Any failure aborts the
	// whole run; the previous snapshot stays live.
	ModeFull
)

func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "incremental"
}

// SourceFailure records one source that could not be indexed.
type SourceFailure struct {
	SourceID string
	Err      error
}

// Stats summarizes a build run.
type Stats struct {
	SnapshotID     string
	SourcesSeen    int
	SourcesRebuilt int
	SourcesSkipped int
	SourcesRemoved int
	ChunksTotal    int
	Failures       []SourceFailure
	Elapsed        time.Duration
}

// Builder runs index builds over a corpus.
type Builder struct {
	cfg      *config.Config
	embedder embed.Embedder
	registry *source.Registry
	retry    embed.RetryConfig
	logger   *slog.Logger
}

// NewBuilder creates a builder with the default extractor registry and
// retry policy.
func NewBuilder(cfg *config.Config, embedder embed.Embedder, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		cfg:      cfg,
		embedder: embedder,
		registry: source.DefaultRegistry(),
		retry:    embed.DefaultRetryConfig(),
		logger:   logger,
	}
}

// buildState is the mutable state of one run. The component stores carry
// their own locks; mu guards the manifest and stats.
type buildState struct {
	layout   snapshot.Layout
	staging  string
	chunks   *store.ChunkStore
	keywords *store.KeywordIndex

	mu       sync.Mutex
	vectors  store.VectorStore
	manifest *manifest.Manifest
	stats    *Stats
}

// Run executes one build and returns its stats. On any error the data
// directory's CURRENT pointer is left untouched.
func (b *Builder) Run(ctx context.Context, mode Mode) (*Stats, error) {
	start := time.Now()

	if err := os.MkdirAll(b.cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lock := flock.New(filepath.Join(b.cfg.DataDir, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire build lock: %w", err)
	}
	if !locked {
		return nil, lerrors.New(lerrors.ErrCodeBuildLocked,
			"another build holds the index lock", nil).
			WithSuggestion("wait for the running build to finish")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			b.logger.Warn("build_lock_release_failed", slog.String("error", err.Error()))
		}
	}()

	b.logger.Info("build_started",
		slog.String("mode", mode.String()),
		slog.String("corpus", b.cfg.CorpusDir),
		slog.String("model", b.embedder.ModelName()))

	infos, err := source.NewScanner(b.cfg.CorpusDir, source.DefaultExtensions).Scan(ctx)
	if err != nil {
		return nil, err
	}

	prev, err := b.openPrevious(mode)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		defer prev.Close()
	}

	stale, unchanged, removed := b.classify(infos, prev, mode)

	st, err := b.stage()
	if err != nil {
		return nil, err
	}
	defer func() {
		if st.staging != "" {
			_ = st.layout.Discard(st.staging)
		}
	}()

	st.stats.SourcesSeen = len(infos)
	st.stats.SourcesRemoved = len(removed)

	for _, id := range unchanged {
		if err := b.carryForward(ctx, st, prev, id); err != nil {
			return nil, err
		}
		st.stats.SourcesSkipped++
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(buildConcurrency)
	for _, info := range stale {
		g.Go(func() error {
			err := b.indexSource(gctx, st, info)
			if err == nil {
				return nil
			}
			if mode == ModeFull || lerrors.IsFatal(err) {
				return err
			}
			// Incremental runs tolerate per-source failures: record it
			// and keep serving the source's previous data if any.
			b.logger.Warn("source_failed",
				slog.String("source", info.ID),
				slog.String("error", err.Error()))
			st.mu.Lock()
			st.stats.Failures = append(st.stats.Failures, SourceFailure{SourceID: info.ID, Err: err})
			st.mu.Unlock()
			if prev != nil && prev.Manifest.Lookup(info.ID) != nil {
				return b.carryForward(gctx, st, prev, info.ID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats, err := b.finalize(st)
	if err != nil {
		return nil, err
	}
	st.staging = "" // published, nothing to discard
	stats.Elapsed = time.Since(start)

	b.logger.Info("build_finished",
		slog.String("snapshot", stats.SnapshotID),
		slog.Int("rebuilt", stats.SourcesRebuilt),
		slog.Int("skipped", stats.SourcesSkipped),
		slog.Int("removed", stats.SourcesRemoved),
		slog.Int("failed", len(stats.Failures)),
		slog.Int("chunks", stats.ChunksTotal),
		slog.Duration("elapsed", stats.Elapsed))
	return stats, nil
}

// openPrevious loads the live snapshot for incremental runs. A missing
// snapshot is fine; a corrupt one aborts with the rebuild suggestion.
func (b *Builder) openPrevious(mode Mode) (*snapshot.Snapshot, error) {
	if mode == ModeFull {
		return nil, nil
	}
	layout := snapshot.Layout{DataDir: b.cfg.DataDir}
	id, err := layout.Current()
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	return snapshot.OpenID(b.cfg.DataDir, id)
}

// classify splits the scanned sources into stale and unchanged, and lists
// previously indexed sources that are gone from the corpus.
func (b *Builder) classify(infos []*source.Info, prev *snapshot.Snapshot, mode Mode) (stale []*source.Info, unchanged []string, removed []string) {
	model := b.embedder.ModelName()
	seen := make(map[string]struct{}, len(infos))

	for _, info := range infos {
		seen[info.ID] = struct{}{}
		if mode == ModeFull || prev == nil || prev.Manifest.NeedsRebuild(info.ID, info.ContentHash, model) {
			stale = append(stale, info)
		} else {
			unchanged = append(unchanged, info.ID)
		}
	}

	if prev != nil {
		for _, id := range prev.Manifest.SourceIDs() {
			if _, exists := seen[id]; !exists {
				removed = append(removed, id)
			}
		}
	}
	return stale, unchanged, removed
}

// stage creates the staging directory and its empty component stores.
func (b *Builder) stage() (*buildState, error) {
	layout := snapshot.Layout{DataDir: b.cfg.DataDir}
	staging, err := layout.Stage()
	if err != nil {
		return nil, err
	}

	chunks, err := store.OpenChunkStore(filepath.Join(staging, snapshot.ChunksFile))
	if err != nil {
		_ = layout.Discard(staging)
		return nil, err
	}
	keywords, err := store.NewKeywordIndex(filepath.Join(staging, snapshot.KeywordsDir))
	if err != nil {
		chunks.Close()
		_ = layout.Discard(staging)
		return nil, err
	}

	return &buildState{
		layout:   layout,
		staging:  staging,
		chunks:   chunks,
		keywords: keywords,
		manifest: manifest.New(b.embedder.ModelName()),
		stats:    &Stats{},
	}, nil
}

// ensureVectors creates the vector store once the dimension is known.
// Backends that auto-detect their dimension report 0 until the first
// embedding call, so creation is deferred to the first write.
func (b *Builder) ensureVectors(st *buildState, dims int) (store.VectorStore, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.vectors != nil {
		return st.vectors, nil
	}
	vs, err := store.NewVectorStore(b.cfg.Store.VectorBackend, store.DefaultVectorStoreConfig(dims))
	if err != nil {
		return nil, err
	}
	st.vectors = vs
	return vs, nil
}

// carryForward copies one source's chunks, vectors, and keyword docs from
// the previous snapshot into the staging stores, re-using its manifest
// entry. Missing vectors mean the previous snapshot is inconsistent.
func (b *Builder) carryForward(ctx context.Context, st *buildState, prev *snapshot.Snapshot, sourceID string) error {
	chunks, err := prev.Chunks.ChunksBySource(ctx, sourceID)
	if err != nil {
		return err
	}

	ids := make([]string, len(chunks))
	vecs := make([][]float32, len(chunks))
	docs := make([]store.KeywordDoc, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID()
		vec, ok := prev.Vectors.Get(c.ID())
		if !ok {
			return lerrors.CorruptIndex("previous snapshot is missing a chunk vector", nil).
				WithDetail("chunk", c.ID())
		}
		vecs[i] = vec
		docs[i] = store.KeywordDoc{ID: c.ID(), Text: c.Text}
	}

	if err := st.chunks.SaveChunks(ctx, chunks); err != nil {
		return err
	}
	if len(vecs) > 0 {
		vs, err := b.ensureVectors(st, len(vecs[0]))
		if err != nil {
			return err
		}
		if err := vs.Add(ctx, ids, vecs); err != nil {
			return err
		}
	}
	if err := st.keywords.Add(ctx, docs); err != nil {
		return err
	}

	entry := prev.Manifest.Lookup(sourceID)
	if entry == nil {
		return lerrors.CorruptIndex("previous snapshot has chunks for an untracked source", nil).
			WithDetail("source", sourceID)
	}
	copied := *entry

	st.mu.Lock()
	st.manifest.Record(&copied)
	st.stats.ChunksTotal += len(chunks)
	st.mu.Unlock()
	return nil
}

// indexSource extracts, chunks, embeds, and stages one source. The
// manifest entry is recorded only after every store write succeeded.
func (b *Builder) indexSource(ctx context.Context, st *buildState, info *source.Info) error {
	text, err := b.registry.Extract(ctx, info)
	if err != nil {
		return err
	}

	chunkCfg := chunk.Config{
		MaxChunkSize: b.cfg.Chunking.MaxChunkSize,
		Overlap:      b.cfg.Chunking.Overlap,
		Unit:         chunk.SplitUnit(b.cfg.Chunking.SplitUnit),
	}
	chunks, err := chunk.Split(info.ID, text, chunkCfg)
	if err != nil {
		return err
	}

	vecs, err := b.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}

	ids := make([]string, len(chunks))
	records := make([]*chunk.Chunk, len(chunks))
	docs := make([]store.KeywordDoc, len(chunks))
	for i := range chunks {
		c := chunks[i]
		ids[i] = c.ID()
		records[i] = &c
		docs[i] = store.KeywordDoc{ID: c.ID(), Text: c.Text}
	}

	if err := st.chunks.SaveChunks(ctx, records); err != nil {
		return err
	}
	if len(vecs) > 0 {
		vs, err := b.ensureVectors(st, len(vecs[0]))
		if err != nil {
			return err
		}
		if err := vs.Add(ctx, ids, vecs); err != nil {
			return err
		}
	}
	if err := st.keywords.Add(ctx, docs); err != nil {
		return err
	}

	st.mu.Lock()
	st.manifest.Record(&manifest.Entry{
		SourceID:     info.ID,
		ContentHash:  info.ContentHash,
		ChunkCount:   len(chunks),
		ModelVersion: b.embedder.ModelName(),
	})
	st.stats.SourcesRebuilt++
	st.stats.ChunksTotal += len(chunks)
	st.mu.Unlock()

	b.logger.Debug("source_indexed",
		slog.String("source", info.ID),
		slog.Int("chunks", len(chunks)))
	return nil
}

// embedChunks embeds a source's chunks in batches, retrying transient
// backend failures with bounded backoff.
func (b *Builder) embedChunks(ctx context.Context, chunks []chunk.Chunk) ([][]float32, error) {
	batchSize := b.cfg.Embeddings.BatchSize
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}

	vecs := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		var batch [][]float32
		err := embed.WithRetry(ctx, b.retry, func() error {
			var embErr error
			batch, embErr = b.embedder.EmbedBatch(ctx, texts)
			return embErr
		})
		if err != nil {
			return nil, err
		}
		vecs = append(vecs, batch...)
	}
	return vecs, nil
}

// finalize writes the manifest and vector store into staging, derives the
// snapshot ID from the manifest content, and publishes atomically. Old
// snapshots beyond one fallback are pruned.
func (b *Builder) finalize(st *buildState) (*Stats, error) {
	if st.vectors == nil {
		// Empty corpus: publish an empty but well-formed snapshot.
		vs, err := b.ensureVectors(st, max(b.embedder.Dimensions(), 1))
		if err != nil {
			return nil, err
		}
		st.vectors = vs
	}

	if err := st.manifest.Save(filepath.Join(st.staging, snapshot.ManifestFile)); err != nil {
		return nil, err
	}

	vectorsFile := snapshot.VectorsFlat
	if _, ok := st.vectors.(*store.HNSWStore); ok {
		vectorsFile = snapshot.VectorsHNSW
	}
	if err := st.vectors.Save(filepath.Join(st.staging, vectorsFile)); err != nil {
		return nil, err
	}
	if err := st.vectors.Close(); err != nil {
		return nil, err
	}
	if err := st.keywords.Close(); err != nil {
		return nil, err
	}
	if err := st.chunks.Close(); err != nil {
		return nil, err
	}

	id := st.manifest.Fingerprint()
	if err := st.layout.Publish(st.staging, id); err != nil {
		return nil, err
	}

	if _, err := st.layout.Prune(1); err != nil {
		b.logger.Warn("snapshot_prune_failed", slog.String("error", err.Error()))
	}

	st.stats.SnapshotID = id
	return st.stats, nil
}
