// Package retrieve serves queries against the published index snapshot.
// A retriever holds one immutable snapshot behind an atomic pointer;
// Reload swaps in a newly published snapshot without blocking readers.
package retrieve

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lorekeep/lorebase/internal/config"
	"github.com/lorekeep/lorebase/internal/embed"
	lerrors "github.com/lorekeep/lorebase/internal/errors"
	"github.com/lorekeep/lorebase/internal/snapshot"
	"github.com/lorekeep/lorebase/internal/store"
)

// overfetchFactor is how many times top_k candidates are pulled from each
// store before filtering; filters and fusion can only discard.
const overfetchFactor = 4

// Passage is one attributed retrieval result.
type Passage struct {
	SourceID string
	Seq      int
	Text     string
	Start    int
	End      int
	Score    float64
}

// Options tunes a single query. Zero values fall back to the retriever's
// configured defaults.
type Options struct {
	// TopK is the number of passages to return.
	TopK int

	// MinScore discards passages whose vector similarity is below it.
	MinScore float64

	// Sources restricts results to the given source IDs.
	Sources []string

	// Hybrid fuses keyword and vector rankings with reciprocal-rank
	// fusion instead of using vector scores alone.
	Hybrid bool

	// DedupeBySource keeps only the best passage per source.
	DedupeBySource bool
}

// Retriever answers queries against the live snapshot.
type Retriever struct {
	dataDir  string
	embedder embed.Embedder
	cfg      config.RetrievalConfig
	retry    embed.RetryConfig
	logger   *slog.Logger

	snap atomic.Pointer[snapshot.Snapshot]

	// mu serializes Reload and Close. retired is the snapshot displaced
	// by the last reload; it stays open until the next reload or Close so
	// queries that resolved it before the swap finish against it.
	mu      sync.Mutex
	retired *snapshot.Snapshot
}

// Open loads the live snapshot and returns a ready retriever. Returns an
// empty-index error when no snapshot has ever been published.
func Open(dataDir string, embedder embed.Embedder, cfg config.RetrievalConfig, logger *slog.Logger) (*Retriever, error) {
	if logger == nil {
		logger = slog.Default()
	}
	snap, err := snapshot.Open(dataDir)
	if err != nil {
		return nil, err
	}

	r := &Retriever{
		dataDir:  dataDir,
		embedder: embedder,
		cfg:      cfg,
		retry:    embed.DefaultRetryConfig(),
		logger:   logger,
	}
	r.snap.Store(snap)
	return r, nil
}

// Reload swaps in the currently published snapshot. In-flight queries
// finish against the snapshot they started with: the displaced snapshot
// is kept open until the next reload (the prune policy keeps its
// directory around for the same reason).
func (r *Retriever) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := (snapshot.Layout{DataDir: r.dataDir}).Current()
	if err != nil {
		return err
	}
	if id == "" {
		return lerrors.EmptyIndex()
	}
	cur := r.snap.Load()
	if cur != nil && cur.ID == id {
		// Same snapshot republished: keep serving the open handle.
		return nil
	}

	next, err := snapshot.OpenID(r.dataDir, id)
	if err != nil {
		return err
	}

	r.closeRetired()
	r.snap.Store(next)
	r.retired = cur

	r.logger.Info("snapshot_reloaded", slog.String("snapshot", next.ID))
	return nil
}

// closeRetired closes the snapshot displaced by the previous reload.
// Callers hold r.mu.
func (r *Retriever) closeRetired() {
	if r.retired == nil {
		return
	}
	if err := r.retired.Close(); err != nil {
		r.logger.Warn("snapshot_close_failed",
			slog.String("snapshot", r.retired.ID),
			slog.String("error", err.Error()))
	}
	r.retired = nil
}

// SnapshotID returns the ID of the snapshot currently being served.
func (r *Retriever) SnapshotID() string {
	if s := r.snap.Load(); s != nil {
		return s.ID
	}
	return ""
}

// Snapshot returns the live snapshot for read-only inspection.
func (r *Retriever) Snapshot() *snapshot.Snapshot {
	return r.snap.Load()
}

// Query embeds the text, searches the snapshot, and returns the best
// passages ordered by score descending with chunk-ID ties broken
// ascending. The ordering is fully deterministic for a given snapshot.
func (r *Retriever) Query(ctx context.Context, text string, opts Options) ([]Passage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, lerrors.New(lerrors.ErrCodeQueryEmpty, "query text is empty", nil)
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	minScore := opts.MinScore
	if minScore == 0 {
		minScore = r.cfg.MinScore
	}
	hybrid := opts.Hybrid || r.cfg.Hybrid

	snap := r.snap.Load()
	if snap == nil {
		return nil, lerrors.EmptyIndex()
	}

	var queryVec []float32
	err := embed.WithRetry(ctx, r.retry, func() error {
		var embErr error
		queryVec, embErr = r.embedder.Embed(ctx, text)
		return embErr
	})
	if err != nil {
		return nil, err
	}

	fetchK := topK * overfetchFactor
	if len(opts.Sources) > 0 || opts.DedupeBySource {
		fetchK *= overfetchFactor
	}

	vecHits, err := snap.Vectors.Search(ctx, queryVec, fetchK)
	if err != nil {
		return nil, err
	}
	if minScore > 0 {
		kept := vecHits[:0]
		for _, h := range vecHits {
			if float64(h.Score) >= minScore {
				kept = append(kept, h)
			}
		}
		vecHits = kept
	}

	var ranked []scoredID
	if hybrid {
		kwHits, err := snap.Keywords.Search(ctx, text, fetchK)
		if err != nil {
			return nil, err
		}
		ranked = fuseRRF(vecHits, kwHits, r.rrfConstant())
	} else {
		ranked = make([]scoredID, len(vecHits))
		for i, h := range vecHits {
			ranked[i] = scoredID{ID: h.ID, Score: float64(h.Score)}
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID < ranked[j].ID
	})

	passages, err := r.resolve(ctx, snap, ranked, topK, opts)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("query_served",
		slog.String("snapshot", snap.ID),
		slog.Int("results", len(passages)),
		slog.Bool("hybrid", hybrid))
	return passages, nil
}

func (r *Retriever) rrfConstant() int {
	if r.cfg.RRFConstant > 0 {
		return r.cfg.RRFConstant
	}
	return config.DefaultRRFConstant
}

// resolve turns ranked chunk IDs into attributed passages, applying the
// source filter and per-source dedupe, and truncating to topK.
func (r *Retriever) resolve(ctx context.Context, snap *snapshot.Snapshot, ranked []scoredID, topK int, opts Options) ([]Passage, error) {
	allowed := make(map[string]struct{}, len(opts.Sources))
	for _, s := range opts.Sources {
		allowed[s] = struct{}{}
	}

	ids := make([]string, len(ranked))
	for i, s := range ranked {
		ids[i] = s.ID
	}
	chunks, err := snap.Chunks.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	seenSource := make(map[string]struct{})
	passages := make([]Passage, 0, topK)
	for i, c := range chunks {
		if len(allowed) > 0 {
			if _, ok := allowed[c.SourceID]; !ok {
				continue
			}
		}
		if opts.DedupeBySource {
			if _, dup := seenSource[c.SourceID]; dup {
				continue
			}
			seenSource[c.SourceID] = struct{}{}
		}
		passages = append(passages, Passage{
			SourceID: c.SourceID,
			Seq:      c.Seq,
			Text:     c.Text,
			Start:    c.Start,
			End:      c.End,
			Score:    ranked[i].Score,
		})
		if len(passages) == topK {
			break
		}
	}
	return passages, nil
}

// scoredID pairs a chunk ID with its ranking score.
type scoredID struct {
	ID    string
	Score float64
}

// fuseRRF merges the vector and keyword rankings with reciprocal-rank
// fusion: each list contributes 1/(k+rank) per document. Scores from the
// two systems are never compared directly, only ranks.
func fuseRRF(vec []*store.VectorResult, kw []*store.KeywordResult, k int) []scoredID {
	scores := make(map[string]float64)
	for rank, h := range vec {
		scores[h.ID] += 1.0 / float64(k+rank+1)
	}
	for rank, h := range kw {
		scores[h.ID] += 1.0 / float64(k+rank+1)
	}

	fused := make([]scoredID, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, scoredID{ID: id, Score: score})
	}
	return fused
}

// Close releases the current snapshot and any retired one.
func (r *Retriever) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeRetired()
	if s := r.snap.Swap(nil); s != nil {
		return s.Close()
	}
	return nil
}
