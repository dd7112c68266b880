package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"

	lerrors "github.com/lorekeep/lorebase/internal/errors"
)

// proseAnalyzerName is the analyzer registered for chunk text: unicode
// word segmentation plus lowercasing, no stemming. Stemming is skipped so
// proper nouns and invented terms common in lore text survive intact.
const proseAnalyzerName = "prose"

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID    string
	Score float64 // bleve BM25 score, unbounded
}

// KeywordDoc is a document to add to the keyword index.
type KeywordDoc struct {
	ID   string
	Text string
}

// bleveDoc is the indexed document shape.
type bleveDoc struct {
	Text string `json:"text"`
}

// KeywordIndex wraps a bleve index for BM25 keyword search over chunk
// text. It complements the vector store in hybrid retrieval.
type KeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// NewMemKeywordIndex creates an in-memory keyword index, used while
// building a snapshot and in tests.
func NewMemKeywordIndex() (*KeywordIndex, error) {
	m, err := proseIndexMapping()
	if err != nil {
		return nil, err
	}
	idx, err := bleve.NewMemOnly(m)
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	return &KeywordIndex{index: idx}, nil
}

// NewKeywordIndex creates a new on-disk keyword index at path. The path
// must not already exist; snapshot directories are written once.
func NewKeywordIndex(path string) (*KeywordIndex, error) {
	m, err := proseIndexMapping()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	idx, err := bleve.New(path, m)
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	return &KeywordIndex{index: idx, path: path}, nil
}

// OpenKeywordIndex opens an existing on-disk keyword index read-only.
// Published snapshots are immutable and may be held open by several
// readers and a builder at once, so the open must take a shared lock,
// not bleve's default exclusive one. A missing or undecodable index is
// reported as corrupt; the remedy is a rebuild, not in-place repair.
func OpenKeywordIndex(path string) (*KeywordIndex, error) {
	if err := validateKeywordIndex(path); err != nil {
		return nil, lerrors.CorruptIndex("keyword index is unreadable", err).
			WithDetail("path", path)
	}
	idx, err := bleve.OpenUsing(path, map[string]interface{}{"read_only": true})
	if err != nil {
		return nil, lerrors.CorruptIndex("keyword index cannot be opened", err).
			WithDetail("path", path)
	}
	return &KeywordIndex{index: idx, path: path}, nil
}

// validateKeywordIndex checks the bleve metadata file before opening, so
// a torn snapshot surfaces as a clean corruption error instead of a deep
// bleve failure.
func validateKeywordIndex(path string) error {
	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if err != nil {
		return fmt.Errorf("stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is not valid JSON: %w", err)
	}
	return nil
}

func proseIndexMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(proseAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("register prose analyzer: %w", err)
	}
	m.DefaultAnalyzer = proseAnalyzerName
	return m, nil
}

// Add indexes documents in a single batch.
func (x *KeywordIndex) Add(ctx context.Context, docs []KeywordDoc) error {
	if len(docs) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := x.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveDoc{Text: doc.Text}); err != nil {
			return fmt.Errorf("index document %s: %w", doc.ID, err)
		}
	}
	if err := x.index.Batch(batch); err != nil {
		return fmt.Errorf("execute index batch: %w", err)
	}
	return nil
}

// Search returns up to limit documents matching the query, best first.
// An empty query returns no hits.
func (x *KeywordIndex) Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []*KeywordResult{}, nil
	}

	mq := bleve.NewMatchQuery(query)
	mq.SetField("text")

	req := bleve.NewSearchRequest(mq)
	req.Size = limit

	res, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	results := make([]*KeywordResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, &KeywordResult{ID: hit.ID, Score: hit.Score})
	}
	return results, nil
}

// Delete removes documents by ID.
func (x *KeywordIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := x.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := x.index.Batch(batch); err != nil {
		return fmt.Errorf("execute delete batch: %w", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (x *KeywordIndex) Count() (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return 0, fmt.Errorf("keyword index is closed")
	}
	n, err := x.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("doc count: %w", err)
	}
	return int(n), nil
}

// Close releases the underlying bleve index.
func (x *KeywordIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil
	}
	x.closed = true
	return x.index.Close()
}
