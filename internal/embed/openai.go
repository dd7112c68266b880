package embed

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	lerrors "github.com/lorekeep/lorebase/internal/errors"
)

// OpenAI-compatible backend constants. The compatible-mode providers
// (DashScope, SiliconFlow) cap batch size at 10 inputs per request.
const (
	DefaultOpenAIModel     = "text-embedding-3-small"
	DefaultOpenAIBatchSize = 10
)

// OpenAIConfig configures the OpenAI-compatible embedder.
type OpenAIConfig struct {
	// APIKey authenticates requests. Falls back to OPENAI_API_KEY.
	APIKey string

	// BaseURL overrides the endpoint for compatible-mode providers.
	BaseURL string

	// Model is the embedding model name.
	Model string

	// Dimensions requests a specific output dimensionality where the
	// model supports it (0 = model default).
	Dimensions int

	// BatchSize is the number of inputs per request (default: 10).
	BatchSize int
}

// OpenAIEmbedder generates embeddings through any OpenAI-compatible API.
type OpenAIEmbedder struct {
	client *openai.Client
	config OpenAIConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

// Verify interface implementation at compile time.
var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an OpenAI-compatible embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set and no api key configured")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultOpenAIBatchSize
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		config: cfg,
		dims:   cfg.Dimensions,
	}, nil
}

// Embed generates the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, preserving input
// order. Requests are split into provider-sized batches.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		req := openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.config.Model),
			Input: texts[start:end],
		}
		if e.config.Dimensions > 0 {
			req.Dimensions = e.config.Dimensions
		}

		resp, err := e.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return nil, classifyOpenAIError(err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("embedding count mismatch: got %d for %d texts", len(resp.Data), end-start)
		}

		for _, d := range resp.Data {
			results = append(results, d.Embedding)
		}
	}

	e.mu.Lock()
	if e.dims == 0 && len(results) > 0 {
		e.dims = len(results[0])
	}
	e.mu.Unlock()

	return results, nil
}

// classifyOpenAIError maps API failures onto the retry taxonomy:
// rate limits and server errors are transient, 4xx input errors are not.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests,
			apiErr.HTTPStatusCode >= 500:
			return lerrors.EmbeddingUnavailable(apiErr.Message, err)
		case apiErr.HTTPStatusCode >= 400:
			return lerrors.EmbeddingRejected(apiErr.Message, err)
		}
	}
	// Connection-level failures are transient.
	return lerrors.EmbeddingUnavailable(err.Error(), err)
}

// Dimensions returns the embedding dimension (0 until first call when
// auto-detecting).
func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier, including the endpoint host for
// compatible-mode providers so different backends never share an index.
func (e *OpenAIEmbedder) ModelName() string {
	if e.config.BaseURL != "" {
		host := strings.TrimPrefix(strings.TrimPrefix(e.config.BaseURL, "https://"), "http://")
		if i := strings.IndexByte(host, '/'); i > 0 {
			host = host[:i]
		}
		return e.config.Model + "@" + host
	}
	return e.config.Model
}

// Available reports whether the embedder can serve requests.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
