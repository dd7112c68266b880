// Package config loads and validates lorebase configuration.
//
// Configuration is resolved in three layers, later layers winning:
//  1. built-in defaults
//  2. lorebase.yaml in the corpus directory (or --config path)
//  3. LOREBASE_* environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the per-corpus configuration file name.
const ConfigFileName = "lorebase.yaml"

// Default values for chunking and retrieval. Chunk and overlap sizes follow
// the original corpus profile; top_k matches the agent's default context
// budget of three passages.
const (
	DefaultMaxChunkSize = 1000
	DefaultOverlap      = 100
	DefaultTopK         = 3
	DefaultRRFConstant  = 60
	DefaultBatchSize    = 32
)

// Config is the complete lorebase configuration.
type Config struct {
	// CorpusDir is the directory holding the source documents.
	CorpusDir string `yaml:"corpus_dir"`

	// DataDir is where snapshots, locks, and logs live.
	// Defaults to <corpus_dir>/.lorebase.
	DataDir string `yaml:"data_dir"`

	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Store      StoreConfig      `yaml:"store"`
	LogLevel   string           `yaml:"log_level"`
}

// ChunkingConfig configures the text chunker.
type ChunkingConfig struct {
	// MaxChunkSize is the maximum chunk length in characters.
	MaxChunkSize int `yaml:"max_chunk_size"`

	// Overlap is the number of characters adjacent chunks share.
	Overlap int `yaml:"overlap"`

	// SplitUnit is the smallest addressable unit: "char" or "word".
	SplitUnit string `yaml:"split_unit"`
}

// EmbeddingsConfig configures the embedding backend.
type EmbeddingsConfig struct {
	// Provider selects the backend: "ollama", "openai", or "static".
	Provider string `yaml:"provider"`

	// Model is the embedding model name.
	Model string `yaml:"model"`

	// Dimensions is the expected vector dimensionality (0 = auto-detect).
	Dimensions int `yaml:"dimensions"`

	// BatchSize is the number of texts per embedding request.
	BatchSize int `yaml:"batch_size"`

	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host"`

	// OpenAIBaseURL overrides the OpenAI-compatible endpoint
	// (e.g., a DashScope or SiliconFlow compatible-mode URL).
	OpenAIBaseURL string `yaml:"openai_base_url"`

	// CacheSize is the query-embedding LRU cache size.
	CacheSize int `yaml:"cache_size"`
}

// RetrievalConfig configures the query path.
type RetrievalConfig struct {
	// TopK is the default number of passages returned.
	TopK int `yaml:"top_k"`

	// MinScore discards results scoring below it (0 = keep all).
	MinScore float64 `yaml:"min_score"`

	// Hybrid enables BM25 keyword fusion alongside vector search.
	Hybrid bool `yaml:"hybrid"`

	// RRFConstant is the reciprocal-rank-fusion smoothing parameter.
	RRFConstant int `yaml:"rrf_constant"`
}

// StoreConfig configures the vector store backend.
type StoreConfig struct {
	// VectorBackend is "flat" (exact scan, default) or "hnsw".
	VectorBackend string `yaml:"vector_backend"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		CorpusDir: ".",
		Chunking: ChunkingConfig{
			MaxChunkSize: DefaultMaxChunkSize,
			Overlap:      DefaultOverlap,
			SplitUnit:    "char",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			BatchSize:  DefaultBatchSize,
			OllamaHost: "http://localhost:11434",
			CacheSize:  1000,
		},
		Retrieval: RetrievalConfig{
			TopK:        DefaultTopK,
			RRFConstant: DefaultRRFConstant,
		},
		Store: StoreConfig{
			VectorBackend: "flat",
		},
		LogLevel: "info",
	}
}

// Load resolves configuration for the given corpus directory.
// A missing config file is not an error; defaults apply.
func Load(corpusDir string) (*Config, error) {
	cfg := NewConfig()
	cfg.CorpusDir = corpusDir

	path := filepath.Join(corpusDir, ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(cfg.CorpusDir, ".lorebase")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads configuration from an explicit file path.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(cfg.CorpusDir, ".lorebase")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies LOREBASE_* environment variables.
// Environment always wins over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LOREBASE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("LOREBASE_EMBEDDING_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("LOREBASE_EMBEDDING_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("LOREBASE_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Embeddings.Dimensions = n
		}
	}
	if v := os.Getenv("LOREBASE_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("LOREBASE_OPENAI_BASE_URL"); v != "" {
		c.Embeddings.OpenAIBaseURL = v
	}
	if v := os.Getenv("LOREBASE_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chunking.MaxChunkSize = n
		}
	}
	if v := os.Getenv("LOREBASE_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chunking.Overlap = n
		}
	}
	if v := os.Getenv("LOREBASE_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retrieval.TopK = n
		}
	}
	if v := os.Getenv("LOREBASE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Chunking.MaxChunkSize <= 0 {
		return fmt.Errorf("chunking.max_chunk_size must be positive, got %d", c.Chunking.MaxChunkSize)
	}
	if c.Chunking.Overlap < 0 {
		return fmt.Errorf("chunking.overlap must be non-negative, got %d", c.Chunking.Overlap)
	}
	if c.Chunking.Overlap >= c.Chunking.MaxChunkSize {
		return fmt.Errorf("chunking.overlap (%d) must be smaller than max_chunk_size (%d)",
			c.Chunking.Overlap, c.Chunking.MaxChunkSize)
	}
	switch c.Chunking.SplitUnit {
	case "char", "word":
	default:
		return fmt.Errorf("chunking.split_unit must be \"char\" or \"word\", got %q", c.Chunking.SplitUnit)
	}
	switch c.Embeddings.Provider {
	case "ollama", "openai", "static":
	default:
		return fmt.Errorf("embeddings.provider must be ollama, openai, or static, got %q", c.Embeddings.Provider)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("retrieval.min_score must be in [0,1], got %g", c.Retrieval.MinScore)
	}
	switch strings.ToLower(c.Store.VectorBackend) {
	case "flat", "hnsw":
	default:
		return fmt.Errorf("store.vector_backend must be \"flat\" or \"hnsw\", got %q", c.Store.VectorBackend)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
