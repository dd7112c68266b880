package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/lorekeep/lorebase/internal/chunk"
	lerrors "github.com/lorekeep/lorebase/internal/errors"
)

const chunkSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	id         TEXT PRIMARY KEY,
	source_id  TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	start_off  INTEGER NOT NULL,
	end_off    INTEGER NOT NULL,
	text       TEXT NOT NULL,
	hash       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_id, seq);
`

// ChunkStore persists chunk text and offsets in a per-snapshot SQLite
// database. Vectors live in the vector store; this holds everything the
// retriever needs to turn a hit ID back into text.
type ChunkStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// OpenChunkStore opens or creates the chunk database at path. An existing
// file that fails the integrity check is reported as a corrupt index.
func OpenChunkStore(path string) (*ChunkStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	existed := false
	if _, err := os.Stat(path); err == nil {
		existed = true
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open chunk database: %w", err)
	}

	// WAL keeps readers unblocked while a build writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if existed {
		var result string
		if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil || result != "ok" {
			db.Close()
			if err == nil {
				err = fmt.Errorf("integrity check returned %q", result)
			}
			return nil, lerrors.CorruptIndex("chunk database failed integrity check", err).
				WithDetail("path", path)
		}
	}

	if _, err := db.Exec(chunkSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create chunk schema: %w", err)
	}

	return &ChunkStore{db: db, path: path}, nil
}

// SaveChunks inserts or replaces chunks in a single transaction.
func (s *ChunkStore) SaveChunks(ctx context.Context, chunks []*chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (id, source_id, seq, start_off, end_off, text, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID(), c.SourceID, c.Seq, c.Start, c.End, c.Text, c.Hash); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID(), err)
		}
	}

	return tx.Commit()
}

// GetChunks retrieves chunks by ID, preserving input order. IDs missing
// from the store are reported as corruption: the vector store and chunk
// store of a snapshot are written together and must agree.
func (s *ChunkStore) GetChunks(ctx context.Context, ids []string) ([]*chunk.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, source_id, seq, start_off, end_off, text, hash
		FROM chunks WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*chunk.Chunk, len(ids))
	for rows.Next() {
		var id string
		var c chunk.Chunk
		if err := rows.Scan(&id, &c.SourceID, &c.Seq, &c.Start, &c.End, &c.Text, &c.Hash); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		byID[id] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows: %w", err)
	}

	result := make([]*chunk.Chunk, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			return nil, lerrors.CorruptIndex("vector hit has no chunk record", nil).
				WithDetail("chunk", id)
		}
		result = append(result, c)
	}
	return result, nil
}

// ChunksBySource returns a source's chunks ordered by sequence.
func (s *ChunkStore) ChunksBySource(ctx context.Context, sourceID string) ([]*chunk.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, seq, start_off, end_off, text, hash
		FROM chunks WHERE source_id = ? ORDER BY seq`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query chunks for %s: %w", sourceID, err)
	}
	defer rows.Close()

	var chunks []*chunk.Chunk
	for rows.Next() {
		var c chunk.Chunk
		if err := rows.Scan(&c.SourceID, &c.Seq, &c.Start, &c.End, &c.Text, &c.Hash); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// SourceIDs returns the distinct source IDs present, sorted.
func (s *ChunkStore) SourceIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT source_id FROM chunks ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("query source ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan source id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the total number of chunks.
func (s *ChunkStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("chunk store is closed")
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *ChunkStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
