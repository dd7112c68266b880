// Package snapshot manages published index snapshots. Each snapshot is an
// immutable directory holding the manifest, chunk database, vector store,
// and keyword index for one build; a CURRENT pointer file names the live
// snapshot and is replaced atomically on publish.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio"

	lerrors "github.com/lorekeep/lorebase/internal/errors"
	"github.com/lorekeep/lorebase/internal/manifest"
	"github.com/lorekeep/lorebase/internal/store"
)

// File and directory names inside the data dir and each snapshot.
const (
	SnapshotsDirName = "snapshots"
	CurrentFileName  = "CURRENT"

	ManifestFile  = manifest.FileName
	ChunksFile    = "chunks.db"
	VectorsFlat   = "vectors.gob"
	VectorsHNSW   = "vectors.hnsw"
	KeywordsDir   = "keywords.bleve"
	stagingPrefix = ".staging-"
)

// Layout resolves paths under a data directory.
type Layout struct {
	DataDir string
}

// SnapshotsDir is the directory holding all snapshot directories.
func (l Layout) SnapshotsDir() string {
	return filepath.Join(l.DataDir, SnapshotsDirName)
}

// Dir is the directory for one snapshot ID.
func (l Layout) Dir(id string) string {
	return filepath.Join(l.SnapshotsDir(), id)
}

// CurrentPath is the CURRENT pointer file.
func (l Layout) CurrentPath() string {
	return filepath.Join(l.DataDir, CurrentFileName)
}

// Current returns the live snapshot ID, or "" when no snapshot has ever
// been published.
func (l Layout) Current() (string, error) {
	data, err := os.ReadFile(l.CurrentPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read CURRENT: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", lerrors.CorruptIndex("CURRENT pointer is empty", nil).
			WithDetail("path", l.CurrentPath())
	}
	return id, nil
}

// Stage creates a fresh staging directory for a build in progress. The
// builder writes every snapshot file into it, then hands it to Publish.
func (l Layout) Stage() (string, error) {
	if err := os.MkdirAll(l.SnapshotsDir(), 0o755); err != nil {
		return "", fmt.Errorf("create snapshots dir: %w", err)
	}
	dir, err := os.MkdirTemp(l.SnapshotsDir(), stagingPrefix)
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}

// Publish renames the staging directory to its final snapshot ID and
// flips CURRENT to it. The rename and the pointer write are each atomic;
// readers observe either the old snapshot or the new one, never a mix.
// If a snapshot with the same ID already exists the staging copy is
// discarded and CURRENT is pointed at the existing directory, so no-op
// rebuilds republish the same snapshot.
func (l Layout) Publish(stagingDir, id string) error {
	final := l.Dir(id)

	if _, err := os.Stat(final); err == nil {
		if err := os.RemoveAll(stagingDir); err != nil {
			return fmt.Errorf("discard duplicate staging dir: %w", err)
		}
	} else if os.IsNotExist(err) {
		if err := os.Rename(stagingDir, final); err != nil {
			return fmt.Errorf("promote staging dir: %w", err)
		}
	} else {
		return fmt.Errorf("stat snapshot dir: %w", err)
	}

	if err := renameio.WriteFile(l.CurrentPath(), []byte(id+"\n"), 0o644); err != nil {
		return fmt.Errorf("write CURRENT: %w", err)
	}
	return nil
}

// Discard removes an abandoned staging directory.
func (l Layout) Discard(stagingDir string) error {
	return os.RemoveAll(stagingDir)
}

// Prune removes snapshot directories other than the live one, keeping the
// most recent keep directories (by name-independent mod time). Staging
// leftovers from crashed builds are always removed. Returns the number of
// directories deleted.
func (l Layout) Prune(keep int) (int, error) {
	current, err := l.Current()
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(l.SnapshotsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read snapshots dir: %w", err)
	}

	type candidate struct {
		name    string
		modTime int64
	}
	var candidates []candidate
	removed := 0

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), stagingPrefix) {
			if err := os.RemoveAll(filepath.Join(l.SnapshotsDir(), e.Name())); err != nil {
				return removed, fmt.Errorf("remove stale staging dir: %w", err)
			}
			removed++
			continue
		}
		if e.Name() == current {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{e.Name(), info.ModTime().UnixNano()})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime > candidates[j].modTime
	})
	if keep < 0 {
		keep = 0
	}
	for _, c := range candidates[min(keep, len(candidates)):] {
		if err := os.RemoveAll(filepath.Join(l.SnapshotsDir(), c.name)); err != nil {
			return removed, fmt.Errorf("remove snapshot %s: %w", c.name, err)
		}
		removed++
	}
	return removed, nil
}

// Snapshot is an opened, read-only snapshot: the manifest plus the three
// stores, all loaded from one snapshot directory.
type Snapshot struct {
	ID       string
	Dir      string
	Manifest *manifest.Manifest
	Chunks   *store.ChunkStore
	Vectors  store.VectorStore
	Keywords *store.KeywordIndex
}

// Open loads the live snapshot. Returns an empty-index error when nothing
// has been published, and a corrupt-index error when the snapshot's
// components are missing or disagree with each other.
func Open(dataDir string) (*Snapshot, error) {
	l := Layout{DataDir: dataDir}

	id, err := l.Current()
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, lerrors.EmptyIndex()
	}
	return OpenID(dataDir, id)
}

// OpenID loads a specific snapshot by ID.
func OpenID(dataDir, id string) (*Snapshot, error) {
	l := Layout{DataDir: dataDir}
	dir := l.Dir(id)

	if _, err := os.Stat(dir); err != nil {
		return nil, lerrors.CorruptIndex("CURRENT points at a missing snapshot", err).
			WithDetail("snapshot", id)
	}

	m, err := manifest.Load(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}

	chunks, err := store.OpenChunkStore(filepath.Join(dir, ChunksFile))
	if err != nil {
		return nil, err
	}

	vectors, err := openVectors(dir, m)
	if err != nil {
		chunks.Close()
		return nil, err
	}

	keywords, err := store.OpenKeywordIndex(filepath.Join(dir, KeywordsDir))
	if err != nil {
		chunks.Close()
		vectors.Close()
		return nil, err
	}

	s := &Snapshot{
		ID:       id,
		Dir:      dir,
		Manifest: m,
		Chunks:   chunks,
		Vectors:  vectors,
		Keywords: keywords,
	}
	if err := s.verify(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// openVectors opens whichever vector backend the snapshot was built with,
// detected by file presence.
func openVectors(dir string, m *manifest.Manifest) (store.VectorStore, error) {
	flatPath := filepath.Join(dir, VectorsFlat)
	hnswPath := filepath.Join(dir, VectorsHNSW)

	cfg := store.DefaultVectorStoreConfig(0)
	if _, err := os.Stat(flatPath); err == nil {
		s := store.NewFlatStore(cfg)
		if err := s.Load(flatPath); err != nil {
			return nil, err
		}
		return s, nil
	}
	if _, err := os.Stat(hnswPath); err == nil {
		s, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(1))
		if err != nil {
			return nil, err
		}
		if err := s.Load(hnswPath); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}
	return nil, lerrors.CorruptIndex("snapshot has no vector store file", nil).
		WithDetail("dir", dir)
}

// verify cross-checks the components: every manifest chunk must exist in
// both the vector store and the chunk database. The components of a
// snapshot are written together; any disagreement means the directory was
// tampered with or torn.
func (s *Snapshot) verify() error {
	want := s.Manifest.ChunkCount()
	if got := s.Vectors.Count(); got != want {
		return lerrors.CorruptIndex(
			fmt.Sprintf("vector count %d disagrees with manifest chunk count %d", got, want), nil).
			WithDetail("snapshot", s.ID)
	}
	return nil
}

// Close releases all component stores.
func (s *Snapshot) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{s.Keywords, s.Vectors, s.Chunks} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
