// Package manifest tracks what each published snapshot was built from.
// The manifest records, per source document, the content hash and model
// version used at build time; incremental rebuilds compare against it to
// decide which sources are stale.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	lerrors "github.com/lorekeep/lorebase/internal/errors"
)

// FileName is the manifest file inside each snapshot directory.
const FileName = "manifest.json"

// Entry records one source document's contribution to a snapshot.
type Entry struct {
	SourceID     string    `json:"source_id"`
	ContentHash  string    `json:"content_hash"`
	ChunkCount   int       `json:"chunk_count"`
	ModelVersion string    `json:"model_version"`
	BuiltAt      time.Time `json:"built_at"`
}

// Manifest is the full build record of a snapshot.
type Manifest struct {
	ModelVersion string            `json:"model_version"`
	CreatedAt    time.Time         `json:"created_at"`
	Entries      map[string]*Entry `json:"entries"`
}

// New creates an empty manifest for the given embedding model version.
func New(modelVersion string) *Manifest {
	return &Manifest{
		ModelVersion: modelVersion,
		CreatedAt:    time.Now().UTC(),
		Entries:      make(map[string]*Entry),
	}
}

// Clone returns a deep copy, used to carry the previous snapshot's
// entries forward into an incremental build.
func (m *Manifest) Clone() *Manifest {
	out := &Manifest{
		ModelVersion: m.ModelVersion,
		CreatedAt:    m.CreatedAt,
		Entries:      make(map[string]*Entry, len(m.Entries)),
	}
	for id, e := range m.Entries {
		copied := *e
		out.Entries[id] = &copied
	}
	return out
}

// Lookup returns the entry for a source, or nil if never indexed.
func (m *Manifest) Lookup(sourceID string) *Entry {
	return m.Entries[sourceID]
}

// NeedsRebuild reports whether a source must be re-chunked and
// re-embedded: it is new, its content changed, or it was embedded with a
// different model version.
func (m *Manifest) NeedsRebuild(sourceID, contentHash, modelVersion string) bool {
	e := m.Entries[sourceID]
	if e == nil {
		return true
	}
	return e.ContentHash != contentHash || e.ModelVersion != modelVersion
}

// Record stores an entry after its source's chunks and vectors have been
// durably written. Write order matters: a crash between data and manifest
// must leave the source looking stale, never the other way around.
func (m *Manifest) Record(e *Entry) {
	if e.BuiltAt.IsZero() {
		e.BuiltAt = time.Now().UTC()
	}
	m.Entries[e.SourceID] = e
}

// Remove drops a source that no longer exists in the corpus.
func (m *Manifest) Remove(sourceID string) {
	delete(m.Entries, sourceID)
}

// SourceIDs returns the tracked source IDs, sorted.
func (m *Manifest) SourceIDs() []string {
	ids := make([]string, 0, len(m.Entries))
	for id := range m.Entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SortedEntries returns the entries ordered by source ID.
func (m *Manifest) SortedEntries() []*Entry {
	entries := make([]*Entry, 0, len(m.Entries))
	for _, id := range m.SourceIDs() {
		entries = append(entries, m.Entries[id])
	}
	return entries
}

// ChunkCount returns the total chunks across all sources.
func (m *Manifest) ChunkCount() int {
	total := 0
	for _, e := range m.Entries {
		total += e.ChunkCount
	}
	return total
}

// Fingerprint derives a stable identifier from the manifest's content:
// the sorted (source, hash, chunk count) triples plus the model version.
// Two builds over identical inputs with the same model produce the same
// fingerprint, so a no-op rebuild republishes the same snapshot ID.
// Timestamps deliberately do not participate.
func (m *Manifest) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "model:%s\n", m.ModelVersion)
	for _, e := range m.SortedEntries() {
		fmt.Fprintf(h, "%s\x00%s\x00%d\x00%s\n", e.SourceID, e.ContentHash, e.ChunkCount, e.ModelVersion)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Save writes the manifest as JSON with a temp-file write and rename.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(struct {
		ModelVersion string    `json:"model_version"`
		CreatedAt    time.Time `json:"created_at"`
		Entries      []*Entry  `json:"entries"`
	}{
		ModelVersion: m.ModelVersion,
		CreatedAt:    m.CreatedAt,
		Entries:      m.SortedEntries(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}

// Load reads a manifest written by Save. An unreadable or malformed file
// is reported as a corrupt index.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, lerrors.CorruptIndex("snapshot has no manifest", err).
				WithDetail("path", path)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var raw struct {
		ModelVersion string    `json:"model_version"`
		CreatedAt    time.Time `json:"created_at"`
		Entries      []*Entry  `json:"entries"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, lerrors.CorruptIndex("manifest is not valid JSON", err).
			WithDetail("path", path)
	}

	m := &Manifest{
		ModelVersion: raw.ModelVersion,
		CreatedAt:    raw.CreatedAt,
		Entries:      make(map[string]*Entry, len(raw.Entries)),
	}
	for _, e := range raw.Entries {
		if e.SourceID == "" {
			return nil, lerrors.CorruptIndex("manifest entry missing source id", nil).
				WithDetail("path", path)
		}
		m.Entries[e.SourceID] = e
	}
	return m, nil
}
