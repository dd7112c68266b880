// Package source discovers corpus documents and extracts their text.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultExtensions are the file extensions scanned by default.
var DefaultExtensions = []string{".pdf", ".txt", ".md", ".markdown"}

// Info describes one physical document in the corpus.
type Info struct {
	// ID is the source identifier: path relative to the corpus root,
	// with forward slashes on every platform.
	ID string

	// AbsPath is the absolute filesystem path.
	AbsPath string

	// Size is the file size in bytes.
	Size int64

	// ModTime is the file's last modification time.
	ModTime time.Time

	// ContentHash is the SHA-256 of the raw file content, hex encoded.
	ContentHash string
}

// Scanner enumerates corpus documents.
type Scanner struct {
	root       string
	extensions map[string]struct{}
}

// NewScanner creates a scanner over the given corpus root.
// If extensions is empty, DefaultExtensions apply.
func NewScanner(root string, extensions []string) *Scanner {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	set := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		set[strings.ToLower(ext)] = struct{}{}
	}
	return &Scanner{root: root, extensions: set}
}

// Scan walks the corpus root and returns all matching documents, hashed and
// sorted by ID for deterministic processing order. Hidden directories
// (including the data dir) are skipped.
func (s *Scanner) Scan(ctx context.Context) ([]*Info, error) {
	var infos []*Info

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := s.extensions[ext]; !ok {
			return nil
		}

		info, err := s.stat(path, d)
		if err != nil {
			return err
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

func (s *Scanner) stat(path string, d fs.DirEntry) (*Info, error) {
	fi, err := d.Info()
	if err != nil {
		return nil, err
	}

	hash, err := hashFile(path)
	if err != nil {
		return nil, err
	}

	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return nil, err
	}

	return &Info{
		ID:          filepath.ToSlash(rel),
		AbsPath:     path,
		Size:        fi.Size(),
		ModTime:     fi.ModTime(),
		ContentHash: hash,
	}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
