package source

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	lerrors "github.com/lorekeep/lorebase/internal/errors"
)

// minPageLength filters boilerplate-only pages, matching the corpus
// preprocessor's threshold for "too short to be content".
const minPageLength = 50

// Extractor turns a document file into plain text.
// PDF extraction is an external collaborator consumed through this
// narrow interface.
type Extractor interface {
	// Extract returns the document's plain text.
	Extract(ctx context.Context, path string) (string, error)

	// SupportedExtensions returns the extensions this extractor handles.
	SupportedExtensions() []string
}

// Registry routes files to extractors by extension.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry builds a registry from the given extractors.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	for _, e := range extractors {
		for _, ext := range e.SupportedExtensions() {
			r.byExt[strings.ToLower(ext)] = e
		}
	}
	return r
}

// DefaultRegistry returns a registry with the built-in extractors:
// plain text for .txt/.md and pdftotext for .pdf.
func DefaultRegistry() *Registry {
	return NewRegistry(NewTextExtractor(), NewPDFToTextExtractor(""))
}

// Extract extracts and cleans text for the given source.
// Unknown extensions and unreadable or empty documents are invalid sources.
func (r *Registry) Extract(ctx context.Context, info *Info) (string, error) {
	ext := strings.ToLower(filepath.Ext(info.AbsPath))
	e, ok := r.byExt[ext]
	if !ok {
		return "", lerrors.InvalidSource(info.ID, "no extractor for extension "+ext)
	}

	raw, err := e.Extract(ctx, info.AbsPath)
	if err != nil {
		return "", lerrors.InvalidSource(info.ID, "extraction failed: "+err.Error())
	}

	text := CleanText(raw)
	if len(text) < minPageLength {
		return "", lerrors.InvalidSource(info.ID, "extracted text is empty or too short")
	}
	return text, nil
}

// TextExtractor reads plain text and markdown files as-is.
type TextExtractor struct{}

// NewTextExtractor creates a plain text extractor.
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Extract reads the whole file.
func (e *TextExtractor) Extract(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SupportedExtensions implements Extractor.
func (e *TextExtractor) SupportedExtensions() []string {
	return []string{".txt", ".md", ".markdown"}
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	pageNumRe    = regexp.MustCompile(`(?i)Page\s*\d+`)
	pageNumZhRe  = regexp.MustCompile(`第\s*\d+\s*页`)
)

// CleanText normalizes extracted text: collapses whitespace runs and strips
// the page header/footer patterns reference-manual PDFs carry.
func CleanText(text string) string {
	text = pageNumRe.ReplaceAllString(text, "")
	text = pageNumZhRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
