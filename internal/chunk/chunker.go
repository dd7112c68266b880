// Package chunk splits extracted document text into overlapping passages.
//
// Splitting is deterministic: the same text and configuration always produce
// the same chunk sequence. This is what makes re-indexing idempotent and
// snapshot identifiers reproducible.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"unicode"

	lerrors "github.com/lorekeep/lorebase/internal/errors"
)

// SplitUnit is the smallest addressable unit a chunk boundary may not split.
type SplitUnit string

const (
	// SplitChar allows boundaries at any rune.
	SplitChar SplitUnit = "char"
	// SplitWord keeps boundaries off the middle of words.
	SplitWord SplitUnit = "word"
)

// Config controls chunking behavior.
type Config struct {
	// MaxChunkSize is the maximum chunk length in runes.
	MaxChunkSize int

	// Overlap is the number of runes adjacent chunks share.
	// Must be smaller than MaxChunkSize.
	Overlap int

	// Unit is the smallest addressable unit (char or word).
	Unit SplitUnit
}

// DefaultConfig returns the default chunking configuration.
func DefaultConfig() Config {
	return Config{MaxChunkSize: 1000, Overlap: 100, Unit: SplitChar}
}

// Chunk is a contiguous span of text from one source document.
type Chunk struct {
	// SourceID identifies the parent document.
	SourceID string

	// Seq is the 0-based position of the chunk within its source.
	Seq int

	// Start and End are rune offsets into the source text.
	// The chunk covers [Start, End).
	Start int
	End   int

	// Text is the raw passage text.
	Text string

	// Hash is the SHA-256 of Text, hex encoded.
	Hash string
}

// ID returns the chunk's stable identity: source plus zero-padded sequence.
// Lexicographic ID order equals (source, sequence) order, which the store
// relies on for deterministic tie-breaking.
func (c *Chunk) ID() string {
	return ChunkID(c.SourceID, c.Seq)
}

// ChunkID builds a chunk identifier from source ID and sequence index.
func ChunkID(sourceID string, seq int) string {
	return fmt.Sprintf("%s#%05d", sourceID, seq)
}

// Split divides text into an ordered sequence of chunks covering the whole
// text with no gaps. In char mode adjacent chunks overlap by exactly
// cfg.Overlap (the final chunk may be shorter); in word mode boundaries are
// moved off mid-word positions so the overlap is approximate but coverage
// still has no gaps.
//
// Empty or whitespace-only text is an invalid source.
func Split(sourceID, text string, cfg Config) ([]Chunk, error) {
	if cfg.MaxChunkSize <= 0 {
		return nil, fmt.Errorf("max chunk size must be positive, got %d", cfg.MaxChunkSize)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.MaxChunkSize {
		return nil, fmt.Errorf("overlap %d out of range for chunk size %d", cfg.Overlap, cfg.MaxChunkSize)
	}
	if cfg.Unit == "" {
		cfg.Unit = SplitChar
	}

	runes := []rune(text)
	if !hasContent(runes) {
		return nil, lerrors.InvalidSource(sourceID, "extracted text is empty")
	}

	var chunks []Chunk
	start := 0
	for seq := 0; ; seq++ {
		end := start + cfg.MaxChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else if cfg.Unit == SplitWord {
			end = snapEndToWordBoundary(runes, start, end)
		}

		chunks = append(chunks, makeChunk(sourceID, seq, start, end, runes))
		if end == len(runes) {
			break
		}

		next := end - cfg.Overlap
		if cfg.Unit == SplitWord {
			next = snapStartToWordBoundary(runes, next)
		}
		// Guarantee forward progress even for pathological inputs
		// (a single word longer than the chunk size).
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks, nil
}

func makeChunk(sourceID string, seq, start, end int, runes []rune) Chunk {
	text := string(runes[start:end])
	sum := sha256.Sum256([]byte(text))
	return Chunk{
		SourceID: sourceID,
		Seq:      seq,
		Start:    start,
		End:      end,
		Text:     text,
		Hash:     hex.EncodeToString(sum[:]),
	}
}

// snapEndToWordBoundary moves end left until it does not split a word.
// A boundary is valid when the rune on either side is whitespace.
// If the whole span is one word, the hard cut stands.
func snapEndToWordBoundary(runes []rune, start, end int) int {
	if unicode.IsSpace(runes[end]) || unicode.IsSpace(runes[end-1]) {
		return end
	}
	for i := end - 1; i > start; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return end
}

// snapStartToWordBoundary moves start left to the beginning of the word it
// lands in. Moving left only grows the overlap, so coverage keeps no gaps.
func snapStartToWordBoundary(runes []rune, start int) int {
	for start > 0 && !unicode.IsSpace(runes[start-1]) && !unicode.IsSpace(runes[start]) {
		start--
	}
	return start
}

func hasContent(runes []rune) bool {
	for _, r := range runes {
		if !unicode.IsSpace(r) {
			return true
		}
	}
	return false
}
