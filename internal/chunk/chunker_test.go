package chunk

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "github.com/lorekeep/lorebase/internal/errors"
)

func charConfig(size, overlap int) Config {
	return Config{MaxChunkSize: size, Overlap: overlap, Unit: SplitChar}
}

func TestSplit_TenThousandCharsProducesElevenChunks(t *testing.T) {
	text := strings.Repeat("a", 10000)

	chunks, err := Split("phb.pdf", text, charConfig(1000, 100))
	require.NoError(t, err)

	// 1000-char chunks advancing by 900: 0, 900, ..., 9000 -> 11 chunks.
	require.Len(t, chunks, 11)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 1000, chunks[0].End)
	assert.Equal(t, 9000, chunks[10].Start)
	assert.Equal(t, 10000, chunks[10].End)
}

func TestSplit_CoverageAndExactOverlap(t *testing.T) {
	text := strings.Repeat("abcdefghij", 537) // 5370 chars, not a round number

	chunks, err := Split("src", text, charConfig(1000, 100))
	require.NoError(t, err)

	// No gaps: each chunk starts at or before the previous end,
	// and the union covers [0, len).
	assert.Equal(t, 0, chunks[0].Start)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, 100, chunks[i-1].End-chunks[i].Start,
			"adjacent chunks must overlap by exactly the configured overlap")
	}
	assert.Equal(t, len([]rune(text)), chunks[len(chunks)-1].End)

	// Sequence indices are dense and ordered.
	for i, c := range chunks {
		assert.Equal(t, i, c.Seq)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 200)

	a, err := Split("src", text, charConfig(300, 50))
	require.NoError(t, err)
	b, err := Split("src", text, charConfig(300, 50))
	require.NoError(t, err)

	require.Equal(t, a, b)
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	chunks, err := Split("src", "short text", charConfig(1000, 100))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 10, chunks[0].End)
}

func TestSplit_EmptyTextIsInvalidSource(t *testing.T) {
	for _, text := range []string{"", "   \n\t  "} {
		_, err := Split("src", text, charConfig(1000, 100))
		require.Error(t, err)
		assert.True(t, lerrors.IsCode(err, lerrors.ErrCodeInvalidSource))
	}
}

func TestSplit_WordModeNeverSplitsWords(t *testing.T) {
	words := strings.Repeat("lorem ipsum dolor sit amet consectetur ", 100)

	chunks, err := Split("src", words, Config{MaxChunkSize: 120, Overlap: 20, Unit: SplitWord})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	runes := []rune(words)
	for _, c := range chunks {
		if c.Start > 0 {
			boundary := unicode.IsSpace(runes[c.Start-1]) || unicode.IsSpace(runes[c.Start])
			assert.True(t, boundary, "chunk %d starts mid-word at %d", c.Seq, c.Start)
		}
		if c.End < len(runes) {
			boundary := unicode.IsSpace(runes[c.End-1]) || unicode.IsSpace(runes[c.End])
			assert.True(t, boundary, "chunk %d ends mid-word at %d", c.Seq, c.End)
		}
	}

	// Coverage still holds in word mode.
	assert.Equal(t, 0, chunks[0].Start)
	for i := 1; i < len(chunks); i++ {
		assert.LessOrEqual(t, chunks[i].Start, chunks[i-1].End, "gap between chunks %d and %d", i-1, i)
	}
	assert.Equal(t, len(runes), chunks[len(chunks)-1].End)
}

func TestSplit_WordModeSingleGiantWordStillProgresses(t *testing.T) {
	text := strings.Repeat("x", 500) // one word longer than the chunk size

	chunks, err := Split("src", text, Config{MaxChunkSize: 100, Overlap: 10, Unit: SplitWord})
	require.NoError(t, err)
	assert.Equal(t, 500, chunks[len(chunks)-1].End)
}

func TestSplit_UnicodeOffsetsAreRuneBased(t *testing.T) {
	text := strings.Repeat("火球术的伤害掷骰为八颗六面骰。", 50) // 15 runes per sentence

	chunks, err := Split("src", text, charConfig(100, 10))
	require.NoError(t, err)

	total := []rune(text)
	for _, c := range chunks {
		assert.Equal(t, string(total[c.Start:c.End]), c.Text)
	}
}

func TestChunkID_OrderMatchesSequence(t *testing.T) {
	a := ChunkID("phb.pdf", 3)
	b := ChunkID("phb.pdf", 12)
	assert.Equal(t, "phb.pdf#00003", a)
	assert.Less(t, a, b, "zero padding must keep lexicographic order")
}

func TestSplit_HashIsContentHash(t *testing.T) {
	chunks, err := Split("src", "same text here", charConfig(1000, 0))
	require.NoError(t, err)
	other, err := Split("other", "same text here", charConfig(1000, 0))
	require.NoError(t, err)
	assert.Equal(t, chunks[0].Hash, other[0].Hash)
}
