package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lorekeep/lorebase/internal/index"
	"github.com/lorekeep/lorebase/internal/retrieve"
)

func TestPrinter_BuildStats(t *testing.T) {
	var buf bytes.Buffer
	p := NewStyledPrinter(&buf, NoColorStyles())

	p.BuildStats(&index.Stats{
		SnapshotID:     "abc123",
		SourcesSeen:    3,
		SourcesRebuilt: 2,
		SourcesSkipped: 1,
		ChunksTotal:    17,
		Elapsed:        1234 * time.Millisecond,
		Failures: []index.SourceFailure{
			{SourceID: "bad.pdf", Err: errors.New("empty document")},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "abc123")
	assert.Contains(t, out, "3 seen, 2 rebuilt, 1 unchanged")
	assert.Contains(t, out, "17")
	assert.Contains(t, out, "bad.pdf")
	assert.Contains(t, out, "empty document")
}

func TestPrinter_Passages(t *testing.T) {
	var buf bytes.Buffer
	p := NewStyledPrinter(&buf, NoColorStyles())

	p.Passages([]retrieve.Passage{
		{SourceID: "spells.pdf", Seq: 2, Text: "Fireball detonates.", Score: 0.873},
		{SourceID: "towns.pdf", Seq: 0, Text: "Willowbrook brews mead.", Score: 0.501},
	})

	out := buf.String()
	assert.Contains(t, out, "1. spells.pdf #2")
	assert.Contains(t, out, "(score 0.873)")
	assert.Contains(t, out, "   Fireball detonates.")
	assert.Contains(t, out, "2. towns.pdf #0")
}

func TestPrinter_NoPassages(t *testing.T) {
	var buf bytes.Buffer
	p := NewStyledPrinter(&buf, NoColorStyles())

	p.Passages(nil)
	assert.Contains(t, buf.String(), "no matching passages")
}

func TestIsTerminal_NonFileWriter(t *testing.T) {
	assert.False(t, IsTerminal(&bytes.Buffer{}))
}
