package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lorekeep/lorebase/internal/index"
	"github.com/lorekeep/lorebase/internal/retrieve"
)

// Printer writes command output, styled or plain.
type Printer struct {
	out    io.Writer
	styles Styles
}

// NewPrinter creates a printer. Color is enabled only when the writer is
// a terminal and noColor is false.
func NewPrinter(out io.Writer, noColor bool) *Printer {
	styles := NoColorStyles()
	if !noColor && IsTerminal(out) {
		styles = DefaultStyles()
	}
	return &Printer{out: out, styles: styles}
}

// NewStyledPrinter creates a printer with forced styling, used in tests.
func NewStyledPrinter(out io.Writer, styles Styles) *Printer {
	return &Printer{out: out, styles: styles}
}

func (p *Printer) Printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

func (p *Printer) Successf(format string, args ...any) {
	fmt.Fprintln(p.out, p.styles.Success.Render(fmt.Sprintf(format, args...)))
}

func (p *Printer) Warnf(format string, args ...any) {
	fmt.Fprintln(p.out, p.styles.Warning.Render(fmt.Sprintf(format, args...)))
}

func (p *Printer) Errorf(format string, args ...any) {
	fmt.Fprintln(p.out, p.styles.Error.Render(fmt.Sprintf(format, args...)))
}

// BuildStats renders the outcome of an index build.
func (p *Printer) BuildStats(stats *index.Stats) {
	fmt.Fprintln(p.out, p.styles.Header.Render("Index build complete"))
	fmt.Fprintf(p.out, "  %s %s\n", p.styles.Label.Render("snapshot:"), stats.SnapshotID)
	fmt.Fprintf(p.out, "  %s %d seen, %d rebuilt, %d unchanged, %d removed\n",
		p.styles.Label.Render("sources:"),
		stats.SourcesSeen, stats.SourcesRebuilt, stats.SourcesSkipped, stats.SourcesRemoved)
	fmt.Fprintf(p.out, "  %s %d\n", p.styles.Label.Render("chunks:"), stats.ChunksTotal)
	fmt.Fprintf(p.out, "  %s %s\n", p.styles.Label.Render("elapsed:"), stats.Elapsed.Round(10*time.Millisecond))

	if len(stats.Failures) > 0 {
		p.Warnf("%d source(s) failed:", len(stats.Failures))
		for _, f := range stats.Failures {
			fmt.Fprintf(p.out, "  %s %s: %v\n", p.styles.Error.Render("✗"), f.SourceID, f.Err)
		}
	}
}

// Passages renders query results with source attribution.
func (p *Printer) Passages(passages []retrieve.Passage) {
	if len(passages) == 0 {
		fmt.Fprintln(p.out, p.styles.Dim.Render("no matching passages"))
		return
	}
	for i, pass := range passages {
		header := fmt.Sprintf("%d. %s #%d", i+1,
			p.styles.Source.Render(pass.SourceID), pass.Seq)
		score := p.styles.Score.Render(fmt.Sprintf("(score %.3f)", pass.Score))
		fmt.Fprintf(p.out, "%s %s\n", header, score)
		fmt.Fprintln(p.out, indent(strings.TrimSpace(pass.Text), "   "))
		if i < len(passages)-1 {
			fmt.Fprintln(p.out, p.styles.Dim.Render("   ·"))
		}
	}
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
