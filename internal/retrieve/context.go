package retrieve

import (
	"fmt"
	"strings"
)

// passageSeparator divides passages in a rendered context block.
const passageSeparator = "\n\n---\n\n"

// FormatContext renders passages into a prompt-ready context block. Each
// passage is prefixed with its source attribution. Passages that would
// push the block past maxChars are dropped whole; the first passage is
// always included. maxChars <= 0 means unbounded.
func FormatContext(passages []Passage, maxChars int) string {
	if len(passages) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, p := range passages {
		block := fmt.Sprintf("[%s #%d]\n%s", p.SourceID, p.Seq, strings.TrimSpace(p.Text))
		next := len(block)
		if i > 0 {
			next += len(passageSeparator)
		}
		if maxChars > 0 && i > 0 && sb.Len()+next > maxChars {
			break
		}
		if i > 0 {
			sb.WriteString(passageSeparator)
		}
		sb.WriteString(block)
	}
	return sb.String()
}
