package source

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// PDFToTextExtractor shells out to the poppler pdftotext binary.
// The binary is an external collaborator; anything it cannot read surfaces
// as an invalid source for that document only.
type PDFToTextExtractor struct {
	binary string
}

// NewPDFToTextExtractor creates a PDF extractor.
// An empty binary path defaults to "pdftotext" on PATH.
func NewPDFToTextExtractor(binary string) *PDFToTextExtractor {
	if binary == "" {
		binary = "pdftotext"
	}
	return &PDFToTextExtractor{binary: binary}
}

// Extract runs pdftotext with layout disabled, writing to stdout.
func (e *PDFToTextExtractor) Extract(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, e.binary, "-enc", "UTF-8", path, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s failed: %w (%s)", e.binary, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.String(), nil
}

// SupportedExtensions implements Extractor.
func (e *PDFToTextExtractor) SupportedExtensions() []string {
	return []string{".pdf"}
}
