package extract

import (
	"context"
	"fmt"
	"os"
)

// PDFTextExtractor extracts text by shelling out to pdftotext. Image-only
// PDFs come back empty; the caller treats that as "no extractable text".
type PDFTextExtractor struct {
	bin    string
	runner Runner
}

// NewPDFTextExtractor creates an extractor using bin (usually "pdftotext").
func NewPDFTextExtractor(bin string, runner Runner) *PDFTextExtractor {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &PDFTextExtractor{bin: bin, runner: runner}
}

// ExtractText runs pdftotext over path and returns the text of all pages.
// An unreadable file is an error; unreadable pages just yield less text.
func (e *PDFTextExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("stat %q: %w", path, err)
	}

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.bin, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext %q: %w: %s", path, err, string(errb))
	}
	return string(out), nil
}
