package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ops-copilot/internal/config"
	"github.com/dvloznov/ops-copilot/internal/domain"
	"github.com/dvloznov/ops-copilot/internal/extract"
)

// ErrMissingCredential aborts a run before any document work: without the
// model credential nothing can be extracted, so nothing is appended.
var ErrMissingCredential = errors.New("GEMINI_API_KEY not found in secrets store or environment")

// CredentialSource resolves named secrets. *config.Resolver satisfies it.
type CredentialSource interface {
	Resolve(name string) string
}

// Ledger is the ingestion-side view of the ledger store.
type Ledger interface {
	ProcessedFiles() (map[string]struct{}, error)
	Append(records []domain.InvoiceRecord) error
}

// Mirror receives a copy of each appended batch. Optional.
type Mirror interface {
	MirrorBatch(ctx context.Context, records []domain.InvoiceRecord) error
}

// Result summarizes one ingestion run.
type Result struct {
	// Appended is the number of records written to the ledger.
	Appended int
	// Failed is the number of documents that errored and were skipped.
	Failed int
	// Skipped is the number of documents with no extractable text.
	Skipped int
}

// Engine scans a documents directory, processes documents not yet in the
// ledger, and appends the extracted records in one batch.
type Engine struct {
	ledger     Ledger
	extractor  extract.TextExtractor
	structurer extract.Structurer
	creds      CredentialSource
	mirror     Mirror
	log        zerolog.Logger
}

// NewEngine wires an ingestion engine. mirror may be nil.
func NewEngine(ledger Ledger, extractor extract.TextExtractor, structurer extract.Structurer, creds CredentialSource, mirror Mirror, log zerolog.Logger) *Engine {
	return &Engine{
		ledger:     ledger,
		extractor:  extractor,
		structurer: structurer,
		creds:      creds,
		mirror:     mirror,
		log:        log,
	}
}

// Ingest processes every new PDF in dir. One bad document never aborts the
// batch; directory-level and credential-level problems do.
func (e *Engine) Ingest(ctx context.Context, dir string) (Result, error) {
	if e.creds.Resolve(config.CredentialName) == "" {
		return Result{}, ErrMissingCredential
	}

	processed, err := e.ledger.ProcessedFiles()
	if err != nil {
		return Result{}, fmt.Errorf("reading processed files: %w", err)
	}
	e.log.Info().Int("processed", len(processed)).Msg("Loaded previously processed files")

	candidates, err := listPDFs(dir)
	if err != nil {
		return Result{}, fmt.Errorf("scanning %q: %w", dir, err)
	}

	var res Result
	var staged []domain.InvoiceRecord
	for _, name := range candidates {
		if _, done := processed[name]; done {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		path := filepath.Join(dir, name)
		e.log.Info().Str("file", name).Msg("Processing new file")

		rawText, err := e.extractor.ExtractText(ctx, path)
		if err != nil {
			res.Failed++
			e.log.Error().Err(err).Str("file", name).Msg("Text extraction failed")
			continue
		}
		if strings.TrimSpace(rawText) == "" {
			res.Skipped++
			e.log.Warn().Str("file", name).Msg("No extractable text; document may be image-only")
			continue
		}

		rec, err := e.structurer.Structure(ctx, rawText)
		if err != nil {
			res.Failed++
			e.log.Error().Err(err).Str("file", name).Msg("Structuring failed")
			continue
		}

		rec.SourceFile = name
		staged = append(staged, *rec)
	}

	if len(staged) > 0 {
		if err := e.ledger.Append(staged); err != nil {
			return res, fmt.Errorf("appending %d records: %w", len(staged), err)
		}
		res.Appended = len(staged)
		e.log.Info().Int("appended", res.Appended).Msg("Appended new records to ledger")

		if e.mirror != nil {
			// The CSV is the system of record; a mirror failure is only logged.
			if err := e.mirror.MirrorBatch(ctx, staged); err != nil {
				e.log.Warn().Err(err).Msg("Ledger mirror failed")
			}
		}
	} else {
		e.log.Info().Msg("No new invoice files to process")
	}

	return res, nil
}

// listPDFs returns the PDF filenames directly inside dir, sorted.
func listPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
