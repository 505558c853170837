package ledger

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dvloznov/ops-copilot/internal/domain"
)

// ErrCorrupt indicates the ledger file exists but cannot be parsed. Callers
// abort the current run; the file is left for manual inspection.
var ErrCorrupt = errors.New("ledger file is corrupt")

// columns is the ledger header, source_file first.
var columns = []string{
	"source_file",
	"vendor_name",
	"total_amount",
	"currency",
	"date",
	"category",
	"line_items",
	"cost_saving_insight",
}

// Store is an append-only CSV ledger of invoice records. It is the system
// of record: rows are appended in batches and never rewritten in place.
type Store struct {
	path string
}

// NewStore creates a ledger store at path. The file is created lazily on
// the first append; a missing file reads as an empty ledger.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the ledger file location.
func (s *Store) Path() string {
	return s.path
}

// ReadAll parses the ledger and returns every record in file order. A
// missing file is an empty ledger, not an error. Cell-level problems
// (unparseable amounts, bad line_items JSON) are tolerated here; analysis
// decides what to exclude.
func (s *Store) ReadAll() ([]domain.InvoiceRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger %q: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	// Resolve column positions from the header so extra or reordered
	// columns written by older versions still read correctly.
	idx := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		idx[name] = i
	}

	cell := func(row []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	records := make([]domain.InvoiceRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := domain.InvoiceRecord{
			SourceFile:        cell(row, "source_file"),
			VendorName:        cell(row, "vendor_name"),
			TotalAmount:       cell(row, "total_amount"),
			Currency:          cell(row, "currency"),
			Date:              cell(row, "date"),
			Category:          cell(row, "category"),
			CostSavingInsight: cell(row, "cost_saving_insight"),
		}
		if raw := cell(row, "line_items"); raw != "" {
			// Undecodable line items are dropped from the in-memory view
			// only; the cell stays as written.
			_ = json.Unmarshal([]byte(raw), &rec.LineItems)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ProcessedFiles returns the set of source_file values already in the
// ledger. A missing or empty ledger yields an empty set.
func (s *Store) ProcessedFiles() (map[string]struct{}, error) {
	records, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	processed := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if rec.SourceFile != "" {
			processed[rec.SourceFile] = struct{}{}
		}
	}
	return processed, nil
}

// Append writes a batch of records in one operation. The header is written
// only when the file does not yet exist or is empty; otherwise rows are
// appended as-is.
func (s *Store) Append(records []domain.InvoiceRecord) error {
	if len(records) == 0 {
		return nil
	}

	writeHeader := true
	if info, err := os.Stat(s.path); err == nil && info.Size() > 0 {
		writeHeader = false
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger %q for append: %w", s.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(columns); err != nil {
			return fmt.Errorf("write ledger header: %w", err)
		}
	}
	for _, rec := range records {
		items := ""
		if len(rec.LineItems) > 0 {
			data, err := json.Marshal(rec.LineItems)
			if err != nil {
				return fmt.Errorf("encode line items for %q: %w", rec.SourceFile, err)
			}
			items = string(data)
		}
		row := []string{
			rec.SourceFile,
			rec.VendorName,
			rec.TotalAmount,
			rec.Currency,
			rec.Date,
			rec.Category,
			items,
			rec.CostSavingInsight,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write ledger row for %q: %w", rec.SourceFile, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush ledger append: %w", err)
	}
	return nil
}
