package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/dvloznov/ops-copilot/internal/domain"
	"github.com/dvloznov/ops-copilot/internal/ledger"
	"github.com/dvloznov/ops-copilot/internal/logger"
)

// mockExtractor is a TextExtractor with a function field for testing.
type mockExtractor struct {
	ExtractTextFunc func(ctx context.Context, path string) (string, error)
}

func (m *mockExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	if m.ExtractTextFunc != nil {
		return m.ExtractTextFunc(ctx, path)
	}
	return "INVOICE Acme 100.00", nil
}

// mockStructurer is a Structurer with a function field for testing.
type mockStructurer struct {
	StructureFunc func(ctx context.Context, text string) (*domain.InvoiceRecord, error)
}

func (m *mockStructurer) Structure(ctx context.Context, text string) (*domain.InvoiceRecord, error) {
	if m.StructureFunc != nil {
		return m.StructureFunc(ctx, text)
	}
	return &domain.InvoiceRecord{VendorName: "Acme", TotalAmount: "100.00", Currency: "USD"}, nil
}

type staticCreds string

func (c staticCreds) Resolve(name string) string {
	return string(c)
}

func newTestEngine(t *testing.T, store *ledger.Store, ex *mockExtractor, st *mockStructurer, key string) *Engine {
	t.Helper()
	return NewEngine(store, ex, st, staticCreds(key), nil, logger.NewWithWriter(io.Discard))
}

func docsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("%PDF-1.4"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestIngest_MissingCredential(t *testing.T) {
	store := ledger.NewStore(filepath.Join(t.TempDir(), "ledger.csv"))
	dir := docsDir(t, "a.pdf")

	e := newTestEngine(t, store, &mockExtractor{}, &mockStructurer{}, "")
	res, err := e.Ingest(context.Background(), dir)
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if res.Appended != 0 {
		t.Errorf("appended %d records without a credential", res.Appended)
	}

	records, err := store.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("ledger must stay untouched, has %d records", len(records))
	}
}

func TestIngest_AppendsNewDocuments(t *testing.T) {
	store := ledger.NewStore(filepath.Join(t.TempDir(), "ledger.csv"))
	dir := docsDir(t, "b.pdf", "a.pdf")

	st := &mockStructurer{
		StructureFunc: func(ctx context.Context, text string) (*domain.InvoiceRecord, error) {
			return &domain.InvoiceRecord{VendorName: "Acme", TotalAmount: "100.00"}, nil
		},
	}
	e := newTestEngine(t, store, &mockExtractor{}, st, "test-key")

	res, err := e.Ingest(context.Background(), dir)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Appended != 2 || res.Failed != 0 {
		t.Errorf("result = %+v, want 2 appended", res)
	}

	records, err := store.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("ledger has %d records, want 2", len(records))
	}
	// Deterministic order, and each record stamped with its source file.
	if records[0].SourceFile != "a.pdf" || records[1].SourceFile != "b.pdf" {
		t.Errorf("source files = %q, %q", records[0].SourceFile, records[1].SourceFile)
	}
}

func TestIngest_SecondRunIsIdempotent(t *testing.T) {
	store := ledger.NewStore(filepath.Join(t.TempDir(), "ledger.csv"))
	dir := docsDir(t, "a.pdf", "b.pdf")

	calls := 0
	st := &mockStructurer{
		StructureFunc: func(ctx context.Context, text string) (*domain.InvoiceRecord, error) {
			calls++
			return &domain.InvoiceRecord{VendorName: "Acme", TotalAmount: "100.00"}, nil
		},
	}
	e := newTestEngine(t, store, &mockExtractor{}, st, "test-key")

	if _, err := e.Ingest(context.Background(), dir); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	res, err := e.Ingest(context.Background(), dir)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if res.Appended != 0 {
		t.Errorf("second run appended %d records, want 0", res.Appended)
	}
	if calls != 2 {
		t.Errorf("structurer called %d times, want 2 (once per document, first run only)", calls)
	}
}

func TestIngest_EmptyTextIsWarningNotFailure(t *testing.T) {
	store := ledger.NewStore(filepath.Join(t.TempDir(), "ledger.csv"))
	dir := docsDir(t, "scan.pdf", "text.pdf")

	ex := &mockExtractor{
		ExtractTextFunc: func(ctx context.Context, path string) (string, error) {
			if filepath.Base(path) == "scan.pdf" {
				return "   \n\t", nil
			}
			return "INVOICE", nil
		},
	}
	e := newTestEngine(t, store, ex, &mockStructurer{}, "test-key")

	res, err := e.Ingest(context.Background(), dir)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Skipped != 1 || res.Failed != 0 || res.Appended != 1 {
		t.Errorf("result = %+v, want 1 skipped, 0 failed, 1 appended", res)
	}
}

func TestIngest_OneFailureDoesNotAbortBatch(t *testing.T) {
	store := ledger.NewStore(filepath.Join(t.TempDir(), "ledger.csv"))
	dir := docsDir(t, "bad.pdf", "good.pdf", "worse.pdf")

	ex := &mockExtractor{
		ExtractTextFunc: func(ctx context.Context, path string) (string, error) {
			if filepath.Base(path) == "worse.pdf" {
				return "", errors.New("unreadable file")
			}
			return "INVOICE", nil
		},
	}
	st := &mockStructurer{
		StructureFunc: func(ctx context.Context, text string) (*domain.InvoiceRecord, error) {
			return nil, errors.New("model returned garbage")
		},
	}
	// bad.pdf and good.pdf reach the structurer and fail there; worse.pdf
	// fails at extraction. Nothing should be appended, nothing should abort.
	e := newTestEngine(t, store, ex, st, "test-key")

	res, err := e.Ingest(context.Background(), dir)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Failed != 3 || res.Appended != 0 {
		t.Errorf("result = %+v, want 3 failed, 0 appended", res)
	}
}

func TestIngest_PartialBatchSurvives(t *testing.T) {
	store := ledger.NewStore(filepath.Join(t.TempDir(), "ledger.csv"))
	dir := docsDir(t, "bad.pdf", "good.pdf")

	st := &mockStructurer{
		StructureFunc: func(ctx context.Context, text string) (*domain.InvoiceRecord, error) {
			if text == "bad" {
				return nil, errors.New("parse error")
			}
			return &domain.InvoiceRecord{VendorName: "Acme", TotalAmount: "10"}, nil
		},
	}
	ex := &mockExtractor{
		ExtractTextFunc: func(ctx context.Context, path string) (string, error) {
			if filepath.Base(path) == "bad.pdf" {
				return "bad", nil
			}
			return "good", nil
		},
	}
	e := newTestEngine(t, store, ex, st, "test-key")

	res, err := e.Ingest(context.Background(), dir)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Appended != 1 || res.Failed != 1 {
		t.Errorf("result = %+v, want 1 appended, 1 failed", res)
	}

	records, _ := store.ReadAll()
	if len(records) != 1 || records[0].SourceFile != "good.pdf" {
		t.Errorf("ledger records = %+v", records)
	}
}

func TestIngest_MissingDirectory(t *testing.T) {
	store := ledger.NewStore(filepath.Join(t.TempDir(), "ledger.csv"))
	e := newTestEngine(t, store, &mockExtractor{}, &mockStructurer{}, "test-key")

	_, err := e.Ingest(context.Background(), filepath.Join(t.TempDir(), "absent"))
	if err == nil {
		t.Error("expected directory-level error")
	}
}

func TestIngest_IgnoresNonPDFs(t *testing.T) {
	store := ledger.NewStore(filepath.Join(t.TempDir(), "ledger.csv"))
	dir := docsDir(t, "a.pdf")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "B.PDF"), []byte("%PDF"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := newTestEngine(t, store, &mockExtractor{}, &mockStructurer{}, "test-key")
	res, err := e.Ingest(context.Background(), dir)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	// .pdf matching is case-insensitive; .txt is ignored.
	if res.Appended != 2 {
		t.Errorf("appended = %d, want 2", res.Appended)
	}
}
