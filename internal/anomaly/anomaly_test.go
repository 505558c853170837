package anomaly

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dvloznov/ops-copilot/internal/domain"
	"github.com/dvloznov/ops-copilot/internal/logger"
)

// mockLedger is a Ledger with a function field for testing.
type mockLedger struct {
	ReadAllFunc func() ([]domain.InvoiceRecord, error)
}

func (m *mockLedger) ReadAll() ([]domain.InvoiceRecord, error) {
	return m.ReadAllFunc()
}

// stubSummarizer records the anomalies it was asked to summarize.
type stubSummarizer struct {
	got []Anomaly
}

func (s *stubSummarizer) Summarize(ctx context.Context, anomalies []Anomaly) string {
	s.got = anomalies
	if len(anomalies) == 0 {
		return "No anomalies detected."
	}
	return "summary"
}

func newTestEngine(t *testing.T, records []domain.InvoiceRecord, threshold float64) (*Engine, *stubSummarizer, string) {
	t.Helper()
	reportPath := filepath.Join(t.TempDir(), "anomalies_report.json")
	sum := &stubSummarizer{}
	ledger := &mockLedger{ReadAllFunc: func() ([]domain.InvoiceRecord, error) {
		return records, nil
	}}
	return NewEngine(ledger, sum, reportPath, threshold, logger.NewWithWriter(io.Discard)), sum, reportPath
}

func rec(source, vendor, amount, date string) domain.InvoiceRecord {
	return domain.InvoiceRecord{SourceFile: source, VendorName: vendor, TotalAmount: amount, Date: date}
}

func TestDetect_EmptyLedger(t *testing.T) {
	e, sum, reportPath := newTestEngine(t, nil, 0.20)

	res, err := e.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(res.Anomalies) != 0 {
		t.Errorf("expected empty report, got %d anomalies", len(res.Anomalies))
	}
	if sum.got == nil && res.Summary == "" {
		t.Error("summarizer must still run on an empty set")
	}

	// Even an empty run overwrites the report file.
	report, err := ReadReport(reportPath)
	if err != nil {
		t.Fatalf("ReadReport: %v", err)
	}
	if len(report) != 0 {
		t.Errorf("persisted report has %d entries, want 0", len(report))
	}
}

func TestDetect_DuplicateRule(t *testing.T) {
	// [(V,100),(V,100),(V,200)]: exactly the first two are flagged.
	records := []domain.InvoiceRecord{
		rec("a.pdf", "V", "100", "2024-01-01"),
		rec("b.pdf", "V", "100", "2024-01-02"),
		rec("c.pdf", "V", "200", "2024-01-03"),
	}
	e, _, _ := newTestEngine(t, records, 0.20)

	res, err := e.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	var dups []Anomaly
	for _, a := range res.Anomalies {
		if a.AnomalyType == TypeDuplicateBilling {
			dups = append(dups, a)
		}
	}
	if len(dups) != 2 {
		t.Fatalf("duplicate flags = %d, want 2", len(dups))
	}
	if dups[0].SourceFile != "a.pdf" || dups[1].SourceFile != "b.pdf" {
		t.Errorf("wrong rows flagged: %q, %q", dups[0].SourceFile, dups[1].SourceFile)
	}
}

func TestDetect_DuplicateAmountNormalization(t *testing.T) {
	// 500 and 500.00 are the same amount; 500.01 is not.
	records := []domain.InvoiceRecord{
		rec("a.pdf", "Acme", "500", ""),
		rec("b.pdf", "Acme", "500.00", ""),
		rec("c.pdf", "Acme", "500.01", ""),
	}
	e, _, _ := newTestEngine(t, records, 0.20)

	res, err := e.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	count := 0
	for _, a := range res.Anomalies {
		if a.AnomalyType == TypeDuplicateBilling {
			count++
			if a.SourceFile == "c.pdf" {
				t.Error("500.01 must not join the 500 group")
			}
		}
	}
	if count != 2 {
		t.Errorf("duplicate flags = %d, want 2", count)
	}
}

func TestDetect_SpikeRule(t *testing.T) {
	tests := []struct {
		name   string
		latest string
		want   bool
	}{
		{name: "121 exceeds 100*1.20", latest: "121", want: true},
		{name: "119 does not", latest: "119", want: false},
		{name: "120 is not strictly greater", latest: "120", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := []domain.InvoiceRecord{
				rec("a.pdf", "V", "100", "2024-01-01"),
				rec("b.pdf", "V", "100", "2024-01-02"),
				rec("c.pdf", "V", tt.latest, "2024-01-03"),
			}
			e, _, _ := newTestEngine(t, records, 0.20)

			res, err := e.Detect(context.Background())
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}

			var spikes []Anomaly
			for _, a := range res.Anomalies {
				if strings.HasPrefix(a.AnomalyType, "Price Spike") {
					spikes = append(spikes, a)
				}
			}
			if tt.want {
				if len(spikes) != 1 {
					t.Fatalf("spike flags = %d, want 1", len(spikes))
				}
				s := spikes[0]
				if s.SourceFile != "c.pdf" {
					t.Errorf("flagged %q, want the latest record", s.SourceFile)
				}
				if s.AnomalyType != "Price Spike (>20%)" {
					t.Errorf("anomaly type = %q", s.AnomalyType)
				}
				want := "Amount " + tt.latest + ".00 vs. Avg 100.00"
				if s.Details != want {
					t.Errorf("details = %q, want %q", s.Details, want)
				}
			} else if len(spikes) != 0 {
				t.Errorf("unexpected spike flags: %+v", spikes)
			}
		})
	}
}

func TestDetect_SpikeUsesDateOrderNotLedgerOrder(t *testing.T) {
	// The spike row is first in the ledger but latest by date.
	records := []domain.InvoiceRecord{
		rec("c.pdf", "V", "200", "2024-03-01"),
		rec("a.pdf", "V", "100", "2024-01-01"),
		rec("b.pdf", "V", "100", "2024-02-01"),
	}
	e, _, _ := newTestEngine(t, records, 0.20)

	res, err := e.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	found := false
	for _, a := range res.Anomalies {
		if strings.HasPrefix(a.AnomalyType, "Price Spike") {
			found = true
			if a.SourceFile != "c.pdf" {
				t.Errorf("flagged %q, want c.pdf (latest by date)", a.SourceFile)
			}
		}
	}
	if !found {
		t.Error("expected a spike flag")
	}
}

func TestDetect_UndatedRowsKeepLedgerOrderAfterDated(t *testing.T) {
	// b.pdf has no parseable date so it sorts after the dated rows and is
	// the vendor's latest record.
	records := []domain.InvoiceRecord{
		rec("a.pdf", "V", "100", "2024-01-01"),
		rec("b.pdf", "V", "150", "not-a-date"),
		rec("c.pdf", "V", "100", "2024-02-01"),
	}
	e, _, _ := newTestEngine(t, records, 0.20)

	res, err := e.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	for _, a := range res.Anomalies {
		if strings.HasPrefix(a.AnomalyType, "Price Spike") {
			if a.SourceFile != "b.pdf" {
				t.Errorf("flagged %q, want b.pdf (undated sorts last)", a.SourceFile)
			}
			return
		}
	}
	t.Error("expected a spike flag for the undated latest record")
}

func TestDetect_MultiVendorIsolation(t *testing.T) {
	// Vendor B's cheap history must not drag down vendor A's average.
	records := []domain.InvoiceRecord{
		rec("a1.pdf", "A", "1000", "2024-01-01"),
		rec("a2.pdf", "A", "1000", "2024-02-01"),
		rec("b1.pdf", "B", "10", "2024-01-01"),
		rec("b2.pdf", "B", "10", "2024-02-01"),
		rec("b3.pdf", "B", "13", "2024-03-01"),
	}
	e, _, _ := newTestEngine(t, records, 0.20)

	res, err := e.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	for _, a := range res.Anomalies {
		if strings.HasPrefix(a.AnomalyType, "Price Spike") {
			if a.VendorName != "B" {
				t.Errorf("spike flagged for vendor %q, want B only", a.VendorName)
			}
			if a.SourceFile != "b3.pdf" {
				t.Errorf("flagged %q, want b3.pdf", a.SourceFile)
			}
		}
	}
}

func TestDetect_ExcludesUnanalyzableRows(t *testing.T) {
	records := []domain.InvoiceRecord{
		rec("a.pdf", "Acme", "garbage", "2024-01-01"),
		rec("b.pdf", "", "100", "2024-01-02"),
		rec("c.pdf", "Acme", "100", "2024-01-03"),
	}
	e, _, _ := newTestEngine(t, records, 0.20)

	res, err := e.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(res.Anomalies) != 0 {
		t.Errorf("excluded rows leaked into analysis: %+v", res.Anomalies)
	}
}

func TestDetect_AcmeDuplicateScenario(t *testing.T) {
	// Two ledger rows, same vendor and amount, different source files:
	// both flagged, report contains exactly 2 entries.
	records := []domain.InvoiceRecord{
		rec("jan.pdf", "Acme", "500", "2024-01-01"),
		rec("feb.pdf", "Acme", "500", "2024-02-01"),
	}
	e, sum, reportPath := newTestEngine(t, records, 0.20)

	res, err := e.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(res.Anomalies) != 2 {
		t.Fatalf("report has %d entries, want 2", len(res.Anomalies))
	}
	for _, a := range res.Anomalies {
		if a.AnomalyType != TypeDuplicateBilling {
			t.Errorf("anomaly type = %q, want %q", a.AnomalyType, TypeDuplicateBilling)
		}
	}
	if len(sum.got) != 2 {
		t.Errorf("summarizer saw %d anomalies, want 2", len(sum.got))
	}

	persisted, err := ReadReport(reportPath)
	if err != nil {
		t.Fatalf("ReadReport: %v", err)
	}
	if len(persisted) != 2 {
		t.Errorf("persisted report has %d entries, want 2", len(persisted))
	}
}

func TestDetect_ReportOverwrittenWholesale(t *testing.T) {
	reportPath := filepath.Join(t.TempDir(), "anomalies_report.json")

	// Seed a stale report from a previous run.
	stale := []Anomaly{{InvoiceRecord: rec("old.pdf", "Old", "1", ""), AnomalyType: TypeDuplicateBilling}}
	if err := WriteReport(reportPath, stale); err != nil {
		t.Fatal(err)
	}

	ledger := &mockLedger{ReadAllFunc: func() ([]domain.InvoiceRecord, error) {
		return []domain.InvoiceRecord{rec("only.pdf", "Acme", "100", "")}, nil
	}}
	e := NewEngine(ledger, &stubSummarizer{}, reportPath, 0.20, logger.NewWithWriter(io.Discard))

	if _, err := e.Detect(context.Background()); err != nil {
		t.Fatalf("Detect: %v", err)
	}

	report, err := ReadReport(reportPath)
	if err != nil {
		t.Fatalf("ReadReport: %v", err)
	}
	if len(report) != 0 {
		t.Errorf("stale entries survived the overwrite: %+v", report)
	}
}

func TestDetect_LedgerErrorAbortsRun(t *testing.T) {
	reportPath := filepath.Join(t.TempDir(), "anomalies_report.json")
	ledger := &mockLedger{ReadAllFunc: func() ([]domain.InvoiceRecord, error) {
		return nil, os.ErrPermission
	}}
	e := NewEngine(ledger, &stubSummarizer{}, reportPath, 0.20, logger.NewWithWriter(io.Discard))

	if _, err := e.Detect(context.Background()); err == nil {
		t.Error("expected ledger error to surface")
	}
	if _, err := os.Stat(reportPath); !os.IsNotExist(err) {
		t.Error("report must not be written when the ledger is unreadable")
	}
}

func TestDetect_RecordCanAppearInBothPasses(t *testing.T) {
	// The latest record duplicates an earlier amount pattern AND spikes:
	// no deduplication is performed between the two categories.
	records := []domain.InvoiceRecord{
		rec("a.pdf", "V", "100", "2024-01-01"),
		rec("b.pdf", "V", "200", "2024-02-01"),
		rec("c.pdf", "V", "200", "2024-03-01"),
	}
	e, _, _ := newTestEngine(t, records, 0.20)

	res, err := e.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	var dupC, spikeC bool
	for _, a := range res.Anomalies {
		if a.SourceFile == "c.pdf" {
			if a.AnomalyType == TypeDuplicateBilling {
				dupC = true
			}
			if strings.HasPrefix(a.AnomalyType, "Price Spike") {
				spikeC = true
			}
		}
	}
	// mean of [100,200] = 150; 200 > 180, so c.pdf spikes and duplicates.
	if !dupC || !spikeC {
		t.Errorf("expected c.pdf in both passes, got dup=%v spike=%v (%+v)", dupC, spikeC, res.Anomalies)
	}
}

func TestSpikeType(t *testing.T) {
	if got := SpikeType(0.20); got != "Price Spike (>20%)" {
		t.Errorf("SpikeType(0.20) = %q", got)
	}
	if got := SpikeType(0.5); got != "Price Spike (>50%)" {
		t.Errorf("SpikeType(0.5) = %q", got)
	}
}
