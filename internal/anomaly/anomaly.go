package anomaly

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/ops-copilot/internal/domain"
)

// TypeDuplicateBilling flags every member of a (vendor, amount) group of
// size two or more.
const TypeDuplicateBilling = "Potential Duplicate Billing"

// SpikeType renders the price-spike anomaly type for a threshold, e.g.
// "Price Spike (>20%)" for 0.20.
func SpikeType(threshold float64) string {
	return fmt.Sprintf("Price Spike (>%.0f%%)", threshold*100)
}

// Anomaly is an invoice record flagged by one of the detection passes.
type Anomaly struct {
	domain.InvoiceRecord
	AnomalyType string `json:"anomaly_type"`
	Details     string `json:"details,omitempty"`
}

// Summarizer produces a short executive narrative over the flagged set. It
// never fails: when the backend is unreachable or unconfigured it returns a
// placeholder string.
type Summarizer interface {
	Summarize(ctx context.Context, anomalies []Anomaly) string
}

// Ledger is the detection-side view of the ledger store.
type Ledger interface {
	ReadAll() ([]domain.InvoiceRecord, error)
}

// RunResult is the outcome of one detection run.
type RunResult struct {
	Anomalies []Anomaly
	Summary   string
}

// Engine reads the ledger, runs both detection passes, persists the report
// and emits the executive summary.
type Engine struct {
	ledger     Ledger
	summarizer Summarizer
	reportPath string
	threshold  float64
	log        zerolog.Logger
}

// NewEngine wires a detection engine with the given spike threshold
// (fractional, 0.20 = 20%).
func NewEngine(ledger Ledger, summarizer Summarizer, reportPath string, threshold float64, log zerolog.Logger) *Engine {
	return &Engine{
		ledger:     ledger,
		summarizer: summarizer,
		reportPath: reportPath,
		threshold:  threshold,
		log:        log,
	}
}

// cleanRow is an analysis-ready ledger row: amount coerced, date parsed.
type cleanRow struct {
	rec     domain.InvoiceRecord
	amount  decimal.Decimal
	date    int64 // unix seconds, only meaningful when dated
	dated   bool
	ordinal int // ledger position, preserves order for undated rows
}

// Detect recomputes the anomaly report from the current ledger snapshot.
// The prior report file is fully overwritten. Rows whose amount fails
// coercion or whose vendor is missing are excluded from analysis only.
func (e *Engine) Detect(ctx context.Context) (*RunResult, error) {
	records, err := e.ledger.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}

	rows := cleanRows(records)
	e.log.Info().Int("total", len(records)).Int("analyzable", len(rows)).Msg("Loaded ledger for detection")

	anomalies := append(e.detectDuplicates(rows), e.detectSpikes(rows)...)
	if len(anomalies) == 0 {
		e.log.Info().Msg("No financial anomalies detected")
	} else {
		e.log.Info().Int("anomalies", len(anomalies)).Msg("Flagged anomalies")
	}

	if err := WriteReport(e.reportPath, anomalies); err != nil {
		return nil, err
	}

	summary := e.summarizer.Summarize(ctx, anomalies)

	return &RunResult{Anomalies: anomalies, Summary: summary}, nil
}

// cleanRows coerces amounts and parses dates, dropping rows that cannot be
// analyzed. Ledger order is preserved.
func cleanRows(records []domain.InvoiceRecord) []cleanRow {
	rows := make([]cleanRow, 0, len(records))
	for i, rec := range records {
		if rec.VendorName == "" {
			continue
		}
		amount, err := domain.CoerceAmount(rec.TotalAmount)
		if err != nil {
			continue
		}
		row := cleanRow{rec: rec, amount: amount, ordinal: i}
		if t, ok := domain.ParseDate(rec.Date); ok {
			row.date = t.Unix()
			row.dated = true
		}
		rows = append(rows, row)
	}
	return rows
}

// detectDuplicates flags every row whose (vendor, amount) pair appears more
// than once. Membership in the group is the test; all members are flagged.
func (e *Engine) detectDuplicates(rows []cleanRow) []Anomaly {
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[duplicateKey(row)]++
	}

	var flagged []Anomaly
	for _, row := range rows {
		if counts[duplicateKey(row)] < 2 {
			continue
		}
		flagged = append(flagged, Anomaly{
			InvoiceRecord: row.rec,
			AnomalyType:   TypeDuplicateBilling,
		})
	}
	if len(flagged) > 0 {
		e.log.Info().Int("count", len(flagged)).Msg("Found potential duplicate billings")
	}
	return flagged
}

// duplicateKey groups by exact vendor and normalized amount, so "500" and
// "500.00" collide while "500.01" does not.
func duplicateKey(row cleanRow) string {
	return row.rec.VendorName + "\x00" + row.amount.String()
}

// detectSpikes compares, per vendor, the latest amount against the mean of
// all earlier ones. Only the latest record of a vendor can be flagged.
func (e *Engine) detectSpikes(rows []cleanRow) []Anomaly {
	byVendor := make(map[string][]cleanRow)
	var vendors []string
	for _, row := range rows {
		if _, seen := byVendor[row.rec.VendorName]; !seen {
			vendors = append(vendors, row.rec.VendorName)
		}
		byVendor[row.rec.VendorName] = append(byVendor[row.rec.VendorName], row)
	}
	sort.Strings(vendors)

	onePlus := decimal.NewFromFloat(1 + e.threshold)

	var flagged []Anomaly
	for _, vendor := range vendors {
		group := byVendor[vendor]
		if len(group) < 2 {
			continue
		}

		// Sort by date ascending; undated rows sort after dated ones and
		// keep their original relative order.
		sort.SliceStable(group, func(i, j int) bool {
			a, b := group[i], group[j]
			switch {
			case a.dated && b.dated:
				return a.date < b.date
			case a.dated:
				return true
			case b.dated:
				return false
			default:
				return a.ordinal < b.ordinal
			}
		})

		sum := decimal.Zero
		for _, row := range group[:len(group)-1] {
			sum = sum.Add(row.amount)
		}
		mean := sum.Div(decimal.NewFromInt(int64(len(group) - 1)))

		latest := group[len(group)-1]
		if latest.amount.GreaterThan(mean.Mul(onePlus)) {
			flagged = append(flagged, Anomaly{
				InvoiceRecord: latest.rec,
				AnomalyType:   SpikeType(e.threshold),
				Details: fmt.Sprintf("Amount %s vs. Avg %s",
					latest.amount.StringFixed(2), mean.StringFixed(2)),
			})
		}
	}
	if len(flagged) > 0 {
		e.log.Info().Int("count", len(flagged)).Msg("Found significant price spikes")
	}
	return flagged
}
