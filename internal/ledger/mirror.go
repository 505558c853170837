package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/ops-copilot/internal/domain"
)

// InvoiceRow is the warehouse schema for a mirrored ledger record.
type InvoiceRow struct {
	SourceFile        string            `bigquery:"source_file"`
	VendorName        string            `bigquery:"vendor_name"`
	TotalAmount       string            `bigquery:"total_amount"`
	Currency          string            `bigquery:"currency"`
	Date              bigquery.NullDate `bigquery:"invoice_date"`
	Category          string            `bigquery:"category"`
	LineItems         bigquery.NullJSON `bigquery:"line_items"`
	CostSavingInsight string            `bigquery:"cost_saving_insight"`
	IngestedTS        time.Time         `bigquery:"ingested_ts"`
}

// Mirror streams appended ledger batches into a BigQuery table. The CSV
// ledger stays the system of record; a mirror failure is reported but must
// not fail the batch that produced it.
type Mirror struct {
	projectID string
	dataset   string
	table     string
}

// NewMirror creates a mirror targeting projectID.dataset.table.
func NewMirror(projectID, dataset, table string) *Mirror {
	return &Mirror{projectID: projectID, dataset: dataset, table: table}
}

// MirrorBatch inserts one appended batch into the warehouse table.
func (m *Mirror) MirrorBatch(ctx context.Context, records []domain.InvoiceRecord) error {
	if len(records) == 0 {
		return nil
	}

	client, err := bigquery.NewClient(ctx, m.projectID)
	if err != nil {
		return fmt.Errorf("MirrorBatch: bigquery client: %w", err)
	}
	defer client.Close()

	now := time.Now()
	rows := make([]*InvoiceRow, 0, len(records))
	for _, rec := range records {
		row := &InvoiceRow{
			SourceFile:        rec.SourceFile,
			VendorName:        rec.VendorName,
			TotalAmount:       rec.TotalAmount,
			Currency:          rec.Currency,
			Category:          rec.Category,
			CostSavingInsight: rec.CostSavingInsight,
			IngestedTS:        now,
		}
		if parsed, ok := domain.ParseDate(rec.Date); ok {
			row.Date = bigquery.NullDate{Date: civil.DateOf(parsed), Valid: true}
		}
		if len(rec.LineItems) > 0 {
			data, err := json.Marshal(rec.LineItems)
			if err == nil {
				var v interface{}
				if json.Unmarshal(data, &v) == nil {
					row.LineItems = bigquery.NullJSON{JSONVal: string(data), Valid: true}
				}
			}
		}
		rows = append(rows, row)
	}

	inserter := client.Dataset(m.dataset).Table(m.table).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("MirrorBatch: inserting %d rows: %w", len(rows), err)
	}
	return nil
}
