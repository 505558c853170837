package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/ops-copilot/internal/domain"
)

// LedgerXLSX renders ledger records into an XLSX workbook for reviewer
// hand-off. One row per record; line items are flattened into a single
// readable cell.
func LedgerXLSX(records []domain.InvoiceRecord) ([]byte, error) {
	f := excelize.NewFile()
	const sheet = "Ledger"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	// Drop the default sheet so the workbook opens on the ledger.
	if idx, _ := f.GetSheetIndex("Sheet1"); idx != -1 {
		_ = f.DeleteSheet("Sheet1")
	}

	headers := []string{
		"Source File",
		"Vendor",
		"Total Amount",
		"Currency",
		"Date",
		"Category",
		"Line Items",
		"Cost Saving Insight",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
	}

	row := 2
	for _, rec := range records {
		values := []interface{}{
			rec.SourceFile,
			rec.VendorName,
			rec.TotalAmount,
			rec.Currency,
			rec.Date,
			rec.Category,
			flattenLineItems(rec.LineItems),
			rec.CostSavingInsight,
		}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
		row++
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func flattenLineItems(items []domain.LineItem) string {
	if len(items) == 0 {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%s (%.2f)", item.Description, item.Price))
	}
	return strings.Join(parts, "; ")
}
