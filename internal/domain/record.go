package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is one billed line on an invoice.
type LineItem struct {
	Description string  `json:"description"`
	Price       float64 `json:"price"`
}

// InvoiceRecord represents one extracted invoice as it is stored in the
// ledger. TotalAmount and Date are kept as the raw strings produced by the
// extraction model; analysis coerces them and excludes rows it cannot, but
// the ledger row itself is never touched.
type InvoiceRecord struct {
	SourceFile        string     `json:"source_file"`
	VendorName        string     `json:"vendor_name"`
	TotalAmount       string     `json:"total_amount"`
	Currency          string     `json:"currency"`
	Date              string     `json:"date"` // "YYYY-MM-DD" or empty
	Category          string     `json:"category"`
	LineItems         []LineItem `json:"line_items"`
	CostSavingInsight string     `json:"cost_saving_insight"`
}

// CoerceAmount converts a raw ledger amount into a decimal value. It
// tolerates currency symbols, thousands separators and surrounding
// whitespace; anything else fails coercion.
func CoerceAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimLeft(s, "$£€")
	s = strings.ReplaceAll(s, ",", "")
	return decimal.NewFromString(s)
}

// ParseDate parses a ledger date cell. The second return is false when the
// cell is empty or unparseable; such rows keep their original relative
// order during date sorting.
func ParseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
