package extract

import (
	"context"
	"errors"

	"github.com/dvloznov/ops-copilot/internal/domain"
)

// ErrExtraction indicates the model's answer could not be turned into a
// record. Callers skip the document; nothing partial is staged.
var ErrExtraction = errors.New("model output could not be parsed into a record")

// TextExtractor turns a document on disk into plain text. An empty string
// means the document had no extractable text; that is not an error.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// Structurer turns raw invoice text into a structured record. Errors wrap
// ErrExtraction when the model answered but the answer was unusable.
type Structurer interface {
	Structure(ctx context.Context, text string) (*domain.InvoiceRecord, error)
}
