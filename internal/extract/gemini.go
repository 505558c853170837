package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/dvloznov/ops-copilot/internal/domain"
)

// GeminiStructurer converts raw invoice text into an InvoiceRecord using
// the Gemini API.
type GeminiStructurer struct {
	apiKey  string
	model   string
	timeout time.Duration
}

// NewGeminiStructurer creates a structurer for the given model. The key is
// resolved up front by the caller so a missing credential aborts the run
// before any document work starts. timeout bounds each model call; overrun
// is an adapter failure for that document only.
func NewGeminiStructurer(apiKey, model string, timeout time.Duration) *GeminiStructurer {
	return &GeminiStructurer{apiKey: apiKey, model: model, timeout: timeout}
}

// Structure sends the invoice text to the model and parses its JSON answer.
func (s *GeminiStructurer) Structure(ctx context.Context, text string) (*domain.InvoiceRecord, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      s.apiKey,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("Structure: create genai client: %w", err)
	}

	prompt :=
		"You are an expert Operations & Finance Analyst.\n" +
			"Extract the following data from the text below and return it strictly as a JSON object.\n\n" +
			"Required Fields:\n" +
			"- \"vendor_name\": string\n" +
			"- \"total_amount\": number\n" +
			"- \"currency\": string (e.g. \"USD\")\n" +
			"- \"date\": string, ISO format \"YYYY-MM-DD\", or null if not present\n" +
			"- \"category\": string (e.g. Software, Rent, Utilities, Labor)\n" +
			"- \"line_items\": array of objects with \"description\" (string) and \"price\" (number)\n" +
			"- \"cost_saving_insight\": string (a brief note on whether this looks like a duplicate or high-cost item)\n\n" +
			"Return ONLY valid raw JSON.\n" +
			"Do NOT wrap the response in code fences.\n" +
			"Do NOT use ```json or any Markdown.\n\n" +
			"Text to analyze:\n" + text

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, s.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("Structure: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("%w: empty response from model", ErrExtraction)
	}

	return RecordFromModelJSON(rawText)
}

// RecordFromModelJSON parses a model answer into an InvoiceRecord. The
// answer may be wrapped in Markdown fences or surrounded by commentary; the
// wrapper is stripped before parsing.
func RecordFromModelJSON(raw string) (*domain.InvoiceRecord, error) {
	clean := cleanModelJSON(raw)

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, fmt.Errorf("%w: unmarshal JSON: %v", ErrExtraction, err)
	}

	vendor, err := getStringField(parsed, "vendor_name", true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	amount, err := getAmountField(parsed, "total_amount")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	currency, err := getStringField(parsed, "currency", false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	date, err := getStringField(parsed, "date", false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	category, err := getStringField(parsed, "category", false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	insight, err := getStringField(parsed, "cost_saving_insight", false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	items, err := getLineItems(parsed, "line_items")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	return &domain.InvoiceRecord{
		VendorName:        vendor,
		TotalAmount:       amount,
		Currency:          currency,
		Date:              date,
		Category:          category,
		LineItems:         items,
		CostSavingInsight: insight,
	}, nil
}

// cleanModelJSON strips Markdown fences and surrounding commentary from a
// model answer, keeping the outermost JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// If there is still junk around the JSON object, keep only from the
	// first '{' to the last '}'.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
