package summary

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/ops-copilot/internal/anomaly"
	"github.com/dvloznov/ops-copilot/internal/config"
)

// unconfiguredPlaceholder is returned when no credential can be resolved.
const unconfiguredPlaceholder = "Could not generate AI summary because GEMINI_API_KEY is not configured."

// GeminiSummarizer asks Gemini for an executive narrative over the flagged
// anomaly set. It satisfies anomaly.Summarizer: every failure mode yields a
// placeholder string instead of an error.
type GeminiSummarizer struct {
	creds *config.Resolver
	model string
}

// NewGeminiSummarizer creates a summarizer; the credential is resolved per
// call so a key added mid-process is picked up on the next run.
func NewGeminiSummarizer(creds *config.Resolver, model string) *GeminiSummarizer {
	return &GeminiSummarizer{creds: creds, model: model}
}

// Summarize renders the anomalies into a prompt and returns the model's
// narrative, or a placeholder when the set is empty or the backend is
// unreachable.
func (s *GeminiSummarizer) Summarize(ctx context.Context, anomalies []anomaly.Anomaly) string {
	if len(anomalies) == 0 {
		return "No anomalies detected in the current dataset."
	}

	apiKey := s.creds.Resolve(config.CredentialName)
	if apiKey == "" {
		return unconfiguredPlaceholder
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return fmt.Sprintf("An error occurred while communicating with the AI model: %v", err)
	}

	prompt :=
		"You are an expert Chief Operating Officer (COO) reviewing a financial report.\n" +
			"The following items have been flagged as potential anomalies from our invoice processing system.\n" +
			"Please write a brief, professional summary explaining WHY these items are concerning and what the likely next steps should be " +
			"(e.g., \"investigate duplicate,\" \"inquire about price change\").\n\n" +
			"Flagged Anomalies:\n" + RenderTable(anomalies)

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
		return fmt.Sprintf("An error occurred while communicating with the AI model: %v", err)
	}
	return strings.TrimSpace(resp.Text())
}

// RenderTable renders anomalies as aligned plain-text rows for the prompt.
func RenderTable(anomalies []anomaly.Anomaly) string {
	var b strings.Builder
	b.WriteString("source_file | vendor_name | total_amount | date | anomaly_type | details\n")
	for _, a := range anomalies {
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s | %s\n",
			a.SourceFile, a.VendorName, a.TotalAmount, a.Date, a.AnomalyType, a.Details)
	}
	return b.String()
}
