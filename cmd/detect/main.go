package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/dvloznov/ops-copilot/internal/anomaly"
	"github.com/dvloznov/ops-copilot/internal/config"
	"github.com/dvloznov/ops-copilot/internal/ledger"
	"github.com/dvloznov/ops-copilot/internal/logger"
	"github.com/dvloznov/ops-copilot/internal/summary"
)

func main() {
	// Initialize structured logger
	log := logger.New()

	cfg := config.Load()

	// Parse CLI flags
	threshold := flag.Float64("threshold", cfg.Extract.SpikeThresh, "Price spike threshold as a fraction (0.20 = 20%)")
	flag.Parse()

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Add logger to context
	ctx = logger.WithContext(ctx, log)

	creds := config.NewResolver(cfg.Data.SecretsDir)
	store := ledger.NewStore(cfg.Data.LedgerPath)
	summarizer := summary.NewGeminiSummarizer(creds, cfg.Gemini.Model)

	engine := anomaly.NewEngine(store, summarizer, cfg.Data.ReportPath, *threshold, log)

	log.Info().Str("ledger", cfg.Data.LedgerPath).Msg("Starting anomaly detection")

	res, err := engine.Detect(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Anomaly detection failed")
	}

	if len(res.Anomalies) == 0 {
		fmt.Println("No anomalies detected in the current dataset.")
		return
	}

	fmt.Printf("Flagged %d anomalies:\n\n", len(res.Anomalies))
	fmt.Println(summary.RenderTable(res.Anomalies))
	fmt.Println("\n=== Executive Summary ===")
	fmt.Println(res.Summary)
}
