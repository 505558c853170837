package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/dvloznov/ops-copilot/internal/config"
	"github.com/dvloznov/ops-copilot/internal/extract"
	"github.com/dvloznov/ops-copilot/internal/ingest"
	"github.com/dvloznov/ops-copilot/internal/ledger"
	"github.com/dvloznov/ops-copilot/internal/logger"
)

func main() {
	// Initialize structured logger
	log := logger.New()

	cfg := config.Load()

	// Parse CLI flags
	dir := flag.String("dir", cfg.Data.Dir, "Directory to scan for invoice PDFs")
	flag.Parse()

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	// Add logger to context
	ctx = logger.WithContext(ctx, log)

	creds := config.NewResolver(cfg.Data.SecretsDir)
	store := ledger.NewStore(cfg.Data.LedgerPath)

	var mirror ingest.Mirror
	if cfg.BigQuery.ProjectID != "" {
		mirror = ledger.NewMirror(cfg.BigQuery.ProjectID, cfg.BigQuery.Dataset, cfg.BigQuery.Table)
	}

	engine := ingest.NewEngine(
		store,
		extract.NewPDFTextExtractor(cfg.Extract.PdftotextBin, nil),
		extract.NewGeminiStructurer(creds.Resolve(config.CredentialName), cfg.Gemini.Model, cfg.Gemini.Timeout),
		creds,
		mirror,
		log,
	)

	log.Info().Str("dir", *dir).Msg("Starting ingestion")

	res, err := engine.Ingest(ctx, *dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Ingestion failed")
	}

	fmt.Printf("Ingested %d new records (%d failed, %d without text).\n", res.Appended, res.Failed, res.Skipped)
}
