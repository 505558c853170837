package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ops-copilot/internal/anomaly"
	"github.com/dvloznov/ops-copilot/internal/config"
	"github.com/dvloznov/ops-copilot/internal/docsource"
	"github.com/dvloznov/ops-copilot/internal/export"
	"github.com/dvloznov/ops-copilot/internal/extract"
	"github.com/dvloznov/ops-copilot/internal/ingest"
	"github.com/dvloznov/ops-copilot/internal/ledger"
	"github.com/dvloznov/ops-copilot/internal/logger"
	"github.com/dvloznov/ops-copilot/internal/refresh"
	"github.com/dvloznov/ops-copilot/internal/summary"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ingest":
		runIngest(log)
	case "detect":
		runDetect(log)
	case "refresh":
		runRefresh(log)
	case "export":
		runExport(log)
	case "mirror":
		runMirror(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Ops Copilot CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  ingest    Scan a directory and append new invoices to the ledger")
	fmt.Println("  detect    Run anomaly detection over the ledger")
	fmt.Println("  refresh   Run ingestion followed by detection")
	fmt.Println("  export    Export the ledger to an XLSX workbook")
	fmt.Println("  mirror    Backfill the full ledger into the BigQuery mirror table")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func buildIngestor(cfg *config.Config, creds *config.Resolver, store *ledger.Store, log zerolog.Logger) *ingest.Engine {
	var mirror ingest.Mirror
	if cfg.BigQuery.ProjectID != "" {
		mirror = ledger.NewMirror(cfg.BigQuery.ProjectID, cfg.BigQuery.Dataset, cfg.BigQuery.Table)
	}

	return ingest.NewEngine(
		store,
		extract.NewPDFTextExtractor(cfg.Extract.PdftotextBin, nil),
		extract.NewGeminiStructurer(creds.Resolve(config.CredentialName), cfg.Gemini.Model, cfg.Gemini.Timeout),
		creds,
		mirror,
		log,
	)
}

func runIngest(log zerolog.Logger) {
	cfg := config.Load()

	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	dir := fs.String("dir", cfg.Data.Dir, "Directory to scan for invoice PDFs")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	creds := config.NewResolver(cfg.Data.SecretsDir)
	store := ledger.NewStore(cfg.Data.LedgerPath)
	engine := buildIngestor(cfg, creds, store, log)

	log.Info().Str("dir", *dir).Msg("Starting ingestion")

	res, err := engine.Ingest(ctx, *dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Ingestion failed")
	}

	fmt.Printf("Ingested %d new records (%d failed, %d without text).\n", res.Appended, res.Failed, res.Skipped)
}

func runDetect(log zerolog.Logger) {
	cfg := config.Load()

	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	threshold := fs.Float64("threshold", cfg.Extract.SpikeThresh, "Price spike threshold as a fraction (0.20 = 20%)")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	creds := config.NewResolver(cfg.Data.SecretsDir)
	store := ledger.NewStore(cfg.Data.LedgerPath)
	engine := anomaly.NewEngine(store, summary.NewGeminiSummarizer(creds, cfg.Gemini.Model), cfg.Data.ReportPath, *threshold, log)

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

func runRefresh(log zerolog.Logger) {
	cfg := config.Load()

	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	dir := fs.String("dir", cfg.Data.Dir, "Directory to scan for invoice PDFs")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	creds := config.NewResolver(cfg.Data.SecretsDir)
	store := ledger.NewStore(cfg.Data.LedgerPath)
	ingestor := buildIngestor(cfg, creds, store, log)
	detector := anomaly.NewEngine(store, summary.NewGeminiSummarizer(creds, cfg.Gemini.Model), cfg.Data.ReportPath, cfg.Extract.SpikeThresh, log)

	var docs refresh.DocumentSource
	if cfg.GCS.Bucket != "" {
		docs = docsource.NewGCSSource(cfg.GCS.Bucket, cfg.GCS.Prefix)
	}

	svc := refresh.NewService(ingestor, detector, docs, *dir, log)

	outcome, err := svc.Refresh(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Refresh failed")
	}

	fmt.Println(outcome.Message)
	if outcome.Summary != "" {
		fmt.Println("\n=== Executive Summary ===")
		fmt.Println(outcome.Summary)
	}
}

func runExport(log zerolog.Logger) {
	cfg := config.Load()

	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("out", "ledger.xlsx", "Path of the XLSX file to write")
	fs.Parse(os.Args[2:])

	store := ledger.NewStore(cfg.Data.LedgerPath)
	records, err := store.ReadAll()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read ledger")
	}

	data, err := export.LedgerXLSX(records)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build workbook")
	}

	if err := os.WriteFile(*out, data, 0o644); err != nil {
		log.Fatal().Err(err).Msg("Failed to write workbook")
	}

	fmt.Printf("Exported %d records to %s\n", len(records), *out)
}

func runMirror(log zerolog.Logger) {
	cfg := config.Load()

	fs := flag.NewFlagSet("mirror", flag.ExitOnError)
	project := fs.String("project", cfg.BigQuery.ProjectID, "BigQuery project ID")
	dataset := fs.String("dataset", cfg.BigQuery.Dataset, "BigQuery dataset")
	table := fs.String("table", cfg.BigQuery.Table, "BigQuery table")
	fs.Parse(os.Args[2:])

	if *project == "" {
		log.Fatal().Msg("Error: --project is required (or set BQ_PROJECT)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store := ledger.NewStore(cfg.Data.LedgerPath)
	records, err := store.ReadAll()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read ledger")
	}
	if len(records) == 0 {
		fmt.Println("Ledger is empty; nothing to mirror.")
		return
	}

	mirror := ledger.NewMirror(*project, *dataset, *table)
	if err := mirror.MirrorBatch(ctx, records); err != nil {
		log.Fatal().Err(err).Msg("Mirror backfill failed")
	}

	fmt.Printf("Mirrored %d records to %s.%s.%s\n", len(records), *project, *dataset, *table)
}
