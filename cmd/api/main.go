package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/ops-copilot/internal/anomaly"
	"github.com/dvloznov/ops-copilot/internal/api/handlers"
	"github.com/dvloznov/ops-copilot/internal/api/middleware"
	"github.com/dvloznov/ops-copilot/internal/config"
	"github.com/dvloznov/ops-copilot/internal/docsource"
	"github.com/dvloznov/ops-copilot/internal/extract"
	"github.com/dvloznov/ops-copilot/internal/ingest"
	"github.com/dvloznov/ops-copilot/internal/jobs"
	"github.com/dvloznov/ops-copilot/internal/jobs/inmemory"
	"github.com/dvloznov/ops-copilot/internal/ledger"
	"github.com/dvloznov/ops-copilot/internal/logger"
	"github.com/dvloznov/ops-copilot/internal/refresh"
	"github.com/dvloznov/ops-copilot/internal/summary"
)

func main() {
	// Initialize logger
	log := logger.New()

	cfg := config.Load()

	// Parse command-line flags
	port := flag.String("port", cfg.Server.Port, "HTTP server port")
	flag.Parse()

	creds := config.NewResolver(cfg.Data.SecretsDir)
	if creds.Resolve(config.CredentialName) == "" {
		log.Warn().Msg("GEMINI_API_KEY not configured - ingestion and AI summaries will be degraded")
	}

	// Initialize the ledger and the pipeline around it
	store := ledger.NewStore(cfg.Data.LedgerPath)

	var mirror ingest.Mirror
	if cfg.BigQuery.ProjectID != "" {
		mirror = ledger.NewMirror(cfg.BigQuery.ProjectID, cfg.BigQuery.Dataset, cfg.BigQuery.Table)
	}

	ingestor := ingest.NewEngine(
		store,
		extract.NewPDFTextExtractor(cfg.Extract.PdftotextBin, nil),
		extract.NewGeminiStructurer(creds.Resolve(config.CredentialName), cfg.Gemini.Model, cfg.Gemini.Timeout),
		creds,
		mirror,
		log,
	)
	detector := anomaly.NewEngine(store, summary.NewGeminiSummarizer(creds, cfg.Gemini.Model), cfg.Data.ReportPath, cfg.Extract.SpikeThresh, log)

	var docs refresh.DocumentSource
	if cfg.GCS.Bucket != "" {
		docs = docsource.NewGCSSource(cfg.GCS.Bucket, cfg.GCS.Prefix)
	} else {
		log.Warn().Msg("No GCS bucket configured - refresh will only see local documents")
	}

	refresher := refresh.NewService(ingestor, detector, docs, cfg.Data.Dir, log)

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	// Start worker in background to process jobs
	ctx := context.Background()
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	// Create job handler for processing refresh jobs
	jobHandler := func(ctx context.Context, job *jobs.RefreshJob) error {
		log.Info().Str("job_id", job.JobID).Msg("Processing refresh job")

		outcome, err := refresher.Refresh(ctx)
		if err != nil {
			log.Error().Err(err).Str("job_id", job.JobID).Msg("Refresh failed")
			return err
		}

		job.Message = outcome.Message
		job.Summary = outcome.Summary
		job.Appended = outcome.Appended
		job.Anomalies = len(outcome.Anomalies)

		log.Info().
			Str("job_id", job.JobID).
			Int("appended", outcome.Appended).
			Int("anomalies", len(outcome.Anomalies)).
			Msg("Refresh completed")

		return nil
	}

	// Start job consumer in background
	go func() {
		log.Info().Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	// Initialize handlers
	refreshHandler := handlers.NewRefreshHandler(jobQueue, jobStore, log)
	dashboardHandler := handlers.NewDashboardHandler(store, cfg.Data.ReportPath, log)

	// Create router
	mux := http.NewServeMux()

	mux.HandleFunc("/api/refresh", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			refreshHandler.Refresh(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			refreshHandler.JobStatus(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/ledger", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			dashboardHandler.Ledger(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/report", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			dashboardHandler.Report(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			dashboardHandler.Metrics(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.CORS(mux),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Cancel worker context
	cancelWorker()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for the in-flight refresh
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}
