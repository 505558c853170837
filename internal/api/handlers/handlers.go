package handlers

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/ops-copilot/internal/anomaly"
	"github.com/dvloznov/ops-copilot/internal/api/middleware"
	"github.com/dvloznov/ops-copilot/internal/domain"
	"github.com/dvloznov/ops-copilot/internal/jobs"
	"github.com/dvloznov/ops-copilot/internal/ledger"
)

// RefreshHandler enqueues refresh runs and reports their status.
type RefreshHandler struct {
	publisher jobs.Publisher
	store     jobs.JobStore
	log       zerolog.Logger
}

// NewRefreshHandler creates a new refresh handler.
func NewRefreshHandler(publisher jobs.Publisher, store jobs.JobStore, log zerolog.Logger) *RefreshHandler {
	return &RefreshHandler{publisher: publisher, store: store, log: log}
}

// Refresh handles POST /api/refresh. The run happens asynchronously on the
// single-worker queue, which serializes overlapping triggers.
func (h *RefreshHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	job := &jobs.RefreshJob{}
	if err := h.publisher.PublishRefresh(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue refresh")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue refresh")
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// JobStatus handles GET /api/jobs/{id}.
func (h *RefreshHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// DashboardHandler serves the ledger, the current report and the headline
// metrics the dashboard shows.
type DashboardHandler struct {
	store      *ledger.Store
	reportPath string
	log        zerolog.Logger
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(store *ledger.Store, reportPath string, log zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{store: store, reportPath: reportPath, log: log}
}

// Ledger handles GET /api/ledger.
func (h *DashboardHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ReadAll()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read ledger")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read ledger")
		return
	}
	if records == nil {
		records = []domain.InvoiceRecord{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// Report handles GET /api/report.
func (h *DashboardHandler) Report(w http.ResponseWriter, r *http.Request) {
	anomalies, err := anomaly.ReadReport(h.reportPath)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read anomaly report")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read anomaly report")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"anomalies": anomalies,
		"count":     len(anomalies),
	})
}

// Metrics handles GET /api/metrics: total spend across the ledger, the
// number of detected leaks, and the amount tied up in them.
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ReadAll()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read ledger")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read ledger")
		return
	}
	anomalies, err := anomaly.ReadReport(h.reportPath)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read anomaly report")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read anomaly report")
		return
	}

	totalSpend := decimal.Zero
	for _, rec := range records {
		if amount, err := domain.CoerceAmount(rec.TotalAmount); err == nil {
			totalSpend = totalSpend.Add(amount)
		}
	}
	potentialSavings := decimal.Zero
	for _, a := range anomalies {
		if amount, err := domain.CoerceAmount(a.TotalAmount); err == nil {
			potentialSavings = potentialSavings.Add(amount)
		}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"total_spend":       totalSpend.StringFixed(2),
		"detected_leaks":    len(anomalies),
		"potential_savings": potentialSavings.StringFixed(2),
	})
}
