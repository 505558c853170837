package refresh

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ops-copilot/internal/anomaly"
	"github.com/dvloznov/ops-copilot/internal/ingest"
)

// Ingestor runs one ingestion pass over a documents directory.
type Ingestor interface {
	Ingest(ctx context.Context, dir string) (ingest.Result, error)
}

// Detector runs one detection pass over the current ledger.
type Detector interface {
	Detect(ctx context.Context) (*anomaly.RunResult, error)
}

// DocumentSource pre-populates the documents directory from remote storage.
// Optional.
type DocumentSource interface {
	Sync(ctx context.Context, destDir string) (int, error)
}

// Outcome is what the trigger caller sees: a human-readable message plus
// the counts behind it. There are no silent failures; a degraded run still
// produces a message.
type Outcome struct {
	Message   string            `json:"message"`
	Appended  int               `json:"appended"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
	Anomalies []anomaly.Anomaly `json:"anomalies"`
	Summary   string            `json:"summary"`
}

// Service is the single idempotent trigger: ingest then detect. Callers
// serialize triggers; the service itself holds no locks.
type Service struct {
	ingestor Ingestor
	detector Detector
	docs     DocumentSource
	dir      string
	log      zerolog.Logger
}

// NewService wires a refresh service over dir. docs may be nil.
func NewService(ingestor Ingestor, detector Detector, docs DocumentSource, dir string, log zerolog.Logger) *Service {
	return &Service{ingestor: ingestor, detector: detector, docs: docs, dir: dir, log: log}
}

// Refresh runs ingestion then detection. A missing credential degrades
// ingestion to a no-op with a warning; detection still runs so the report
// always reflects the current ledger. Directory- and ledger-level errors
// abort with a diagnostic.
func (s *Service) Refresh(ctx context.Context) (*Outcome, error) {
	if s.docs != nil {
		fetched, err := s.docs.Sync(ctx, s.dir)
		if err != nil {
			s.log.Warn().Err(err).Msg("Document source sync failed; continuing with local files")
		} else if fetched > 0 {
			s.log.Info().Int("fetched", fetched).Msg("Fetched documents from remote source")
		}
	}

	var credWarning string
	res, err := s.ingestor.Ingest(ctx, s.dir)
	if err != nil {
		if !errors.Is(err, ingest.ErrMissingCredential) {
			return nil, fmt.Errorf("ingestion failed: %w", err)
		}
		credWarning = "GEMINI_API_KEY is not configured; no documents were ingested. "
		s.log.Warn().Msg("Skipping ingestion: credential not resolvable")
	}

	run, err := s.detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("anomaly detection failed: %w", err)
	}

	out := &Outcome{
		Appended:  res.Appended,
		Failed:    res.Failed,
		Skipped:   res.Skipped,
		Anomalies: run.Anomalies,
		Summary:   run.Summary,
	}
	out.Message = fmt.Sprintf("%sIngested %d new records (%d failed, %d without text); %d anomalies flagged.",
		credWarning, res.Appended, res.Failed, res.Skipped, len(run.Anomalies))
	return out, nil
}
