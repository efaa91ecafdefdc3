package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/autograder/internal/repository"
)

// Service builds XLSX exports from stored records.
type Service struct {
	records repository.RecordRepository
	logger  *slog.Logger
}

func NewService(records repository.RecordRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{records: records, logger: logger}
}

// ExportRunXLSX returns a workbook (as bytes) holding the score and summary
// records of one run. An empty runID exports every run.
func (s *Service) ExportRunXLSX(ctx context.Context, runID string) ([]byte, error) {
	start := time.Now()

	scores, err := s.records.ListScores(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("query score records: %w", err)
	}
	summaries, err := s.records.ListSummaries(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("query summary records: %w", err)
	}

	wb, err := newWorkbook()
	if err != nil {
		return nil, err
	}
	defer func() { _ = wb.f.Close() }()

	for _, rec := range scores {
		if err := wb.addScore(rec); err != nil {
			return nil, fmt.Errorf("xlsx score row: %w", err)
		}
	}
	for _, rec := range summaries {
		if err := wb.addSummary(rec); err != nil {
			return nil, fmt.Errorf("xlsx summary row: %w", err)
		}
	}

	buf, err := wb.f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"run_id", runID,
		"rows", len(scores),
		"summaries", len(summaries),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
