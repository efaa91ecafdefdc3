package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/autograder/internal/entity"
)

// XLSXRecorder appends every record to a workbook on disk. The file is saved
// after each record so a crash loses at most the row being written.
type XLSXRecorder struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
	wb *workbook
}

// NewXLSXRecorder opens path if it already holds a workbook written by this
// recorder and appends to it; otherwise it starts a new one.
func NewXLSXRecorder(path string, logger *slog.Logger) (*XLSXRecorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	wb, err := openWorkbook(path)
	if err != nil {
		return nil, err
	}
	logger.Info("export.xlsx.opened", "path", path, "next_detail_row", wb.detailRow, "next_summary_row", wb.summaryRow)
	return &XLSXRecorder{path: path, logger: logger, wb: wb}, nil
}

func openWorkbook(path string) (*workbook, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return newWorkbook()
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	detail, err := f.GetRows(DetailSheet)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("workbook %s has no %s sheet: %w", path, DetailSheet, err)
	}
	summary, err := f.GetRows(SummarySheet)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("workbook %s has no %s sheet: %w", path, SummarySheet, err)
	}
	return &workbook{f: f, detailRow: max(len(detail)+1, 2), summaryRow: max(len(summary)+1, 2)}, nil
}

func (r *XLSXRecorder) RecordScore(ctx context.Context, rec entity.ScoreRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.wb.addScore(rec); err != nil {
		return fmt.Errorf("xlsx score row: %w", err)
	}
	return r.save("score", rec.RunID)
}

func (r *XLSXRecorder) RecordSummary(ctx context.Context, rec entity.SummaryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.wb.addSummary(rec); err != nil {
		return fmt.Errorf("xlsx summary row: %w", err)
	}
	return r.save("summary", rec.RunID)
}

func (r *XLSXRecorder) save(kind, runID string) error {
	if err := r.wb.f.SaveAs(r.path); err != nil {
		r.logger.Error("export.xlsx.save_failed", "path", r.path, "kind", kind, "run_id", runID, "error", err)
		return fmt.Errorf("xlsx save: %w", err)
	}
	return nil
}

// Close releases the workbook.
func (r *XLSXRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wb.f.Close()
}
