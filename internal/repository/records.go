package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/autograder/constants"
	"github.com/joseph-ayodele/autograder/internal/entity"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS score_records (
		id             TEXT PRIMARY KEY,
		run_id         TEXT NOT NULL,
		question_index INTEGER NOT NULL,
		final_score    DOUBLE PRECISION NOT NULL,
		itemized       TEXT NOT NULL,
		provenance     TEXT NOT NULL,
		backend        TEXT NOT NULL,
		answer_summary TEXT NOT NULL,
		scoring_basis  TEXT NOT NULL,
		raw_response   TEXT NOT NULL,
		dual           TEXT,
		rubric_summary TEXT NOT NULL,
		process_trace  TEXT NOT NULL,
		recorded_at    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_score_records_run ON score_records (run_id, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS summary_records (
		id                      TEXT PRIMARY KEY,
		run_id                  TEXT NOT NULL,
		total_cycles            INTEGER NOT NULL,
		questions_per_cycle     INTEGER NOT NULL,
		cycles_completed        INTEGER NOT NULL,
		status                  TEXT NOT NULL,
		stop_reason             TEXT NOT NULL,
		interrupt_reason        TEXT NOT NULL,
		elapsed_ms              BIGINT NOT NULL,
		dual_evaluation         BOOLEAN NOT NULL,
		score_diff_threshold    DOUBLE PRECISION NOT NULL,
		first_model_id          TEXT NOT NULL,
		second_model_id         TEXT NOT NULL,
		single_question_per_run BOOLEAN NOT NULL,
		recorded_at             TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_summary_records_run ON summary_records (run_id)`,
}

// Migrate creates the record tables if they do not exist.
func Migrate(ctx context.Context, db *DB) error {
	for _, stmt := range schema {
		if _, err := db.SQL.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

type RecordRepository interface {
	RecordScore(ctx context.Context, rec entity.ScoreRecord) error
	RecordSummary(ctx context.Context, rec entity.SummaryRecord) error
	ListScores(ctx context.Context, runID string) ([]entity.ScoreRecord, error)
	ListSummaries(ctx context.Context, runID string) ([]entity.SummaryRecord, error)
}

type recordRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewRecordRepository(db *DB, logger *slog.Logger) RecordRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &recordRepository{db: db, logger: logger}
}

func (r *recordRepository) RecordScore(ctx context.Context, rec entity.ScoreRecord) error {
	itemized, err := json.Marshal(nonNil(rec.Itemized))
	if err != nil {
		return fmt.Errorf("encode itemized: %w", err)
	}
	var dual sql.NullString
	if rec.Dual != nil {
		b, err := json.Marshal(rec.Dual)
		if err != nil {
			return fmt.Errorf("encode dual detail: %w", err)
		}
		dual = sql.NullString{String: string(b), Valid: true}
	}

	_, err = r.db.SQL.ExecContext(ctx, r.db.rebind(`INSERT INTO score_records
		(id, run_id, question_index, final_score, itemized, provenance, backend, answer_summary,
		 scoring_basis, raw_response, dual, rubric_summary, process_trace, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), rec.RunID, rec.QuestionIndex, rec.FinalScore, string(itemized),
		string(rec.Provenance), rec.Backend, rec.AnswerSummary, rec.ScoringBasis, rec.RawResponse,
		dual, rec.RubricSummary, rec.ProcessTrace, formatTime(rec.Timestamp),
	)
	if err != nil {
		r.logger.Error("failed to insert score record", "run_id", rec.RunID, "question", rec.QuestionIndex, "error", err)
		return err
	}
	return nil
}

func (r *recordRepository) RecordSummary(ctx context.Context, rec entity.SummaryRecord) error {
	_, err := r.db.SQL.ExecContext(ctx, r.db.rebind(`INSERT INTO summary_records
		(id, run_id, total_cycles, questions_per_cycle, cycles_completed, status, stop_reason,
		 interrupt_reason, elapsed_ms, dual_evaluation, score_diff_threshold, first_model_id,
		 second_model_id, single_question_per_run, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), rec.RunID, rec.TotalCycles, rec.QuestionsPerCycle, rec.CyclesCompleted,
		rec.Status, rec.StopReason, rec.InterruptReason, rec.Elapsed.Milliseconds(), rec.DualEvaluation,
		rec.ScoreDiffThreshold, rec.FirstModelID, rec.SecondModelID, rec.SingleQuestionPerRun,
		formatTime(rec.Timestamp),
	)
	if err != nil {
		r.logger.Error("failed to insert summary record", "run_id", rec.RunID, "error", err)
		return err
	}
	return nil
}

// ListScores returns score records in recording order. An empty runID lists all runs.
func (r *recordRepository) ListScores(ctx context.Context, runID string) ([]entity.ScoreRecord, error) {
	q := `SELECT run_id, question_index, final_score, itemized, provenance, backend, answer_summary,
		scoring_basis, raw_response, dual, rubric_summary, process_trace, recorded_at
		FROM score_records`
	var args []any
	if runID != "" {
		q += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	q += ` ORDER BY recorded_at, question_index`

	rows, err := r.db.SQL.QueryContext(ctx, r.db.rebind(q), args...)
	if err != nil {
		r.logger.Error("failed to list score records", "run_id", runID, "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []entity.ScoreRecord
	for rows.Next() {
		var (
			rec                  entity.ScoreRecord
			itemized, provenance string
			recordedAt           string
			dual                 sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &rec.QuestionIndex, &rec.FinalScore, &itemized, &provenance,
			&rec.Backend, &rec.AnswerSummary, &rec.ScoringBasis, &rec.RawResponse, &dual,
			&rec.RubricSummary, &rec.ProcessTrace, &recordedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(itemized), &rec.Itemized); err != nil {
			return nil, fmt.Errorf("decode itemized: %w", err)
		}
		if dual.Valid {
			rec.Dual = &entity.DualDetail{}
			if err := json.Unmarshal([]byte(dual.String), rec.Dual); err != nil {
				return nil, fmt.Errorf("decode dual detail: %w", err)
			}
		}
		rec.Provenance = constants.Provenance(provenance)
		rec.Timestamp = parseTime(recordedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListSummaries returns summary records in recording order. An empty runID lists all runs.
func (r *recordRepository) ListSummaries(ctx context.Context, runID string) ([]entity.SummaryRecord, error) {
	q := `SELECT run_id, total_cycles, questions_per_cycle, cycles_completed, status, stop_reason,
		interrupt_reason, elapsed_ms, dual_evaluation, score_diff_threshold, first_model_id,
		second_model_id, single_question_per_run, recorded_at
		FROM summary_records`
	var args []any
	if runID != "" {
		q += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	q += ` ORDER BY recorded_at`

	rows, err := r.db.SQL.QueryContext(ctx, r.db.rebind(q), args...)
	if err != nil {
		r.logger.Error("failed to list summary records", "run_id", runID, "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []entity.SummaryRecord
	for rows.Next() {
		var (
			rec        entity.SummaryRecord
			elapsedMS  int64
			recordedAt string
		)
		if err := rows.Scan(&rec.RunID, &rec.TotalCycles, &rec.QuestionsPerCycle, &rec.CyclesCompleted,
			&rec.Status, &rec.StopReason, &rec.InterruptReason, &elapsedMS, &rec.DualEvaluation,
			&rec.ScoreDiffThreshold, &rec.FirstModelID, &rec.SecondModelID, &rec.SingleQuestionPerRun,
			&recordedAt); err != nil {
			return nil, err
		}
		rec.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		rec.Timestamp = parseTime(recordedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}

// timeLayout is fixed width so TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
