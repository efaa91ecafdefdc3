package entity

import (
	"time"

	"github.com/joseph-ayodele/autograder/constants"
)

// DualDetail keeps both backends' answers when a score is the mean of a dual evaluation.
type DualDetail struct {
	FirstSummary   string    `json:"first_summary"`
	FirstBasis     string    `json:"first_basis"`
	FirstScore     float64   `json:"first_score"`
	FirstItemized  []float64 `json:"first_itemized"`
	FirstRaw       string    `json:"first_raw"`
	SecondSummary  string    `json:"second_summary"`
	SecondBasis    string    `json:"second_basis"`
	SecondScore    float64   `json:"second_score"`
	SecondItemized []float64 `json:"second_itemized"`
	SecondRaw      string    `json:"second_raw"`
	Difference     float64   `json:"difference"`
	Threshold      float64   `json:"threshold"`
}

// ScoreRecord is one finalized result per question attempt.
type ScoreRecord struct {
	RunID         string               `json:"run_id"`
	QuestionIndex int                  `json:"question_index"`
	FinalScore    float64              `json:"final_score"`
	Itemized      []float64            `json:"itemized_scores"`
	Provenance    constants.Provenance `json:"provenance"`
	Backend       string               `json:"backend,omitempty"`
	AnswerSummary string               `json:"answer_summary"`
	ScoringBasis  string               `json:"scoring_basis"`
	RawResponse   string               `json:"raw_response"`
	Dual          *DualDetail          `json:"dual,omitempty"`
	RubricSummary string               `json:"rubric_summary"`
	ProcessTrace  string               `json:"process_trace"`
	Timestamp     time.Time            `json:"timestamp"`
}

// SummaryRecord closes a run.
type SummaryRecord struct {
	RunID                string        `json:"run_id"`
	TotalCycles          int           `json:"total_cycles"`
	QuestionsPerCycle    int           `json:"questions_per_cycle"`
	CyclesCompleted      int           `json:"cycles_completed"`
	Status               string        `json:"status"`
	StopReason           string        `json:"stop_reason"`
	InterruptReason      string        `json:"interrupt_reason"`
	Elapsed              time.Duration `json:"elapsed"`
	DualEvaluation       bool          `json:"dual_evaluation"`
	ScoreDiffThreshold   float64       `json:"score_diff_threshold,omitempty"`
	FirstModelID         string        `json:"first_model_id"`
	SecondModelID        string        `json:"second_model_id,omitempty"`
	SingleQuestionPerRun bool          `json:"single_question_per_run"`
	Timestamp            time.Time     `json:"timestamp"`
}
