package runloop

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/autograder/internal/entity"
	"github.com/joseph-ayodele/autograder/internal/failover"
	"github.com/joseph-ayodele/autograder/internal/llm"
)

// ScreenIO captures answer areas and synthesizes input on the grading screen.
type ScreenIO interface {
	Capture(ctx context.Context, area entity.Rect) ([]byte, error)
	Click(ctx context.Context, p entity.Point) error
	TypeText(ctx context.Context, text string) error
	SelectAllAndDelete(ctx context.Context) error
}

// Recorder receives finished records. Errors are logged and never change the
// run's outcome.
type Recorder interface {
	RecordScore(ctx context.Context, rec entity.ScoreRecord) error
	RecordSummary(ctx context.Context, rec entity.SummaryRecord) error
}

// Evaluator grades one captured answer.
type Evaluator interface {
	Evaluate(ctx context.Context, image []byte, prompt llm.Prompt, q entity.QuestionConfig) (failover.Decision, error)
	EvaluateDual(ctx context.Context, image []byte, prompt llm.Prompt, q entity.QuestionConfig, threshold float64) (failover.Decision, error)
	Reset()
	ResetClients()
}

// Notifier is told about progress and about how a run ended. Exactly one of
// Completed, Error, ThresholdExceeded or ManualIntervention is called per run.
type Notifier interface {
	Log(level slog.Level, msg string)
	Progress(done, total int)
	Completed()
	Error(reason string)
	ThresholdExceeded(reason string)
	ManualIntervention(message, detail string)
}

// LogNotifier writes notifications to a slog logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

func (n LogNotifier) Log(level slog.Level, msg string) {
	n.logger().Log(context.Background(), level, msg)
}

func (n LogNotifier) Progress(done, total int) {
	n.logger().Info("runloop.progress", "done", done, "total", total)
}

func (n LogNotifier) Completed() {
	n.logger().Info("runloop.completed")
}

func (n LogNotifier) Error(reason string) {
	n.logger().Error("runloop.error", "reason", reason)
}

func (n LogNotifier) ThresholdExceeded(reason string) {
	n.logger().Warn("runloop.threshold_exceeded", "reason", reason)
}

func (n LogNotifier) ManualIntervention(message, detail string) {
	n.logger().Warn("runloop.manual_intervention", "message", message, "detail", detail)
}

// MultiNotifier fans notifications out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) Log(level slog.Level, msg string) {
	for _, n := range m {
		n.Log(level, msg)
	}
}

func (m MultiNotifier) Progress(done, total int) {
	for _, n := range m {
		n.Progress(done, total)
	}
}

func (m MultiNotifier) Completed() {
	for _, n := range m {
		n.Completed()
	}
}

func (m MultiNotifier) Error(reason string) {
	for _, n := range m {
		n.Error(reason)
	}
}

func (m MultiNotifier) ThresholdExceeded(reason string) {
	for _, n := range m {
		n.ThresholdExceeded(reason)
	}
}

func (m MultiNotifier) ManualIntervention(message, detail string) {
	for _, n := range m {
		n.ManualIntervention(message, detail)
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordScore(context.Context, entity.ScoreRecord) error     { return nil }
func (nopRecorder) RecordSummary(context.Context, entity.SummaryRecord) error { return nil }
