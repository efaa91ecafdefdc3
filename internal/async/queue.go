package async

import (
	"context"
	"time"

	"github.com/joseph-ayodele/autograder/internal/entity"
)

// Job is one record waiting to be written. Exactly one of Score or Summary is set.
type Job struct {
	Score       *entity.ScoreRecord
	Summary     *entity.SummaryRecord
	SubmittedAt time.Time
	TraceID     string
}

// Sink persists records. Recorder implementations in export and repository
// satisfy it.
type Sink interface {
	RecordScore(ctx context.Context, rec entity.ScoreRecord) error
	RecordSummary(ctx context.Context, rec entity.SummaryRecord) error
}

type Queue interface {
	RecordScore(ctx context.Context, rec entity.ScoreRecord) error
	RecordSummary(ctx context.Context, rec entity.SummaryRecord) error
	Shutdown(ctx context.Context)
}
