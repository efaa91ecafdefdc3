package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/autograder/internal/common"
	"github.com/joseph-ayodele/autograder/internal/entity"
)

// RecordQueue hands records to its sinks on a background worker so the
// grading loop never waits on storage. With one worker, records reach every
// sink in submission order.
type RecordQueue struct {
	sinks   []Sink
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*RecordQueue)

func WithWorkers(n int) Option {
	return func(q *RecordQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *RecordQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithWriteTimeout(d time.Duration) Option {
	return func(q *RecordQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewRecordQueue(logger *slog.Logger, sinks []Sink, opts ...Option) *RecordQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &RecordQueue{
		sinks:   sinks,
		logger:  logger,
		workers: 1,
		timeout: 30 * time.Second,
		ch:      make(chan Job, 64),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *RecordQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("records.worker.started", "worker_id", workerID)

				for job := range q.ch {
					q.write(workerID, job)
				}

				q.logger.Debug("records.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *RecordQueue) write(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if job.TraceID != "" {
		ctx = common.WithRunID(ctx, job.TraceID)
	}
	runID := common.RunIDFromContext(ctx)

	for _, s := range q.sinks {
		var err error
		kind := "score"
		switch {
		case job.Score != nil:
			err = s.RecordScore(ctx, *job.Score)
		case job.Summary != nil:
			kind = "summary"
			err = s.RecordSummary(ctx, *job.Summary)
		}
		if err != nil {
			q.logger.Error("records.write.failed", "worker_id", workerID, "kind", kind, "run_id", runID, "error", err)
		}
	}
	q.logger.Debug("records.write.ok",
		"worker_id", workerID,
		"run_id", runID,
		"latency_ms", time.Since(job.SubmittedAt).Milliseconds(),
	)
}

// RecordScore queues a score record.
func (q *RecordQueue) RecordScore(ctx context.Context, rec entity.ScoreRecord) error {
	return q.enqueue(ctx, Job{Score: &rec, SubmittedAt: time.Now(), TraceID: rec.RunID})
}

// RecordSummary queues a summary record.
func (q *RecordQueue) RecordSummary(ctx context.Context, rec entity.SummaryRecord) error {
	return q.enqueue(ctx, Job{Summary: &rec, SubmittedAt: time.Now(), TraceID: rec.RunID})
}

func (q *RecordQueue) enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("records.enqueue.closed", "run_id", job.TraceID)
		return nil
	}
	select {
	case q.ch <- job:
		return nil
	default:
	}
	q.logger.Warn("records.queue_full", "run_id", job.TraceID)
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting records and waits for queued ones to be written.
func (q *RecordQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("records.shutdown.interrupted")
	case <-done:
		q.logger.Info("records.shutdown.drained")
	}
}
