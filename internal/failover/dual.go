package failover

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/autograder/constants"
	"github.com/joseph-ayodele/autograder/internal/classify"
	"github.com/joseph-ayodele/autograder/internal/common"
	"github.com/joseph-ayodele/autograder/internal/entity"
	"github.com/joseph-ayodele/autograder/internal/llm"
)

// ThresholdExceededError reports two dual-evaluation scores too far apart to
// average.
type ThresholdExceededError struct {
	First      float64
	Second     float64
	Difference float64
	Threshold  float64
	Detail     entity.DualDetail
	grading    *common.GradingError
}

func (e *ThresholdExceededError) Error() string {
	return fmt.Sprintf("双评分差过大: %.2f > %g", e.Difference, e.Threshold)
}

// Unwrap exposes the business dual_eval error.
func (e *ThresholdExceededError) Unwrap() error { return e.grading }

type attemptResult struct {
	outcome classify.Outcome
	err     error
}

func defaultJitter() time.Duration {
	return 200*time.Millisecond + time.Duration(rand.Int64N(int64(300*time.Millisecond)))
}

// EvaluateDual grades with both backends and averages the two scores. Calls
// run sequentially when both backends use the same provider.
func (o *Orchestrator) EvaluateDual(ctx context.Context, image []byte, prompt llm.Prompt, q entity.QuestionConfig, threshold float64) (Decision, error) {
	start := time.Now()
	first, second := o.backends[SlotA], o.backends[SlotB]
	var results [2]attemptResult

	if strings.EqualFold(first.Provider, second.Provider) {
		o.logger.Info("failover.dual.sequential", "provider", first.Provider, "question", q.Index)
		out, err := o.call(ctx, first, image, prompt, q)
		results[0] = attemptResult{out, err}
		if !classify.IsSuccess(out) {
			return o.dualFailure(results[0], first, q)
		}
		out, err = o.call(ctx, second, image, prompt, q)
		results[1] = attemptResult{out, err}
	} else {
		delay := o.jitter()
		o.logger.Info("failover.dual.concurrent",
			"first", first.Provider,
			"second", second.Provider,
			"second_delay_ms", delay.Milliseconds(),
			"question", q.Index,
		)

		var g errgroup.Group
		g.SetLimit(2)
		g.Go(func() error {
			out, err := o.call(ctx, first, image, prompt, q)
			results[0] = attemptResult{out, err}
			return nil
		})
		g.Go(func() error {
			if err := sleep(ctx, delay); err != nil {
				results[1] = attemptResult{classify.TransientFailure{ErrorKind: "canceled", Message: err.Error()}, err}
				return nil
			}
			out, err := o.call(ctx, second, image, prompt, q)
			results[1] = attemptResult{out, err}
			return nil
		})
		_ = g.Wait()

		for i, r := range results {
			if classify.IsHalt(r.outcome) {
				return o.dualFailure(r, o.backends[i], q)
			}
		}
		if !classify.IsSuccess(results[0].outcome) {
			return o.dualFailure(results[0], first, q)
		}
	}
	if err := ctx.Err(); err != nil {
		return Decision{Provenance: constants.ProvenanceDual}, err
	}
	if !classify.IsSuccess(results[1].outcome) {
		return o.dualFailure(results[1], second, q)
	}

	a, _ := classify.AsGraded(results[0].outcome)
	b, _ := classify.AsGraded(results[1].outcome)
	diff := math.Abs(a.Total - b.Total)
	detail := entity.DualDetail{
		FirstSummary:   a.AnswerSummary,
		FirstBasis:     a.ScoringBasis,
		FirstScore:     a.Total,
		FirstItemized:  a.Itemized,
		FirstRaw:       a.RawResponse,
		SecondSummary:  b.AnswerSummary,
		SecondBasis:    b.ScoringBasis,
		SecondScore:    b.Total,
		SecondItemized: b.Itemized,
		SecondRaw:      b.RawResponse,
		Difference:     diff,
		Threshold:      threshold,
	}
	o.logger.Info("failover.dual.scores",
		"question", q.Index,
		"first", a.Total,
		"second", b.Total,
		"difference", diff,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if diff > threshold {
		te := &ThresholdExceededError{First: a.Total, Second: b.Total, Difference: diff, Threshold: threshold, Detail: detail}
		te.grading = common.NewBusinessError(te.Error(), common.BusinessDualEval, q.Index, nil)
		o.logger.Error("failover.dual.threshold_exceeded", "question", q.Index, "difference", diff, "threshold", threshold)
		return Decision{Provenance: constants.ProvenanceDual, Dual: &detail}, te
	}

	mean := (a.Total + b.Total) / 2
	return Decision{
		Outcome: classify.Scored{
			RawTotal:      mean,
			Itemized:      a.Itemized,
			AnswerSummary: a.AnswerSummary,
			ScoringBasis:  a.ScoringBasis,
			RawResponse:   fmt.Sprintf("API1:\n%s\n\nAPI2:\n%s", a.RawResponse, b.RawResponse),
		},
		Backend:    first.Name + "+" + second.Name,
		Provenance: constants.ProvenanceDual,
		Dual:       &detail,
	}, nil
}

// dualFailure returns halts unchanged and turns any other failure into a
// business api_response error.
func (o *Orchestrator) dualFailure(r attemptResult, b Backend, q entity.QuestionConfig) (Decision, error) {
	if classify.IsHalt(r.outcome) {
		return Decision{Outcome: r.outcome, Backend: b.Name, Provenance: constants.ProvenanceDual}, nil
	}
	cause := r.err
	if cause == nil {
		cause = fmt.Errorf("%s: %s", b.Name, classify.Describe(r.outcome))
	}
	o.logger.Error("failover.dual.failed", "backend", b.Name, "question", q.Index, "error", cause)
	return Decision{Backend: b.Name, Provenance: constants.ProvenanceDual, LastError: cause},
		common.NewBusinessError(fmt.Sprintf("%s评分失败: %v", b.Name, cause), common.BusinessAPIResponse, q.Index, cause)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
