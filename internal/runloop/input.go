package runloop

import (
	"context"
	"fmt"
	"strconv"

	"github.com/joseph-ayodele/autograder/internal/entity"
	"github.com/joseph-ayodele/autograder/internal/score"
)

// threeStep reports whether the score is split across three input boxes.
func (l *Loop) threeStep(q entity.QuestionConfig) bool {
	return q.Index == 1 && q.ThreeStep != nil && l.opts.Grading.SingleQuestionPerRun
}

// enterScore types the score and clicks confirm once.
func (l *Loop) enterScore(ctx context.Context, q entity.QuestionConfig, value float64) error {
	if l.threeStep(q) {
		parts := score.SplitThreeStep(value, l.opts.Grading.ThreeStepCap)
		l.logger.Info("runloop.input.three_step", "question", q.Index, "total", value, "s1", parts[0], "s2", parts[1], "s3", parts[2])
		points := [3]entity.Point{q.ThreeStep.Step1, q.ThreeStep.Step2, q.ThreeStep.Step3}
		for i, p := range points {
			if err := l.typeAt(ctx, p, parts[i]); err != nil {
				return fmt.Errorf("三步打分输入失败 (步骤%d): %w", i+1, err)
			}
		}
	} else if err := l.typeAt(ctx, q.ScoreInput, value); err != nil {
		return err
	}

	if err := l.screen.Click(ctx, q.Confirm); err != nil {
		return fmt.Errorf("click confirm: %w", err)
	}
	l.logger.Info("runloop.input.confirmed", "question", q.Index, "score", value)
	return nil
}

func (l *Loop) typeAt(ctx context.Context, p entity.Point, value float64) error {
	if err := l.screen.Click(ctx, p); err != nil {
		return fmt.Errorf("click input (%d,%d): %w", p.X, p.Y, err)
	}
	if err := l.screen.SelectAllAndDelete(ctx); err != nil {
		return fmt.Errorf("clear input: %w", err)
	}
	if err := l.screen.TypeText(ctx, FormatScore(value)); err != nil {
		return fmt.Errorf("type score: %w", err)
	}
	return nil
}

// FormatScore renders a score without trailing zeros.
func FormatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
