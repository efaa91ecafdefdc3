package runloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/autograder/constants"
	"github.com/joseph-ayodele/autograder/internal/classify"
	"github.com/joseph-ayodele/autograder/internal/common"
	"github.com/joseph-ayodele/autograder/internal/entity"
	"github.com/joseph-ayodele/autograder/internal/failover"
	"github.com/joseph-ayodele/autograder/internal/llm"
)

type fakeScreen struct {
	mu         sync.Mutex
	actions    []string
	captures   int
	captureErr error
}

func (f *fakeScreen) Capture(_ context.Context, _ entity.Rect) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	f.actions = append(f.actions, "capture")
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return []byte("jpeg"), nil
}

func (f *fakeScreen) Click(_ context.Context, p entity.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, fmt.Sprintf("click %d,%d", p.X, p.Y))
	return nil
}

func (f *fakeScreen) TypeText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, "type "+text)
	return nil
}

func (f *fakeScreen) SelectAllAndDelete(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, "clear")
	return nil
}

type fakeEvaluator struct {
	mu           sync.Mutex
	calls        int
	dualCalls    int
	resets       int
	clientResets int
	next         func(n int, q entity.QuestionConfig) (failover.Decision, error)
}

func (f *fakeEvaluator) Evaluate(_ context.Context, _ []byte, _ llm.Prompt, q entity.QuestionConfig) (failover.Decision, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.next(n, q)
}

func (f *fakeEvaluator) EvaluateDual(_ context.Context, _ []byte, _ llm.Prompt, q entity.QuestionConfig, _ float64) (failover.Decision, error) {
	f.mu.Lock()
	f.dualCalls++
	n := f.dualCalls
	f.mu.Unlock()
	return f.next(n, q)
}

func (f *fakeEvaluator) Reset()        { f.resets++ }
func (f *fakeEvaluator) ResetClients() { f.clientResets++ }

type fakeRecorder struct {
	mu        sync.Mutex
	scores    []entity.ScoreRecord
	summaries []entity.SummaryRecord
}

func (f *fakeRecorder) RecordScore(_ context.Context, r entity.ScoreRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores = append(f.scores, r)
	return nil
}

func (f *fakeRecorder) RecordSummary(_ context.Context, r entity.SummaryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, r)
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	terminal []string
	progress []int
	logs     []string
}

func (f *fakeNotifier) Log(_ slog.Level, msg string) {
	f.mu.Lock()
	f.logs = append(f.logs, msg)
	f.mu.Unlock()
}

func (f *fakeNotifier) Progress(done, _ int) {
	f.mu.Lock()
	f.progress = append(f.progress, done)
	f.mu.Unlock()
}

func (f *fakeNotifier) Completed() { f.add("completed") }
func (f *fakeNotifier) Error(reason string) {
	f.add("error: " + reason)
}
func (f *fakeNotifier) ThresholdExceeded(reason string) {
	f.add("threshold: " + reason)
}
func (f *fakeNotifier) ManualIntervention(message, _ string) {
	f.add("manual: " + message)
}

func (f *fakeNotifier) add(s string) {
	f.mu.Lock()
	f.terminal = append(f.terminal, s)
	f.mu.Unlock()
}

func question(i int) entity.QuestionConfig {
	return entity.QuestionConfig{
		Index:        i,
		AnswerArea:   entity.Rect{X1: 100, Y1: 100, X2: 0, Y2: 0},
		ScoreInput:   entity.Point{X: 10, Y: 10},
		Confirm:      entity.Point{X: 20, Y: 20},
		Rubric:       "按要点给分",
		MaxScore:     10,
		RoundingStep: 0.5,
	}
}

func scored(total float64) failover.Decision {
	return failover.Decision{
		Outcome:    classify.Scored{RawTotal: total, Itemized: []float64{total}, AnswerSummary: "作答", ScoringBasis: "依据"},
		Backend:    "API 1",
		Provenance: constants.ProvenanceSingle,
	}
}

type harness struct {
	loop     *Loop
	screen   *fakeScreen
	eval     *fakeEvaluator
	recorder *fakeRecorder
	notifier *fakeNotifier
	sleeps   []time.Duration
}

func newHarness(t *testing.T, opts Options, next func(int, entity.QuestionConfig) (failover.Decision, error)) *harness {
	t.Helper()
	h := &harness{
		screen:   &fakeScreen{},
		eval:     &fakeEvaluator{next: next},
		recorder: &fakeRecorder{},
		notifier: &fakeNotifier{},
	}
	h.loop = New(opts, h.screen, h.eval, h.recorder, h.notifier, nil)
	h.loop.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}
	return h
}

func baseOptions(questions ...entity.QuestionConfig) Options {
	return Options{
		Questions: questions,
		Grading: common.GradingConfig{
			Cycles:             1,
			WaitTime:           1500 * time.Millisecond,
			QuestionPause:      500 * time.Millisecond,
			ScoreDiffThreshold: 5,
			AnomalyWait:        2 * time.Second,
			ResetInterval:      40,
			ThreeStepCap:       20,
		},
		Unattended: common.UnattendedConfig{RetryDelay: 120 * time.Second, MaxRounds: 10},
	}
}

func TestRunCompletes(t *testing.T) {
	t.Parallel()

	opts := baseOptions(question(1), question(2))
	opts.Grading.Cycles = 2
	h := newHarness(t, opts, func(int, entity.QuestionConfig) (failover.Decision, error) {
		return scored(7.3), nil
	})

	require.NoError(t, h.loop.Run(context.Background()))

	st := h.loop.State()
	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.Equal(t, StopCompleted, st.StopReason)
	assert.Equal(t, 2, st.Completed)

	require.Len(t, h.recorder.scores, 4)
	assert.Equal(t, 7.5, h.recorder.scores[0].FinalScore)
	assert.Equal(t, "round(step 0.5): 7.3 -> 7.5", h.recorder.scores[0].ProcessTrace)
	assert.Equal(t, constants.ProvenanceSingle, h.recorder.scores[0].Provenance)
	require.Len(t, h.recorder.summaries, 1)
	assert.Equal(t, "completed", h.recorder.summaries[0].Status)
	assert.Equal(t, 2, h.recorder.summaries[0].CyclesCompleted)

	assert.Equal(t, []string{"completed"}, h.notifier.terminal)
	assert.Equal(t, []int{1, 2}, h.notifier.progress)
	assert.Equal(t, 1, h.eval.resets)

	assert.Equal(t, []string{
		"capture", "click 10,10", "clear", "type 7.5", "click 20,20",
		"capture", "click 10,10", "clear", "type 7.5", "click 20,20",
	}, h.screen.actions[:10])
	// pause between the two questions of a cycle, wait between cycles
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 500 * time.Millisecond}, h.sleeps)
}

func TestRunZeroBlankEntersZero(t *testing.T) {
	t.Parallel()

	h := newHarness(t, baseOptions(question(1)), func(int, entity.QuestionConfig) (failover.Decision, error) {
		return failover.Decision{Outcome: classify.ZeroBlank{Reason: "未作答", Itemized: []float64{0}}, Provenance: constants.ProvenanceSingle}, nil
	})
	require.NoError(t, h.loop.Run(context.Background()))
	assert.Contains(t, h.screen.actions, "type 0")
	require.Len(t, h.recorder.scores, 1)
	assert.Zero(t, h.recorder.scores[0].FinalScore)
}

func TestRunManualInterventionHalts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, baseOptions(question(1), question(2)), func(int, entity.QuestionConfig) (failover.Decision, error) {
		return failover.Decision{Outcome: classify.ManualIntervention{Reason: "答案与题目无关"}}, nil
	})

	err := h.loop.Run(context.Background())
	var he *HaltError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, StopManualIntervention, he.Reason)

	st := h.loop.State()
	assert.Equal(t, PhaseError, st.Phase)
	assert.Contains(t, st.InterruptReason, "[需人工介入]")
	assert.Equal(t, []string{"manual: 题目 1 需人工介入: 答案与题目无关"}, h.notifier.terminal)
	assert.Empty(t, h.recorder.scores)
	assert.Len(t, h.recorder.summaries, 1)
	assert.NotContains(t, h.screen.actions, "clear", "no input after a halt")
	assert.Equal(t, 1, h.eval.calls)
}

func TestRunAnomalyWithButtonContinues(t *testing.T) {
	t.Parallel()

	q := question(1)
	q.AnomalyButton = &entity.Point{X: 30, Y: 30}
	opts := baseOptions(q, question(2))
	h := newHarness(t, opts, func(n int, _ entity.QuestionConfig) (failover.Decision, error) {
		if n == 1 {
			return failover.Decision{Outcome: classify.AnomalyPaper{Reason: "缺考"}}, nil
		}
		return scored(5), nil
	})

	require.NoError(t, h.loop.Run(context.Background()))
	assert.Contains(t, h.screen.actions, "click 30,30")
	assert.Contains(t, h.sleeps, 2*time.Second)
	require.Len(t, h.recorder.scores, 1)
	assert.Equal(t, 2, h.recorder.scores[0].QuestionIndex)
	assert.Equal(t, []string{"completed"}, h.notifier.terminal)
}

func TestRunAnomalyWithoutButtonHalts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, baseOptions(question(1)), func(int, entity.QuestionConfig) (failover.Decision, error) {
		return failover.Decision{Outcome: classify.AnomalyPaper{Reason: "缺考"}}, nil
	})

	err := h.loop.Run(context.Background())
	var he *HaltError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, StopAnomalyPaper, he.Reason)
	assert.Equal(t, []string{"manual: 题目 1 检测到异常试卷: 缺考"}, h.notifier.terminal)
}

func TestRunThresholdExceeded(t *testing.T) {
	t.Parallel()

	opts := baseOptions(question(1))
	opts.Grading.DualEvaluation = true
	h := newHarness(t, opts, func(int, entity.QuestionConfig) (failover.Decision, error) {
		return failover.Decision{Provenance: constants.ProvenanceDual}, &failover.ThresholdExceededError{First: 7, Second: 1, Difference: 6, Threshold: 5}
	})

	err := h.loop.Run(context.Background())
	var he *HaltError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, StopThresholdExceeded, he.Reason)
	assert.Equal(t, PhaseThresholdExceeded, h.loop.State().Phase)
	assert.Equal(t, 1, h.eval.dualCalls)
	require.Len(t, h.notifier.terminal, 1)
	assert.Contains(t, h.notifier.terminal[0], "threshold: 双评分差过大: 6.00 > 5")
	require.Len(t, h.recorder.summaries, 1)
	assert.Equal(t, "threshold_exceeded", h.recorder.summaries[0].Status)
	assert.Equal(t, 5.0, h.recorder.summaries[0].ScoreDiffThreshold)
}

func TestRunUnattendedReentersAfterNetworkFailure(t *testing.T) {
	t.Parallel()

	opts := baseOptions(question(1))
	opts.Unattended.Enabled = true
	opts.Unattended.MaxRounds = 2
	h := newHarness(t, opts, func(n int, _ entity.QuestionConfig) (failover.Decision, error) {
		if n == 1 {
			return failover.Decision{
				Outcome:   classify.ManualIntervention{Reason: failover.ReasonBothFailed},
				LastError: errors.New("dial tcp: connection refused"),
			}, nil
		}
		return scored(6), nil
	})

	require.NoError(t, h.loop.Run(context.Background()))
	st := h.loop.State()
	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.Equal(t, 1, st.RetryRound)
	assert.Contains(t, h.sleeps, 120*time.Second)
	assert.Equal(t, []string{"completed"}, h.notifier.terminal)
	assert.Len(t, h.recorder.summaries, 1)
	assert.Len(t, h.recorder.scores, 1)
}

func TestRunUnattendedGivesUpAfterMaxRounds(t *testing.T) {
	t.Parallel()

	opts := baseOptions(question(1))
	opts.Unattended.Enabled = true
	opts.Unattended.MaxRounds = 2
	h := newHarness(t, opts, func(int, entity.QuestionConfig) (failover.Decision, error) {
		return failover.Decision{
			Outcome:   classify.ManualIntervention{Reason: failover.ReasonBothFailed},
			LastError: errors.New("request timeout"),
		}, nil
	})

	err := h.loop.Run(context.Background())
	var he *HaltError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, StopNetworkError, he.Reason)
	require.NotNil(t, he.Err)
	assert.Equal(t, common.KindNetwork, he.Err.Kind)
	assert.Equal(t, common.NetworkTimeout, he.Err.Type)
	assert.Equal(t, 3, h.eval.calls)
	assert.Len(t, h.recorder.summaries, 1)
	require.Len(t, h.notifier.terminal, 1)
	assert.Contains(t, h.notifier.terminal[0], "两个AI接口均失败")
}

func TestRunUnattendedStopsOnNonNetworkBothFailed(t *testing.T) {
	t.Parallel()

	for name, lastErr := range map[string]error{
		"auth":  &llm.CallError{Kind: llm.KindAuth, Provider: "openai", Status: 401},
		"parse": errors.New("API 2: parse_error"),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			opts := baseOptions(question(1))
			opts.Unattended.Enabled = true
			opts.Unattended.MaxRounds = 3
			h := newHarness(t, opts, func(int, entity.QuestionConfig) (failover.Decision, error) {
				return failover.Decision{
					Outcome:   classify.ManualIntervention{Reason: failover.ReasonBothFailed},
					LastError: lastErr,
				}, nil
			})

			err := h.loop.Run(context.Background())
			var he *HaltError
			require.True(t, errors.As(err, &he))
			assert.Equal(t, StopAPIError, he.Reason)
			assert.Equal(t, 1, h.eval.calls)
			assert.Equal(t, 0, h.loop.State().RetryRound)
			assert.NotContains(t, h.sleeps, 120*time.Second)
		})
	}
}

func TestRunUnattendedIgnoresManualReview(t *testing.T) {
	t.Parallel()

	opts := baseOptions(question(1))
	opts.Unattended.Enabled = true
	h := newHarness(t, opts, func(int, entity.QuestionConfig) (failover.Decision, error) {
		return failover.Decision{Outcome: classify.ManualIntervention{Reason: "看不懂"}}, nil
	})

	require.Error(t, h.loop.Run(context.Background()))
	assert.Equal(t, 1, h.eval.calls)
	assert.NotContains(t, h.sleeps, 120*time.Second)
}

func TestRunThreeStepInput(t *testing.T) {
	t.Parallel()

	q := question(1)
	q.MaxScore = 60
	q.ThreeStep = &entity.ThreeStepInputs{
		Step1: entity.Point{X: 1, Y: 1},
		Step2: entity.Point{X: 2, Y: 2},
		Step3: entity.Point{X: 3, Y: 3},
	}
	opts := baseOptions(q)
	opts.Grading.SingleQuestionPerRun = true
	h := newHarness(t, opts, func(int, entity.QuestionConfig) (failover.Decision, error) {
		return scored(35), nil
	})

	require.NoError(t, h.loop.Run(context.Background()))
	assert.Equal(t, []string{
		"capture",
		"click 1,1", "clear", "type 20",
		"click 2,2", "clear", "type 15",
		"click 3,3", "clear", "type 0",
		"click 20,20",
	}, h.screen.actions)
}

func TestRunThreeStepIncompleteIsConfigError(t *testing.T) {
	t.Parallel()

	q := question(1)
	q.ThreeStep = &entity.ThreeStepInputs{Step1: entity.Point{X: 1, Y: 1}}
	opts := baseOptions(q)
	opts.Grading.SingleQuestionPerRun = true
	h := newHarness(t, opts, func(int, entity.QuestionConfig) (failover.Decision, error) {
		return scored(35), nil
	})

	err := h.loop.Run(context.Background())
	var he *HaltError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, StopConfigError, he.Reason)
	assert.Zero(t, h.screen.captures)
}

func TestRunMissingPositionsIsConfigError(t *testing.T) {
	t.Parallel()

	q := question(3)
	q.Confirm = entity.Point{}
	h := newHarness(t, baseOptions(q), func(int, entity.QuestionConfig) (failover.Decision, error) {
		return scored(1), nil
	})

	err := h.loop.Run(context.Background())
	var he *HaltError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, StopConfigError, he.Reason)
	require.NotNil(t, he.Err)
	assert.Equal(t, "question_3_position", he.Err.ConfigKey)
	assert.True(t, he.Reason.NeedsConfigFix())
	assert.Zero(t, h.eval.calls)
}

func TestRunCaptureFailureIsResourceError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, baseOptions(question(1)), func(int, entity.QuestionConfig) (failover.Decision, error) {
		return scored(1), nil
	})
	h.screen.captureErr = errors.New("display unavailable")

	err := h.loop.Run(context.Background())
	var he *HaltError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, StopResourceError, he.Reason)
	assert.Equal(t, common.ResourceScreenshot, he.Err.Type)
	assert.Equal(t, 2, h.screen.captures)
	assert.Zero(t, h.eval.calls)
}

func TestRunStopAfterEvaluateSkipsInput(t *testing.T) {
	t.Parallel()

	var loop *Loop
	h := newHarness(t, baseOptions(question(1), question(2)), func(int, entity.QuestionConfig) (failover.Decision, error) {
		loop.Stop()
		return scored(4), nil
	})
	loop = h.loop

	err := h.loop.Run(context.Background())
	var he *HaltError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, StopUserStopped, he.Reason)
	assert.Equal(t, []string{"capture"}, h.screen.actions)
	assert.Equal(t, PhaseError, h.loop.State().Phase)
	require.Len(t, h.notifier.terminal, 1)
	assert.Contains(t, h.notifier.terminal[0], "用户停止")
}

func TestRunResetsClientsOnInterval(t *testing.T) {
	t.Parallel()

	opts := baseOptions(question(1))
	opts.Grading.Cycles = 5
	opts.Grading.ResetInterval = 2
	h := newHarness(t, opts, func(int, entity.QuestionConfig) (failover.Decision, error) {
		return scored(3), nil
	})

	require.NoError(t, h.loop.Run(context.Background()))
	assert.Equal(t, 2, h.eval.clientResets)
}

func TestRunDualRecordsDetail(t *testing.T) {
	t.Parallel()

	opts := baseOptions(question(1))
	opts.Grading.DualEvaluation = true
	opts.SecondModelID = "m2"
	h := newHarness(t, opts, func(int, entity.QuestionConfig) (failover.Decision, error) {
		d := scored(7.25)
		d.Provenance = constants.ProvenanceDual
		d.Dual = &entity.DualDetail{FirstScore: 7, SecondScore: 7.5, Difference: 0.5, Threshold: 5}
		return d, nil
	})

	require.NoError(t, h.loop.Run(context.Background()))
	require.Len(t, h.recorder.scores, 1)
	rec := h.recorder.scores[0]
	assert.Equal(t, constants.ProvenanceDual, rec.Provenance)
	require.NotNil(t, rec.Dual)
	assert.Equal(t, 0.5, rec.Dual.Difference)
	assert.Equal(t, "m2", h.recorder.summaries[0].SecondModelID)
}

func TestRunWithoutQuestions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, baseOptions(), nil)
	err := h.loop.Run(context.Background())
	var he *HaltError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, StopConfigError, he.Reason)
}

func TestStopReasonProperties(t *testing.T) {
	t.Parallel()

	assert.True(t, StopNetworkError.Recoverable())
	assert.False(t, StopAPIError.Recoverable())
	assert.False(t, StopManualIntervention.Recoverable())
	assert.True(t, StopThresholdExceeded.NeedsManualReview())
	assert.True(t, StopResourceError.NeedsConfigFix())
	assert.Equal(t, "双评分差过大", StopThresholdExceeded.DisplayName())
	assert.Equal(t, "AI接口错误", StopAPIError.DisplayName())
}

func TestFormatScore(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "7.5", FormatScore(7.5))
	assert.Equal(t, "8", FormatScore(8))
	assert.Equal(t, "0", FormatScore(0))
}
