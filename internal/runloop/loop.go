// Package runloop drives a grading run: for every cycle and question it
// captures the answer area, gets a score from the AI backends and types it
// into the grading application.
package runloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/autograder/internal/classify"
	"github.com/joseph-ayodele/autograder/internal/common"
	"github.com/joseph-ayodele/autograder/internal/entity"
	"github.com/joseph-ayodele/autograder/internal/failover"
	"github.com/joseph-ayodele/autograder/internal/llm"
	"github.com/joseph-ayodele/autograder/internal/retry"
	"github.com/joseph-ayodele/autograder/internal/score"
)

const rubricSummaryLen = 50

// Options configures a Loop.
type Options struct {
	Subject       string
	Questions     []entity.QuestionConfig
	Grading       common.GradingConfig
	Unattended    common.UnattendedConfig
	FirstModelID  string
	SecondModelID string
	// CaptureRetry bounds screenshot retries. Every capture error is retried.
	CaptureRetry retry.Policy
}

// HaltError is returned by Run when a run ends without completing.
type HaltError struct {
	Reason  StopReason
	Message string
	Detail  string
	Err     *common.GradingError
}

func (e *HaltError) Error() string {
	if e.Message == "" {
		return e.Reason.DisplayName()
	}
	return fmt.Sprintf("[%s] %s", e.Reason.DisplayName(), e.Message)
}

func (e *HaltError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

type halt struct {
	reason  StopReason
	message string
	detail  string
	err     *common.GradingError
	// manual routes the final notification to ManualIntervention.
	manual bool
}

func (h *halt) interruptReason() string {
	if h.message == "" {
		return h.reason.DisplayName()
	}
	return fmt.Sprintf("[%s] %s", h.reason.DisplayName(), h.message)
}

func errHalt(ge *common.GradingError) *halt {
	return &halt{reason: reasonFor(ge), message: ge.Message, detail: ge.RecoveryAction, err: ge}
}

func stopHalt() *halt {
	return &halt{reason: StopUserStopped, message: "用户手动停止阅卷"}
}

// Loop runs grading cycles. One goroutine calls Run; Stop and State may be
// called from anywhere.
type Loop struct {
	opts      Options
	screen    ScreenIO
	evaluator Evaluator
	recorder  Recorder
	notifier  Notifier
	processor *score.Processor
	logger    *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	stopped atomic.Bool

	mu    sync.Mutex
	state State
	runID string
}

// New creates a Loop. A nil recorder drops records; a nil notifier logs.
func New(opts Options, screen ScreenIO, evaluator Evaluator, recorder Recorder, notifier Notifier, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &Loop{
		opts:      opts,
		screen:    screen,
		evaluator: evaluator,
		recorder:  recorder,
		notifier:  notifier,
		processor: score.NewProcessor(logger),
		logger:    logger,
		sleep:     sleepCtx,
		now:       time.Now,
		state:     State{Phase: PhaseIdle},
	}
}

// State returns a snapshot of the current run state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stop asks the running loop to halt at its next checkpoint. Input already in
// progress is finished first.
func (l *Loop) Stop() {
	if !l.stopped.Swap(true) {
		l.logger.Info("runloop.stop_requested")
	}
}

// Run executes the configured cycles. It returns nil when every cycle
// completed and a *HaltError otherwise.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if p := l.state.Phase; p == PhaseRunning || p == PhaseRetrying {
		l.mu.Unlock()
		return errors.New("run loop already running")
	}
	l.runID = uuid.NewString()
	l.state = State{Phase: PhaseIdle}
	l.mu.Unlock()
	l.stopped.Store(false)

	ctx = common.WithRunID(ctx, l.runID)
	start := l.now()
	l.evaluator.Reset()
	l.logger.Info("runloop.start",
		"run_id", l.runID,
		"cycles", l.cycles(),
		"questions", len(l.opts.Questions),
		"dual", l.opts.Grading.DualEvaluation,
		"unattended", l.opts.Unattended.Enabled,
	)

	var h *halt
	for round := 0; ; round++ {
		l.mu.Lock()
		l.state = State{Phase: PhaseRunning, Total: l.cycles(), RetryRound: round}
		l.mu.Unlock()

		h = l.runOnce(ctx)
		if !l.shouldReenter(ctx, h, round) {
			break
		}

		delay := l.opts.Unattended.RetryDelay
		l.mu.Lock()
		l.state.Phase = PhaseRetrying
		l.state.StopReason = h.reason
		l.state.InterruptReason = h.interruptReason()
		l.mu.Unlock()
		l.logger.Warn("runloop.unattended.retry",
			"round", round+1,
			"max_rounds", l.opts.Unattended.MaxRounds,
			"reason", h.reason,
			"delay_ms", delay.Milliseconds(),
		)
		l.notifier.Log(slog.LevelWarn, fmt.Sprintf("[无人模式] 检测到可重试错误 (%s)，%s 后开始第 %d/%d 次重试",
			h.interruptReason(), delay, round+1, l.opts.Unattended.MaxRounds))

		if err := l.sleep(ctx, delay); err != nil || l.stopped.Load() {
			h = stopHalt()
			break
		}
	}
	return l.finish(ctx, h, start)
}

func (l *Loop) cycles() int {
	return max(l.opts.Grading.Cycles, 1)
}

func (l *Loop) shouldReenter(ctx context.Context, h *halt, round int) bool {
	// auth, parse and business halts stay terminal in unattended mode
	if h == nil || !h.reason.Recoverable() || h.err == nil || h.err.Kind != common.KindNetwork || !l.opts.Unattended.Enabled {
		return false
	}
	if round >= l.opts.Unattended.MaxRounds {
		l.logger.Error("runloop.unattended.exhausted", "max_rounds", l.opts.Unattended.MaxRounds)
		return false
	}
	return ctx.Err() == nil && !l.stopped.Load()
}

// runOnce runs every cycle once. A nil result means all cycles completed.
func (l *Loop) runOnce(ctx context.Context) *halt {
	questions := l.opts.Questions
	if len(questions) == 0 {
		return errHalt(common.NewConfigError("未配置题目信息", "questions", nil))
	}

	cycles := l.cycles()
	papers := 0
	for i := 0; i < cycles; i++ {
		if l.stopRequested(ctx) {
			return stopHalt()
		}
		l.logger.Info("runloop.cycle.start", "cycle", i+1, "of", cycles, "questions", len(questions))

		for pos, q := range questions {
			if h := l.processQuestion(ctx, q, pos, len(questions)); h != nil {
				return h
			}
		}

		papers++
		if n := l.opts.Grading.ResetInterval; n > 0 && papers%n == 0 {
			l.evaluator.ResetClients()
			l.logger.Info("runloop.clients_reset", "papers", papers)
		}

		l.mu.Lock()
		l.state.Completed = i + 1
		l.mu.Unlock()
		l.notifier.Progress(i+1, cycles)

		if i < cycles-1 && l.opts.Grading.WaitTime > 0 {
			if err := l.sleep(ctx, l.opts.Grading.WaitTime); err != nil {
				return stopHalt()
			}
		}
	}
	return nil
}

func (l *Loop) stopRequested(ctx context.Context) bool {
	return l.stopped.Load() || ctx.Err() != nil
}

func (l *Loop) processQuestion(ctx context.Context, q entity.QuestionConfig, pos, n int) *halt {
	start := l.now()
	log := l.logger.With("question", q.Index)
	log.Info("runloop.question.start", "position", pos+1, "of", n)

	if ge := l.validate(q); ge != nil {
		return errHalt(ge)
	}
	if l.stopRequested(ctx) {
		return stopHalt()
	}

	image, err := retry.Do(ctx, l.captureRetry(), "capture", func(ctx context.Context) ([]byte, error) {
		return l.screen.Capture(ctx, q.AnswerArea)
	})
	if err != nil {
		if l.stopRequested(ctx) {
			return stopHalt()
		}
		return errHalt(common.NewResourceError(fmt.Sprintf("第 %d 题截图失败: %v", q.Index, err), common.ResourceScreenshot, "", err))
	}

	prompt, err := llm.BuildPrompt(l.opts.Subject, q.Rubric, q.QuestionType)
	if err != nil {
		return errHalt(common.ClassifyError(err))
	}

	var d failover.Decision
	if l.opts.Grading.DualEvaluation {
		d, err = l.evaluator.EvaluateDual(ctx, image, prompt, q, l.opts.Grading.ScoreDiffThreshold)
	} else {
		d, err = l.evaluator.Evaluate(ctx, image, prompt, q)
	}
	if err != nil {
		return l.evaluationHalt(ctx, err)
	}
	if l.stopRequested(ctx) {
		return stopHalt()
	}

	switch out := d.Outcome.(type) {
	case classify.ManualIntervention:
		if out.Reason == failover.ReasonBothFailed {
			return bothFailedHalt(q, d.LastError)
		}
		log.Warn("runloop.manual_intervention", "reason", out.Reason)
		return &halt{
			reason:  StopManualIntervention,
			message: fmt.Sprintf("题目 %d 需人工介入: %s", q.Index, out.Reason),
			detail:  out.RawFeedback,
			manual:  true,
		}
	case classify.AnomalyPaper:
		return l.handleAnomaly(ctx, q, out)
	}

	graded, ok := classify.AsGraded(d.Outcome)
	if !ok {
		msg := fmt.Sprintf("第 %d 题评分失败", q.Index)
		if d.Outcome != nil {
			msg += ": " + classify.Describe(d.Outcome)
		}
		return errHalt(common.NewBusinessError(msg, common.BusinessScoreParse, q.Index, d.LastError))
	}

	res, err := l.processor.Process(graded.Total, q.MinScore, q.MaxScore, q.RoundingStep)
	if err != nil {
		return errHalt(common.NewBusinessError(fmt.Sprintf("题目%d 分数处理失败：%v", q.Index, err), common.BusinessScoreParse, q.Index, err))
	}
	log.Info("runloop.score.processed", "raw", graded.Total, "final", res.Final, "trace", res.Trace)

	if l.stopRequested(ctx) {
		return stopHalt()
	}
	// Input runs to completion even if the run is cancelled meanwhile.
	if err := l.enterScore(context.WithoutCancel(ctx), q, res.Final); err != nil {
		return errHalt(common.NewResourceError(fmt.Sprintf("题目 %d 分数输入失败: %v", q.Index, err), common.ResourceInput, "", err))
	}

	l.record(ctx, entity.ScoreRecord{
		RunID:         l.runID,
		QuestionIndex: q.Index,
		FinalScore:    res.Final,
		Itemized:      graded.Itemized,
		Provenance:    d.Provenance,
		Backend:       d.Backend,
		AnswerSummary: graded.AnswerSummary,
		ScoringBasis:  graded.ScoringBasis,
		RawResponse:   graded.RawResponse,
		Dual:          d.Dual,
		RubricSummary: q.RubricSummary(rubricSummaryLen),
		ProcessTrace:  res.Trace,
		Timestamp:     l.now(),
	})
	log.Info("runloop.question.done",
		"final", res.Final,
		"backend", d.Backend,
		"provenance", d.Provenance,
		"elapsed_ms", l.now().Sub(start).Milliseconds(),
	)

	if pos < n-1 && l.opts.Grading.QuestionPause > 0 {
		if err := l.sleep(ctx, l.opts.Grading.QuestionPause); err != nil {
			return stopHalt()
		}
	}
	return nil
}

func (l *Loop) validate(q entity.QuestionConfig) *common.GradingError {
	if q.ScoreInput.IsZero() || q.Confirm.IsZero() {
		return common.NewConfigError(fmt.Sprintf("第 %d 题未配置位置信息", q.Index), fmt.Sprintf("question_%d_position", q.Index), nil)
	}
	if q.AnswerArea.IsEmpty() {
		return common.NewConfigError(fmt.Sprintf("第 %d 题未配置答案区域", q.Index), fmt.Sprintf("question_%d_answer_area", q.Index), nil)
	}
	if l.threeStep(q) && !q.ThreeStep.Complete() {
		return common.NewConfigError("三步打分模式启用，但部分输入位置未配置", fmt.Sprintf("question_%d_three_step", q.Index), nil)
	}
	return nil
}

func (l *Loop) captureRetry() retry.Policy {
	p := l.opts.CaptureRetry
	if p.MaxRetries == 0 && p.BaseDelay == 0 {
		def := retry.DefaultPolicy()
		p.MaxRetries, p.BaseDelay, p.MaxDelay = def.MaxRetries, def.BaseDelay, def.MaxDelay
	}
	p.Retryable = func(error) bool { return true }
	p.Logger = l.logger
	if p.Sleep == nil {
		p.Sleep = l.sleep
	}
	return p
}

func (l *Loop) evaluationHalt(ctx context.Context, err error) *halt {
	var te *failover.ThresholdExceededError
	if errors.As(err, &te) {
		l.logger.Warn("runloop.threshold_exceeded", "difference", te.Difference, "threshold", te.Threshold)
		var ge *common.GradingError
		errors.As(err, &ge)
		return &halt{
			reason:  StopThresholdExceeded,
			message: te.Error(),
			detail:  fmt.Sprintf("第一次评分: %g, 第二次评分: %g", te.First, te.Second),
			err:     ge,
		}
	}
	if l.stopRequested(ctx) {
		return stopHalt()
	}
	return errHalt(common.ClassifyError(err))
}

func bothFailedHalt(q entity.QuestionConfig, lastErr error) *halt {
	const msg = "两个AI接口均失败，请检查网络或密钥配置"
	h := &halt{
		reason:  StopAPIError,
		message: msg,
		detail:  "请检查: 1)网络连接 2)API密钥 3)模型ID",
		err:     common.NewBusinessError(msg, common.BusinessAPIResponse, q.Index, lastErr),
		manual:  true,
	}
	if lastErr == nil {
		return h
	}
	if c := retry.Classify(lastErr); c.Network() {
		h.reason = StopNetworkError
		h.err = common.NewNetworkError(msg, networkType(c.Kind), lastErr)
	}
	return h
}

func networkType(kind string) string {
	switch kind {
	case retry.KindTimeout:
		return common.NetworkTimeout
	case retry.KindRateLimit:
		return common.NetworkRateLimit
	case retry.KindServiceUnavailable:
		return common.NetworkServiceDown
	case retry.KindServerError:
		return common.NetworkServerError
	}
	return common.NetworkConnection
}

func (l *Loop) handleAnomaly(ctx context.Context, q entity.QuestionConfig, a classify.AnomalyPaper) *halt {
	if !q.HasAnomalyButton() {
		detail := a.RawFeedback
		if detail == "" {
			detail = "AI反馈: " + a.Reason
		}
		l.logger.Warn("runloop.anomaly.halt", "question", q.Index, "reason", a.Reason)
		return &halt{
			reason:  StopAnomalyPaper,
			message: fmt.Sprintf("题目 %d 检测到异常试卷: %s", q.Index, a.Reason),
			detail:  detail,
			manual:  true,
		}
	}

	l.logger.Warn("runloop.anomaly.skip", "question", q.Index, "reason", a.Reason, "x", q.AnomalyButton.X, "y", q.AnomalyButton.Y)
	if err := l.screen.Click(context.WithoutCancel(ctx), *q.AnomalyButton); err != nil {
		return errHalt(common.NewResourceError(fmt.Sprintf("题目 %d 点击异常卷按钮失败: %v", q.Index, err), common.ResourceInput, "", err))
	}
	if err := l.sleep(ctx, l.opts.Grading.AnomalyWait); err != nil {
		return stopHalt()
	}
	l.notifier.Log(slog.LevelWarn, fmt.Sprintf("第 %d 题异常卷记录 - 异常类型: %s", q.Index, a.Reason))
	return nil
}

func (l *Loop) record(ctx context.Context, rec entity.ScoreRecord) {
	if err := l.recorder.RecordScore(context.WithoutCancel(ctx), rec); err != nil {
		l.logger.Warn("runloop.record.failed", "question", rec.QuestionIndex, "error", err)
	}
}

func (l *Loop) finish(ctx context.Context, h *halt, start time.Time) error {
	reason := StopCompleted
	if h != nil {
		reason = h.reason
	}
	phase := phaseFor(reason)

	l.mu.Lock()
	l.state.Phase = phase
	l.state.StopReason = reason
	if h != nil {
		l.state.InterruptReason = h.interruptReason()
	}
	snapshot := l.state
	l.mu.Unlock()

	elapsed := l.now().Sub(start)
	summary := entity.SummaryRecord{
		RunID:                l.runID,
		TotalCycles:          l.cycles(),
		QuestionsPerCycle:    len(l.opts.Questions),
		CyclesCompleted:      snapshot.Completed,
		Status:               string(phase),
		StopReason:           string(reason),
		InterruptReason:      snapshot.InterruptReason,
		Elapsed:              elapsed,
		DualEvaluation:       l.opts.Grading.DualEvaluation,
		FirstModelID:         l.opts.FirstModelID,
		SingleQuestionPerRun: l.opts.Grading.SingleQuestionPerRun,
		Timestamp:            l.now(),
	}
	if l.opts.Grading.DualEvaluation {
		summary.ScoreDiffThreshold = l.opts.Grading.ScoreDiffThreshold
		summary.SecondModelID = l.opts.SecondModelID
	}
	if err := l.recorder.RecordSummary(context.WithoutCancel(ctx), summary); err != nil {
		l.logger.Warn("runloop.summary.failed", "error", err)
	}

	l.logger.Info("runloop.finished",
		"run_id", l.runID,
		"status", phase,
		"stop_reason", reason,
		"cycles_completed", snapshot.Completed,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	l.notify(h)

	if h == nil {
		return nil
	}
	return &HaltError{Reason: h.reason, Message: h.message, Detail: h.detail, Err: h.err}
}

func (l *Loop) notify(h *halt) {
	switch {
	case h == nil:
		l.notifier.Completed()
	case h.reason == StopThresholdExceeded:
		l.notifier.ThresholdExceeded(h.message)
	case h.manual:
		l.notifier.ManualIntervention(h.message, h.detail)
	default:
		l.notifier.Error(h.interruptReason())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
