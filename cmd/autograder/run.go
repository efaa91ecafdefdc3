package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joseph-ayodele/autograder/internal/async"
	"github.com/joseph-ayodele/autograder/internal/classify"
	"github.com/joseph-ayodele/autograder/internal/common"
	"github.com/joseph-ayodele/autograder/internal/export"
	"github.com/joseph-ayodele/autograder/internal/failover"
	"github.com/joseph-ayodele/autograder/internal/llm"
	"github.com/joseph-ayodele/autograder/internal/metrics"
	"github.com/joseph-ayodele/autograder/internal/repository"
	"github.com/joseph-ayodele/autograder/internal/retry"
	"github.com/joseph-ayodele/autograder/internal/runloop"
	"github.com/joseph-ayodele/autograder/internal/screen"
	"github.com/joseph-ayodele/autograder/internal/server"
)

func newRunCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a grading batch",
		Long: `Run a grading batch against the configured questions.

Answer images are replayed from --replay-dir in name order; clicks and typed
scores are logged instead of sent to a real screen.

Examples:
  autograder run -c grading.yaml --replay-dir ./answers
  AUTOGRADER_UNATTENDED=true autograder run -c grading.yaml --replay-dir ./answers --loop-images`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			applyRunFlags(v, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runGrading(cmd.Context(), cfg, replayOptions{
				Dir:   v.GetString("replay-dir"),
				Loop:  v.GetBool("loop-images"),
				Watch: v.GetBool("watch"),
				Wait:  v.GetDuration("watch-wait"),
			}, slog.Default())
		},
	}

	cmd.Flags().String("replay-dir", "", "Directory of answer images (jpg) served as screen captures")
	cmd.Flags().Bool("loop-images", false, "Start over when every replay image has been served")
	cmd.Flags().Bool("watch", false, "Wait for new images dropped into --replay-dir")
	cmd.Flags().Duration("watch-wait", 30*time.Second, "How long to wait for a new image in --watch mode")
	cmd.Flags().Int("cycles", 0, "Override grading.cycles")
	cmd.Flags().Bool("dual", false, "Enable dual evaluation (single-question runs only)")
	cmd.Flags().Bool("unattended", false, "Re-enter automatically after network failures")
	_ = cmd.MarkFlagRequired("replay-dir")
	return cmd
}

func applyRunFlags(v *viper.Viper, cfg *common.Config) {
	if n := v.GetInt("cycles"); n > 0 {
		cfg.Grading.Cycles = n
	}
	if v.GetBool("dual") {
		cfg.Grading.DualEvaluation = true
	}
	if v.GetBool("unattended") {
		cfg.Unattended.Enabled = true
	}
}

type replayOptions struct {
	Dir   string
	Loop  bool
	Watch bool
	Wait  time.Duration
}

func runGrading(parent context.Context, cfg *common.Config, ro replayOptions, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	sigCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(reg)

	orch, err := newOrchestrator(cfg, m, logger)
	if err != nil {
		return err
	}

	sinks, closeSinks, err := openSinks(sigCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()
	queue := async.NewRecordQueue(logger, sinks, async.WithQueueSize(cfg.Records.QueueSize))

	replay, err := screen.NewReplay(ro.Dir, ro.Loop, logger)
	if err != nil {
		return common.NewResourceError("无法读取回放图片目录", common.ResourceScreenshot, ro.Dir, err)
	}
	if ro.Watch {
		if err := replay.Watch(sigCtx, screen.WatchConfig{Wait: ro.Wait}); err != nil {
			return common.NewResourceError("无法监听回放图片目录", common.ResourceScreenshot, ro.Dir, err)
		}
	}

	srv := server.New(server.Config{
		GRPCAddr:    cfg.Server.GRPCAddr,
		MetricsAddr: cfg.Server.MetricsAddr,
		Gatherer:    reg,
	}, logger)
	status := server.NewStatusNotifier(srv, m)
	srvCtx, stopServer := context.WithCancel(context.Background())
	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.Serve(srvCtx) }()
	defer func() {
		stopServer()
		if err := <-srvDone; err != nil {
			logger.Warn("server.stopped_with_error", "error", err)
		}
	}()

	loop := runloop.New(runloop.Options{
		Subject:       cfg.Subject,
		Questions:     cfg.EnabledQuestions(),
		Grading:       cfg.Grading,
		Unattended:    cfg.Unattended,
		FirstModelID:  cfg.First.ModelID,
		SecondModelID: cfg.Second.ModelID,
	}, replay, orch, queue, runloop.MultiNotifier{runloop.LogNotifier{Logger: logger}, status}, logger)

	// A signal asks the loop to stop at its next checkpoint; input already in
	// progress still completes.
	runDone := make(chan struct{})
	go func() {
		select {
		case <-sigCtx.Done():
			loop.Stop()
		case <-runDone:
		}
	}()

	status.Started()
	runErr := loop.Run(parent)
	close(runDone)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	queue.Shutdown(shutdownCtx)

	var halt *runloop.HaltError
	if errors.As(runErr, &halt) {
		if halt.Err != nil {
			fmt.Fprintln(os.Stderr, common.FormatError(halt.Err, true))
		}
		if halt.Reason == runloop.StopUserStopped {
			return nil
		}
	}
	return runErr
}

func newOrchestrator(cfg *common.Config, m *metrics.Metrics, logger *slog.Logger) (*failover.Orchestrator, error) {
	clientCfg := llm.Config{Timeout: cfg.LLM.Timeout, Endpoints: cfg.LLM.Endpoints}

	classifier, err := classify.NewClassifier(classify.Policy{
		Blank:     classify.ParseAction(cfg.Grading.BlankPolicy, classify.ActionZero),
		Gibberish: classify.ParseAction(cfg.Grading.GibberishPolicy, classify.ActionManual),
		Patterns:  classify.PatternsFromConfig(cfg.Patterns),
	}, logger)
	if err != nil {
		return nil, common.NewConfigError("关键词配置无效", "patterns", err)
	}

	policy := retry.Policy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		MaxDelay:   cfg.Retry.MaxDelay,
		OnRetry: func(name string, c retry.Classification) {
			m.ObserveRetry(name, c.Kind)
		},
	}

	a := failover.Backend{
		Provider: cfg.First.Provider,
		APIKey:   cfg.First.APIKey,
		Model:    cfg.First.ModelID,
		Sender:   llm.NewClient(clientCfg, logger).WithObserver(m),
	}
	b := failover.Backend{
		Provider: cfg.Second.Provider,
		APIKey:   cfg.Second.APIKey,
		Model:    cfg.Second.ModelID,
	}
	// The second slot stays without a sender until it is configured; calls to
	// it then fail over straight back to the first.
	if cfg.Second.APIKey != "" && cfg.Second.ModelID != "" {
		b.Sender = llm.NewClient(clientCfg, logger).WithObserver(m)
	}
	return failover.New(a, b, classifier, policy, logger).WithObserver(m), nil
}

// openSinks builds the record destinations named in config. The returned
// function closes them after the record queue has drained.
func openSinks(ctx context.Context, cfg *common.Config, logger *slog.Logger) ([]async.Sink, func(), error) {
	var (
		sinks   []async.Sink
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Records.Driver != "none" && cfg.Records.DSN != "" {
		db, err := repositoryOpen(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { repositoryClose(db, logger) })
		sinks = append(sinks, repository.NewRecordRepository(db, logger))
	}

	if cfg.Records.XLSXPath != "" {
		rec, err := export.NewXLSXRecorder(cfg.Records.XLSXPath, logger)
		if err != nil {
			closeAll()
			return nil, nil, common.NewResourceError("无法打开评分表格", common.ResourceFileIO, cfg.Records.XLSXPath, err)
		}
		closers = append(closers, func() {
			if err := rec.Close(); err != nil {
				logger.Warn("export.xlsx.close_failed", "error", err)
			}
		})
		sinks = append(sinks, rec)
	}

	if len(sinks) == 0 {
		logger.Warn("records.disabled", "reason", "no records.dsn or records.xlsx_path configured")
	}
	return sinks, closeAll, nil
}
