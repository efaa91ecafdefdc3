package common

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/autograder/constants"
)

func TestLoadConfigFromYAML(t *testing.T) {
	t.Setenv("GRADER_SECOND_API_KEY", "sk-from-env")
	t.Setenv("GRADER_CYCLES", "5")

	cfg, err := LoadConfig(filepath.Join("testdata", "grading.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "数学", cfg.Subject)
	assert.Equal(t, "sk-from-env", cfg.Second.APIKey)
	assert.Equal(t, 5, cfg.Grading.Cycles)
	assert.Equal(t, 2*time.Second, cfg.Grading.WaitTime)
	assert.Equal(t, 500*time.Millisecond, cfg.Grading.QuestionPause)
	assert.Equal(t, 3.0, cfg.Grading.ScoreDiffThreshold)
	assert.Equal(t, "manual", cfg.Grading.BlankPolicy)
	assert.Equal(t, "manual", cfg.Grading.GibberishPolicy)
	assert.Equal(t, 120*time.Second, cfg.Unattended.RetryDelay)
	assert.Equal(t, 10, cfg.Unattended.MaxRounds)
	assert.Equal(t, 40, cfg.Grading.ResetInterval)

	require.Len(t, cfg.Questions, 2)
	q1, q2 := cfg.Questions[0], cfg.Questions[1]
	assert.Equal(t, 1, q1.Index)
	assert.Equal(t, constants.FormulaProofStepBased, q1.QuestionType)
	assert.Equal(t, 0.5, q1.RoundingStep)
	assert.Equal(t, constants.DefaultQuestionType, q2.QuestionType)
	assert.Equal(t, 1.0, q2.RoundingStep)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "CONFIG_ERROR", appErr.Code)
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("GRADER_FIRST_API_KEY", "")

	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "first.api_key")
	assert.Contains(t, err.Error(), "questions")

	cfg.First.APIKey, cfg.First.ModelID = "k", "m"
	cfg.Grading.BlankPolicy = "skip"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grading.blank_policy")
}

func TestConfigValidateDualEvaluation(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata", "grading.yaml"))
	require.NoError(t, err)
	cfg.Second.APIKey = "sk-second"
	cfg.Grading.DualEvaluation = true

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grading.dual_evaluation")

	cfg.Grading.SingleQuestionPerRun = true
	err = cfg.Validate()
	require.Error(t, err, "two enabled questions")
	assert.Contains(t, err.Error(), "grading.dual_evaluation")

	cfg.Grading.MaxQuestions = 1
	require.NoError(t, cfg.Validate())
}

func TestEnabledQuestionsCapsAtMax(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata", "grading.yaml"))
	require.NoError(t, err)
	cfg.Grading.MaxQuestions = 1
	assert.Len(t, cfg.EnabledQuestions(), 1)
}

func TestClassifyAndFormatError(t *testing.T) {
	ge := ClassifyError(errors.New("dial tcp: connection refused"))
	assert.Equal(t, KindNetwork, ge.Kind)
	assert.True(t, ge.Recoverable)

	cfgErr := NewConfigError("未配置题目信息", "questions", nil)
	assert.Same(t, cfgErr, ClassifyError(cfgErr))
	assert.Contains(t, FormatError(cfgErr, true), "questions")
}
