package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/autograder/constants"
	"github.com/joseph-ayodele/autograder/internal/entity"
)

// Config holds all application configuration
type Config struct {
	Subject    string                  `yaml:"subject"`
	First      BackendConfig           `yaml:"first"`
	Second     BackendConfig           `yaml:"second"`
	Grading    GradingConfig           `yaml:"grading"`
	Questions  []entity.QuestionConfig `yaml:"questions"`
	Unattended UnattendedConfig        `yaml:"unattended"`
	LLM        LLMConfig               `yaml:"llm"`
	Retry      RetryConfig             `yaml:"retry"`
	Patterns   PatternConfig           `yaml:"patterns"`
	Records    RecordsConfig           `yaml:"records"`
	Server     ServerConfig            `yaml:"server"`
}

// BackendConfig selects one AI backend.
type BackendConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	ModelID  string `yaml:"model_id"`
}

// GradingConfig holds run loop settings.
type GradingConfig struct {
	Cycles               int           `yaml:"cycles"`
	WaitTime             time.Duration `yaml:"wait_time"`
	QuestionPause        time.Duration `yaml:"question_pause"`
	MaxQuestions         int           `yaml:"max_questions"`
	SingleQuestionPerRun bool          `yaml:"single_question_per_run"`
	DualEvaluation       bool          `yaml:"dual_evaluation"`
	ScoreDiffThreshold   float64       `yaml:"score_diff_threshold"`
	RoundingStep         float64       `yaml:"rounding_step"`
	BlankPolicy          string        `yaml:"blank_policy"`
	GibberishPolicy      string        `yaml:"gibberish_policy"`
	AnomalyWait          time.Duration `yaml:"anomaly_wait"`
	ResetInterval        int           `yaml:"reset_interval"`
	ThreeStepCap         float64       `yaml:"three_step_cap"`
}

// UnattendedConfig controls automatic re-entry after recoverable halts.
type UnattendedConfig struct {
	Enabled    bool          `yaml:"enabled"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	MaxRounds  int           `yaml:"max_rounds"`
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Timeout   time.Duration     `yaml:"timeout"`
	Endpoints map[string]string `yaml:"endpoints"`
}

// RetryConfig holds the per-call retry budget.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// PatternConfig overrides classifier keyword lists. Empty lists keep the defaults.
type PatternConfig struct {
	Blank          []string `yaml:"blank"`
	ImageEmpty     []string `yaml:"image_empty"`
	Gibberish      []string `yaml:"gibberish"`
	Anomaly        []string `yaml:"anomaly"`
	Unrecognizable []string `yaml:"unrecognizable"`
	ImageRequest   []string `yaml:"image_request"`
	AlwaysManual   []string `yaml:"always_manual"`
}

// RecordsConfig selects where score and summary records go.
type RecordsConfig struct {
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	XLSXPath  string `yaml:"xlsx_path"`
	QueueSize int    `yaml:"queue_size"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadConfig reads a YAML file, applies defaults and then environment overrides.
// An empty path yields defaults plus environment.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, NewAppError("CONFIG_ERROR", fmt.Sprintf("read config %s", path), err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, NewAppError("CONFIG_ERROR", fmt.Sprintf("parse config %s", path), err)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Subject == "" {
		c.Subject = "通用"
	}
	if c.First.Provider == "" {
		c.First.Provider = "volcengine"
	}
	if c.Second.Provider == "" {
		c.Second.Provider = "moonshot"
	}
	g := &c.Grading
	if g.Cycles <= 0 {
		g.Cycles = 1
	}
	if g.WaitTime <= 0 {
		g.WaitTime = 1500 * time.Millisecond
	}
	if g.QuestionPause <= 0 {
		g.QuestionPause = 500 * time.Millisecond
	}
	if g.MaxQuestions <= 0 {
		g.MaxQuestions = 7
	}
	if g.ScoreDiffThreshold <= 0 {
		g.ScoreDiffThreshold = 5
	}
	if g.RoundingStep == 0 {
		g.RoundingStep = 0.5
	}
	if g.BlankPolicy == "" {
		g.BlankPolicy = "zero"
	}
	if g.GibberishPolicy == "" {
		g.GibberishPolicy = "manual"
	}
	if g.AnomalyWait <= 0 {
		g.AnomalyWait = 2 * time.Second
	}
	if g.ResetInterval <= 0 {
		g.ResetInterval = 40
	}
	if g.ThreeStepCap <= 0 {
		g.ThreeStepCap = 20
	}
	if c.Unattended.RetryDelay <= 0 {
		c.Unattended.RetryDelay = 120 * time.Second
	}
	if c.Unattended.MaxRounds <= 0 {
		c.Unattended.MaxRounds = 10
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 60 * time.Second
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 1
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = time.Second
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 10 * time.Second
	}
	if c.Records.Driver == "" {
		c.Records.Driver = "sqlite"
	}
	if c.Records.QueueSize <= 0 {
		c.Records.QueueSize = 64
	}
	for i := range c.Questions {
		q := &c.Questions[i]
		if q.Index == 0 {
			q.Index = i + 1
		}
		qt, _ := constants.Canonicalize(string(q.QuestionType))
		q.QuestionType = qt
		if q.RoundingStep == 0 {
			q.RoundingStep = g.RoundingStep
		}
	}
}

func (c *Config) applyEnv() {
	c.First.Provider = getEnv("GRADER_FIRST_PROVIDER", c.First.Provider)
	c.First.APIKey = getEnv("GRADER_FIRST_API_KEY", c.First.APIKey)
	c.First.ModelID = getEnv("GRADER_FIRST_MODEL", c.First.ModelID)
	c.Second.Provider = getEnv("GRADER_SECOND_PROVIDER", c.Second.Provider)
	c.Second.APIKey = getEnv("GRADER_SECOND_API_KEY", c.Second.APIKey)
	c.Second.ModelID = getEnv("GRADER_SECOND_MODEL", c.Second.ModelID)
	c.Records.Driver = getEnv("GRADER_RECORD_DRIVER", c.Records.Driver)
	c.Records.DSN = getEnv("GRADER_RECORD_DSN", c.Records.DSN)
	c.Records.XLSXPath = getEnv("GRADER_XLSX_PATH", c.Records.XLSXPath)
	c.Server.GRPCAddr = getEnv("GRADER_GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.MetricsAddr = getEnv("GRADER_METRICS_ADDR", c.Server.MetricsAddr)
	c.LLM.Timeout = getEnvAsDuration("GRADER_LLM_TIMEOUT", c.LLM.Timeout)
	c.Retry.MaxRetries = getEnvAsInt("GRADER_MAX_RETRIES", c.Retry.MaxRetries)
	c.Grading.Cycles = getEnvAsInt("GRADER_CYCLES", c.Grading.Cycles)
	c.Grading.ScoreDiffThreshold = getEnvAsFloat64("GRADER_SCORE_DIFF_THRESHOLD", c.Grading.ScoreDiffThreshold)
	c.Unattended.Enabled = getEnvAsBool("GRADER_UNATTENDED", c.Unattended.Enabled)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// EnabledQuestions returns the configured questions, capped at MaxQuestions.
func (c *Config) EnabledQuestions() []entity.QuestionConfig {
	if len(c.Questions) > c.Grading.MaxQuestions {
		return c.Questions[:c.Grading.MaxQuestions]
	}
	return c.Questions
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator()
	v.Field("first.provider", c.First.Provider, Required)
	v.Field("first.api_key", c.First.APIKey, Required)
	v.Field("first.model_id", c.First.ModelID, Required)
	if c.Grading.DualEvaluation {
		v.Field("second.provider", c.Second.Provider, Required)
		v.Field("second.api_key", c.Second.APIKey, Required)
		v.Field("second.model_id", c.Second.ModelID, Required)
		v.Field("grading.score_diff_threshold", c.Grading.ScoreDiffThreshold, Positive)
		if !c.Grading.SingleQuestionPerRun || len(c.EnabledQuestions()) > 1 {
			v.Field("grading.dual_evaluation", true, Fail("requires single_question_per_run with one enabled question"))
		}
	}
	v.Field("grading.blank_policy", c.Grading.BlankPolicy, OneOf("zero", "manual", "anomaly"))
	v.Field("grading.gibberish_policy", c.Grading.GibberishPolicy, OneOf("zero", "manual", "anomaly"))
	v.Field("records.driver", c.Records.Driver, OneOf("sqlite", "pgx", "none"))

	if len(c.Questions) == 0 {
		v.Field("questions", nil, Required)
	}
	for i, q := range c.EnabledQuestions() {
		prefix := fmt.Sprintf("questions[%d]", i)
		v.Field(prefix+".rubric", q.Rubric, Required)
		if q.MaxScore <= q.MinScore {
			v.Field(prefix+".max_score", q.MaxScore, Fail("must be greater than min_score"))
		}
		if q.Index < 1 || q.Index > c.Grading.MaxQuestions {
			v.Field(prefix+".index", q.Index, Fail(fmt.Sprintf("must be between 1 and %d", c.Grading.MaxQuestions)))
		}
	}
	return ValidateAndReturnError(v)
}
