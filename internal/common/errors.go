package common

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrorKind is the top-level grading error taxonomy.
type ErrorKind string

const (
	KindConfig   ErrorKind = "config"
	KindNetwork  ErrorKind = "network"
	KindBusiness ErrorKind = "business"
	KindResource ErrorKind = "resource"
)

// Network error subtypes.
const (
	NetworkTimeout     = "timeout"
	NetworkConnection  = "connection"
	NetworkRateLimit   = "rate_limit"
	NetworkServiceDown = "service_down"
	NetworkServerError = "server_error"
)

// Business error subtypes.
const (
	BusinessScoreParse  = "score_parse"
	BusinessScoreRange  = "score_range"
	BusinessAreaInvalid = "area_invalid"
	BusinessAPIResponse = "api_response"
	BusinessDualEval    = "dual_eval"
)

// Resource error subtypes.
const (
	ResourceFileIO     = "file_io"
	ResourceScreenshot = "screenshot"
	ResourceMemory     = "memory"
	ResourceInput      = "input"
)

// GradingError is a halt cause with a short human-readable message and a
// recommended action for the operator.
type GradingError struct {
	Kind           ErrorKind
	Type           string
	Message        string
	RecoveryAction string
	Recoverable    bool
	QuestionIndex  int
	ConfigKey      string
	Cause          error
}

func (e *GradingError) Error() string {
	if e.RecoveryAction == "" {
		return e.Message
	}
	return fmt.Sprintf("%s [建议操作: %s]", e.Message, e.RecoveryAction)
}

func (e *GradingError) Unwrap() error { return e.Cause }

// NewConfigError reports missing or invalid setup. Never recoverable within a run.
func NewConfigError(message, configKey string, cause error) *GradingError {
	recovery := "请检查配置文件或在设置界面修正配置"
	if configKey != "" {
		recovery = fmt.Sprintf("请检查配置项 '%s'", configKey)
	}
	return &GradingError{
		Kind:           KindConfig,
		Message:        message,
		RecoveryAction: recovery,
		ConfigKey:      configKey,
		Cause:          cause,
	}
}

// NewNetworkError reports a transport-level failure. Always recoverable.
func NewNetworkError(message, errType string, cause error) *GradingError {
	recovery := map[string]string{
		NetworkTimeout:     "请检查网络连接，稍后重试",
		NetworkConnection:  "请检查网络连接和API地址配置",
		NetworkRateLimit:   "API请求过于频繁，请稍后重试",
		NetworkServiceDown: "API服务暂时不可用，请稍后重试",
		NetworkServerError: "API服务器错误，请稍后重试",
	}[errType]
	if recovery == "" {
		recovery = "请检查网络连接后重试"
	}
	return &GradingError{
		Kind:           KindNetwork,
		Type:           errType,
		Message:        message,
		RecoveryAction: recovery,
		Recoverable:    true,
		Cause:          cause,
	}
}

// NewBusinessError reports a grading-logic failure for one question.
func NewBusinessError(message, errType string, questionIndex int, cause error) *GradingError {
	recovery := map[string]string{
		BusinessScoreParse:  "AI返回的分数格式无效，请检查评分细则或手动评分",
		BusinessScoreRange:  "分数已自动修正到有效范围",
		BusinessAreaInvalid: "请重新配置答案区域",
		BusinessAPIResponse: "API响应格式异常，可能需要更换模型",
		BusinessDualEval:    "双评分差超过阈值，需要人工复核",
	}[errType]
	if recovery == "" {
		recovery = "请检查相关配置或手动处理"
	}
	return &GradingError{
		Kind:           KindBusiness,
		Type:           errType,
		Message:        message,
		RecoveryAction: recovery,
		QuestionIndex:  questionIndex,
		Cause:          cause,
	}
}

// NewResourceError reports a local resource failure (files, screen, memory).
func NewResourceError(message, errType, path string, cause error) *GradingError {
	var recovery string
	switch errType {
	case ResourceFileIO:
		recovery = "文件操作失败，请检查权限"
		if path != "" {
			recovery = "文件操作失败: " + path
		}
	case ResourceScreenshot:
		recovery = "截图失败，请检查屏幕访问权限"
	case ResourceMemory:
		recovery = "内存不足，请关闭其他程序后重试"
	case ResourceInput:
		recovery = "输入操作失败，请确认阅卷窗口在前台且坐标正确"
	default:
		recovery = "请检查系统资源"
	}
	return &GradingError{
		Kind:           KindResource,
		Type:           errType,
		Message:        message,
		RecoveryAction: recovery,
		Cause:          cause,
	}
}

// ClassifyError converts an arbitrary error into a GradingError. Errors that
// already are GradingErrors are returned unchanged.
func ClassifyError(err error) *GradingError {
	if err == nil {
		return nil
	}
	var ge *GradingError
	if errors.As(err, &ge) {
		return ge
	}
	msg := err.Error()
	s := strings.ToLower(msg)

	switch {
	case errors.Is(err, context.DeadlineExceeded) || containsAny(s, "timeout", "超时", "timed out"):
		return NewNetworkError(msg, NetworkTimeout, err)
	case containsAny(s, "429", "rate limit", "限流", "too many"):
		return NewNetworkError(msg, NetworkRateLimit, err)
	case containsAny(s, "503", "service unavailable", "服务不可用"):
		return NewNetworkError(msg, NetworkServiceDown, err)
	case containsAny(s, "connection", "连接", "network", "网络"):
		return NewNetworkError(msg, NetworkConnection, err)
	case containsAny(s, "500", "502", "504", "internal server"):
		return NewNetworkError(msg, NetworkServerError, err)
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code == "CONFIG_ERROR" {
		return NewConfigError(msg, "", err)
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) || errors.Is(err, os.ErrClosed) {
		return NewResourceError(msg, ResourceFileIO, "", err)
	}
	if containsAny(s, "config", "配置", "parameter", "参数") {
		return NewConfigError(msg, "", err)
	}
	return NewBusinessError(msg, "", 0, err)
}

// FormatError renders a GradingError with its kind prefix and, optionally, the
// recommended action on a second line.
func FormatError(ge *GradingError, withRecovery bool) string {
	if ge == nil {
		return ""
	}
	prefix := map[ErrorKind]string{
		KindConfig:   "[配置错误]",
		KindNetwork:  "[网络错误]",
		KindBusiness: "[业务错误]",
		KindResource: "[资源错误]",
	}[ge.Kind]
	if prefix == "" {
		prefix = "[系统错误]"
	}
	out := prefix + " " + ge.Message
	if withRecovery && ge.RecoveryAction != "" {
		out += "\n  → 建议: " + ge.RecoveryAction
	}
	return out
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
