package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failed vendor call.
type ErrorKind string

const (
	KindInvalidKey      ErrorKind = "invalid_key"
	KindUnknownProvider ErrorKind = "unknown_provider"
	KindAuth            ErrorKind = "auth"
	KindBadRequest      ErrorKind = "bad_request"
	KindRateLimit       ErrorKind = "rate_limit"
	KindUpstream        ErrorKind = "upstream"
	KindHTTP            ErrorKind = "http"
	KindTimeout         ErrorKind = "timeout"
	KindConnection      ErrorKind = "connection"
	KindDecode          ErrorKind = "decode"
	KindNoContent       ErrorKind = "no_content"
)

// CallError is returned by Client.Send. Its text starts with a category phrase
// so substring-based retry classification keeps working on wrapped errors.
type CallError struct {
	Kind     ErrorKind
	Status   int
	Provider string
	Message  string
	Body     string
	Err      error
}

func (e *CallError) Error() string {
	var head string
	switch e.Kind {
	case KindInvalidKey:
		head = "invalid api key"
	case KindUnknownProvider:
		head = "unsupported provider"
	case KindAuth:
		head = fmt.Sprintf("HTTP %d unauthorized", e.Status)
	case KindBadRequest:
		head = fmt.Sprintf("HTTP %d bad request", e.Status)
	case KindRateLimit:
		head = fmt.Sprintf("HTTP %d rate limit", e.Status)
	case KindUpstream:
		if e.Status == 503 {
			head = "HTTP 503 service unavailable"
		} else {
			head = fmt.Sprintf("HTTP %d internal server error", e.Status)
		}
	case KindHTTP:
		head = fmt.Sprintf("HTTP %d unexpected status", e.Status)
	case KindTimeout:
		head = "request timeout"
	case KindConnection:
		head = "network connection failed"
	case KindDecode:
		head = "response json parse failed"
	case KindNoContent:
		head = "response parse failed: no content"
	default:
		head = string(e.Kind)
	}
	if e.Message == "" {
		return e.Provider + ": " + head
	}
	return e.Provider + ": " + head + ": " + e.Message
}

func (e *CallError) Unwrap() error { return e.Err }

// kindForStatus maps a non-200 HTTP status to an error kind.
func kindForStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 400:
		return KindBadRequest
	case status == 429:
		return KindRateLimit
	case status >= 500:
		return KindUpstream
	default:
		return KindHTTP
	}
}

// kindForVendorCode maps an in-body vendor error code.
func kindForVendorCode(code string) ErrorKind {
	switch {
	case strings.HasPrefix(code, "AuthFailure"):
		return KindAuth
	case strings.Contains(code, "LimitExceeded"):
		return KindRateLimit
	case strings.HasPrefix(code, "InternalError"):
		return KindUpstream
	default:
		return KindBadRequest
	}
}

// FriendlyReason turns a Send/Ping error into a short operator-facing reason.
func FriendlyReason(err error) string {
	if err == nil {
		return ""
	}
	var ce *CallError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case KindTimeout:
			return "网络可能不稳定（连接超时）"
		case KindAuth:
			if ce.Status == 403 {
				return "账号可能没有权限或余额/额度不足"
			}
			return "密钥可能不正确或已失效"
		case KindRateLimit:
			return "请求太频繁，平台临时限制"
		case KindUpstream:
			return "平台服务繁忙或临时不可用"
		case KindBadRequest:
			return "请求参数有误，常见原因是模型ID填写错误"
		case KindConnection:
			return "无法连接到API服务器，请检查网络设置"
		case KindInvalidKey, KindUnknownProvider:
			return ce.Message
		}
	}
	if s := strings.TrimSpace(err.Error()); s != "" {
		return s
	}
	return "原因不明"
}
