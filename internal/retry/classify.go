// Package retry wraps single operations (AI calls, screen capture) in a
// bounded, error-aware retry loop.
package retry

import (
	"context"
	"errors"
	"strings"

	"github.com/joseph-ayodele/autograder/internal/llm"
)

// Retryability grades how useful another attempt is, most retryable first.
type Retryability int

const (
	Definite Retryability = iota + 1
	Possible
	NotWorth
	Manual
)

func (r Retryability) String() string {
	switch r {
	case Definite:
		return "definite"
	case Possible:
		return "possible"
	case NotWorth:
		return "not_worth"
	case Manual:
		return "manual"
	default:
		return "unknown"
	}
}

// Error kinds.
const (
	KindTimeout            = "timeout"
	KindRateLimit          = "rate_limit"
	KindNetwork            = "network"
	KindServiceUnavailable = "service_unavailable"
	KindToken              = "token"
	KindServerError        = "server_error"
	KindJSONParse          = "json_parse"
	KindBadRequest         = "bad_request"
	KindNotFound           = "not_found"
	KindInvalidInput       = "invalid_input"
	KindPermission         = "permission"
	KindNotImplemented     = "not_implemented"
	KindUnknown            = "unknown"
)

// Classification is the kind of an error and whether to retry it.
type Classification struct {
	Kind         string
	Retryability Retryability
}

// Network reports whether the kind is a transport or upstream fault that
// may clear by itself.
func (c Classification) Network() bool {
	switch c.Kind {
	case KindTimeout, KindRateLimit, KindNetwork, KindServiceUnavailable, KindServerError:
		return true
	}
	return false
}

type rule struct {
	kind    string
	r       Retryability
	needles []string
}

// First match wins, so the order is part of the contract.
var rules = []rule{
	{KindTimeout, Definite, []string{"timeout", "超时", "timed out"}},
	{KindRateLimit, Definite, []string{"429", "rate limit", "限流", "too many requests"}},
	{KindNetwork, Definite, []string{"connection", "连接", "network", "网络"}},
	{KindServiceUnavailable, Definite, []string{"503", "service unavailable", "服务不可用"}},
	{KindToken, Possible, []string{"token", "access_token"}},
	{KindServerError, Possible, []string{"500", "502", "504", "internal server error"}},
	{KindJSONParse, NotWorth, []string{"json", "格式", "parse", "解析"}},
	{KindBadRequest, NotWorth, []string{"400", "bad request", "请求错误"}},
	{KindNotFound, NotWorth, []string{"404", "not found"}},
	{KindInvalidInput, NotWorth, []string{"invalid", "无效", "非法"}},
	{KindPermission, Manual, []string{"401", "403", "unauthorized", "forbidden", "权限", "认证失败"}},
	{KindNotImplemented, Manual, []string{"not implemented", "未实现", "unsupported"}},
}

// Classify inspects typed errors first and falls back to a substring scan of
// the lowercased message.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindUnknown, Retryability: Possible}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Kind: KindTimeout, Retryability: Definite}
	}

	var ce *llm.CallError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case llm.KindTimeout:
			return Classification{KindTimeout, Definite}
		case llm.KindRateLimit:
			return Classification{KindRateLimit, Definite}
		case llm.KindConnection:
			return Classification{KindNetwork, Definite}
		case llm.KindUpstream:
			if ce.Status == 503 {
				return Classification{KindServiceUnavailable, Definite}
			}
			return Classification{KindServerError, Possible}
		case llm.KindDecode, llm.KindNoContent:
			return Classification{KindJSONParse, NotWorth}
		case llm.KindBadRequest:
			return Classification{KindBadRequest, NotWorth}
		case llm.KindInvalidKey:
			return Classification{KindInvalidInput, NotWorth}
		case llm.KindAuth:
			return Classification{KindPermission, Manual}
		case llm.KindUnknownProvider:
			return Classification{KindNotImplemented, Manual}
		}
	}

	s := strings.ToLower(err.Error())
	for _, r := range rules {
		for _, n := range r.needles {
			if strings.Contains(s, n) {
				return Classification{Kind: r.kind, Retryability: r.r}
			}
		}
	}
	return Classification{Kind: KindUnknown, Retryability: Possible}
}

// Multiplier scales the base delay for an error kind.
func Multiplier(kind string) float64 {
	switch kind {
	case KindRateLimit:
		return 3.0
	case KindTimeout:
		return 1.5
	case KindNetwork:
		return 1.0
	case KindToken, KindServerError:
		return 2.0
	case KindServiceUnavailable:
		return 2.5
	default:
		return 1.0
	}
}
