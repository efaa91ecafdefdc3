package runloop

import (
	"github.com/joseph-ayodele/autograder/internal/common"
)

// StopReason is why a run ended.
type StopReason string

const (
	StopCompleted          StopReason = "completed"
	StopUserStopped        StopReason = "user_stopped"
	StopManualIntervention StopReason = "manual_intervention"
	StopAnomalyPaper       StopReason = "anomaly_paper"
	StopThresholdExceeded  StopReason = "threshold_exceeded"
	StopNetworkError       StopReason = "network_error"
	StopAPIError           StopReason = "api_error"
	StopConfigError        StopReason = "config_error"
	StopResourceError      StopReason = "resource_error"
	StopScoreParseError    StopReason = "score_parse_error"
	StopUnknownError       StopReason = "unknown_error"
)

// Recoverable reports whether waiting and starting again may succeed.
func (r StopReason) Recoverable() bool {
	return r == StopNetworkError
}

// NeedsConfigFix reports whether the operator must change settings first.
func (r StopReason) NeedsConfigFix() bool {
	return r == StopConfigError || r == StopResourceError
}

// NeedsManualReview reports whether the current paper needs a human.
func (r StopReason) NeedsManualReview() bool {
	switch r {
	case StopManualIntervention, StopAnomalyPaper, StopThresholdExceeded:
		return true
	}
	return false
}

func (r StopReason) DisplayName() string {
	switch r {
	case StopCompleted:
		return "阅卷完成"
	case StopUserStopped:
		return "用户停止"
	case StopManualIntervention:
		return "需人工介入"
	case StopAnomalyPaper:
		return "异常试卷"
	case StopThresholdExceeded:
		return "双评分差过大"
	case StopNetworkError:
		return "网络错误"
	case StopAPIError:
		return "AI接口错误"
	case StopConfigError:
		return "配置错误"
	case StopResourceError:
		return "资源错误"
	case StopScoreParseError:
		return "分数解析错误"
	case StopUnknownError:
		return "未知错误"
	}
	return "未知"
}

// reasonFor maps a grading error onto a stop reason.
func reasonFor(ge *common.GradingError) StopReason {
	if ge == nil {
		return StopUnknownError
	}
	switch ge.Kind {
	case common.KindConfig:
		return StopConfigError
	case common.KindNetwork:
		return StopNetworkError
	case common.KindResource:
		return StopResourceError
	case common.KindBusiness:
		switch ge.Type {
		case common.BusinessDualEval:
			return StopThresholdExceeded
		case common.BusinessAPIResponse:
			return StopAPIError
		case common.BusinessScoreParse, common.BusinessScoreRange:
			return StopScoreParseError
		}
	}
	return StopUnknownError
}
