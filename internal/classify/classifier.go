package classify

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/autograder/internal/entity"
	"github.com/joseph-ayodele/autograder/internal/score"
)

var manualPrefixes = []string{"需人工介入:", "需人工介入：", "需要人工介入:", "需要人工介入："}

// Classifier maps model replies to outcomes. It is safe for concurrent use.
type Classifier struct {
	blankAction     Action
	gibberishAction Action

	blank          matcher
	imageEmpty     matcher
	gibberish      matcher
	anomaly        matcher
	unrecognizable matcher
	imageRequest   matcher
	alwaysManual   matcher

	schema *jsonschema.Schema
	logger *slog.Logger
}

func NewClassifier(p Policy, logger *slog.Logger) (*Classifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Classifier{
		blankAction:     ParseAction(string(p.Blank), ActionZero),
		gibberishAction: ParseAction(string(p.Gibberish), ActionManual),
		logger:          logger,
	}

	lists := []struct {
		name string
		src  []string
		dst  *matcher
	}{
		{"blank", p.Patterns.Blank, &c.blank},
		{"image_empty", p.Patterns.ImageEmpty, &c.imageEmpty},
		{"gibberish", p.Patterns.Gibberish, &c.gibberish},
		{"anomaly", p.Patterns.Anomaly, &c.anomaly},
		{"unrecognizable", p.Patterns.Unrecognizable, &c.unrecognizable},
		{"image_request", p.Patterns.ImageRequest, &c.imageRequest},
		{"always_manual", p.Patterns.AlwaysManual, &c.alwaysManual},
	}
	for _, l := range lists {
		m, err := compile(l.name, l.src)
		if err != nil {
			return nil, err
		}
		*l.dst = m
	}

	schema, err := compileResponseSchema()
	if err != nil {
		return nil, err
	}
	c.schema = schema
	return c, nil
}

// Classify applies the decision precedence to one reply. The order of checks
// is significant: an explicit manual marker wins over blank detection, blank
// over gibberish, gibberish over anomaly, and only then the image heuristics.
func (c *Classifier) Classify(text string, q entity.QuestionConfig) Outcome {
	doc, via, err := decodeLenient(text)
	if err != nil {
		c.logger.Warn("classify.parse_error", "question", q.Index, "error", err)
		return ParseError{
			Message:     fmt.Sprintf("模型返回的内容不是标准的JSON，无法解析 (%s)", analyzeContent(text)),
			RawResponse: text,
		}
	}
	if via != "direct" {
		c.logger.Debug("classify.lenient_decode", "question", q.Index, "via", via)
	}

	if err := c.schema.Validate(doc); err != nil {
		c.logger.Warn("classify.shape_error", "question", q.Index, "error", err)
		return ParseError{
			Message:     fmt.Sprintf("API响应JSON缺少必需字段或类型错误: %v", err),
			RawResponse: text,
		}
	}

	summary, _ := doc["student_answer_summary"].(string)
	basis, _ := doc["scoring_basis"].(string)
	items, _ := doc["itemized_scores"].([]any)
	combined := strings.ToLower(strings.TrimSpace(summary + " " + basis))

	// 3. manual intervention
	if c.wantsManual(summary, basis, combined) {
		return ManualIntervention{Reason: manualReason(summary, basis), RawFeedback: summary}
	}

	// 4. blank
	if _, severe := c.imageEmpty.find(combined); !severe {
		if hit, ok := c.blank.find(combined); ok {
			switch c.blankAction {
			case ActionManual:
				return ManualIntervention{Reason: fmt.Sprintf("空白/无有效作答(%s)需要人工处理", hit), RawFeedback: summary}
			case ActionAnomaly:
				return AnomalyPaper{Reason: "空白/无有效作答: " + hit, RawFeedback: summary}
			default:
				return zeroBlank(hit, summary, "空白作答", len(items), text)
			}
		}
	}

	// 5. gibberish
	if hit, ok := c.gibberish.find(combined); ok {
		switch c.gibberishAction {
		case ActionZero:
			return zeroBlank(hit, summary, "疑似涂画/乱码作答", len(items), text)
		case ActionAnomaly:
			return AnomalyPaper{Reason: "疑似涂画/乱码: " + hit, RawFeedback: summary}
		default:
			return ManualIntervention{Reason: "疑似涂画/乱码需要人工处理: " + hit, RawFeedback: summary}
		}
	}

	// 6. anomaly
	if hit, ok := c.anomaly.find(combined); ok {
		c.logger.Warn("classify.anomaly", "question", q.Index, "match", hit)
		return AnomalyPaper{Reason: hit, RawFeedback: summary}
	}

	// 7. unrecognizable image with an all-zero grading
	if _, ok := c.unrecognizable.find(strings.ToLower(summary)); ok && allZero(items) {
		return Unusable{
			Reason:      ReasonUnrecognizable,
			Message:     "学生答案图片无法识别，请检查图片质量或手动处理。AI反馈: " + summary,
			RawFeedback: summary,
		}
	}

	// 8. model asks for the image
	if _, ok := c.imageRequest.find(combined); ok {
		return Unusable{
			Reason:      ReasonImageRequested,
			Message:     "AI无法从图片中提取有效信息，等待用户手动介入。AI反馈摘要: " + summary,
			RawFeedback: summary,
		}
	}

	// 9. score
	itemized, total, err := score.ProcessItemized(items)
	if err != nil {
		return ParseError{
			Message:     fmt.Sprintf("API返回的分项得分包含无法解析的内容: %v", err),
			RawResponse: text,
		}
	}
	clamped := score.Clamp(total, q.MinScore, q.MaxScore)
	if clamped != total {
		c.logger.Warn("classify.total_clamped", "question", q.Index, "total", total, "min", q.MinScore, "max", q.MaxScore)
	}
	return Scored{
		RawTotal:      clamped,
		Itemized:      itemized,
		AnswerSummary: summary,
		ScoringBasis:  basis,
		RawResponse:   text,
	}
}

func (c *Classifier) wantsManual(summary, basis, combined string) bool {
	if hasManualPrefix(basis) || hasManualPrefix(summary) {
		return true
	}
	_, ok := c.alwaysManual.find(combined)
	return ok
}

func hasManualPrefix(s string) bool {
	s = strings.TrimSpace(s)
	for _, p := range manualPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// manualReason prefers the basis without its marker; a short basis falls back
// to the summary.
func manualReason(summary, basis string) string {
	reason := strings.TrimSpace(basis)
	for _, p := range manualPrefixes {
		if strings.HasPrefix(reason, p) {
			reason = strings.TrimSpace(strings.TrimPrefix(reason, p))
			break
		}
	}
	if utf8.RuneCountInString(reason) >= 10 {
		return reason
	}
	if s := strings.TrimSpace(summary); s != "" {
		return s
	}
	return "AI判断需要人工介入"
}

func zeroBlank(hit, summary, defaultSummary string, n int, raw string) ZeroBlank {
	if strings.TrimSpace(summary) == "" {
		summary = defaultSummary
	}
	return ZeroBlank{
		Reason:        hit,
		Itemized:      make([]float64, n),
		AnswerSummary: summary,
		ScoringBasis:  ZeroScoringBasis(hit),
		RawResponse:   raw,
	}
}

// ZeroScoringBasis is the recorded justification for a zero grade.
func ZeroScoringBasis(reason string) string {
	reason = strings.ReplaceAll(reason, "异常试卷", "")
	reason = strings.TrimSpace(strings.ReplaceAll(reason, "异常卷", ""))
	if reason == "" {
		reason = "空白/无有效作答"
	}
	return fmt.Sprintf("判定：学生作答无有效内容（%s），本题按评分细则判0分。证据:【未检测到可评分的有效作答】", reason)
}

func allZero(items []any) bool {
	for _, v := range items {
		f, err := score.Sanitize(v)
		if err != nil || f != 0 {
			return false
		}
	}
	return true
}
