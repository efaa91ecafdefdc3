package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joseph-ayodele/autograder/internal/common"
)

// Action is what to do with a blank or gibberish answer.
type Action string

const (
	ActionZero    Action = "zero"
	ActionManual  Action = "manual"
	ActionAnomaly Action = "anomaly"
)

// ParseAction reads a configured policy, falling back to def for unknown values.
func ParseAction(s string, def Action) Action {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionZero, ActionManual, ActionAnomaly:
		return a
	}
	return def
}

// Patterns are the keyword lists, as regular expressions, matched against the
// lowercased summary and basis.
type Patterns struct {
	Blank          []string
	ImageEmpty     []string
	Gibberish      []string
	Anomaly        []string
	Unrecognizable []string
	ImageRequest   []string
	AlwaysManual   []string
}

func quoteAll(words ...string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = regexp.QuoteMeta(w)
	}
	return out
}

// DefaultPatterns returns the built-in keyword lists.
func DefaultPatterns() Patterns {
	return Patterns{
		Blank: []string{
			`空白(?:试卷|卷|答卷)?`, `未作答`, `无作答`, `无答案`,
			`无内容`, `内容为空`, `无有效内容`,
			`no\s*(?:answer|content|response)`, `blank\s*(?:answer|response)`,
		},
		ImageEmpty: quoteAll("图片为空", "图像为空", "空白图片", "空白图像", "图像空白", "图片空白"),
		Gibberish: []string{
			`乱码`, `噪声太大`, `识别失败`, `识别错误`, `无法识别`,
			`涂鸦`, `涂画`, `画图`, `乱写`, `胡写`, `乱七八糟`,
			`unclear`, `cannot\s*(?:read|recognize)`,
		},
		Anomaly: []string{
			`异常试卷`, `异常卷`,
			`缺考`, `缺席`, `弃考`, `无效试卷`, `无效答卷`,
			`图像为空`, `图片为空`, `空白图像`, `空白图片`,
			`blank\s*(?:paper|sheet)`, `empty\s*(?:paper|sheet)`,
			`absent`, `missing\s*answer`,
		},
		Unrecognizable: quoteAll(
			"无法识别", "字迹模糊", "无法辨认",
			"图片内容完全无法识别", "字迹完全无法辨认",
			"图片不清晰", "看不清", "看不清楚",
		),
		ImageRequest: quoteAll(
			"请提供图片", "请提供原图", "看不清", "看不清楚", "请上传图片", "需要原图", "请给出图片",
			"图片无法识别", "图片不清晰", "请提供照片", "请提供答题图片",
		),
		AlwaysManual: []string{
			`需(?:要)?人工介入`, `人工介入`, `需(?:要)?人工复核`, `人工复核`,
			`无法(?:判定|评判|判断|评分)`,
			`\bmanual intervention\b`, `\bneed manual\b`, `\bcannot (?:judge|score)\b`, `\brequires manual\b`,
		},
	}
}

// PatternsFromConfig overlays configured lists on the defaults. Empty lists keep the default.
func PatternsFromConfig(c common.PatternConfig) Patterns {
	p := DefaultPatterns()
	overlay := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = src
		}
	}
	overlay(&p.Blank, c.Blank)
	overlay(&p.ImageEmpty, c.ImageEmpty)
	overlay(&p.Gibberish, c.Gibberish)
	overlay(&p.Anomaly, c.Anomaly)
	overlay(&p.Unrecognizable, c.Unrecognizable)
	overlay(&p.ImageRequest, c.ImageRequest)
	overlay(&p.AlwaysManual, c.AlwaysManual)
	return p
}

// Policy configures a Classifier.
type Policy struct {
	Blank     Action
	Gibberish Action
	Patterns  Patterns
}

// DefaultPolicy zeroes blank answers and sends gibberish to a human.
func DefaultPolicy() Policy {
	return Policy{Blank: ActionZero, Gibberish: ActionManual, Patterns: DefaultPatterns()}
}

type matcher []*regexp.Regexp

func compile(name string, exprs []string) (matcher, error) {
	m := make(matcher, 0, len(exprs))
	for _, e := range exprs {
		re, err := regexp.Compile(e)
		if err != nil {
			return nil, fmt.Errorf("compile %s pattern %q: %w", name, e, err)
		}
		m = append(m, re)
	}
	return m, nil
}

// find returns the first match of the first matching pattern, in list order.
func (m matcher) find(s string) (string, bool) {
	for _, re := range m {
		if hit := re.FindString(s); hit != "" {
			return hit, true
		}
	}
	return "", false
}
