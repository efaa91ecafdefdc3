package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var reFence = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

var errNoJSON = errors.New("no json object found in response")

// decodeLenient decodes a model reply into a JSON object, trying in order: the
// whole text, a markdown fence body, the first balanced {...} span and finally a
// repaired version of that span.
func decodeLenient(text string) (map[string]any, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, "", errNoJSON
	}

	if m, ok := tryObject(text); ok {
		return m, "direct", nil
	}

	candidate := text
	if sub := reFence.FindStringSubmatch(text); sub != nil {
		candidate = strings.TrimSpace(sub[1])
		if m, ok := tryObject(candidate); ok {
			return m, "fence", nil
		}
	}

	span := balancedObject(candidate)
	if span == "" {
		span = balancedObject(text)
	}
	if span != "" {
		if m, ok := tryObject(span); ok {
			return m, "span", nil
		}
	} else {
		span = candidate
	}

	repaired, err := jsonrepair.JSONRepair(span)
	if err != nil {
		return nil, "", fmt.Errorf("repair json: %w", err)
	}
	if m, ok := tryObject(repaired); ok {
		return m, "repaired", nil
	}
	return nil, "", errNoJSON
}

func tryObject(s string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// balancedObject returns the first {...} span whose braces balance outside of
// string literals, or the unterminated tail starting at the first '{'.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

// analyzeContent summarizes why a reply may have failed to parse.
func analyzeContent(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "响应为空"
	}
	r := []rune(text)
	var issues []string
	if strings.Count(text, "{") != strings.Count(text, "}") {
		issues = append(issues, "大括号不匹配")
	}
	if strings.Count(text, "[") != strings.Count(text, "]") {
		issues = append(issues, "方括号不匹配")
	}
	if strings.Contains(text, "base64,") {
		issues = append(issues, "可能包含图片数据")
	}
	if len(r) > 10000 {
		issues = append(issues, "响应过长")
	}

	head, tail := text, text
	if len(r) > 50 {
		head = string(r[:50]) + "..."
		tail = "..." + string(r[len(r)-50:])
	}
	out := fmt.Sprintf("长度: %d字符", len(r))
	if len(issues) > 0 {
		out += ", 可能问题: " + strings.Join(issues, ", ")
	}
	return out + fmt.Sprintf("。开头: '%s', 结尾: '%s'", head, tail)
}
