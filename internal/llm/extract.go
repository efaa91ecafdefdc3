package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoContent means the response decoded but the text path was missing or empty.
var ErrNoContent = errors.New("response has no content")

// VendorError is an error reported inside a 200 response body (Tencent style).
type VendorError struct {
	Code    string
	Message string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("vendor error %s: %s", e.Code, e.Message)
}

type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c chatCompletion) content() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Message.Content
}

type tencentResponse struct {
	Response *struct {
		Choices []struct {
			Message struct {
				Content string `json:"Content"`
			} `json:"Message"`
		} `json:"Choices"`
		Error *struct {
			Code    string `json:"Code"`
			Message string `json:"Message"`
		} `json:"Error"`
	} `json:"Response"`
	chatCompletion
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// ExtractContent pulls the model text out of a decoded vendor response.
func ExtractContent(shape Shape, raw []byte) (string, error) {
	var text string
	switch shape {
	case ShapeOpenAI, ShapeVolcengine:
		var cc chatCompletion
		if err := json.Unmarshal(raw, &cc); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		text = cc.content()

	case ShapeTencent:
		var tr tencentResponse
		if err := json.Unmarshal(raw, &tr); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if tr.Response != nil {
			if tr.Response.Error != nil && tr.Response.Error.Code != "" {
				return "", &VendorError{Code: tr.Response.Error.Code, Message: tr.Response.Error.Message}
			}
			if len(tr.Response.Choices) > 0 {
				text = tr.Response.Choices[0].Message.Content
			}
		}
		if strings.TrimSpace(text) == "" {
			text = tr.content()
		}

	case ShapeGemini:
		var gr geminiResponse
		if err := json.Unmarshal(raw, &gr); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if len(gr.Candidates) > 0 && len(gr.Candidates[0].Content.Parts) > 0 {
			text = gr.Candidates[0].Content.Parts[0].Text
		}

	default:
		return "", fmt.Errorf("unsupported response shape %q", shape)
	}

	if strings.TrimSpace(text) == "" {
		return "", ErrNoContent
	}
	return text, nil
}
