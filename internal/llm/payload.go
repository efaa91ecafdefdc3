package llm

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/autograder/constants"
)

const maxTokens = 4096

// BuildPayload renders the vendor request body. imageB64 is a pure base64 JPEG
// or empty for a text-only call.
func BuildPayload(d Descriptor, model, imageB64 string, p Prompt) (map[string]any, error) {
	switch d.Shape {
	case ShapeOpenAI:
		return openAIPayload(model, imageB64, p, ""), nil
	case ShapeVolcengine:
		return openAIPayload(model, imageB64, p, "high"), nil
	case ShapeTencent:
		return tencentPayload(model, imageB64, p), nil
	case ShapeGemini:
		return geminiPayload(imageB64, p), nil
	default:
		return nil, fmt.Errorf("unsupported payload shape %q for provider %s", d.Shape, d.ID)
	}
}

// openAIPayload puts the image before the text; detail is set only when non-empty.
func openAIPayload(model, imageB64 string, p Prompt, detail string) map[string]any {
	messages := make([]map[string]any, 0, 2)
	if strings.TrimSpace(p.System) != "" {
		messages = append(messages, map[string]any{"role": "system", "content": p.System})
	}

	if imageB64 == "" {
		messages = append(messages, map[string]any{"role": "user", "content": p.User})
	} else {
		imageURL := map[string]any{"url": dataURI(imageB64)}
		if detail != "" {
			imageURL["detail"] = detail
		}
		messages = append(messages, map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "image_url", "image_url": imageURL},
				{"type": "text", "text": p.User},
			},
		})
	}

	return map[string]any{
		"model":      model,
		"messages":   messages,
		"max_tokens": maxTokens,
	}
}

// tencentVision reports whether a Hunyuan model accepts image content.
func tencentVision(model string) bool {
	return strings.Contains(strings.ToLower(model), "vision")
}

func tencentPayload(model, imageB64 string, p Prompt) map[string]any {
	messages := make([]map[string]any, 0, 2)
	if strings.TrimSpace(p.System) != "" {
		messages = append(messages, map[string]any{"Role": "system", "Content": p.System})
	}

	if imageB64 == "" || !tencentVision(model) {
		messages = append(messages, map[string]any{"Role": "user", "Content": p.User})
	} else {
		messages = append(messages, map[string]any{
			"Role": "user",
			"Contents": []map[string]any{
				{"Type": "text", "Text": p.User},
				{"Type": "image_url", "ImageUrl": map[string]any{"Url": dataURI(imageB64)}},
			},
		})
	}

	return map[string]any{
		"Model":    model,
		"Messages": messages,
		"Stream":   false,
	}
}

func geminiPayload(imageB64 string, p Prompt) map[string]any {
	payload := map[string]any{}
	if strings.TrimSpace(p.System) != "" {
		payload["system_instruction"] = map[string]any{
			"parts": []map[string]any{{"text": p.System}},
		}
	}

	parts := []map[string]any{{"text": p.User}}
	if imageB64 != "" {
		parts = append(parts, map[string]any{
			"inline_data": map[string]any{
				"mime_type": constants.CaptureMIMEType,
				"data":      imageB64,
			},
		})
	}
	payload["contents"] = []map[string]any{{"parts": parts}}
	return payload
}
