package llm

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/autograder/constants"
)

// ImageBase64 accepts raw JPEG bytes, a pure base64 string or a data URI and
// returns the pure base64 form.
func ImageBase64(v any) (string, error) {
	switch img := v.(type) {
	case nil:
		return "", nil
	case []byte:
		if len(img) == 0 {
			return "", nil
		}
		return base64.StdEncoding.EncodeToString(img), nil
	case string:
		s := strings.TrimSpace(img)
		if i := strings.Index(s, "base64,"); i >= 0 {
			s = s[i+len("base64,"):]
		}
		if s == "" {
			return "", nil
		}
		if _, err := base64.StdEncoding.DecodeString(s); err != nil {
			return "", fmt.Errorf("image is not valid base64: %w", err)
		}
		return s, nil
	default:
		return "", fmt.Errorf("unsupported image type %T", v)
	}
}

func dataURI(b64 string) string {
	return "data:" + constants.CaptureMIMEType + ";base64," + b64
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
