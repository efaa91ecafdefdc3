package llm

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrInvalidKey marks API keys rejected before any network I/O.
var ErrInvalidKey = errors.New("invalid api key")

func keyError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidKey, msg)
}

// PreprocessKey normalizes a user-entered key for the given auth scheme.
func PreprocessKey(auth AuthScheme, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", keyError("API Key不能为空")
	}
	if len(key) >= 7 && strings.EqualFold(key[:7], "bearer ") {
		key = strings.TrimSpace(key[7:])
		if key == "" {
			return "", keyError("API Key不能为空")
		}
	}

	switch auth {
	case AuthSignatureV3:
		creds, err := splitSignatureKey(key)
		if err != nil {
			return "", err
		}
		return creds.SecretID + ":" + creds.SecretKey, nil
	case AuthKeyInURL:
		if utf8.RuneCountInString(key) < 20 {
			return "", keyError("Google API Key格式错误: Key长度过短")
		}
		return key, nil
	default:
		return key, nil
	}
}

// SplitSignatureKey parses a preprocessed "SecretId:SecretKey" key.
func SplitSignatureKey(key string) (Credentials, error) {
	return splitSignatureKey(strings.TrimSpace(key))
}

func splitSignatureKey(key string) (Credentials, error) {
	key = strings.ReplaceAll(key, "：", ":")
	switch n := strings.Count(key, ":"); {
	case n == 0:
		return Credentials{}, keyError("腾讯API Key格式错误: 缺少冒号分隔符，应为 'SecretId:SecretKey' 格式")
	case n > 1:
		return Credentials{}, keyError("腾讯API Key格式错误: 冒号数量过多，应为 'SecretId:SecretKey' 格式")
	}

	id, secret, _ := strings.Cut(key, ":")
	id, secret = strings.TrimSpace(id), strings.TrimSpace(secret)
	switch {
	case id == "":
		return Credentials{}, keyError("腾讯API Key格式错误: SecretId不能为空")
	case secret == "":
		return Credentials{}, keyError("腾讯API Key格式错误: SecretKey不能为空")
	case len(id) < 10:
		return Credentials{}, keyError("腾讯API Key格式错误: SecretId长度过短")
	case len(secret) < 10:
		return Credentials{}, keyError("腾讯API Key格式错误: SecretKey长度过短")
	}
	return Credentials{SecretID: id, SecretKey: secret}, nil
}
