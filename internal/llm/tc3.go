package llm

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

const tc3Algorithm = "TC3-HMAC-SHA256"

// Credentials is a SecretId/SecretKey pair for signature-authenticated vendors.
type Credentials struct {
	SecretID  string
	SecretKey string
}

// SignTC3 returns the headers for a TC3-HMAC-SHA256 signed POST of payload.
// The same UTC instant provides both the timestamp and the credential date.
func SignTC3(creds Credentials, payload []byte, now time.Time, svc ServiceInfo) map[string]string {
	now = now.UTC()
	timestamp := strconv.FormatInt(now.Unix(), 10)
	date := now.Format("2006-01-02")

	const signedHeaders = "content-type;host"
	canonicalHeaders := "content-type:application/json\nhost:" + svc.Host + "\n"
	canonicalRequest := "POST\n/\n\n" + canonicalHeaders + "\n" + signedHeaders + "\n" + sha256Hex(payload)

	scope := date + "/" + svc.Service + "/tc3_request"
	stringToSign := tc3Algorithm + "\n" + timestamp + "\n" + scope + "\n" + sha256Hex([]byte(canonicalRequest))

	secretDate := hmacSHA256([]byte("TC3"+creds.SecretKey), date)
	secretService := hmacSHA256(secretDate, svc.Service)
	secretSigning := hmacSHA256(secretService, "tc3_request")
	signature := hex.EncodeToString(hmacSHA256(secretSigning, stringToSign))

	authorization := fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		tc3Algorithm, creds.SecretID, scope, signedHeaders, signature)

	return map[string]string{
		"Authorization":  authorization,
		"Content-Type":   "application/json",
		"Host":           svc.Host,
		"X-TC-Action":    svc.Action,
		"X-TC-Timestamp": timestamp,
		"X-TC-Version":   svc.Version,
		"X-TC-Region":    svc.Region,
	}
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}
