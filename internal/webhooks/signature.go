package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

func digest(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHMAC returns the lowercase hex HMAC-SHA256 of body, sent in the
// X-Signature header.
func SignHMAC(secret string, body []byte) string {
	return hex.EncodeToString(digest(secret, body))
}

// VerifyHMAC checks a hex signature against the raw body using the shared secret.
func VerifyHMAC(secret string, body []byte, provided string) bool {
	b, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	return hmac.Equal(digest(secret, body), b)
}
