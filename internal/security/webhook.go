package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const WebhookSignatureHeader = "X-Signature"

// VerifyBodySignature checks a hex HMAC-SHA256 of the raw request body.
func VerifyBodySignature(secret string, body []byte, sigHex string) bool {
	if strings.TrimSpace(secret) == "" {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimSpace(sigHex))
	if err != nil || len(provided) == 0 {
		return false
	}
	return hmac.Equal(SignBody(secret, body), provided)
}

func SignBody(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}
