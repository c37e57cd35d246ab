package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ValidSignature verifies an HMAC-SHA256 hex signature over the raw request
// body. A "sha256=" prefix on the header value is accepted.
func ValidSignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// Sign computes the HMAC-SHA256 hex signature for a body. Used by tests and
// by operators crafting manual webhook calls.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hex.EncodeToString(mac.Sum(nil))
}
