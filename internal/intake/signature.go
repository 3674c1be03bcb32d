package intake

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex HMAC-SHA256 of body under secret. The same scheme
// is used for inbound verification and outbound event signing.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the expected HMAC in constant
// time. An empty secret disables verification (accept-all).
func VerifySignature(body []byte, signature, secret string) bool {
	if secret == "" {
		return true
	}
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
