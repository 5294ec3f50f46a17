package square

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 signature of notification URL + body.
const SignatureHeader = "x-square-hmacsha256-signature"

// VerifySignature checks a webhook notification against the subscription's
// signature key. Square signs the notification URL concatenated with the raw body.
func VerifySignature(signatureKey, notificationURL string, body []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signatureKey == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(signatureKey))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign produces the signature Square would send. Used by tests and local tooling.
func Sign(signatureKey, notificationURL string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(signatureKey))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
