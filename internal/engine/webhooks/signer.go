package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const (
	HeaderSignature = "X-Hookline-Signature"
	HeaderEvent     = "X-Hookline-Event"
	HeaderDelivery  = "X-Hookline-Delivery"
	HeaderAttempt   = "X-Hookline-Attempt"
)

// Sign returns the hex HMAC-SHA256 of payload under secret. Callers must sign
// the exact bytes that go on the wire.
func Sign(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature is the receiver-side check, in constant time.
func VerifySignature(secret string, payload []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, payload))
	return hmac.Equal(got, want)
}

// ChallengeResponse is what a receiver holding token may echo instead of the
// literal challenge.
func ChallengeResponse(token, challenge string) string {
	return Sign(token, []byte(challenge))
}

func payloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
