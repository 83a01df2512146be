package webhooks

import (
	"crypto/rand"
	"encoding/hex"
)

const (
	verifyTokenPrefix = "vtok_"
	secretKeyPrefix   = "whsec_"
)

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func newVerifyToken() (string, error) {
	s, err := randomHex(24)
	if err != nil {
		return "", err
	}
	return verifyTokenPrefix + s, nil
}

func newSecretKey() (string, error) {
	s, err := randomHex(32)
	if err != nil {
		return "", err
	}
	return secretKeyPrefix + s, nil
}

func newChallenge() (string, error) {
	return randomHex(16)
}
