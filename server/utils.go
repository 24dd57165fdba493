package server

import (
	"crypto/rand"
	"encoding/base64"
)

// GenerateKey returns a cryptographically secure URL safe random string of n
// source bytes, used for generated owner passwords.
func GenerateKey(n int) (string, error) {
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}
