package registry

import (
	"crypto/rand"
	"encoding/base64"
)

// generateSecret returns a random, URL-safe delegate credential.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
