package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const opaqueTokenBytes = 32

// NewOpaqueToken returns a url-safe random string used for email verification links.
func NewOpaqueToken() (string, error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
