package avatar

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

const gravatarBase = "//www.gravatar.com/avatar/"

// DefaultURL is the identicon placeholder for an email, stable across calls.
func DefaultURL(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return gravatarBase + hex.EncodeToString(sum[:])
}
