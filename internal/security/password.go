package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is bcrypt's input limit. It counts bytes, not runes.
const MaxPasswordBytes = 72

var (
	ErrPasswordMismatch = errors.New("password mismatch")
	ErrPasswordTooLong  = errors.New("password too long")
)

// HashPassword hashes a plain text password with bcrypt at the default cost.
func HashPassword(plain string) (string, error) {
	if len(plain) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	return string(hash), nil
}

// CheckPassword returns ErrPasswordMismatch for a wrong password and any
// other error when the stored hash itself is unusable.
func CheckPassword(hash, plain string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}
