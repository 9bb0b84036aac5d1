package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLen is the shortest password accepted at signup.
const MinPasswordLen = 8

// ErrPasswordTooShort is returned by HashPassword for short inputs.
var ErrPasswordTooShort = errors.New("auth: password too short")

// ErrPasswordMismatch is returned by ComparePassword on a wrong password.
var ErrPasswordMismatch = errors.New("auth: password mismatch")

// HashPassword returns a bcrypt hash of plain. bcrypt rejects inputs longer
// than 72 bytes, which surfaces as an error here.
func HashPassword(plain string) (string, error) {
	if len(plain) < MinPasswordLen {
		return "", ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ComparePassword checks plain against hash.
func ComparePassword(hash, plain string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}
