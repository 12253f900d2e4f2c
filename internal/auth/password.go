package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Password holds the bcrypt hash of a configured password. The zero value
// accepts nothing.
type Password struct {
	hash []byte
}

// NewPassword hashes password. An empty password yields the zero Password.
func NewPassword(password string) (Password, error) {
	if password == "" {
		return Password{}, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Password{}, fmt.Errorf("failed to hash password: %w", err)
	}
	return Password{hash: hash}, nil
}

// IsSet reports whether a password was configured.
func (p Password) IsSet() bool {
	return len(p.hash) > 0
}

// Check reports whether candidate matches the configured password.
func (p Password) Check(candidate string) (bool, error) {
	if !p.IsSet() {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword(p.hash, []byte(candidate))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check password: %w", err)
	}
}
