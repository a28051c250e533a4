package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost is the work factor for password hashes.
	BcryptCost = 10
	// MinPasswordLength is the shortest accepted password.
	MinPasswordLength = 6
)

// ValidatePassword checks the password policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return NewValidationError("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	if len(password) > 72 {
		return NewValidationError("password", "must be at most 72 bytes")
	}
	return nil
}

// HashPassword returns a salted bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", NewValidationError("password", "is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash. Empty and
// placeholder credentials never match.
func CheckPassword(password, hash string) bool {
	if hash == "" || hash == PlaceholderPassword || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
