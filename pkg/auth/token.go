package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// TokenLength is the number of random bytes in an opaque token (256 bits).
const TokenLength = 32

// TokenGenerator generates opaque random tokens.
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateHex returns TokenLength random bytes, hex encoded.
func (tg *TokenGenerator) GenerateHex() (string, error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// GenerateDigits returns n uniformly random decimal digits.
func (tg *TokenGenerator) GenerateDigits(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("invalid digit count %d", n)
	}
	out := make([]byte, n)
	ten := big.NewInt(10)
	for i := range out {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("failed to generate digit: %w", err)
		}
		out[i] = byte('0' + d.Int64())
	}
	return string(out), nil
}

// HashToken computes the SHA256 hash of a token for storage and lookup.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
