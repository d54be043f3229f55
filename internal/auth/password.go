// Package auth provides authentication primitives: password hashing, opaque
// session token generation, and JWT creation/verification. Two credentials are
// accepted at request time: JWTs (stateless, issued on login) and opaque
// session tokens (stateful, validated against the session registry). See
// internal/middleware/auth.go for the request-time authentication logic that
// uses these primitives.
package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the cost factor for bcrypt hashing
const BcryptCost = 12

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether the plaintext password matches the stored
// bcrypt hash.
func CheckPassword(password, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)) == nil
}
