// Package auth - jwt.go issues and verifies the HS256 access tokens used by
// non-interactive callers, including one-time secret resolution at startup.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const jwtIssuer = "querygate"

var (
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Claims is the QueryGate JWT payload. UserID and EmployeeID identify the
// account without a session lookup; standard claims pin issuer and expiry.
type Claims struct {
	UserID     string `json:"user_id"`
	EmployeeID string `json:"employee_id"`
	jwt.RegisteredClaims
}

// isDevMode checks for development mode without importing config (cycle).
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")

	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

func generateRandomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// Still functional, just not restart-stable.
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// ValidateJWTSecret resolves the signing secret exactly once. Production
// deployments must set QG_JWT_SECRET and the server refuses to start without
// it; development mode falls back to a random per-process secret, which means
// issued tokens die with the process. Call at startup, before serving.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv("QG_JWT_SECRET")

		if secret == "" {
			if isDevMode() {
				jwtSecret = generateRandomSecret()
				log.Printf("WARNING: QG_JWT_SECRET not set. Using auto-generated secret for development.")
				log.Printf("WARNING: Issued tokens will not survive restarts. Set QG_JWT_SECRET for stable tokens.")
			} else {
				jwtSecretErr = errors.New("SECURITY ERROR: QG_JWT_SECRET environment variable is required in production. " +
					"Generate a secure secret with: openssl rand -hex 32")
			}
			return
		}

		if len(secret) < 32 {
			log.Printf("WARNING: QG_JWT_SECRET is shorter than the recommended 32 characters.")
		}

		jwtSecret = secret
	})

	return jwtSecretErr
}

// GetJWTSecret returns the resolved secret, resolving it on first use if
// startup validation was skipped. Panics if resolution fails, which only
// happens in production with no secret configured.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// GenerateJWT signs an access token for the user. expiresIn defaults to one
// hour when zero.
func GenerateJWT(userID, employeeID string, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	now := time.Now()
	claims := &Claims{
		UserID:     userID,
		EmployeeID: employeeID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    jwtIssuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(GetJWTSecret()))
}

// ValidateJWT parses a token, rejecting anything not HMAC-signed with our
// secret, expired, or issued elsewhere.
func ValidateJWT(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
		}
		return []byte(GetJWTSecret()), nil
	}, jwt.WithIssuer(jwtIssuer))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
