package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer            = "signalo"
	secretEnvVariable = "SIGNALO_AUTH_SECRET"
)

var (
	errMissingSecret = errors.New("auth secret is not configured")

	secretMu     sync.Mutex
	secretVal    []byte
	secretLoaded bool
)

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents JWT claims used across the service.
type Claims struct {
	OrganizationID    string `json:"org"`
	OrganizationAdmin bool   `json:"org_admin,omitempty"`
	SuperAdmin        bool   `json:"super_admin,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs a JWT for the given user using HS256.
func GenerateToken(u *User, ttl time.Duration) (string, error) {
	if u == nil || strings.TrimSpace(u.ID) == "" {
		return "", errors.New("user is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := Claims{
		OrganizationID:    u.OrganizationID,
		OrganizationAdmin: u.OrganizationAdmin,
		SuperAdmin:        u.SuperAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secretBytes)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseAndValidate verifies the token signature and required claims.
func ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return nil, err
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secretBytes, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// clockSkew tolerated when validating issued-at against the local clock.
const clockSkew = 5 * time.Second

func validateClaims(claims *Claims) error {
	switch {
	case claims.Issuer != issuer:
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	case strings.TrimSpace(claims.Subject) == "":
		return errors.New("subject missing")
	case strings.TrimSpace(claims.OrganizationID) == "":
		return errors.New("organization missing")
	case claims.ExpiresAt == nil || claims.IssuedAt == nil:
		return errors.New("timestamps missing")
	}
	now := time.Now().UTC()
	switch {
	case now.After(claims.ExpiresAt.Time):
		return errors.New("token expired")
	case claims.IssuedAt.Time.After(now.Add(clockSkew)):
		return errors.New("token issued in the future")
	case claims.ExpiresAt.Time.Before(claims.IssuedAt.Time):
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

// loadSecret reads the signing secret once per process. An empty secret is
// cached too: a misconfigured deployment must fail every call, not just the
// first one.
func loadSecret() ([]byte, error) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if !secretLoaded {
		secretVal = []byte(strings.TrimSpace(os.Getenv(secretEnvVariable)))
		secretLoaded = true
	}
	if len(secretVal) == 0 {
		return nil, errMissingSecret
	}
	return secretVal, nil
}

// ResetSecretForTests clears the cached secret value. Only intended for test use.
func ResetSecretForTests() {
	secretMu.Lock()
	defer secretMu.Unlock()
	secretVal = nil
	secretLoaded = false
}
