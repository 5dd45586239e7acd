package server

import (
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/tenant-insights/internal/config"
	"github.com/jrsteele09/tenant-insights/internal/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

const DefaultAccessTokenTTL = time.Hour

// IssueAccessToken signs an HS256 access token that RequireAuth accepts.
// Operators use it to hand out API access without an external identity provider.
func IssueAccessToken(cfg config.SecurityConfig, subject string, roles []string, ttl time.Duration) (string, error) {
	secret := cfg.GetJWTSecret()
	if secret == "" {
		return "", errors.Wrapf(errors.ErrInvalidConfig, "JWT_SECRET is required to issue tokens")
	}
	if subject == "" {
		return "", fmt.Errorf("[IssueAccessToken] subject is required")
	}
	for _, role := range roles {
		if _, ok := roleCapabilities[strings.ToLower(role)]; !ok {
			return "", fmt.Errorf("[IssueAccessToken] unknown role %q", role)
		}
	}
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	now := NowTimeFunc()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    cfg.GetJWTIssuer(),
			Subject:   subject,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(), // jti
		},
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("[IssueAccessToken] failed to sign token: %w", err)
	}
	return signed, nil
}
