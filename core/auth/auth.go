// Package auth resolves the caller identity from a bearer token.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"TrackHub/errs"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingSubject is returned for tokens without a "sub" claim.
var ErrMissingSubject = fmt.Errorf("%w: token has no subject", errs.ErrUnauthorized)

// ParseToken validates an HS256 token and returns its subject, the owner
// profile id.
func ParseToken(tokenStr, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(_ *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: invalid token: %v", errs.ErrUnauthorized, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("%w: invalid authorization header format", errs.ErrUnauthorized)
	}
	return parts[1], nil
}

// GenerateToken signs a token for subject valid for ttl. Used by the
// development CLI and tests; production tokens come from the identity
// provider.
func GenerateToken(subject, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
