// Package security verifies the bearer tokens issued by the login service.
package security

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingSecret is returned when no signing secret is configured.
	ErrMissingSecret = errors.New("security: jwt secret not set")
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("security: invalid token")
	// ErrInvalidSubject is returned when the subject is not a numeric user id.
	ErrInvalidSubject = errors.New("security: invalid subject")
)

// Claims are the bearer token claims. The subject carries the user id.
type Claims struct {
	Admin bool `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the numeric subject.
func (c *Claims) UserID() (uint64, error) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Subject), 10, 64)
	if errParse != nil || id == 0 {
		return 0, ErrInvalidSubject
	}
	return id, nil
}

// IssueToken signs an HS256 token for userID. The login flow lives elsewhere; this is
// used by the CLI and tests.
func IssueToken(secret, issuer string, userID uint64, admin bool, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrMissingSecret
	}
	now := time.Now()
	claims := Claims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  strconv.FormatUint(userID, 10),
			Issuer:   issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken verifies token against secret and, when set, issuer.
func ParseToken(secret, issuer, token string) (*Claims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parsed, errParse := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, opts...)
	if errParse != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, errParse)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
