package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aegis-id/aegis/internal/storage"
)

var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenExpired   = errors.New("token has expired")
)

// TokenKind selects the signing secret and TTL.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Claims is the signed payload carried by access and refresh tokens. A token
// is only as valid as its TokenVersion: the middleware re-checks it against
// the stored user on every request.
type Claims struct {
	UserID       uuid.UUID    `json:"sub"`
	Role         storage.Role `json:"role"`
	TokenVersion int          `json:"tv"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies access and refresh JWTs with independent
// HS256 secrets. Secrets are read once at startup and held immutable.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	clock         Clock
}

func NewTokenCodec(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration, clock Clock) *TokenCodec {
	return &TokenCodec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		clock:         clock,
	}
}

func (c *TokenCodec) secret(kind TokenKind) []byte {
	if kind == TokenRefresh {
		return c.refreshSecret
	}
	return c.accessSecret
}

// TTL returns the configured lifetime for the given kind.
func (c *TokenCodec) TTL(kind TokenKind) time.Duration {
	if kind == TokenRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

// Sign issues a token of the given kind and returns it with its expiry.
func (c *TokenCodec) Sign(kind TokenKind, userID uuid.UUID, role storage.Role, tokenVersion int) (string, time.Time, error) {
	now := c.clock.Now()
	expiresAt := now.Add(c.TTL(kind))

	claims := Claims{
		UserID:       userID,
		Role:         role,
		TokenVersion: tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Minute)), // Clock skew.
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret(kind))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return signed, expiresAt, nil
}

// Verify parses and verifies a token of the given kind. Callers must still
// load the user and compare Claims.TokenVersion against the stored epoch.
func (c *TokenCodec) Verify(tokenString string, kind TokenKind) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret(kind), nil
	}, jwt.WithTimeFunc(c.clock.Now))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenSignature
		default:
			return nil, ErrTokenMalformed
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
