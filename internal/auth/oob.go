package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aegis-id/aegis/internal/storage"
)

var (
	ErrOOBNotFound = errors.New("out-of-band token not found")
	ErrOOBUsed     = errors.New("out-of-band token already used")
	ErrOOBExpired  = errors.New("out-of-band token expired")
)

// UsedMagicLinkRetention is how long consumed magic-link rows are kept for
// audit before the sweeper removes them.
const UsedMagicLinkRetention = 7 * 24 * time.Hour

type oobClaims struct {
	UserID uuid.UUID       `json:"sub"`
	Kind   storage.OOBKind `json:"kind"`
	jwt.RegisteredClaims
}

// OOBIssuer mints and consumes the single-use out-of-band tokens behind
// email verification, password reset and magic-link login. Every token is a
// signed JWT backed by a DB row; the row is the source of truth for one-shot
// consumption, the signature proves the token was issued here.
type OOBIssuer struct {
	secret []byte
	ttls   map[storage.OOBKind]time.Duration
	clock  Clock
}

func NewOOBIssuer(secret string, verificationTTL, resetTTL, magicLinkTTL time.Duration, clock Clock) *OOBIssuer {
	return &OOBIssuer{
		secret: []byte(secret),
		ttls: map[storage.OOBKind]time.Duration{
			storage.OOBVerification:  verificationTTL,
			storage.OOBPasswordReset: resetTTL,
			storage.OOBMagicLink:     magicLinkTTL,
		},
		clock: clock,
	}
}

// TTL returns the configured lifetime for the given kind.
func (i *OOBIssuer) TTL(kind storage.OOBKind) time.Duration { return i.ttls[kind] }

// Mint deletes any prior unused token of the same (user, kind) and creates a
// fresh one. Only the most recent unused token per pair is ever redeemable.
func (i *OOBIssuer) Mint(ctx context.Context, store storage.OOBTokenStore, userID uuid.UUID, kind storage.OOBKind) (storage.OOBToken, error) {
	now := i.clock.Now()
	expiresAt := now.Add(i.ttls[kind])

	claims := oobClaims{
		UserID: userID,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return storage.OOBToken{}, fmt.Errorf("failed to sign %s token: %w", kind, err)
	}

	if err := store.DeleteUnusedOOBTokens(ctx, userID, kind); err != nil {
		return storage.OOBToken{}, fmt.Errorf("failed to purge prior %s tokens: %w", kind, err)
	}

	row, err := store.CreateOOBToken(ctx, storage.CreateOOBTokenParams{
		Kind:      kind,
		Token:     signed,
		UserID:    userID,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return storage.OOBToken{}, fmt.Errorf("failed to store %s token: %w", kind, err)
	}
	return row, nil
}

// Consume validates a presented token and returns its row. The caller runs
// inside a transaction and finishes the consumption: verification tokens are
// deleted, reset and magic-link tokens are marked used.
//
// An expired row is deleted as a side effect of the rejection.
func (i *OOBIssuer) Consume(ctx context.Context, store storage.OOBTokenStore, raw string, kind storage.OOBKind) (storage.OOBToken, error) {
	claims := &oobClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.clock.Now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			// The row, if any, is unreachable by signature now; sweep it.
			if row, lookupErr := store.GetOOBToken(ctx, raw); lookupErr == nil {
				_ = store.DeleteOOBToken(ctx, row.ID)
			}
			return storage.OOBToken{}, ErrOOBExpired
		}
		return storage.OOBToken{}, ErrOOBNotFound
	}

	row, err := store.GetOOBToken(ctx, raw)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.OOBToken{}, ErrOOBNotFound
		}
		return storage.OOBToken{}, err
	}

	// The signed claims must agree with the stored row.
	if row.Kind != kind || row.UserID != claims.UserID {
		return storage.OOBToken{}, ErrOOBNotFound
	}
	if row.Used {
		return storage.OOBToken{}, ErrOOBUsed
	}
	if row.ExpiresAt.Before(i.clock.Now()) {
		_ = store.DeleteOOBToken(ctx, row.ID)
		return storage.OOBToken{}, ErrOOBExpired
	}
	return row, nil
}
