package middleware

import (
	"context"
	"errors"

	"github.com/aegis-id/aegis/internal/auth"
)

type ctxKey int

const userClaimsKey ctxKey = iota

var ErrNoClaims = errors.New("no user claims in context")

// WithUserClaims injects the verified claims for downstream handlers.
func WithUserClaims(ctx context.Context, claims auth.UserClaims) context.Context {
	return context.WithValue(ctx, userClaimsKey, claims)
}

// GetUserClaims returns the claims set by the auth middleware.
func GetUserClaims(ctx context.Context) (auth.UserClaims, error) {
	claims, ok := ctx.Value(userClaimsKey).(auth.UserClaims)
	if !ok {
		return auth.UserClaims{}, ErrNoClaims
	}
	return claims, nil
}
