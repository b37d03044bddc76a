package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/aegis-id/aegis/internal/api/helpers"
	"github.com/aegis-id/aegis/internal/auth"
	"github.com/aegis-id/aegis/internal/storage"
)

// Authenticate validates the bearer token against the token codec AND the
// user's current tokenVersion, so a bumped epoch kills the request even while
// the signature is still within its TTL.
func Authenticate(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				helpers.RespondError(w, http.StatusUnauthorized, "authorization header required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				helpers.RespondError(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			claims, err := svc.VerifyAccess(r.Context(), parts[1])
			if err != nil {
				slog.Warn("access_token_rejected", "ip", helpers.GetRealIP(r), "error", err)
				helpers.RespondDomainError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserClaims(r.Context(), claims)))
		})
	}
}

// RequireAdmin gates a route group behind the ADMIN role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := GetUserClaims(r.Context())
		if err != nil {
			helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if claims.Role != storage.RoleAdmin {
			helpers.RespondError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// InternalOnly guards the private inter-service endpoints with a shared
// secret header. An empty configured token disables the check for setups that
// isolate the path at the network layer instead.
func InternalOnly(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("X-Internal-Token") != token {
				helpers.RespondError(w, http.StatusForbidden, "internal endpoint")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
