package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aegis-id/aegis/internal/api/helpers"
	custommw "github.com/aegis-id/aegis/internal/api/middleware"
	"github.com/aegis-id/aegis/internal/auth"
)

// currentClaims pulls the authenticated claims, writing the 401 itself when
// the middleware was bypassed.
func currentClaims(w http.ResponseWriter, r *http.Request) (auth.UserClaims, error) {
	claims, err := custommw.GetUserClaims(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
	}
	return claims, err
}

func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims, err := currentClaims(w, r)
	if err != nil {
		return
	}

	sessions, err := s.auth.ListActiveSessions(r.Context(), claims.UserID, s.refreshCookie(r))
	if err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) RevokeSession(w http.ResponseWriter, r *http.Request) {
	claims, err := currentClaims(w, r)
	if err != nil {
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	if err := s.auth.RevokeSession(r.Context(), claims.UserID, sessionID, requestContext(r)); err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "session revoked"})
}

func (s *Server) LogoutOtherDevices(w http.ResponseWriter, r *http.Request) {
	claims, err := currentClaims(w, r)
	if err != nil {
		return
	}

	revoked, err := s.auth.RevokeOtherSessions(r.Context(), claims.UserID, s.refreshCookie(r), requestContext(r))
	if err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{"revokedCount": revoked})
}

func (s *Server) LogoutAllDevices(w http.ResponseWriter, r *http.Request) {
	claims, err := currentClaims(w, r)
	if err != nil {
		return
	}

	revoked, err := s.auth.RevokeAllSessions(r.Context(), claims.UserID, requestContext(r))
	if err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	s.clearRefreshCookie(w)
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"revokedCount": revoked})
}
