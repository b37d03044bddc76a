package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aegis-id/aegis/internal/api/helpers"
	"github.com/aegis-id/aegis/internal/storage"
)

// pageParams reads offset pagination query parameters.
func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 50
	}
	return page, limit
}

func totalPages(total, limit int) int {
	pages := total / limit
	if total%limit != 0 {
		pages++
	}
	return pages
}

func (s *Server) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)

	users, total, err := s.auth.ListUsers(r.Context(), limit, (page-1)*limit)
	if err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"users":      users,
		"page":       page,
		"limit":      limit,
		"total":      total,
		"totalPages": totalPages(total, limit),
	})
}

type changeRoleRequest struct {
	Role storage.Role `json:"role"`
}

func (s *Server) AdminChangeRole(w http.ResponseWriter, r *http.Request) {
	claims, err := currentClaims(w, r)
	if err != nil {
		return
	}

	targetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req changeRoleRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role != storage.RoleUser && req.Role != storage.RoleAdmin {
		helpers.RespondError(w, http.StatusBadRequest, "invalid role")
		return
	}

	user, err := s.auth.ChangeRole(r.Context(), targetID, req.Role, claims.UserID, requestContext(r))
	if err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	claims, err := currentClaims(w, r)
	if err != nil {
		return
	}

	targetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := s.auth.DeleteUser(r.Context(), targetID, claims.UserID, requestContext(r)); err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "user deleted"})
}

func (s *Server) AdminDeleteNonAdmins(w http.ResponseWriter, r *http.Request) {
	claims, err := currentClaims(w, r)
	if err != nil {
		return
	}

	count, err := s.auth.DeleteAllNonAdmins(r.Context(), claims.UserID, requestContext(r))
	if err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{"deletedCount": count})
}

type bulkDeleteRequest struct {
	Confirmation string `json:"confirmation"`
}

func (s *Server) AdminDeleteAllUsers(w http.ResponseWriter, r *http.Request) {
	claims, err := currentClaims(w, r)
	if err != nil {
		return
	}

	var req bulkDeleteRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	count, err := s.auth.DeleteAllUsers(r.Context(), claims.UserID, req.Confirmation, requestContext(r))
	if err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{"deletedCount": count})
}

func (s *Server) AdminPermanentDelete(w http.ResponseWriter, r *http.Request) {
	claims, err := currentClaims(w, r)
	if err != nil {
		return
	}

	targetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := s.gdpr.PermanentDelete(r.Context(), targetID, claims.UserID, requestContext(r)); err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "user permanently deleted"})
}
