package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-id/aegis/internal/api/helpers"
	"github.com/aegis-id/aegis/internal/storage"
)

func (s *Server) MyAuditLogs(w http.ResponseWriter, r *http.Request) {
	claims, err := currentClaims(w, r)
	if err != nil {
		return
	}

	page, limit := pageParams(r)
	logs, total, err := s.store.ListAuditLogs(r.Context(), storage.AuditLogFilter{
		UserID: &claims.UserID,
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"logs":       logs,
		"page":       page,
		"limit":      limit,
		"total":      total,
		"totalPages": totalPages(total, limit),
	})
}

func (s *Server) AdminAuditLogs(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	q := r.URL.Query()

	filter := storage.AuditLogFilter{
		Action: q.Get("action"),
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	if raw := q.Get("userId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			helpers.RespondError(w, http.StatusBadRequest, "invalid userId filter")
			return
		}
		filter.UserID = &id
	}
	if raw := q.Get("success"); raw != "" {
		success, err := strconv.ParseBool(raw)
		if err != nil {
			helpers.RespondError(w, http.StatusBadRequest, "invalid success filter")
			return
		}
		filter.Success = &success
	}
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			helpers.RespondError(w, http.StatusBadRequest, "invalid from filter")
			return
		}
		filter.From = &from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			helpers.RespondError(w, http.StatusBadRequest, "invalid to filter")
			return
		}
		filter.To = &to
	}

	logs, total, err := s.store.ListAuditLogs(r.Context(), filter)
	if err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"logs":       logs,
		"page":       page,
		"limit":      limit,
		"total":      total,
		"totalPages": totalPages(total, limit),
	})
}
