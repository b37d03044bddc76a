package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/aegis-id/aegis/internal/api/helpers"
	"github.com/aegis-id/aegis/internal/audit"
)

type internalAuditRequest struct {
	UserID       *uuid.UUID     `json:"userId,omitempty"`
	Action       string         `json:"action"`
	Resource     string         `json:"resource,omitempty"`
	IPAddress    string         `json:"ipAddress,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// InternalAuditLog accepts audit entries from the email service. The route is
// only reachable through the internal-token middleware.
func (s *Server) InternalAuditLog(w http.ResponseWriter, r *http.Request) {
	var req internalAuditRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action == "" {
		helpers.RespondError(w, http.StatusBadRequest, "action required")
		return
	}

	s.recorder.Record(r.Context(), s.store, audit.Entry{
		UserID:       req.UserID,
		Action:       audit.Action(req.Action),
		Resource:     req.Resource,
		IP:           req.IPAddress,
		UserAgent:    req.UserAgent,
		Metadata:     req.Metadata,
		Success:      req.Success,
		ErrorMessage: req.ErrorMessage,
	})

	helpers.RespondJSON(w, http.StatusCreated, map[string]string{"message": "recorded"})
}
