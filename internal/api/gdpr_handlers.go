package api

import (
	"fmt"
	"net/http"
	"net/mail"

	"github.com/aegis-id/aegis/internal/api/helpers"
)

func (s *Server) GdprExport(w http.ResponseWriter, r *http.Request) {
	claims, err := currentClaims(w, r)
	if err != nil {
		return
	}

	export, err := s.gdpr.ExportData(r.Context(), claims.UserID, requestContext(r))
	if err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	filename := fmt.Sprintf("data-export-%s.json", claims.UserID)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	helpers.RespondJSON(w, http.StatusOK, export)
}

type anonymizeRequest struct {
	Confirmation string `json:"confirmation"`
	Password     string `json:"password"`
}

func (s *Server) GdprAnonymize(w http.ResponseWriter, r *http.Request) {
	claims, err := currentClaims(w, r)
	if err != nil {
		return
	}

	var req anonymizeRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.gdpr.Anonymize(r.Context(), claims.UserID, req.Confirmation, req.Password, requestContext(r)); err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	s.clearRefreshCookie(w)
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "account anonymized"})
}

type updateEmailRequest struct {
	NewEmail string `json:"newEmail"`
}

func (s *Server) GdprUpdateEmail(w http.ResponseWriter, r *http.Request) {
	claims, err := currentClaims(w, r)
	if err != nil {
		return
	}

	var req updateEmailRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := mail.ParseAddress(req.NewEmail); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid email format")
		return
	}

	if err := s.gdpr.UpdateEmail(r.Context(), claims.UserID, req.NewEmail, requestContext(r)); err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{
		"message": "email updated, please verify the new address",
	})
}
