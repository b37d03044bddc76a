package api

import (
	"fmt"
	"net/http"
	"net/mail"
	"unicode/utf8"

	"github.com/aegis-id/aegis/internal/api/helpers"
	"github.com/aegis-id/aegis/internal/storage"
)

// RegisterRequest defines the expected JSON body for registration.
type RegisterRequest struct {
	Email    string       `json:"email"`
	Password string       `json:"password"`
	Role     storage.Role `json:"role,omitempty"`
}

func (req *RegisterRequest) Validate() error {
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return fmt.Errorf("invalid email format")
	}
	if utf8.RuneCountInString(req.Password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	if req.Role != "" && req.Role != storage.RoleUser && req.Role != storage.RoleAdmin {
		return fmt.Errorf("invalid role")
	}
	return nil
}

func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.auth.Register(r.Context(), req.Email, req.Password, req.Role, requestContext(r))
	if err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusCreated, map[string]any{"user": user})
}

// LoginRequest defines the expected JSON body for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (req *LoginRequest) Validate() error {
	if req.Email == "" || req.Password == "" {
		return fmt.Errorf("email and password required")
	}
	return nil
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.auth.Login(r.Context(), req.Email, req.Password, requestContext(r))
	if err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	s.setRefreshCookie(w, result.RefreshToken, result.ExpiresAt)
	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"accessToken": result.AccessToken,
		"user":        result.User,
	})
}

func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	token := s.refreshCookie(r)
	if token == "" {
		helpers.RespondError(w, http.StatusUnauthorized, "refresh token missing")
		return
	}

	result, err := s.auth.Refresh(r.Context(), token, requestContext(r))
	if err != nil {
		s.clearRefreshCookie(w)
		helpers.RespondDomainError(w, r, err)
		return
	}

	s.setRefreshCookie(w, result.RefreshToken, result.ExpiresAt)
	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"accessToken": result.AccessToken,
	})
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), s.refreshCookie(r), requestContext(r)); err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	s.clearRefreshCookie(w)
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

type magicLinkRequest struct {
	Email string `json:"email"`
}

func (s *Server) MagicLinkRequest(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid email format")
		return
	}

	message, err := s.auth.RequestMagicLink(r.Context(), req.Email, requestContext(r))
	if err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": message})
}

type magicLinkVerifyRequest struct {
	Token string `json:"token"`
}

func (s *Server) MagicLinkVerify(w http.ResponseWriter, r *http.Request) {
	var req magicLinkVerifyRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Token == "" {
		helpers.RespondError(w, http.StatusBadRequest, "token required")
		return
	}

	result, err := s.auth.RedeemMagicLink(r.Context(), req.Token, requestContext(r))
	if err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	s.setRefreshCookie(w, result.RefreshToken, result.ExpiresAt)
	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"accessToken": result.AccessToken,
		"user":        result.User,
	})
}

func (s *Server) Profile(w http.ResponseWriter, r *http.Request) {
	claims, err := currentClaims(w, r)
	if err != nil {
		return
	}

	user, err := s.auth.Profile(r.Context(), claims.UserID)
	if err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{"user": user})
}
