// Package emailapi is the email service's HTTP surface.
package emailapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"time"
	"unicode/utf8"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/aegis-id/aegis/internal/api/helpers"
	custommw "github.com/aegis-id/aegis/internal/api/middleware"
	"github.com/aegis-id/aegis/internal/auth"
	"github.com/aegis-id/aegis/internal/email"
)

// Config is the subset of app configuration the email HTTP layer needs.
type Config struct {
	InternalAPIToken string
}

// Server wires the email service routes.
type Server struct {
	Router *chi.Mux

	cfg    Config
	email  *email.Service
	logger *slog.Logger
}

func NewServer(cfg Config, emailService *email.Service, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		email:  emailService,
		logger: logger,
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	r.Use(sentryHandler.Handle)

	r.Use(custommw.RequestLogger)
	r.Use(custommw.PanicRecovery)

	limiter := custommw.NewIPRateLimiter(5, 10)
	r.Use(limiter.Middleware)

	r.Get("/health", s.Health)

	r.Route("/email", func(r chi.Router) {
		r.Post("/verify-email", s.VerifyEmail)
		r.Post("/resend-verification", s.ResendVerification)
		r.Post("/forgot-password", s.ForgotPassword)
		r.Post("/reset-password", s.ResetPassword)

		// Only the auth service calls these.
		r.Group(func(r chi.Router) {
			r.Use(custommw.InternalOnly(cfg.InternalAPIToken))
			r.Post("/send-verification", s.SendVerification)
			r.Post("/send-magic-link", s.SendMagicLink)
		})
	})

	s.Router = r
	return s
}

func requestContext(r *http.Request) auth.RequestContext {
	return auth.RequestContext{
		IP:        helpers.GetRealIP(r),
		UserAgent: r.UserAgent(),
	}
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sendVerificationRequest struct {
	UserID uuid.UUID `json:"userId"`
	Email  string    `json:"email"`
}

func (s *Server) SendVerification(w http.ResponseWriter, r *http.Request) {
	var req sendVerificationRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == uuid.Nil {
		helpers.RespondError(w, http.StatusBadRequest, "userId required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid email format")
		return
	}

	if err := s.email.SendVerification(r.Context(), req.UserID, req.Email); err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "verification email sent"})
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

func (s *Server) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Token == "" {
		helpers.RespondError(w, http.StatusBadRequest, "token required")
		return
	}

	if err := s.email.VerifyEmail(r.Context(), req.Token); err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "email verified"})
}

type resendVerificationRequest struct {
	Email string `json:"email"`
}

func (s *Server) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendVerificationRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid email format")
		return
	}

	if err := s.email.ResendVerification(r.Context(), req.Email); err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "verification email sent"})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (s *Server) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid email format")
		return
	}

	message, err := s.email.SendPasswordReset(r.Context(), req.Email, requestContext(r))
	if err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": message})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (req *resetPasswordRequest) Validate() error {
	if req.Token == "" {
		return fmt.Errorf("token required")
	}
	if utf8.RuneCountInString(req.NewPassword) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	return nil
}

func (s *Server) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	message, err := s.email.ResetPassword(r.Context(), req.Token, req.NewPassword, requestContext(r))
	if err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": message})
}

type sendMagicLinkRequest struct {
	Email     string `json:"email"`
	Token     string `json:"token"`
	IsNewUser bool   `json:"isNewUser"`
}

func (s *Server) SendMagicLink(w http.ResponseWriter, r *http.Request) {
	var req sendMagicLinkRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		helpers.RespondError(w, http.StatusBadRequest, "token required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid email format")
		return
	}

	if err := s.email.SendMagicLink(r.Context(), req.Email, req.Token, req.IsNewUser); err != nil {
		helpers.RespondDomainError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "magic link sent"})
}
