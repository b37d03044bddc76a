// Package api is the auth service's HTTP surface.
package api

import (
	"log/slog"
	"net/http"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/aegis-id/aegis/internal/api/helpers"
	custommw "github.com/aegis-id/aegis/internal/api/middleware"
	"github.com/aegis-id/aegis/internal/audit"
	"github.com/aegis-id/aegis/internal/auth"
	"github.com/aegis-id/aegis/internal/gdpr"
	"github.com/aegis-id/aegis/internal/storage"
)

// Config is the subset of app configuration the HTTP layer needs.
type Config struct {
	Env               string
	RefreshCookieName string
	InternalAPIToken  string
}

// Server wires the auth service routes.
type Server struct {
	Router *chi.Mux

	cfg      Config
	auth     *auth.Service
	gdpr     *gdpr.Service
	store    storage.Store
	recorder *audit.Recorder
	logger   *slog.Logger
}

func NewServer(
	cfg Config,
	authService *auth.Service,
	gdprService *gdpr.Service,
	store storage.Store,
	recorder *audit.Recorder,
	logger *slog.Logger,
) *Server {
	s := &Server{
		cfg:      cfg,
		auth:     authService,
		gdpr:     gdprService,
		store:    store,
		recorder: recorder,
		logger:   logger,
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

	requireAuth := custommw.Authenticate(authService)

	r.Get("/health", s.Health)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.Register)
		r.Post("/login", s.Login)
		r.Post("/refresh", s.Refresh)
		r.Post("/logout", s.Logout)
		r.Post("/magic-link/request", s.MagicLinkRequest)
		r.Post("/magic-link/verify", s.MagicLinkVerify)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/profile", s.Profile)

			r.Get("/sessions", s.ListSessions)
			r.Delete("/sessions/{id}", s.RevokeSession)
			r.Post("/sessions/logout-other-devices", s.LogoutOtherDevices)
			r.Post("/sessions/logout-all-devices", s.LogoutAllDevices)

			r.Get("/audit/me", s.MyAuditLogs)

			r.Get("/gdpr/export", s.GdprExport)
			r.Post("/gdpr/anonymize", s.GdprAnonymize)
			r.Patch("/gdpr/update-email", s.GdprUpdateEmail)

			r.Route("/admin", func(r chi.Router) {
				r.Use(custommw.RequireAdmin)

				r.Get("/users", s.AdminListUsers)
				r.Delete("/users", s.AdminDeleteAllUsers)
				r.Delete("/users/non-admins", s.AdminDeleteNonAdmins)
				r.Patch("/users/{id}/role", s.AdminChangeRole)
				r.Delete("/users/{id}", s.AdminDeleteUser)
				r.Delete("/users/{id}/permanent", s.AdminPermanentDelete)
				r.Get("/audit", s.AdminAuditLogs)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(custommw.InternalOnly(cfg.InternalAPIToken))
			r.Post("/internal/audit-log", s.InternalAuditLog)
		})
	})

	s.Router = r
	return s
}

// requestContext builds the per-request metadata passed into the domain layer.
func requestContext(r *http.Request) auth.RequestContext {
	return auth.RequestContext{
		IP:        helpers.GetRealIP(r),
		UserAgent: r.UserAgent(),
	}
}

// setRefreshCookie writes the HTTP-only refresh cookie. Cross-origin
// deployments need SameSite=None with Secure; dev stays on Lax.
func (s *Server) setRefreshCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	cookie := &http.Cookie{
		Name:     s.cfg.RefreshCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if s.cfg.Env == "production" {
		cookie.SameSite = http.SameSiteNoneMode
		cookie.Secure = true
	}
	http.SetCookie(w, cookie)
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	cookie := &http.Cookie{
		Name:     s.cfg.RefreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if s.cfg.Env == "production" {
		cookie.SameSite = http.SameSiteNoneMode
		cookie.Secure = true
	}
	http.SetCookie(w, cookie)
}

// refreshCookie returns the presented refresh token, or "".
func (s *Server) refreshCookie(r *http.Request) string {
	cookie, err := r.Cookie(s.cfg.RefreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
