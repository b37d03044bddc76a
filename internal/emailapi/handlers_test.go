package emailapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-id/aegis/internal/auth"
	"github.com/aegis-id/aegis/internal/email"
	"github.com/aegis-id/aegis/internal/mailer"
	"github.com/aegis-id/aegis/internal/storage"
	"github.com/aegis-id/aegis/internal/storage/memory"
)

type testEnv struct {
	server *Server
	store  *memory.Store
	mail   *mailer.LogMailer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	clock := auth.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	oob := auth.NewOOBIssuer("email-secret", 24*time.Hour, time.Hour, 15*time.Minute, clock)
	mail := &mailer.LogMailer{}
	templates, err := mailer.NewTemplates()
	require.NoError(t, err)

	svc := email.NewService(store, oob, auth.NewBcryptHasher(), mail, templates,
		&email.CapturingReporter{}, clock, slog.Default(), "https://app.example.com")

	server := NewServer(Config{InternalAPIToken: "internal-secret"}, svc, slog.Default())
	return &testEnv{server: server, store: store, mail: mail}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	rr := httptest.NewRecorder()
	e.server.Router.ServeHTTP(rr, req)
	return rr
}

func internalToken(r *http.Request) { r.Header.Set("X-Internal-Token", "internal-secret") }

func TestSendVerificationIsInternalOnly(t *testing.T) {
	e := newTestEnv(t)

	user, err := e.store.CreateUser(context.Background(), storage.CreateUserParams{
		Email: "alice@example.com", PasswordHash: "hash", Role: storage.RoleUser,
	})
	require.NoError(t, err)

	body := map[string]any{"userId": user.ID, "email": user.Email}

	rr := e.do(t, http.MethodPost, "/email/send-verification", body)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = e.do(t, http.MethodPost, "/email/send-verification", body, internalToken)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Len(t, e.mail.Sent, 1)
}

func TestVerifyEmailFlow(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	user, err := e.store.CreateUser(ctx, storage.CreateUserParams{
		Email: "alice@example.com", PasswordHash: "hash", Role: storage.RoleUser,
	})
	require.NoError(t, err)

	rr := e.do(t, http.MethodPost, "/email/send-verification",
		map[string]any{"userId": user.ID, "email": user.Email}, internalToken)
	require.Equal(t, http.StatusOK, rr.Code)

	row, err := e.store.FindOOBToken(ctx, user.ID, storage.OOBVerification)
	require.NoError(t, err)

	rr = e.do(t, http.MethodPost, "/email/verify-email", map[string]any{"token": row.Token})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	stored, err := e.store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.EmailVerified)

	// Replay: the token was consumed by deletion.
	rr = e.do(t, http.MethodPost, "/email/verify-email", map[string]any{"token": row.Token})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid verification token")
}

func TestForgotPasswordUniformResponse(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.store.CreateUser(ctx, storage.CreateUserParams{
		Email: "alice@example.com", PasswordHash: "hash", Role: storage.RoleUser, EmailVerified: true,
	})
	require.NoError(t, err)

	known := e.do(t, http.MethodPost, "/email/forgot-password", map[string]any{"email": "alice@example.com"})
	unknown := e.do(t, http.MethodPost, "/email/forgot-password", map[string]any{"email": "x@x.example"})

	require.Equal(t, http.StatusOK, known.Code)
	require.Equal(t, http.StatusOK, unknown.Code)
	assert.JSONEq(t, known.Body.String(), unknown.Body.String())
}

func TestResetPasswordValidation(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, http.MethodPost, "/email/reset-password", map[string]any{
		"token": "t", "newPassword": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
