package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-id/aegis/internal/audit"
	"github.com/aegis-id/aegis/internal/auth"
	"github.com/aegis-id/aegis/internal/gdpr"
	"github.com/aegis-id/aegis/internal/notify"
	"github.com/aegis-id/aegis/internal/storage"
	"github.com/aegis-id/aegis/internal/storage/memory"
)

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (plainHasher) Compare(hash, password string) error {
	if hash != "plain:"+password {
		return errors.New("mismatch")
	}
	return nil
}

type testEnv struct {
	server *Server
	store  *memory.Store
	clock  *auth.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	clock := auth.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.Default()
	recorder := audit.NewRecorder(logger)
	codec := auth.NewTokenCodec("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour, clock)
	oob := auth.NewOOBIssuer("email-secret", 24*time.Hour, time.Hour, 15*time.Minute, clock)
	mail := &notify.LogSender{}
	hasher := plainHasher{}

	authService := auth.NewService(store, hasher, codec, oob, recorder, mail, clock, logger)
	gdprService := gdpr.NewService(store, hasher, recorder, mail, clock, logger)

	server := NewServer(Config{
		Env:               "test",
		RefreshCookieName: "jid",
		InternalAPIToken:  "internal-secret",
	}, authService, gdprService, store, recorder, logger)

	return &testEnv{server: server, store: store, clock: clock}
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

func (e *testEnv) registerVerified(t *testing.T, email, password string, role storage.Role) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/auth/register", map[string]any{
		"email": email, "password": password, "role": role,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	user, err := e.store.GetUserByEmail(context.Background(), email)
	require.NoError(t, err)
	require.NoError(t, e.store.SetEmailVerified(context.Background(), user.ID, true))
}

func (e *testEnv) login(t *testing.T, email, password string) (accessToken string, refreshCookie *http.Cookie) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/auth/login", map[string]any{
		"email": email, "password": password,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var payload struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))

	for _, c := range rr.Result().Cookies() {
		if c.Name == "jid" {
			refreshCookie = c
		}
	}
	require.NotNil(t, refreshCookie)
	require.True(t, refreshCookie.HttpOnly)
	return payload.AccessToken, refreshCookie
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(c) }
}

func TestRegisterLoginProfile(t *testing.T) {
	e := newTestEnv(t)
	e.registerVerified(t, "alice@example.com", "Str0ngPass!", storage.RoleUser)

	access, _ := e.login(t, "alice@example.com", "Str0ngPass!")

	rr := e.do(t, http.MethodGet, "/auth/profile", nil, bearer(access))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "alice@example.com")
}

func TestLoginWrongPassword(t *testing.T) {
	e := newTestEnv(t)
	e.registerVerified(t, "alice@example.com", "Str0ngPass!", storage.RoleUser)

	rr := e.do(t, http.MethodPost, "/auth/login", map[string]any{
		"email": "alice@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid credentials")
}

func TestLockoutSurfacesLockedUntil(t *testing.T) {
	e := newTestEnv(t)
	e.registerVerified(t, "bob@example.com", "Str0ngPass!", storage.RoleUser)

	var rr *httptest.ResponseRecorder
	for i := 0; i < auth.MaxFailedAttempts; i++ {
		rr = e.do(t, http.MethodPost, "/auth/login", map[string]any{
			"email": "bob@example.com", "password": "wrong-password",
		})
	}
	require.Equal(t, http.StatusLocked, rr.Code)
	assert.Contains(t, rr.Body.String(), "lockedUntil")

	// The sixth attempt with the right password is still locked out.
	rr = e.do(t, http.MethodPost, "/auth/login", map[string]any{
		"email": "bob@example.com", "password": "Str0ngPass!",
	})
	assert.Equal(t, http.StatusLocked, rr.Code)
}

func TestRefreshRotationViaCookie(t *testing.T) {
	e := newTestEnv(t)
	e.registerVerified(t, "alice@example.com", "Str0ngPass!", storage.RoleUser)
	_, r0 := e.login(t, "alice@example.com", "Str0ngPass!")

	rr := e.do(t, http.MethodPost, "/auth/refresh", nil, withCookie(r0))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var r1 *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == "jid" {
			r1 = c
		}
	}
	require.NotNil(t, r1)
	require.NotEqual(t, r0.Value, r1.Value)

	// Replaying the rotated-out cookie fails.
	rr = e.do(t, http.MethodPost, "/auth/refresh", nil, withCookie(r0))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// The fresh one works.
	rr = e.do(t, http.MethodPost, "/auth/refresh", nil, withCookie(r1))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRefreshWithoutCookie(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, http.MethodPost, "/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "refresh token missing")
}

func TestLogoutClearsCookieAndIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	e.registerVerified(t, "alice@example.com", "Str0ngPass!", storage.RoleUser)
	_, cookie := e.login(t, "alice@example.com", "Str0ngPass!")

	rr := e.do(t, http.MethodPost, "/auth/logout", nil, withCookie(cookie))
	require.Equal(t, http.StatusOK, rr.Code)

	// Again, without any cookie: still 200.
	rr = e.do(t, http.MethodPost, "/auth/logout", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestProfileRequiresBearer(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, http.MethodGet, "/auth/profile", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = e.do(t, http.MethodGet, "/auth/profile", nil, bearer("garbage"))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAccessTokenInvalidatedByEpochBump(t *testing.T) {
	e := newTestEnv(t)
	e.registerVerified(t, "alice@example.com", "Str0ngPass!", storage.RoleUser)
	access, _ := e.login(t, "alice@example.com", "Str0ngPass!")

	user, err := e.store.GetUserByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, e.store.ResetUserPassword(context.Background(), user.ID, "plain:NewPass123"))

	rr := e.do(t, http.MethodGet, "/auth/profile", nil, bearer(access))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid or expired token")
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	e := newTestEnv(t)
	e.registerVerified(t, "alice@example.com", "Str0ngPass!", storage.RoleUser)
	access, _ := e.login(t, "alice@example.com", "Str0ngPass!")

	rr := e.do(t, http.MethodGet, "/auth/admin/users", nil, bearer(access))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAdminListUsersAndAudit(t *testing.T) {
	e := newTestEnv(t)
	e.registerVerified(t, "admin@example.com", "Adm1nPass!", storage.RoleAdmin)
	e.registerVerified(t, "alice@example.com", "Str0ngPass!", storage.RoleUser)
	access, _ := e.login(t, "admin@example.com", "Adm1nPass!")

	rr := e.do(t, http.MethodGet, "/auth/admin/users?page=1&limit=10", nil, bearer(access))
	require.Equal(t, http.StatusOK, rr.Code)
	var users struct {
		Total      int `json:"total"`
		TotalPages int `json:"totalPages"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &users))
	assert.Equal(t, 2, users.Total)
	assert.Equal(t, 1, users.TotalPages)

	rr = e.do(t, http.MethodGet, "/auth/admin/audit?action=USER_LOGIN", nil, bearer(access))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "USER_LOGIN")
}

func TestSessionsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.registerVerified(t, "alice@example.com", "Str0ngPass!", storage.RoleUser)
	access, cookie := e.login(t, "alice@example.com", "Str0ngPass!")

	rr := e.do(t, http.MethodGet, "/auth/sessions", nil, bearer(access), withCookie(cookie))
	require.Equal(t, http.StatusOK, rr.Code)

	var payload struct {
		Sessions []struct {
			ID      string `json:"id"`
			Current bool   `json:"current"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	require.Len(t, payload.Sessions, 1)
	assert.True(t, payload.Sessions[0].Current)

	// The raw refresh token value never appears in the response.
	assert.NotContains(t, rr.Body.String(), cookie.Value)
}

func TestInternalAuditEndpointRequiresToken(t *testing.T) {
	e := newTestEnv(t)

	body := map[string]any{"action": "EMAIL_VERIFIED", "success": true}

	rr := e.do(t, http.MethodPost, "/auth/internal/audit-log", body)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = e.do(t, http.MethodPost, "/auth/internal/audit-log", body, func(r *http.Request) {
		r.Header.Set("X-Internal-Token", "internal-secret")
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	_, total, err := e.store.ListAuditLogs(context.Background(), storage.AuditLogFilter{Action: "EMAIL_VERIFIED"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestGdprAnonymizeEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	e.registerVerified(t, "alice@example.com", "Str0ngPass!", storage.RoleUser)
	access, _ := e.login(t, "alice@example.com", "Str0ngPass!")

	rr := e.do(t, http.MethodPost, "/auth/gdpr/anonymize", map[string]any{
		"confirmation": "WRONG", "password": "Str0ngPass!",
	}, bearer(access))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(t, http.MethodPost, "/auth/gdpr/anonymize", map[string]any{
		"confirmation": gdpr.AnonymizeConfirmation, "password": "Str0ngPass!",
	}, bearer(access))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	_, err := e.store.GetUserByEmail(context.Background(), "alice@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
