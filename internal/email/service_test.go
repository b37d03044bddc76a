package email

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-id/aegis/internal/audit"
	"github.com/aegis-id/aegis/internal/auth"
	"github.com/aegis-id/aegis/internal/mailer"
	"github.com/aegis-id/aegis/internal/storage"
	"github.com/aegis-id/aegis/internal/storage/memory"
)

type fixture struct {
	svc     *Service
	store   *memory.Store
	clock   *auth.FakeClock
	mail    *mailer.LogMailer
	auditor *CapturingReporter
	oob     *auth.OOBIssuer
	hasher  auth.PasswordHasher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	clock := auth.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	oob := auth.NewOOBIssuer("email-secret", 24*time.Hour, time.Hour, 15*time.Minute, clock)
	hasher := auth.NewBcryptHasher()
	mail := &mailer.LogMailer{}
	auditor := &CapturingReporter{}
	templates, err := mailer.NewTemplates()
	require.NoError(t, err)

	svc := NewService(store, oob, hasher, mail, templates, auditor, clock, slog.Default(), "https://app.example.com")
	return &fixture{svc: svc, store: store, clock: clock, mail: mail, auditor: auditor, oob: oob, hasher: hasher}
}

func (f *fixture) seedUser(t *testing.T, email string, verified bool) storage.User {
	t.Helper()
	hash, err := f.hasher.Hash("Or1ginalPass!")
	require.NoError(t, err)
	user, err := f.store.CreateUser(context.Background(), storage.CreateUserParams{
		Email:         email,
		PasswordHash:  hash,
		Role:          storage.RoleUser,
		EmailVerified: verified,
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) reportedActions() []audit.Action {
	actions := make([]audit.Action, 0, len(f.auditor.Entries))
	for _, e := range f.auditor.Entries {
		actions = append(actions, e.Action)
	}
	return actions
}

func TestSendVerificationAndVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "alice@example.com", false)

	require.NoError(t, f.svc.SendVerification(ctx, user.ID, user.Email))
	require.Len(t, f.mail.Sent, 1)
	assert.Contains(t, f.reportedActions(), audit.VerificationEmailSent)

	// Mint again: the earlier token is superseded, then verify with the live one.
	require.NoError(t, f.svc.SendVerification(ctx, user.ID, user.Email))

	row, err := f.store.FindOOBToken(ctx, user.ID, storage.OOBVerification)
	require.NoError(t, err)

	require.NoError(t, f.svc.VerifyEmail(ctx, row.Token))

	stored, err := f.store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.EmailVerified)
	assert.Contains(t, f.reportedActions(), audit.EmailVerified)

	// The token was consumed by deletion.
	err = f.svc.VerifyEmail(ctx, row.Token)
	assert.ErrorIs(t, err, ErrVerificationInvalid)
}

func TestVerifyEmailAlreadyVerified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "alice@example.com", true)

	require.NoError(t, f.svc.SendVerification(ctx, user.ID, user.Email))
	row, err := f.store.FindOOBToken(ctx, user.ID, storage.OOBVerification)
	require.NoError(t, err)

	err = f.svc.VerifyEmail(ctx, row.Token)
	assert.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestResendVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.ResendVerification(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)

	f.seedUser(t, "verified@example.com", true)
	err = f.svc.ResendVerification(ctx, "verified@example.com")
	assert.ErrorIs(t, err, ErrAlreadyVerified)

	f.seedUser(t, "fresh@example.com", false)
	require.NoError(t, f.svc.ResendVerification(ctx, "fresh@example.com"))
	assert.Len(t, f.mail.Sent, 1)
}

func TestPasswordResetEnumerationResistance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "alice@example.com", true)

	known, err := f.svc.SendPasswordReset(ctx, "alice@example.com", auth.RequestContext{})
	require.NoError(t, err)
	unknown, err := f.svc.SendPasswordReset(ctx, "x@x.example", auth.RequestContext{})
	require.NoError(t, err)

	// Identical message either way; only the real account got mail.
	assert.Equal(t, known, unknown)
	assert.Len(t, f.mail.Sent, 1)
}

func TestResetPasswordEpochBumpAndSessionWipe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "alice@example.com", true)

	// Two live sessions with refresh tokens.
	for i, tok := range []string{"refresh-a", "refresh-b"} {
		_, err := f.store.CreateRefreshToken(ctx, storage.CreateRefreshTokenParams{
			UserID: user.ID, Token: tok, ExpiresAt: f.clock.Now().Add(7 * 24 * time.Hour),
		})
		require.NoError(t, err)
		_, err = f.store.CreateSession(ctx, storage.CreateSessionParams{
			UserID: user.ID, RefreshToken: tok, ExpiresAt: f.clock.Now().Add(7 * 24 * time.Hour),
		})
		require.NoError(t, err, "session %d", i)
	}

	_, err := f.svc.SendPasswordReset(ctx, "alice@example.com", auth.RequestContext{})
	require.NoError(t, err)
	row, err := f.store.FindOOBToken(ctx, user.ID, storage.OOBPasswordReset)
	require.NoError(t, err)

	msg, err := f.svc.ResetPassword(ctx, row.Token, "BrandNewPass1!", auth.RequestContext{IP: "192.0.2.4"})
	require.NoError(t, err)
	assert.Equal(t, ResetCompletedMessage, msg)

	stored, err := f.store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.TokenVersion+1, stored.TokenVersion)
	assert.Zero(t, stored.FailedLoginAttempts)
	assert.Nil(t, stored.AccountLockedUntil)
	assert.NoError(t, f.hasher.Compare(stored.PasswordHash, "BrandNewPass1!"))

	tokens, err := f.store.ListRefreshTokensByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, tokens)

	sessions, err := f.store.ListActiveSessions(ctx, user.ID, f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, sessions)

	assert.Contains(t, f.reportedActions(), audit.PasswordResetCompleted)
}

func TestResetPasswordOneShot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "alice@example.com", true)

	_, err := f.svc.SendPasswordReset(ctx, "alice@example.com", auth.RequestContext{})
	require.NoError(t, err)
	row, err := f.store.FindOOBToken(ctx, user.ID, storage.OOBPasswordReset)
	require.NoError(t, err)

	_, err = f.svc.ResetPassword(ctx, row.Token, "BrandNewPass1!", auth.RequestContext{})
	require.NoError(t, err)

	_, err = f.svc.ResetPassword(ctx, row.Token, "AnotherPass2!", auth.RequestContext{})
	assert.ErrorIs(t, err, ErrResetUsed)
}

func TestResetPasswordExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "alice@example.com", true)

	_, err := f.svc.SendPasswordReset(ctx, "alice@example.com", auth.RequestContext{})
	require.NoError(t, err)
	row, err := f.store.FindOOBToken(ctx, user.ID, storage.OOBPasswordReset)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)

	_, err = f.svc.ResetPassword(ctx, row.Token, "BrandNewPass1!", auth.RequestContext{})
	assert.ErrorIs(t, err, ErrResetExpired)
}

func TestResetPasswordGarbageToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ResetPassword(context.Background(), "garbage", "BrandNewPass1!", auth.RequestContext{})
	assert.ErrorIs(t, err, ErrResetInvalid)
}

func TestSendMagicLinkTemplates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SendMagicLink(ctx, "carol@example.com", "signed-token", true))
	require.NoError(t, f.svc.SendMagicLink(ctx, "carol@example.com", "signed-token", false))

	require.Len(t, f.mail.Sent, 2)
	assert.Equal(t, "Welcome! Your sign-in link", f.mail.Sent[0])
	assert.Equal(t, "Your sign-in link", f.mail.Sent[1])
}
