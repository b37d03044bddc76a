package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-id/aegis/internal/audit"
	"github.com/aegis-id/aegis/internal/autherr"
	"github.com/aegis-id/aegis/internal/storage"
)

func TestMagicLinkSilentSignup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.RequestMagicLink(ctx, "carol@example.com", RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, MagicLinkMessage, msg)

	// The account exists now, unverified, role USER.
	user, err := f.store.GetUserByEmail(ctx, "carol@example.com")
	require.NoError(t, err)
	assert.False(t, user.EmailVerified)
	assert.Equal(t, storage.RoleUser, user.Role)
	assert.Equal(t, 1, f.auditCount(t, audit.UserRegister))
	assert.Equal(t, 1, f.auditCount(t, audit.MagicLinkRequested))
	assert.Equal(t, 1, f.auditCount(t, audit.MagicLinkSent))
}

func TestMagicLinkUniformResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, "known@example.com", "Str0ngPass!")

	known, err := f.svc.RequestMagicLink(ctx, "known@example.com", RequestContext{})
	require.NoError(t, err)
	unknown, err := f.svc.RequestMagicLink(ctx, "unknown@example.com", RequestContext{})
	require.NoError(t, err)

	assert.Equal(t, known, unknown)
}

func TestMagicLinkRedeem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestMagicLink(ctx, "carol@example.com", RequestContext{})
	require.NoError(t, err)
	tokens := f.mail.MagicLinks()
	require.Len(t, tokens, 1)

	result, err := f.svc.RedeemMagicLink(ctx, tokens[0], RequestContext{IP: "192.0.2.9", UserAgent: "curl/8.0"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)

	// Possession of the link verified the address and opened a session.
	user, err := f.store.GetUserByEmail(ctx, "carol@example.com")
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)
	require.NotNil(t, user.LastLoginAt)

	sessions, err := f.store.ListActiveSessions(ctx, user.ID, f.clock.Now())
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
	assert.Equal(t, 1, f.auditCount(t, audit.MagicLinkLogin))
}

func TestMagicLinkOneShot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestMagicLink(ctx, "carol@example.com", RequestContext{})
	require.NoError(t, err)
	token := f.mail.MagicLinks()[0]

	_, err = f.svc.RedeemMagicLink(ctx, token, RequestContext{})
	require.NoError(t, err)

	// Replays fail uniformly even though the TTL has not elapsed.
	for i := 0; i < 3; i++ {
		_, err = f.svc.RedeemMagicLink(ctx, token, RequestContext{})
		assert.ErrorIs(t, err, ErrMagicLinkUsed)
	}
	assert.Equal(t, 3, f.auditCount(t, audit.MagicLinkFailed))
}

func TestMagicLinkExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestMagicLink(ctx, "carol@example.com", RequestContext{})
	require.NoError(t, err)
	token := f.mail.MagicLinks()[0]

	f.clock.Advance(16 * time.Minute)

	_, err = f.svc.RedeemMagicLink(ctx, token, RequestContext{})
	assert.ErrorIs(t, err, ErrMagicLinkExpired)
}

func TestMagicLinkGarbageToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RedeemMagicLink(context.Background(), "not-a-token", RequestContext{})
	assert.ErrorIs(t, err, ErrMagicLinkInvalid)
}

func TestMagicLinkRequestSupersedesPrior(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestMagicLink(ctx, "carol@example.com", RequestContext{})
	require.NoError(t, err)
	_, err = f.svc.RequestMagicLink(ctx, "carol@example.com", RequestContext{})
	require.NoError(t, err)

	tokens := f.mail.MagicLinks()
	require.Len(t, tokens, 2)

	// Only the most recent unused token is redeemable.
	_, err = f.svc.RedeemMagicLink(ctx, tokens[0], RequestContext{})
	assert.ErrorIs(t, err, ErrMagicLinkInvalid)

	_, err = f.svc.RedeemMagicLink(ctx, tokens[1], RequestContext{})
	assert.NoError(t, err)
}

func TestMagicLinkRefusedWhileLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, "bob@example.com", "Str0ngPass!")

	for i := 0; i < MaxFailedAttempts; i++ {
		f.svc.Login(ctx, "bob@example.com", "wrong-password", RequestContext{}) //nolint:errcheck
	}

	_, err := f.svc.RequestMagicLink(ctx, "bob@example.com", RequestContext{})
	assert.Equal(t, autherr.KindLocked, autherr.KindOf(err))
}
