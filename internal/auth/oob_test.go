package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-id/aegis/internal/storage"
	"github.com/aegis-id/aegis/internal/storage/memory"
)

func newTestIssuer(clock Clock) *OOBIssuer {
	return NewOOBIssuer("email-secret", 24*time.Hour, time.Hour, 15*time.Minute, clock)
}

func seedUser(t *testing.T, store *memory.Store) storage.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), storage.CreateUserParams{
		Email:        "alice@example.com",
		PasswordHash: "hash",
		Role:         storage.RoleUser,
	})
	require.NoError(t, err)
	return user
}

func TestOOBMintAndConsume(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	issuer := newTestIssuer(clock)
	user := seedUser(t, store)

	row, err := issuer.Mint(ctx, store, user.ID, storage.OOBVerification)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(24*time.Hour), row.ExpiresAt)

	got, err := issuer.Consume(ctx, store, row.Token, storage.OOBVerification)
	require.NoError(t, err)
	assert.Equal(t, row.ID, got.ID)
	assert.Equal(t, user.ID, got.UserID)
}

func TestOOBMintSupersedesUnused(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	issuer := newTestIssuer(clock)
	user := seedUser(t, store)

	first, err := issuer.Mint(ctx, store, user.ID, storage.OOBPasswordReset)
	require.NoError(t, err)
	_, err = issuer.Mint(ctx, store, user.ID, storage.OOBPasswordReset)
	require.NoError(t, err)

	_, err = issuer.Consume(ctx, store, first.Token, storage.OOBPasswordReset)
	assert.ErrorIs(t, err, ErrOOBNotFound)
}

func TestOOBConsumeRejectsUsed(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	issuer := newTestIssuer(clock)
	user := seedUser(t, store)

	row, err := issuer.Mint(ctx, store, user.ID, storage.OOBMagicLink)
	require.NoError(t, err)
	require.NoError(t, store.MarkOOBTokenUsed(ctx, row.ID, clock.Now(), "192.0.2.1", "curl"))

	_, err = issuer.Consume(ctx, store, row.Token, storage.OOBMagicLink)
	assert.ErrorIs(t, err, ErrOOBUsed)
}

func TestOOBConsumeExpiredDeletesRow(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	issuer := newTestIssuer(clock)
	user := seedUser(t, store)

	row, err := issuer.Mint(ctx, store, user.ID, storage.OOBMagicLink)
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)

	_, err = issuer.Consume(ctx, store, row.Token, storage.OOBMagicLink)
	assert.ErrorIs(t, err, ErrOOBExpired)

	// The rejection amortized the cleanup.
	_, err = store.GetOOBToken(ctx, row.Token)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOOBConsumeWrongKind(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	issuer := newTestIssuer(clock)
	user := seedUser(t, store)

	row, err := issuer.Mint(ctx, store, user.ID, storage.OOBVerification)
	require.NoError(t, err)

	_, err = issuer.Consume(ctx, store, row.Token, storage.OOBPasswordReset)
	assert.ErrorIs(t, err, ErrOOBNotFound)
}

func TestOOBSweep(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	issuer := newTestIssuer(clock)
	user := seedUser(t, store)

	expired, err := issuer.Mint(ctx, store, user.ID, storage.OOBVerification)
	require.NoError(t, err)

	usedMagic, err := issuer.Mint(ctx, store, user.ID, storage.OOBMagicLink)
	require.NoError(t, err)
	require.NoError(t, store.MarkOOBTokenUsed(ctx, usedMagic.ID, clock.Now(), "", ""))

	// Past the verification TTL and the 7-day used-magic retention.
	clock.Advance(8 * 24 * time.Hour)

	fresh, err := issuer.Mint(ctx, store, user.ID, storage.OOBPasswordReset)
	require.NoError(t, err)

	n, err := store.SweepOOBTokens(ctx, clock.Now(), UsedMagicLinkRetention)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = store.GetOOBToken(ctx, expired.Token)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetOOBToken(ctx, usedMagic.Token)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetOOBToken(ctx, fresh.Token)
	assert.NoError(t, err)
}
