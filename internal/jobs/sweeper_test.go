package jobs

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-id/aegis/internal/audit"
	"github.com/aegis-id/aegis/internal/auth"
	"github.com/aegis-id/aegis/internal/storage"
	"github.com/aegis-id/aegis/internal/storage/memory"
)

func TestSweepTokens(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := auth.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	sweeper := NewSweeper(store, clock, slog.Default(), 90)

	user, err := store.CreateUser(ctx, storage.CreateUserParams{
		Email: "alice@example.com", PasswordHash: "hash", Role: storage.RoleUser,
	})
	require.NoError(t, err)

	_, err = store.CreateRefreshToken(ctx, storage.CreateRefreshTokenParams{
		UserID: user.ID, Token: "stale", ExpiresAt: clock.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	_, err = store.CreateRefreshToken(ctx, storage.CreateRefreshTokenParams{
		UserID: user.ID, Token: "live", ExpiresAt: clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, storage.CreateSessionParams{
		UserID: user.ID, RefreshToken: "stale", ExpiresAt: clock.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	_, err = store.CreateOOBToken(ctx, storage.CreateOOBTokenParams{
		Kind: storage.OOBVerification, Token: "expired-oob", UserID: user.ID,
		ExpiresAt: clock.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	require.NoError(t, sweeper.SweepTokens(ctx))

	_, err = store.GetRefreshToken(ctx, "stale")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetRefreshToken(ctx, "live")
	assert.NoError(t, err)
	_, err = store.GetOOBToken(ctx, "expired-oob")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	sessions, err := store.ListActiveSessions(ctx, user.ID, clock.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSweepAuditLogs(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := auth.NewFakeClock(time.Now().UTC())
	sweeper := NewSweeper(store, clock, slog.Default(), 90)

	_, err := store.AppendAuditLog(ctx, storage.AppendAuditLogParams{
		Action: string(audit.UserLogin), Success: true,
	})
	require.NoError(t, err)

	// Inside the window: survives.
	require.NoError(t, sweeper.SweepAuditLogs(ctx))
	_, total, err := store.ListAuditLogs(ctx, storage.AuditLogFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	// Jump past the retention window: swept.
	clock.Advance(91 * 24 * time.Hour)
	require.NoError(t, sweeper.SweepAuditLogs(ctx))
	_, total, err = store.ListAuditLogs(ctx, storage.AuditLogFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}
