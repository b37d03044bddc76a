package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-id/aegis/internal/storage"
)

func newTestCodec(clock Clock) *TokenCodec {
	return NewTokenCodec("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour, clock)
}

func TestTokenCodecRoundTrip(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	codec := newTestCodec(clock)
	userID := uuid.New()

	for _, kind := range []TokenKind{TokenAccess, TokenRefresh} {
		signed, expiresAt, err := codec.Sign(kind, userID, storage.RoleAdmin, 3)
		require.NoError(t, err)
		assert.Equal(t, clock.Now().Add(codec.TTL(kind)), expiresAt)

		claims, err := codec.Verify(signed, kind)
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
		assert.Equal(t, storage.RoleAdmin, claims.Role)
		assert.Equal(t, 3, claims.TokenVersion)
	}
}

func TestTokenCodecKindsAreNotInterchangeable(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	codec := newTestCodec(clock)

	access, _, err := codec.Sign(TokenAccess, uuid.New(), storage.RoleUser, 0)
	require.NoError(t, err)

	_, err = codec.Verify(access, TokenRefresh)
	assert.ErrorIs(t, err, ErrTokenSignature)
}

func TestTokenCodecExpiry(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	codec := newTestCodec(clock)

	access, _, err := codec.Sign(TokenAccess, uuid.New(), storage.RoleUser, 0)
	require.NoError(t, err)

	clock.Advance(14 * time.Minute)
	_, err = codec.Verify(access, TokenAccess)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = codec.Verify(access, TokenAccess)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenCodecMalformed(t *testing.T) {
	codec := newTestCodec(SystemClock{})

	_, err := codec.Verify("garbage", TokenAccess)
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestTokenCodecForeignSignature(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	codec := newTestCodec(clock)
	other := NewTokenCodec("other-secret", "other-refresh", 15*time.Minute, 7*24*time.Hour, clock)

	forged, _, err := other.Sign(TokenAccess, uuid.New(), storage.RoleAdmin, 0)
	require.NoError(t, err)

	_, err = codec.Verify(forged, TokenAccess)
	assert.ErrorIs(t, err, ErrTokenSignature)
}
