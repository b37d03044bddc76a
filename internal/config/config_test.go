package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"15m", 15 * time.Minute},
		{"24h", 24 * time.Hour},
		{"90s", 90 * time.Second},
		{"7d", 7 * 24 * time.Hour},
		{"90d", 90 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := ParseExpiry(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseExpiry("7x")
	assert.Error(t, err)
	_, err = ParseExpiry("sevend")
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.AccessTokenExpires)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenExpires)
	assert.Equal(t, 24*time.Hour, cfg.VerificationTokenExpiry)
	assert.Equal(t, time.Hour, cfg.ResetTokenExpiry)
	assert.Equal(t, 15*time.Minute, cfg.MagicLinkTokenExpiry)
	assert.Equal(t, "jid", cfg.RefreshCookieName)
	assert.Equal(t, 90, cfg.AuditLogRetentionDays)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_EXPIRES", "5m")
	t.Setenv("REFRESH_TOKEN_EXPIRES", "30d")
	t.Setenv("REFRESH_COOKIE_NAME", "rt")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.AccessTokenExpires)
	assert.Equal(t, 30*24*time.Hour, cfg.RefreshTokenExpires)
	assert.Equal(t, "rt", cfg.RefreshCookieName)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadRejectsBadExpiry(t *testing.T) {
	t.Setenv("RESET_TOKEN_EXPIRY", "one hour")

	_, err := Load()
	assert.Error(t, err)
}
