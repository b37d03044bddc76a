package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration for both services.
type Config struct {
	Env  string
	Port string

	DatabaseURL string
	DBMaxConns  int32

	JWTAccessSecret     string
	JWTRefreshSecret    string
	AccessTokenExpires  time.Duration
	RefreshTokenExpires time.Duration

	EmailTokenSecret        string
	VerificationTokenExpiry time.Duration
	ResetTokenExpiry        time.Duration
	MagicLinkTokenExpiry    time.Duration

	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	SMTPFromEmail string
	SMTPFromName  string
	EmailSecure   bool

	ClientURL       string
	AuthServiceURL  string
	EmailServiceURL string

	RefreshCookieName string
	AllowedOrigins    []string

	AuditLogRetentionDays int
	InternalAPIToken      string

	SentryDSN string
}

// Load reads configuration from environment variables.
func Load() (Config, error) {
	cfg := Config{
		Env:  getEnv("APP_ENV", "development"),
		Port: getEnv("PORT", "8080"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  int32(getEnvAsInt("DB_MAX_CONNECTIONS", 20)),

		JWTAccessSecret:  os.Getenv("JWT_ACCESS_SECRET"),
		JWTRefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),

		EmailTokenSecret: os.Getenv("EMAIL_TOKEN_SECRET"),

		SMTPHost:      os.Getenv("SMTP_HOST"),
		SMTPPort:      getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername:  os.Getenv("SMTP_APP_USERNAME"),
		SMTPPassword:  os.Getenv("SMTP_APP_PASSWORD"),
		SMTPFromEmail: os.Getenv("SMTP_FROM_EMAIL"),
		SMTPFromName:  getEnv("SMTP_FROM_NAME", "Aegis"),
		EmailSecure:   getEnvAsBool("EMAIL_SECURE", false),

		ClientURL:       getEnv("CLIENT_URL", "http://localhost:3000"),
		AuthServiceURL:  getEnv("AUTH_SERVICE_URL", "http://localhost:8080"),
		EmailServiceURL: getEnv("EMAIL_SERVICE_URL", "http://localhost:8081"),

		RefreshCookieName: getEnv("REFRESH_COOKIE_NAME", "jid"),
		AllowedOrigins:    splitList(os.Getenv("ALLOWED_ORIGINS")),

		AuditLogRetentionDays: getEnvAsInt("AUDIT_LOG_RETENTION_DAYS", 90),
		InternalAPIToken:      os.Getenv("INTERNAL_API_TOKEN"),

		SentryDSN: os.Getenv("SENTRY_DSN"),
	}

	var err error
	if cfg.AccessTokenExpires, err = getEnvAsExpiry("ACCESS_TOKEN_EXPIRES", 15*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.RefreshTokenExpires, err = getEnvAsExpiry("REFRESH_TOKEN_EXPIRES", 7*24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.VerificationTokenExpiry, err = getEnvAsExpiry("VERIFICATION_TOKEN_EXPIRY", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.ResetTokenExpiry, err = getEnvAsExpiry("RESET_TOKEN_EXPIRY", time.Hour); err != nil {
		return cfg, err
	}
	if cfg.MagicLinkTokenExpiry, err = getEnvAsExpiry("MAGIC_LINK_TOKEN_EXPIRY", 15*time.Minute); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// ParseExpiry parses a duration string, additionally accepting a "d" suffix
// for whole days ("7d", "90d") since time.ParseDuration stops at hours.
func ParseExpiry(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func getEnv(name, defaultVal string) string {
	if val := os.Getenv(name); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsBool(name string, defaultVal bool) bool {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsInt(name string, defaultVal int) int {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsExpiry(name string, defaultVal time.Duration) (time.Duration, error) {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal, nil
	}
	val, err := ParseExpiry(valStr)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
