package config

import (
	"os"
	"strconv"
	"time"
)

// Config is everything the service reads from the environment. Durations are
// configured in seconds to match the deployment's existing knobs.
type Config struct {
	Port      string
	DBPath    string
	LogLevel  string
	LogFormat string

	SentryDSN   string
	Environment string

	Issuer         string
	TokenByteCount int
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	ResetTTL       time.Duration

	MaxUsernameLength int
	MaxPasswordLength int
	MaxOTPLength      int
	MaxTokenLength    int
	MaxKeyLength      int
}

// Load reads the environment, applying defaults for anything unset.
func Load() Config {
	return Config{
		Port:      envString("VODAUTH_PORT", "8080"),
		DBPath:    envString("VODAUTH_DB_PATH", "vodauth.db"),
		LogLevel:  envString("VODAUTH_LOG_LEVEL", "info"),
		LogFormat: envString("VODAUTH_LOG_FORMAT", "text"),

		SentryDSN:   os.Getenv("VODAUTH_SENTRY_DSN"),
		Environment: envString("VODAUTH_ENV", "development"),

		Issuer:         envString("VODAUTH_OTP_ISSUER", "FnivesVOD"),
		TokenByteCount: envInt("VODAUTH_TOKEN_BYTE_COUNT", 64),
		AccessTTL:      envSeconds("VODAUTH_ACCESS_EXPIRATION_SECONDS", 86400),
		RefreshTTL:     envSeconds("VODAUTH_REFRESH_EXPIRATION_SECONDS", 2*86400),
		ResetTTL:       envSeconds("VODAUTH_RESET_PASSWORD_EXPIRATION_SECONDS", 2*86400),

		MaxUsernameLength: envInt("VODAUTH_MAX_USERNAME_LENGTH", 64),
		MaxPasswordLength: envInt("VODAUTH_MAX_PASSWORD_LENGTH", 128),
		MaxOTPLength:      envInt("VODAUTH_MAX_OTP_LENGTH", 64),
		MaxTokenLength:    envInt("VODAUTH_MAX_TOKEN_LENGTH", 512),
		MaxKeyLength:      envInt("VODAUTH_MAX_KEY_LENGTH", 128),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envSeconds(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Second
}
