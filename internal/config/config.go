package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/smallbiznis/railzway-connect/internal/domain"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	ServiceName string

	// Session token settings.
	Issuer          string
	Audience        string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ClockSkew       time.Duration
	MaxTokenAge     time.Duration
	RefreshRotation bool
	// SigningSecret enables the symmetric HS256 fallback. Ignored in
	// production, where Ed25519 keys are always generated.
	SigningSecret string

	// OAuth flow settings.
	StateTTL              time.Duration
	RedirectHostAllowlist []string
	ProviderTimeout       time.Duration
	ProviderRateLimitRPM  int

	// Envelope encryption settings.
	EncryptionMasterKey string
	EncryptionExtraKeys map[string]string
	EncryptionKDFSalt   string

	// Optional Redis-backed state store. Empty addr selects the in-memory store.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SweepInterval time.Duration

	TelemetryEndpoint string
	TelemetryInsecure bool
}

// IsProduction reports whether the symmetric signing fallback must be refused.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Load reads configuration from environment variables with sane defaults.
// Missing required secrets abort startup.
func Load() (Config, error) {
	_ = godotenv.Load()

	masterKey := strings.TrimSpace(os.Getenv("ENCRYPTION_MASTER_KEY"))
	if masterKey == "" {
		return Config{}, fmt.Errorf("ENCRYPTION_MASTER_KEY is required: %w", domain.ErrConfiguration)
	}

	cfg := Config{
		Environment:           getEnv("APP_ENV", "development"),
		ServiceName:           getEnv("SERVICE_NAME", "railzway-connect"),
		Issuer:                getEnv("JWT_ISSUER", "railzway-connect"),
		Audience:              getEnv("JWT_AUDIENCE", "railzway-platform"),
		AccessTokenTTL:        getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:       getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		ClockSkew:             getDuration("CLOCK_SKEW_TOLERANCE", 30*time.Second),
		MaxTokenAge:           getDuration("MAX_TOKEN_AGE", 24*time.Hour),
		RefreshRotation:       getBool("REFRESH_TOKEN_ROTATION", false),
		SigningSecret:         os.Getenv("JWT_SIGNING_SECRET"),
		StateTTL:              getDuration("OAUTH_STATE_TTL", 10*time.Minute),
		RedirectHostAllowlist: getList("REDIRECT_HOST_ALLOWLIST", nil),
		ProviderTimeout:       getDuration("PROVIDER_HTTP_TIMEOUT", 15*time.Second),
		ProviderRateLimitRPM:  getInt("PROVIDER_RATE_LIMIT_RPM", 300),
		EncryptionMasterKey:   masterKey,
		EncryptionExtraKeys:   extraEncryptionKeys(),
		EncryptionKDFSalt:     getEnv("ENCRYPTION_KDF_SALT", "railzway-connect-kdf-v2"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getInt("REDIS_DB", 0),
		SweepInterval:         getDuration("SWEEP_INTERVAL", time.Minute),
		TelemetryEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:     getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
	}

	if cfg.AccessTokenTTL >= cfg.RefreshTokenTTL {
		return Config{}, fmt.Errorf("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL: %w", domain.ErrConfiguration)
	}
	if cfg.IsProduction() && cfg.SigningSecret != "" {
		return Config{}, fmt.Errorf("JWT_SIGNING_SECRET is not allowed in production: %w", domain.ErrConfiguration)
	}

	return cfg, nil
}

// extraEncryptionKeys reads ENCRYPTION_KEY_2..ENCRYPTION_KEY_9 into named
// keyring entries (key2, key3, ...). Gaps terminate the scan.
func extraEncryptionKeys() map[string]string {
	keys := make(map[string]string)
	for i := 2; i < 10; i++ {
		value := strings.TrimSpace(os.Getenv(fmt.Sprintf("ENCRYPTION_KEY_%d", i)))
		if value == "" {
			break
		}
		keys[fmt.Sprintf("key%d", i)] = value
	}
	return keys
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
