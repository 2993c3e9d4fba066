package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/railzway-connect/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENCRYPTION_MASTER_KEY", "test-master-key")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "development", cfg.Environment)
	require.Equal(t, "railzway-connect", cfg.Issuer)
	require.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	require.Equal(t, 30*time.Second, cfg.ClockSkew)
	require.Equal(t, 24*time.Hour, cfg.MaxTokenAge)
	require.False(t, cfg.RefreshRotation)
	require.Equal(t, 10*time.Minute, cfg.StateTTL)
	require.Equal(t, 300, cfg.ProviderRateLimitRPM)
	require.False(t, cfg.IsProduction())
}

func TestLoadRequiresMasterKey(t *testing.T) {
	t.Setenv("ENCRYPTION_MASTER_KEY", "")

	_, err := Load()
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENCRYPTION_MASTER_KEY", "test-master-key")
	t.Setenv("APP_ENV", "staging")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("REFRESH_TOKEN_ROTATION", "true")
	t.Setenv("REDIRECT_HOST_ALLOWLIST", "connect.railzway.com, app.railzway.com ,")
	t.Setenv("ENCRYPTION_KEY_2", "second-key")
	t.Setenv("ENCRYPTION_KEY_3", "third-key")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	require.True(t, cfg.RefreshRotation)
	require.Equal(t, []string{"connect.railzway.com", "app.railzway.com"}, cfg.RedirectHostAllowlist)
	require.Equal(t, map[string]string{"key2": "second-key", "key3": "third-key"}, cfg.EncryptionExtraKeys)
}

func TestLoadExtraKeysStopAtGap(t *testing.T) {
	t.Setenv("ENCRYPTION_MASTER_KEY", "test-master-key")
	t.Setenv("ENCRYPTION_KEY_2", "second-key")
	t.Setenv("ENCRYPTION_KEY_4", "skipped-key")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, map[string]string{"key2": "second-key"}, cfg.EncryptionExtraKeys)
}

func TestLoadRejectsInvertedTTLs(t *testing.T) {
	t.Setenv("ENCRYPTION_MASTER_KEY", "test-master-key")
	t.Setenv("ACCESS_TOKEN_TTL", "200h")

	_, err := Load()
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestLoadRefusesSigningSecretInProduction(t *testing.T) {
	t.Setenv("ENCRYPTION_MASTER_KEY", "test-master-key")
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SIGNING_SECRET", "0123456789abcdef0123456789abcdef")

	_, err := Load()
	require.ErrorIs(t, err, domain.ErrConfiguration)
}
