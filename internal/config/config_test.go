package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("VAULT_MASTER_KEY", "")
	t.Setenv("REMEMBER_ME_LIFETIME", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
	assert.Equal(t, 30*time.Second, cfg.App.RequestTimeout())
	assert.Equal(t, 5*24*time.Hour, cfg.RememberMe.Lifetime)
	assert.Equal(t, "remember_me", cfg.RememberMe.CookieName)
	assert.False(t, cfg.RememberMe.LegacyCookieNames)
	assert.Equal(t, "vault_session", cfg.Session.CookieName)
	assert.Equal(t, time.Hour, cfg.Auth.AccessTokenTTL())
	assert.Equal(t, 15*time.Minute, cfg.Auth.LoginFailureWindow())
	assert.False(t, cfg.OIDC.Enabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_PORT", "9000")
	t.Setenv("REMEMBER_ME_LIFETIME", "48h")
	t.Setenv("REMEMBER_ME_LEGACY_COOKIES", "true")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("WORKER_TOKEN_JANITOR_INTERVAL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.App.Addr())
	assert.Equal(t, 48*time.Hour, cfg.RememberMe.Lifetime)
	assert.True(t, cfg.RememberMe.LegacyCookieNames)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Worker.TokenJanitorInterval)
}

func TestLoad_RejectsShortVaultKey(t *testing.T) {
	t.Setenv("VAULT_MASTER_KEY", "too-short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VAULT_MASTER_KEY")
}

func TestLoad_OIDCRequiresClient(t *testing.T) {
	t.Setenv("OIDC_ISSUER_URL", "https://accounts.example.com")
	t.Setenv("OIDC_CLIENT_ID", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "abc")

	_, err := Load()
	require.Error(t, err)
}
