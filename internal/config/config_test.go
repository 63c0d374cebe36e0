package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astroclub.org/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CLUB_HTTP_ADDR", "CLUB_PG_DSN", "CLUB_ROOT_EMAIL", "CLUB_ROOT_ID", "CLUB_AUTH_SECRET",
		"CLUB_FALL_DURATION", "CLUB_BLACKOUT_DURATION", "CLUB_RATE_BURST", "CLUB_CORS_ORIGINS",
		"CLUB_OIDC_CLIENT_ID", "CLUB_STORAGE_DRIVER", "CLUB_OIDC_CLIENT_SECRET", "CLUB_OIDC_REDIRECT_URL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.FallDuration)
	assert.Equal(t, 2*time.Second, cfg.BlackoutDuration)
	assert.Equal(t, "astro_gallery", cfg.S3Bucket)
	assert.Equal(t, "memory", cfg.StorageDriver)
	assert.Equal(t, 40, cfg.RateBurst)
	assert.Empty(t, cfg.CORSOrigins)
	assert.False(t, cfg.OIDCEnabled())
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLUB_HTTP_ADDR", ":9999")
	t.Setenv("CLUB_ROOT_EMAIL", "  Creator@Example.com ")
	t.Setenv("CLUB_FALL_DURATION", "3s")
	t.Setenv("CLUB_CORS_ORIGINS", "http://a.test, ,http://b.test")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, "creator@example.com", cfg.RootEmail)
	assert.Equal(t, 3*time.Second, cfg.FallDuration)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLUB_FALL_DURATION", "soon")
	t.Setenv("CLUB_RATE_BURST", "-1")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLUB_FALL_DURATION")
	assert.Contains(t, err.Error(), "CLUB_RATE_BURST")
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load()
	require.NoError(t, err)
	require.Error(t, cfg.Validate())

	cfg.AuthSecret = "0123456789abcdef0123456789abcdef"
	cfg.RootEmail = "creator@example.com"
	assert.NoError(t, cfg.Validate())

	cfg.StorageDriver = "ftp"
	assert.ErrorContains(t, cfg.Validate(), "CLUB_STORAGE_DRIVER")
}
