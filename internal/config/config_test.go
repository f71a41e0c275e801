package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromMapDefaults(t *testing.T) {
	cfg, err := FromMap(map[string]string{"JWT_SECRET": "s3cret"})
	require.NoError(t, err)

	require.Equal(t, ":8081", cfg.HTTPAddr)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 24*time.Hour, cfg.ConfirmTokenTTL)
	require.Equal(t, 30*time.Second, cfg.CatalogRefreshInterval)
	require.Equal(t, 15*time.Second, cfg.RequestTimeout)
	require.False(t, cfg.PopupDenyUnconfirmed)
	require.Empty(t, cfg.DatabaseURL)
	require.Empty(t, cfg.CORSAllowedOrigins)
}

func TestFromMapOverrides(t *testing.T) {
	cfg, err := FromMap(map[string]string{
		"JWT_SECRET":             "s3cret",
		"HTTP_ADDR":              ":9000",
		"CORS_ALLOWED_ORIGINS":   "https://map.example.org,http://localhost:3000",
		"POPUP_DENY_UNCONFIRMED": "true",
		"ACCESS_TOKEN_TTL":       "1h",
		"DATABASE_URL":           "postgres://localhost/carbonmap",
	})
	require.NoError(t, err)

	require.Equal(t, ":9000", cfg.HTTPAddr)
	require.Equal(t, []string{"https://map.example.org", "http://localhost:3000"}, cfg.CORSAllowedOrigins)
	require.True(t, cfg.PopupDenyUnconfirmed)
	require.Equal(t, time.Hour, cfg.AccessTokenTTL)
	require.Equal(t, "postgres://localhost/carbonmap", cfg.DatabaseURL)
}

func TestFromMapRequiresSecret(t *testing.T) {
	_, err := FromMap(map[string]string{})
	require.Error(t, err)
}

func TestFromMapRejectsBadValues(t *testing.T) {
	_, err := FromMap(map[string]string{"JWT_SECRET": "x", "REQUEST_TIMEOUT": "soon"})
	require.Error(t, err)

	_, err = FromMap(map[string]string{"JWT_SECRET": "x", "ACCESS_TOKEN_TTL": "-1m"})
	require.Error(t, err)

	_, err = FromMap(map[string]string{
		"JWT_SECRET":               "x",
		"DATABASE_URL":             "postgres://localhost/carbonmap",
		"CATALOG_REFRESH_INTERVAL": "0s",
	})
	require.Error(t, err)
}

func TestLoadEnvSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(present, []byte("CARBONMAP_TEST_ONLY=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CARBONMAP_TEST_ONLY") })

	n, err := LoadEnv([]string{present, filepath.Join(dir, ".env.local")})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "from-file", os.Getenv("CARBONMAP_TEST_ONLY"))

	n, err = LoadEnv([]string{filepath.Join(dir, "nope")})
	require.NoError(t, err)
	require.Zero(t, n)
}
