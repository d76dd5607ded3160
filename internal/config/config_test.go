package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BZ_CONFIG_FILE", "")
	t.Setenv("BZ_ENV", "dev")
	t.Setenv("BZ_BASE_URL", "http://localhost:8080/")
	t.Setenv("BZ_STORE", "memory")
	t.Setenv("BZ_IDENTITY_SECRET", "dev-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080", cfg.BaseURL)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, StoreMemory, cfg.Store)
	require.Equal(t, 5*time.Second, cfg.StoreTimeout)
	require.Equal(t, time.Minute, cfg.CacheTTL)
	require.Equal(t, 20, cfg.RedeemRateLimitRPM)
	require.False(t, cfg.OTelEnabled)
	require.True(t, cfg.IsDev())
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"missing env", "BZ_ENV", ""},
		{"unknown env", "BZ_ENV", "staging"},
		{"unknown store", "BZ_STORE", "sqlite"},
		{"postgres without dsn", "BZ_STORE", "postgres"},
		{"bad log level", "BZ_LOG_LEVEL", "trace"},
		{"non-integer timeout", "BZ_STORE_TIMEOUT_MS", "soon"},
		{"bad bool", "BZ_OTEL_ENABLED", "maybe"},
		{"zero retention", "BZ_RETENTION_INVITE_DAYS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoad_ProdRequiresLongSecretAndPostgres(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("BZ_ENV", "prod")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("BZ_STORE", "postgres")
	t.Setenv("BZ_DB_DSN", "postgres://user:pw@db:5432/bizdesk")
	_, err = Load()
	require.ErrorContains(t, err, "BZ_IDENTITY_SECRET")

	t.Setenv("BZ_IDENTITY_SECRET", "0123456789abcdef0123456789abcdef")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "postgres://[REDACTED]@db:5432/bizdesk", cfg.RedactedValues()["BZ_DB_DSN"])
	require.Equal(t, "[REDACTED]", cfg.RedactedValues()["BZ_IDENTITY_SECRET"])
}

func TestLoad_FileUnderEnv(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "bizdesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9090"
redis_addr: "localhost:6379"
membership_cache_ttl_seconds: 30
otel_enabled: true
log_level: debug
`), 0o600))
	t.Setenv("BZ_CONFIG_FILE", path)
	t.Setenv("BZ_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr)
	require.Equal(t, "localhost:6379", cfg.RedisAddr)
	require.Equal(t, 30*time.Second, cfg.CacheTTL)
	require.True(t, cfg.OTelEnabled)
	require.Equal(t, "warn", cfg.LogLevel)
}
