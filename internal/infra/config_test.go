package infra

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirForTest mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadConfigFromEnv(t *testing.T) {
	chdirForTest(t, t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/assetdesk")
	t.Setenv("PROVIDER_BASE_URL", "https://provider.example/api")
	t.Setenv("PROVIDER_API_KEY", "key")
	t.Setenv("PROVIDER_API_SECRET", "secret")
	t.Setenv("COMMANDS_PENDING_TTL", "2m")
	t.Setenv("AUTH_PUBLIC_KEY_DATA", "-----BEGIN PUBLIC KEY-----")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@localhost/assetdesk", cfg.Database.URL)
	assert.Equal(t, "secret", cfg.Provider.APISecret)
	assert.Equal(t, 2*time.Minute, cfg.Commands.PendingTTL)
	assert.Equal(t, []byte("-----BEGIN PUBLIC KEY-----"), cfg.Auth.PublicKey)

	// Дефолты
	assert.Equal(t, ":8000", cfg.Server.Addr())
	assert.Equal(t, time.Minute, cfg.Commands.SweepInterval)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	err := (&Config{}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url is required")
	assert.Contains(t, err.Error(), "provider.base_url is required")
	assert.Contains(t, err.Error(), "provider.api_key and provider.api_secret are required")
	assert.Contains(t, err.Error(), "commands.pending_ttl must be positive")
	assert.Contains(t, err.Error(), "commands.sweep_interval must be positive")
}

func TestLoadConfigRejectsZeroSweepInterval(t *testing.T) {
	chdirForTest(t, t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/assetdesk")
	t.Setenv("PROVIDER_BASE_URL", "https://provider.example/api")
	t.Setenv("PROVIDER_API_KEY", "key")
	t.Setenv("PROVIDER_API_SECRET", "secret")
	t.Setenv("COMMANDS_SWEEP_INTERVAL", "0s")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commands.sweep_interval must be positive")
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	_, err := NewLogger(LoggerConfig{Format: "xml"})
	assert.Error(t, err)

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)

	l, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, l)
}
