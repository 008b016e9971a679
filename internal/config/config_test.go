package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
bot:
  admins: ["100", "200"]
ratelimit:
  window: 10s
storage:
  driver: pebble
  path: /tmp/relay
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"100", "200"}, cfg.Bot.Admins)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 5, cfg.RateLimit.MaxMessages, "unset keys keep their default")
	assert.Equal(t, DriverPebble, cfg.Storage.Driver)
	assert.Equal(t, 8, cfg.Broadcast.Concurrency)
}

func TestLoadMissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("ADMIN_IDS", " 1, 2 ,,3")
	t.Setenv("RATE_LIMIT_MESSAGES", "7")
	t.Setenv("RATE_LIMIT_WINDOW", "30")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3"}, cfg.Bot.Admins)
	assert.Equal(t, 7, cfg.RateLimit.MaxMessages)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
}

func TestLoadRejectsEmptyAdminSet(t *testing.T) {
	t.Setenv("ADMIN_IDS", "")
	path := writeFile(t, "config.yaml", "bot:\n  name: x\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bootstrap admin")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeFile(t, "config.yaml", "bot:\n  admins: [\"1\"]\nstorage:\n  driver: mongo\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadEnvDoesNotOverrideProcessEnv(t *testing.T) {
	t.Setenv("RELAY_LOG_LEVEL", "warn")
	path := writeFile(t, ".env", "RELAY_LOG_LEVEL=debug\nADMIN_IDS=42\n")
	t.Cleanup(func() { os.Unsetenv("ADMIN_IDS") })

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "warn", os.Getenv("RELAY_LOG_LEVEL"))
	assert.Equal(t, "42", os.Getenv("ADMIN_IDS"))
}

func TestLoadEnvMissingFileIsIgnored(t *testing.T) {
	assert.NoError(t, LoadEnv(filepath.Join(t.TempDir(), ".env")))
	assert.NoError(t, LoadEnv(""))
}
