package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpenRunsMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	d, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	d, err = Open(path)
	require.NoError(t, err)
	defer d.Close()

	var n int
	require.NoError(t, d.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, len(migrations), n)
}

func TestSettingsRoundTrip(t *testing.T) {
	d := openTest(t)

	_, ok, err := d.GetSetting("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.PutSetting("k", "v1"))
	require.NoError(t, d.PutSetting("k", "v2"))
	v, ok, err := d.GetSetting("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestEnsureSettingGeneratesOnce(t *testing.T) {
	d := openTest(t)
	calls := 0
	gen := func() (string, error) {
		calls++
		return "secret", nil
	}

	v1, err := d.EnsureSetting(SettingRefSecret, gen)
	require.NoError(t, err)
	v2, err := d.EnsureSetting(SettingRefSecret, gen)
	require.NoError(t, err)

	assert.Equal(t, "secret", v1)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls)
}
