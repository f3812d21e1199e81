package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[[capture.interfaces]]
name = "eth0"

[database]
url = "postgres://localhost/netsentinel"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mirror", cfg.Capture.Mode)
	assert.Equal(t, 8192, cfg.Capture.RingBufferSize)
	assert.Equal(t, 1518, cfg.Capture.SnapLength)
	assert.Equal(t, 1000, cfg.Capture.BatchSize)
	assert.Equal(t, "redis://127.0.0.1:6379", cfg.Redis.URL)
	assert.Equal(t, "netsentinel:frames", cfg.Redis.StreamName)
	assert.Equal(t, int64(100000), cfg.Redis.MaxStreamLength)
	assert.Equal(t, 60, cfg.Aggregation.PersistIntervalSecs)
	assert.Equal(t, int32(10), cfg.Database.MaxConnections)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Capture.Interfaces[0].PromiscuousEnabled())
}

func TestValidateForAggregatorRequiresDatabaseURL(t *testing.T) {
	path := writeConfig(t, `
[[capture.interfaces]]
name = "eth0"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Error(t, cfg.ValidateForAggregator())
}

func TestLoadDoesNotRequireDatabaseURLForCapture(t *testing.T) {
	path := writeConfig(t, `
[[capture.interfaces]]
name = "eth0"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NoError(t, cfg.ValidateForCapture())
}

func TestLoadRejectsUnknownCaptureMode(t *testing.T) {
	path := writeConfig(t, `
capture.mode = "promiscuous-bypass"

[[capture.interfaces]]
name = "eth0"

[database]
url = "postgres://localhost/netsentinel"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateForCaptureRequiresAnInterface(t *testing.T) {
	path := writeConfig(t, `
[database]
url = "postgres://localhost/netsentinel"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Error(t, cfg.ValidateForCapture())
}

func TestPromiscuousExplicitFalse(t *testing.T) {
	path := writeConfig(t, `
[[capture.interfaces]]
name = "eth0"
promiscuous = false

[database]
url = "postgres://localhost/netsentinel"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Capture.Interfaces[0].PromiscuousEnabled())
}
