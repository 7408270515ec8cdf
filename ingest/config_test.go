package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadConfig(t *testing.T) {
	p := writeConfig(t, `
inputs:
  - /data/drop/*.zip
  - "  "
  - /data/archive/**/*.zip
database:
  driver: mysql
  dsn: "user:pass@tcp(127.0.0.1:3306)/stealer?parseTime=true"
dictionary: /etc/stealer_names.txt
error_dir: /data/error
batch_size: 250
workers: 4
skip_known_devices: false
timeout: 10m
log:
  level: debug
  format: json
`)
	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	cfg.ApplyDefaults()

	assert.Equal(t, InputsConfig{"/data/drop/*.zip", "/data/archive/**/*.zip"}, cfg.Inputs)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "/etc/stealer_names.txt", cfg.Dictionary)
	assert.Equal(t, "/data/error", cfg.ErrorDir)
	assert.Empty(t, cfg.DoneDir)
	assert.Equal(t, 250, cfg.BatchSize)
	assert.Equal(t, 4, cfg.Workers)
	require.NotNil(t, cfg.SkipKnownDevices)
	assert.False(t, *cfg.SkipKnownDevices)
	assert.Equal(t, 10*time.Minute, cfg.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "stderr", cfg.Log.Output)
}

func TestLoadConfig_ScalarInputs(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "inputs: /data/drop/*.zip\n"))
	require.NoError(t, err)

	assert.Equal(t, InputsConfig{"/data/drop/*.zip"}, cfg.Inputs)
}

func TestLoadConfig_BadInputs(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "inputs:\n  a: b\n"))
	assert.Error(t, err)
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestFileConfig_ApplyDefaults(t *testing.T) {
	var cfg FileConfig
	cfg.ApplyDefaults()

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "stealer-ingest.db", cfg.Database.DSN)
	assert.Equal(t, defaultBatchSize, cfg.BatchSize)
	assert.Equal(t, 1, cfg.Workers)
	require.NotNil(t, cfg.SkipKnownDevices)
	assert.True(t, *cfg.SkipKnownDevices)
	assert.EqualValues(t, defaultMaxTextBytes, cfg.MaxTextBytes)
	assert.Equal(t, defaultDebounce, cfg.Debounce)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}
