package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(LogConfig{Level: "warn", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	log, err = NewLogger(LogConfig{Level: "bogus"})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestNewLogger_File(t *testing.T) {
	p := filepath.Join(t.TempDir(), "logs", "ingest.log")
	log, err := NewLogger(LogConfig{Level: "info", Output: "file", FilePath: p, MaxSize: 1})
	require.NoError(t, err)

	log.WithField("archive", "a.zip").Info("archive ingested")

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), "archive ingested")
	assert.Contains(t, string(b), "archive=a.zip")
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := NewLogger(LogConfig{Format: "xml"})
	assert.Error(t, err)

	_, err = NewLogger(LogConfig{Output: "file"})
	assert.Error(t, err)

	_, err = NewLogger(LogConfig{Output: "syslog"})
	assert.Error(t, err)
}
