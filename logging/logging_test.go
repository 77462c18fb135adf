package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("defaults to info on stderr", func(t *testing.T) {
		var buf bytes.Buffer

		logger, err := New(Config{Stderr: &buf})
		require.NoError(t, err)
		assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

		logger.Debug("hidden")
		logger.WithField("mode", "deaf").Info("visible")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "visible")
		assert.Contains(t, buf.String(), "deaf")
		assert.Contains(t, buf.String(), "logging_test.go")
	})

	t.Run("writes the rotating file too", func(t *testing.T) {
		var buf bytes.Buffer
		file := filepath.Join(t.TempDir(), "voice_service.log")

		logger, err := New(Config{File: file, Level: "debug", Stderr: &buf})
		require.NoError(t, err)

		logger.Debug("heartbeat")

		data, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Contains(t, string(data), "heartbeat")
		assert.Contains(t, buf.String(), "heartbeat")
	})

	t.Run("bad level", func(t *testing.T) {
		_, err := New(Config{Level: "loud"})
		assert.Error(t, err)
	})
}
