package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/drivelink/config"
)

func TestSetupJSONLevel(t *testing.T) {
	var out bytes.Buffer
	logger, cleanup, err := setup(config.LoggingConfig{Level: "warn"}, &out)
	require.NoError(t, err)
	defer cleanup()

	logger.Info().Msg("hidden")
	logger.Warn().Str("port", "/dev/ttyACM0").Msg("link lost")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "warn", entry["level"])
	require.Equal(t, "/dev/ttyACM0", entry["port"])
	require.Contains(t, entry, "time")
}

func TestSetupTextFormat(t *testing.T) {
	var out bytes.Buffer
	logger, cleanup, err := setup(config.LoggingConfig{Format: "text"}, &out)
	require.NoError(t, err)
	defer cleanup()

	logger.Info().Msg("link worker started")
	require.Contains(t, out.String(), "link worker started")
	require.False(t, strings.HasPrefix(out.String(), "{"))
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	_, _, err := setup(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestSetupWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drivelink.log")
	logger, cleanup, err := setup(config.LoggingConfig{File: config.FileLogConfig{Path: path}}, &bytes.Buffer{})
	require.NoError(t, err)

	logger.Info().Msg("command sent")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "command sent")
}

func TestSetupLokiRequiresURL(t *testing.T) {
	_, _, err := setup(config.LoggingConfig{Loki: config.LokiConfig{Enabled: true}}, &bytes.Buffer{})
	require.Error(t, err)
}
