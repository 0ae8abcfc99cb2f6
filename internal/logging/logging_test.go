package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_WritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Level: "info", FilePath: filepath.Join(dir, "akidb.log"), MaxSizeMB: 1, MaxFiles: 2}

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	defer cleanup()

	logger.Info("collection created", slog.String("collection", "c1"))

	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "collection created")
	assert.Contains(t, string(data), `"collection":"c1"`)
}

func TestParseLevel_Defaults(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLevel("unknown"))
}

func TestDefaultConfig_UsesDefaultLogPath(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultLogPath(), cfg.FilePath)
	assert.True(t, cfg.WriteToStderr)
}
