package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileOutputIsJSONWithFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	log, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", OutputPath: path})
	require.NoError(t, err)

	log.WithExecutionID("e1").Info("execution registered")
	log.Debug("spawn requested")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "execution registered", entry["msg"])
	assert.Equal(t, "e1", entry["execution_id"])
	assert.Contains(t, entry, "timestamp")
}

func TestLevelFiltersAndFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	log, err := NewLogger(LoggingConfig{Level: "bogus", OutputPath: path})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Warn("shown")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestUnwritableOutputPath(t *testing.T) {
	_, err := NewLogger(LoggingConfig{OutputPath: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

func TestSetDefault(t *testing.T) {
	nop := NewNop()
	SetDefault(nop)
	assert.Same(t, nop, Default())
}
