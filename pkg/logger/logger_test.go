package logger_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdcmanual/progresskit/pkg/logger"
)

func TestBufferSink(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.New().FromBuffer(&buf).Make()
	require.NoError(t, err)

	log.Info().Str("source", "SYNC").Msg("synced 2 progress record(s)")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "SYNC", line["source"])
	assert.NotEmpty(t, line["time"])
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.log")
	log, err := logger.New().FromPath(path).Make()
	require.NoError(t, err)

	log.Warn().Msg("unable to record event")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "unable to record event")
}

func TestNop(t *testing.T) {
	log := logger.Nop()
	log.Error().Msg("discarded")
}
