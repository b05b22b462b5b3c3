package models_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdcmanual/progresskit/pkg/models"
)

func TestClampPercent(t *testing.T) {
	assert.Equal(t, 0.0, models.ClampPercent(-5))
	assert.Equal(t, 0.0, models.ClampPercent(0))
	assert.Equal(t, 42.5, models.ClampPercent(42.5))
	assert.Equal(t, 100.0, models.ClampPercent(100))
	assert.Equal(t, 100.0, models.ClampPercent(150))
	assert.Equal(t, 0.0, models.ClampPercent(math.NaN()))
	assert.Equal(t, 0.0, models.ClampPercent(math.Inf(1)))
	assert.Equal(t, 0.0, models.ClampPercent(math.Inf(-1)))
}

func TestParseTimestamp(t *testing.T) {
	assert.Equal(t, int64(0), models.ParseTimestamp(""))
	assert.Equal(t, int64(0), models.ParseTimestamp("not-a-time"))
	assert.Equal(t, int64(0), models.ParseTimestamp("1970-01-01T00:00:00Z"))

	ms := models.ParseTimestamp("2026-02-01T10:30:00Z")
	assert.Greater(t, ms, int64(0))
	assert.Greater(t, models.ParseTimestamp("2026-02-01T10:30:01Z"), ms)
}

func TestStatusForPercent(t *testing.T) {
	assert.Equal(t, models.StatusNotStarted, models.StatusForPercent(0))
	assert.Equal(t, models.StatusInProgress, models.StatusForPercent(0.5))
	assert.Equal(t, models.StatusInProgress, models.StatusForPercent(98.9))
	assert.Equal(t, models.StatusCompleted, models.StatusForPercent(99))
	assert.Equal(t, models.StatusCompleted, models.StatusForPercent(100))
}

func TestDecodeResumeState(t *testing.T) {
	assert.Nil(t, models.DecodeResumeState(nil))
	assert.Nil(t, models.DecodeResumeState(json.RawMessage("{broken")))

	rs := models.DecodeResumeState(json.RawMessage(`{"url":"/labs/cdc-101","scrollY":240}`))
	require.NotNil(t, rs)
	assert.Equal(t, "/labs/cdc-101", rs.URL)
	require.NotNil(t, rs.ScrollY)
	assert.Equal(t, 240.0, *rs.ScrollY)
}
