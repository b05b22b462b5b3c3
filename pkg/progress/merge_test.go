package progress_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cdcmanual/progresskit/pkg/models"
	"github.com/cdcmanual/progresskit/pkg/progress"
)

func TestMergeEntryAdoptsWhenNoExisting(t *testing.T) {
	incoming := models.ProgressEntry{JourneySlug: "cdc-101", Step: 2, Percent: 30}
	assert.Equal(t, incoming, progress.MergeEntry(nil, incoming))
}

func TestMergeEntryTimestampRule(t *testing.T) {
	older := models.ProgressEntry{JourneySlug: "cdc-101", Step: 1, Percent: 10, UpdatedAt: "2026-01-01T00:00:00Z"}
	newer := models.ProgressEntry{JourneySlug: "cdc-101", Step: 5, Percent: 80, UpdatedAt: "2026-02-01T00:00:00Z"}

	// newer incoming replaces, older incoming is discarded
	assert.Equal(t, newer, progress.MergeEntry(&older, newer))
	assert.Equal(t, newer, progress.MergeEntry(&newer, older))

	// the rule is timestamp-only: a lower percent with a newer timestamp
	// still wins, unlike the migration conflict rule
	regressed := models.ProgressEntry{JourneySlug: "cdc-101", Step: 2, Percent: 20, UpdatedAt: "2026-03-01T00:00:00Z"}
	assert.Equal(t, regressed, progress.MergeEntry(&newer, regressed))
}

func TestMergeEntryEqualTimestampPrefersIncoming(t *testing.T) {
	ts := "2026-01-15T00:00:00Z"
	existing := models.ProgressEntry{JourneySlug: "cdc-101", Step: 1, Percent: 10, UpdatedAt: ts}
	incoming := models.ProgressEntry{JourneySlug: "cdc-101", Step: 2, Percent: 20, UpdatedAt: ts}
	assert.Equal(t, incoming, progress.MergeEntry(&existing, incoming))
}

func TestMergeEntryMissingTimestampsAdoptIncoming(t *testing.T) {
	existing := models.ProgressEntry{JourneySlug: "cdc-101", Step: 3, Percent: 50, UpdatedAt: "2026-02-01T00:00:00Z"}
	incoming := models.ProgressEntry{JourneySlug: "cdc-101", Step: 1, Percent: 5}
	assert.Equal(t, 1, progress.MergeEntry(&existing, incoming).Step)

	existingNoTS := models.ProgressEntry{JourneySlug: "cdc-101", Step: 3, Percent: 50}
	datedIncoming := models.ProgressEntry{JourneySlug: "cdc-101", Step: 4, Percent: 60, UpdatedAt: "2020-01-01T00:00:00Z"}
	assert.Equal(t, 4, progress.MergeEntry(&existingNoTS, datedIncoming).Step)
}

func TestMergeEntryKeepsSlugAndState(t *testing.T) {
	existing := models.ProgressEntry{JourneySlug: "cdc-101", Step: 1, Percent: 10, UpdatedAt: "2026-01-01T00:00:00Z"}
	incoming := models.ProgressEntry{
		Step:      2,
		Percent:   20,
		UpdatedAt: "2026-02-01T00:00:00Z",
		State:     json.RawMessage(`{"scrollY":100}`),
	}
	merged := progress.MergeEntry(&existing, incoming)
	assert.Equal(t, "cdc-101", merged.JourneySlug)
	assert.JSONEq(t, `{"scrollY":100}`, string(merged.State))
}
