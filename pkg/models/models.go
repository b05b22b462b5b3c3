// Package models defines the record types shared by the progress tracker,
// the sync client and the migration function.
//
// A ProgressEntry is the in-memory and locally cached form of a visitor's
// position in one journey. Its persisted remote form lives in the document
// database and is handled through [github.com/cdcmanual/progresskit/pkg/docstore.Document];
// helpers in this package convert between the two shapes.
package models

import (
	"encoding/json"
	"math"
	"time"
)

// Collection attribute names used by both the sync client and the
// migration function. The document database is schema-flexible, so these
// are the single source of truth for field naming.
const (
	FieldUserID      = "userId"
	FieldJourneySlug = "journeySlug"
	FieldStep        = "step"
	FieldPercent     = "percent"
	FieldUpdatedAt   = "updatedAt"
	FieldState       = "state"
	FieldType        = "type"
	FieldMetadata    = "metadata"
	FieldCreatedAt   = "createdAt"
)

// Event types recorded in the events collection. Events are append-only
// audit records, never read back into progress state.
const (
	EventLogin      = "login"
	EventLogout     = "logout"
	EventStepChange = "step-change"
	EventResume     = "resume"
	EventMigration  = "migration"
)

// ProgressEntry tracks a visitor's position in a single journey.
// There is at most one entry per journey slug in a progress set.
type ProgressEntry struct {
	JourneySlug string `json:"journeySlug,omitempty"`

	// Step is the last completed step index.
	Step int `json:"step"`

	// Percent is the clamped completion percentage in [0, 100]. It is not
	// monotonic; a later write may lower it.
	Percent float64 `json:"percent"`

	// UpdatedAt is the RFC 3339 timestamp of the last mutation, used as a
	// merge tiebreaker. Empty means unknown.
	UpdatedAt string `json:"updatedAt,omitempty"`

	// State is an opaque resume payload, interpreted only by the resume
	// behavior, never by the controller.
	State json.RawMessage `json:"state,omitempty"`
}

// DashboardRow is the derived per-journey view rendered by dashboard
// widgets after a remote hydrate.
type DashboardRow struct {
	ModuleID    string  `json:"moduleId"`
	ModuleTitle string  `json:"moduleTitle"`
	Percent     float64 `json:"percent"`
	Status      string  `json:"status"`
	UpdatedAt   string  `json:"updatedAt"`
	Step        *int    `json:"step"`
}

// Dashboard status values. A journey counts as completed from 99% so that
// rounding on the final step cannot strand it at in-progress.
const (
	StatusNotStarted = "not-started"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
)

// StatusForPercent maps a clamped percentage onto a dashboard status.
func StatusForPercent(percent float64) string {
	switch {
	case percent >= 99:
		return StatusCompleted
	case percent > 0:
		return StatusInProgress
	default:
		return StatusNotStarted
	}
}

// Module describes one trackable journey for dashboard rendering.
type Module struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	TotalSteps int    `json:"totalSteps"`
}

// ClampPercent clamps a completion percentage to [0, 100]. Non-finite
// input collapses to 0.
func ClampPercent(percent float64) float64 {
	if math.IsNaN(percent) || math.IsInf(percent, 0) {
		return 0
	}
	return math.Min(100, math.Max(0, percent))
}

// ParseTimestamp parses an RFC 3339 timestamp into epoch milliseconds.
// Missing or unparseable values fall back to 0, which makes them lose any
// "newer than" comparison.
func ParseTimestamp(value string) int64 {
	if value == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// Now returns the current time formatted the way progress records store it.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// ResumeState is the known shape of a resume payload. Fields are checked
// in declaration order; the first present one wins.
type ResumeState struct {
	URL      string   `json:"url,omitempty"`
	Hash     string   `json:"hash,omitempty"`
	Selector string   `json:"selector,omitempty"`
	ScrollY  *float64 `json:"scrollY,omitempty"`
}

// DecodeResumeState decodes an opaque state payload into its resume
// fields. A nil, empty or malformed payload yields nil.
func DecodeResumeState(raw json.RawMessage) *ResumeState {
	if len(raw) == 0 {
		return nil
	}
	var rs ResumeState
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil
	}
	return &rs
}
