// Package migrate folds one user's progress and event documents into
// another user's, applying the cross-user conflict rule. It backs the
// serverless migration endpoint and can also run in-process.
package migrate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cdcmanual/progresskit/pkg/docstore"
	"github.com/cdcmanual/progresskit/pkg/models"
)

// Actions recorded in a migration's detail log.
const (
	ActionMigrated = "migrated"
	ActionMerged   = "merged"
	ActionEvent    = "event"
)

// Winning sides of a merge conflict.
const (
	WinnerSource = "source"
	WinnerTarget = "target"
)

// Result summarizes one migration run.
type Result struct {
	Message  string   `json:"message,omitempty"`
	Migrated int      `json:"migrated"`
	Merged   int      `json:"merged"`
	Events   int      `json:"events"`
	Details  []Detail `json:"details"`
}

// Detail records one migration decision for auditability.
type Detail struct {
	Action      string `json:"action"`
	JourneySlug string `json:"journeySlug,omitempty"`
	Winner      string `json:"winner,omitempty"`
	SourceID    string `json:"sourceId,omitempty"`
	TargetID    string `json:"targetId,omitempty"`
}

// Migrator performs migrations directly against a document store.
type Migrator struct {
	store                docstore.Store
	databaseID           string
	progressCollectionID string
	eventsCollectionID   string
	log                  zerolog.Logger
}

// New creates a migrator over the given collections.
func New(store docstore.Store, databaseID, progressCollectionID, eventsCollectionID string, log zerolog.Logger) *Migrator {
	return &Migrator{
		store:                store,
		databaseID:           databaseID,
		progressCollectionID: progressCollectionID,
		eventsCollectionID:   eventsCollectionID,
		log:                  log,
	}
}

func (m *Migrator) configured() bool {
	return m != nil && m.store != nil &&
		m.databaseID != "" && m.progressCollectionID != "" && m.eventsCollectionID != ""
}

// ShouldPreferSource decides a merge conflict between two users' records
// for the same journey: the source wins iff its percent is strictly
// higher, or the percents tie and the source's timestamp is at least as
// new. Missing or unparseable timestamps compare as epoch 0.
func ShouldPreferSource(source, target docstore.Document) bool {
	sourcePercent := source.Float(models.FieldPercent)
	targetPercent := target.Float(models.FieldPercent)
	if sourcePercent > targetPercent {
		return true
	}
	if sourcePercent < targetPercent {
		return false
	}
	return models.ParseTimestamp(documentTimestamp(source)) >= models.ParseTimestamp(documentTimestamp(target))
}

func documentTimestamp(doc docstore.Document) string {
	if ts := doc.String(models.FieldUpdatedAt); ts != "" {
		return ts
	}
	return doc.UpdatedAt
}

// MigrateUser reassigns fromUserID's documents to toUserID. Source
// documents for journeys the target does not have are reassigned in
// place; conflicting journeys are resolved with ShouldPreferSource and
// the source document is deleted either way, so ownership only ever
// consolidates onto the target. Event documents are reassigned without
// merging. Self-migration is an idempotent no-op that touches nothing.
func (m *Migrator) MigrateUser(ctx context.Context, fromUserID, toUserID string) (*Result, error) {
	if fromUserID == "" || toUserID == "" {
		return nil, fmt.Errorf("both fromUserId and toUserId are required")
	}
	if fromUserID == toUserID {
		return &Result{Message: "No migration necessary", Details: []Detail{}}, nil
	}
	if !m.configured() {
		return nil, fmt.Errorf("migration backend is not configured")
	}

	targetDocs, err := docstore.ListAll(ctx, m.store, m.databaseID, m.progressCollectionID,
		[]docstore.Query{docstore.Equal(models.FieldUserID, toUserID)})
	if err != nil {
		return nil, fmt.Errorf("list target progress: %w", err)
	}
	targetBySlug := make(map[string]docstore.Document, len(targetDocs))
	for _, doc := range targetDocs {
		targetBySlug[doc.String(models.FieldJourneySlug)] = doc
	}

	sourceDocs, err := docstore.ListAll(ctx, m.store, m.databaseID, m.progressCollectionID,
		[]docstore.Query{docstore.Equal(models.FieldUserID, fromUserID)})
	if err != nil {
		return nil, fmt.Errorf("list source progress: %w", err)
	}

	result := &Result{Details: []Detail{}}
	grants := docstore.OwnerGrants(toUserID)

	for _, doc := range sourceDocs {
		slug := doc.String(models.FieldJourneySlug)
		existing, conflict := targetBySlug[slug]
		if !conflict {
			_, err := m.store.UpdateDocument(ctx, m.databaseID, m.progressCollectionID, doc.ID,
				map[string]any{models.FieldUserID: toUserID}, grants)
			if err != nil {
				return nil, fmt.Errorf("reassign progress %s: %w", doc.ID, err)
			}
			result.Migrated++
			result.Details = append(result.Details, Detail{
				Action:      ActionMigrated,
				JourneySlug: slug,
				SourceID:    doc.ID,
			})
			continue
		}

		winner := WinnerTarget
		if ShouldPreferSource(doc, existing) {
			winner = WinnerSource
			_, err := m.store.UpdateDocument(ctx, m.databaseID, m.progressCollectionID, existing.ID,
				mergedData(doc, existing, toUserID), grants)
			if err != nil {
				return nil, fmt.Errorf("merge progress %s: %w", existing.ID, err)
			}
		}
		if err := m.store.DeleteDocument(ctx, m.databaseID, m.progressCollectionID, doc.ID); err != nil {
			return nil, fmt.Errorf("delete source progress %s: %w", doc.ID, err)
		}
		result.Merged++
		result.Details = append(result.Details, Detail{
			Action:      ActionMerged,
			JourneySlug: slug,
			Winner:      winner,
			SourceID:    doc.ID,
			TargetID:    existing.ID,
		})
	}

	eventDocs, err := docstore.ListAll(ctx, m.store, m.databaseID, m.eventsCollectionID,
		[]docstore.Query{docstore.Equal(models.FieldUserID, fromUserID)})
	if err != nil {
		return nil, fmt.Errorf("list source events: %w", err)
	}
	eventGrants := docstore.EventGrants(toUserID)
	for _, doc := range eventDocs {
		_, err := m.store.UpdateDocument(ctx, m.databaseID, m.eventsCollectionID, doc.ID,
			map[string]any{models.FieldUserID: toUserID}, eventGrants)
		if err != nil {
			return nil, fmt.Errorf("reassign event %s: %w", doc.ID, err)
		}
		result.Details = append(result.Details, Detail{Action: ActionEvent, SourceID: doc.ID})
	}
	result.Events = len(eventDocs)

	m.log.Info().
		Str("from", fromUserID).
		Str("to", toUserID).
		Int("migrated", result.Migrated).
		Int("merged", result.Merged).
		Int("events", result.Events).
		Msg("migration complete")
	return result, nil
}

// mergedData builds the update applied to the target document when the
// source wins a conflict. Attributes missing on the source fall back to
// the target's, then to zero values.
func mergedData(source, target docstore.Document, toUserID string) map[string]any {
	step := attributeOr(source, target, models.FieldStep)
	if step == nil {
		step = 0
	}
	percent := attributeOr(source, target, models.FieldPercent)
	if percent == nil {
		percent = 0
	}
	updatedAt := documentTimestamp(source)
	if updatedAt == "" {
		updatedAt = target.String(models.FieldUpdatedAt)
	}
	return map[string]any{
		models.FieldUserID:    toUserID,
		models.FieldStep:      step,
		models.FieldPercent:   percent,
		models.FieldState:     attributeOr(source, target, models.FieldState),
		models.FieldUpdatedAt: updatedAt,
	}
}

func attributeOr(source, target docstore.Document, field string) any {
	if v, ok := source.Data[field]; ok && v != nil {
		return v
	}
	if v, ok := target.Data[field]; ok && v != nil {
		return v
	}
	return nil
}
