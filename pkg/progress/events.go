package progress

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cdcmanual/progresskit/pkg/docstore"
	"github.com/cdcmanual/progresskit/pkg/models"
)

// eventRecorder appends audit events to the events collection. Events are
// fire-and-forget; a failed write is logged and dropped, never retried.
type eventRecorder struct {
	store        docstore.Store
	databaseID   string
	collectionID string
	log          zerolog.Logger
}

func newEventRecorder(store docstore.Store, databaseID, collectionID string, log zerolog.Logger) *eventRecorder {
	return &eventRecorder{
		store:        store,
		databaseID:   databaseID,
		collectionID: collectionID,
		log:          log,
	}
}

func (r *eventRecorder) enabled() bool {
	return r.store != nil && r.databaseID != "" && r.collectionID != ""
}

// Record writes one audit event for the user. The metadata map travels as
// a JSON string; its journeySlug, when present, is also hoisted into the
// dedicated attribute for querying.
func (r *eventRecorder) Record(ctx context.Context, userID, eventType string, metadata map[string]any) {
	if !r.enabled() || userID == "" {
		return
	}

	var slug any
	if metadata != nil {
		if v, ok := metadata[models.FieldJourneySlug]; ok {
			slug = v
		}
	}
	var encoded any
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err == nil {
			encoded = string(b)
		}
	}

	data := map[string]any{
		models.FieldUserID:      userID,
		models.FieldType:        eventType,
		models.FieldJourneySlug: slug,
		models.FieldMetadata:    encoded,
		models.FieldCreatedAt:   models.Now(),
	}
	if _, err := r.store.CreateDocument(ctx, r.databaseID, r.collectionID, uuid.NewString(), data, docstore.EventGrants(userID)); err != nil {
		r.log.Warn().Err(err).Str("event", eventType).Msg("unable to record event")
	}
}
