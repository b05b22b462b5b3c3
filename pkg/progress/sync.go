package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cdcmanual/progresskit/pkg/docstore"
	"github.com/cdcmanual/progresskit/pkg/models"
)

// syncer owns the remote side of progress persistence: the debounced
// write path and the journeySlug to document id lookup that makes writes
// upserts instead of blind creates.
type syncer struct {
	store        docstore.Store
	databaseID   string
	collectionID string
	debounce     *Debouncer
	log          zerolog.Logger

	ids safeMap
}

func newSyncer(store docstore.Store, databaseID, collectionID string, delay time.Duration, log zerolog.Logger) *syncer {
	return &syncer{
		store:        store,
		databaseID:   databaseID,
		collectionID: collectionID,
		debounce:     NewDebouncer(delay),
		log:          log,
		ids:          newSafeMap(),
	}
}

// Persist schedules a debounced write of the entry for its journey. The
// entry is captured at call time; a burst of calls for the same journey
// collapses into one network call carrying the last entry.
func (s *syncer) Persist(userID string, entry models.ProgressEntry) {
	slug := entry.JourneySlug
	if slug == "" || userID == "" {
		return
	}
	s.debounce.Do(slug, func() {
		s.flush(context.Background(), userID, entry)
	})
}

func (s *syncer) flush(ctx context.Context, userID string, entry models.ProgressEntry) {
	slug := entry.JourneySlug

	updatedAt := entry.UpdatedAt
	if updatedAt == "" {
		updatedAt = models.Now()
	}
	var stateValue any
	if len(entry.State) > 0 {
		stateValue = string(entry.State)
	}
	data := map[string]any{
		models.FieldUserID:      userID,
		models.FieldJourneySlug: slug,
		models.FieldStep:        entry.Step,
		models.FieldPercent:     entry.Percent,
		models.FieldUpdatedAt:   updatedAt,
		models.FieldState:       stateValue,
	}
	permissions := docstore.OwnerGrants(userID)

	if docID, ok := s.ids.get(slug); ok {
		if _, err := s.store.UpdateDocument(ctx, s.databaseID, s.collectionID, docID, data, permissions); err != nil {
			s.log.Warn().Err(err).Str("journey", slug).Msg("failed to persist progress")
		}
		return
	}
	doc, err := s.store.CreateDocument(ctx, s.databaseID, s.collectionID, uuid.NewString(), data, permissions)
	if err != nil {
		s.log.Warn().Err(err).Str("journey", slug).Msg("failed to persist progress")
		return
	}
	s.ids.set(slug, doc.ID)
}

// Record remembers the remote document backing a journey so the next
// write updates it in place.
func (s *syncer) Record(slug, documentID string) {
	if slug == "" || documentID == "" {
		return
	}
	s.ids.set(slug, documentID)
}

// DocumentID returns the known remote document id for a journey.
func (s *syncer) DocumentID(slug string) (string, bool) {
	return s.ids.get(slug)
}

// Stop cancels all pending writes.
func (s *syncer) Stop() {
	s.debounce.Stop()
}

type safeMap struct {
	mu sync.Mutex
	m  map[string]string
}

func newSafeMap() safeMap {
	return safeMap{m: make(map[string]string)}
}

func (sm *safeMap) get(key string) (string, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	v, ok := sm.m[key]
	return v, ok
}

func (sm *safeMap) set(key, value string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.m[key] = value
}
