package progress_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdcmanual/progresskit/pkg/docstore"
	docmemory "github.com/cdcmanual/progresskit/pkg/docstore/memory"
	"github.com/cdcmanual/progresskit/pkg/identity"
	idmemory "github.com/cdcmanual/progresskit/pkg/identity/memory"
	"github.com/cdcmanual/progresskit/pkg/localstore"
	"github.com/cdcmanual/progresskit/pkg/migrate"
	"github.com/cdcmanual/progresskit/pkg/models"
	"github.com/cdcmanual/progresskit/pkg/progress"
)

const (
	dbID        = "db"
	progressCol = "progress"
	eventsCol   = "events"
)

func testConfig() progress.Config {
	return progress.Config{
		DatabaseID:           dbID,
		ProgressCollectionID: progressCol,
		EventsCollectionID:   eventsCol,
		JourneySlug:          "journey-a",
		PageURL:              "https://cdcmanual.example/labs/journey-a",
		DebounceDelay:        5 * time.Millisecond,
	}
}

func step(n int) *int { return &n }

func pct(f float64) *float64 { return &f }

type fakeToolbar struct {
	mu   sync.Mutex
	last progress.ToolbarState
}

func (f *fakeToolbar) RenderToolbar(state progress.ToolbarState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = state
}

func (f *fakeToolbar) state() progress.ToolbarState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type fakePrompt struct {
	mu        sync.Mutex
	messages  []string
	onResume  func()
	onDismiss func()
}

func (f *fakePrompt) Show(message string, onResume, onDismiss func()) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	f.onResume = onResume
	f.onDismiss = onDismiss
	return true
}

func (f *fakePrompt) shown() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fakeNavigator struct {
	urls, hashes, selectors []string
	scrolls                 []float64
	selectorFound           bool
}

func (f *fakeNavigator) NavigateURL(url string)   { f.urls = append(f.urls, url) }
func (f *fakeNavigator) NavigateHash(hash string) { f.hashes = append(f.hashes, hash) }
func (f *fakeNavigator) ScrollToSelector(selector string) bool {
	f.selectors = append(f.selectors, selector)
	return f.selectorFound
}
func (f *fakeNavigator) ScrollTo(y float64) { f.scrolls = append(f.scrolls, y) }

func listByUser(t *testing.T, store *docmemory.Store, collection, userID string) []docstore.Document {
	t.Helper()
	docs, err := docstore.ListAll(context.Background(), store, dbID, collection,
		[]docstore.Query{docstore.Equal(models.FieldUserID, userID)})
	require.NoError(t, err)
	return docs
}

func eventsOfType(t *testing.T, store *docmemory.Store, userID, eventType string) []docstore.Document {
	t.Helper()
	var out []docstore.Document
	for _, doc := range listByUser(t, store, eventsCol, userID) {
		if doc.String(models.FieldType) == eventType {
			out = append(out, doc)
		}
	}
	return out
}

func TestLocalOnlyModeIsReadyInstantly(t *testing.T) {
	toolbar := &fakeToolbar{}
	c := progress.New(progress.Config{JourneySlug: "journey-a"}, progress.Options{Toolbar: toolbar})
	defer c.Close()

	assert.False(t, c.Ready())
	c.Bootstrap(context.Background())
	assert.True(t, c.Ready())
	require.NoError(t, c.WaitReady(context.Background()))

	assert.Equal(t, progress.StatusOfflineOnly, toolbar.state().Status)
	assert.False(t, toolbar.state().CanSignIn)

	c.OnStepChange(context.Background(), progress.Payload{Step: step(2), Percent: pct(40)})
	entry := c.GetProgress("journey-a")
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.Step)
	assert.Equal(t, 40.0, entry.Percent)
}

func TestPercentIsClamped(t *testing.T) {
	c := progress.New(progress.Config{JourneySlug: "journey-a"}, progress.Options{})
	defer c.Close()
	c.Bootstrap(context.Background())

	c.OnStepChange(context.Background(), progress.Payload{Step: step(1), Percent: pct(150)})
	assert.Equal(t, 100.0, c.GetProgress("journey-a").Percent)

	c.OnStepChange(context.Background(), progress.Payload{Step: step(1), Percent: pct(-5)})
	assert.Equal(t, 0.0, c.GetProgress("journey-a").Percent)
}

func TestStepChangeWithoutSlugIsDropped(t *testing.T) {
	c := progress.New(progress.Config{}, progress.Options{})
	defer c.Close()
	c.Bootstrap(context.Background())

	c.OnStepChange(context.Background(), progress.Payload{Step: step(1), Percent: pct(10)})
	assert.Nil(t, c.GetProgress(""))
}

func TestSlugFallbackOrder(t *testing.T) {
	c := progress.New(progress.Config{JourneySlug: "page-journey"}, progress.Options{})
	defer c.Close()
	c.Bootstrap(context.Background())

	// explicit journeySlug beats the page default
	c.OnStepChange(context.Background(), progress.Payload{JourneySlug: "explicit", Step: step(1), Percent: pct(10)})
	assert.NotNil(t, c.GetProgress("explicit"))

	// the page default beats the legacy slug alias
	c.OnStepChange(context.Background(), progress.Payload{Slug: "legacy", Step: step(2), Percent: pct(20)})
	assert.Nil(t, c.GetProgress("legacy"))
	assert.NotNil(t, c.GetProgress("page-journey"))
}

func TestQueueThenFlushOrdering(t *testing.T) {
	c := progress.New(progress.Config{JourneySlug: "journey-a"}, progress.Options{})
	defer c.Close()

	ctx := context.Background()
	c.OnStepChange(ctx, progress.Payload{Step: step(1), Percent: pct(10)})
	c.OnStepChange(ctx, progress.Payload{Step: step(2), Percent: pct(20)})
	c.OnStepChange(ctx, progress.Payload{Step: step(3), Percent: pct(30)})
	assert.Nil(t, c.GetProgress("journey-a"))

	c.Bootstrap(ctx)

	entry := c.GetProgress("journey-a")
	require.NotNil(t, entry)
	assert.Equal(t, 3, entry.Step)
	assert.Equal(t, 30.0, entry.Percent)
}

func TestNoRemoteWriteBeforeReady(t *testing.T) {
	store := docmemory.New()
	provider := idmemory.New()
	provider.SignIn(identity.User{ID: "u1"}, "github")

	c := progress.New(testConfig(), progress.Options{
		Identity:  provider,
		Documents: store,
	})
	defer c.Close()

	ctx := context.Background()
	c.OnStepChange(ctx, progress.Payload{Step: step(1), Percent: pct(10)})
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, listByUser(t, store, progressCol, "u1"))

	c.Bootstrap(ctx)
	assert.Eventually(t, func() bool {
		return len(listByUser(t, store, progressCol, "u1")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRemoteUpsertReusesDocument(t *testing.T) {
	store := docmemory.New()
	provider := idmemory.New()
	provider.SignIn(identity.User{ID: "u1"}, "github")

	c := progress.New(testConfig(), progress.Options{Identity: provider, Documents: store})
	defer c.Close()

	ctx := context.Background()
	c.Bootstrap(ctx)
	c.OnStepChange(ctx, progress.Payload{Step: step(1), Percent: pct(10)})

	assert.Eventually(t, func() bool {
		return len(listByUser(t, store, progressCol, "u1")) == 1
	}, time.Second, 10*time.Millisecond)
	first := listByUser(t, store, progressCol, "u1")[0]

	c.OnStepChange(ctx, progress.Payload{Step: step(2), Percent: pct(20)})
	assert.Eventually(t, func() bool {
		docs := listByUser(t, store, progressCol, "u1")
		return len(docs) == 1 && docs[0].Float(models.FieldPercent) == 20
	}, time.Second, 10*time.Millisecond)

	second := listByUser(t, store, progressCol, "u1")[0]
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, docstore.OwnerGrants("u1"), store.Permissions(dbID, progressCol, first.ID))
}

func TestRemoteHydrateMergesByTimestamp(t *testing.T) {
	ctx := context.Background()
	store := docmemory.New()
	provider := idmemory.New()
	provider.SignIn(identity.User{ID: "u1"}, "github")

	// remote journey-a is older than the local cache; journey-b exists
	// only remotely
	_, err := store.CreateDocument(ctx, dbID, progressCol, "doc-a", map[string]any{
		models.FieldUserID:      "u1",
		models.FieldJourneySlug: "journey-a",
		models.FieldStep:        1,
		models.FieldPercent:     10.0,
		models.FieldUpdatedAt:   "2026-01-01T00:00:00Z",
	}, nil)
	require.NoError(t, err)
	_, err = store.CreateDocument(ctx, dbID, progressCol, "doc-b", map[string]any{
		models.FieldUserID:      "u1",
		models.FieldJourneySlug: "journey-b",
		models.FieldStep:        4,
		models.FieldPercent:     80.0,
		models.FieldUpdatedAt:   "2026-01-05T00:00:00Z",
	}, nil)
	require.NoError(t, err)

	kv := localstore.NewMemory()
	local := localstore.New(kv, zerolog.Nop())
	local.WriteProgress(map[string]models.ProgressEntry{
		"journey-a": {Step: 3, Percent: 55, UpdatedAt: "2026-02-01T00:00:00Z"},
	})

	c := progress.New(testConfig(), progress.Options{Local: kv, Identity: provider, Documents: store})
	defer c.Close()
	c.Bootstrap(ctx)

	// local journey-a survives, remote journey-b is adopted
	a := c.GetProgress("journey-a")
	require.NotNil(t, a)
	assert.Equal(t, 55.0, a.Percent)
	b := c.GetProgress("journey-b")
	require.NotNil(t, b)
	assert.Equal(t, 80.0, b.Percent)

	// the hydrated document id is reused for later writes
	c.OnStepChange(ctx, progress.Payload{JourneySlug: "journey-b", Step: step(5), Percent: pct(90)})
	assert.Eventually(t, func() bool {
		docs := listByUser(t, store, progressCol, "u1")
		return len(docs) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		for _, doc := range listByUser(t, store, progressCol, "u1") {
			if doc.ID == "doc-b" && doc.Float(models.FieldPercent) == 90 {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestStepEventBucketDedup(t *testing.T) {
	store := docmemory.New()
	provider := idmemory.New()
	provider.SignIn(identity.User{ID: "u1"}, "github")

	c := progress.New(testConfig(), progress.Options{Identity: provider, Documents: store})
	defer c.Close()

	ctx := context.Background()
	c.Bootstrap(ctx)

	// all inside the 0-5% bucket for step 1: one event
	c.OnStepChange(ctx, progress.Payload{Step: step(1), Percent: pct(1)})
	c.OnStepChange(ctx, progress.Payload{Step: step(1), Percent: pct(2)})
	c.OnStepChange(ctx, progress.Payload{Step: step(1), Percent: pct(4)})
	assert.Len(t, eventsOfType(t, store, "u1", models.EventStepChange), 1)

	// crossing the bucket boundary records another
	c.OnStepChange(ctx, progress.Payload{Step: step(1), Percent: pct(6)})
	assert.Len(t, eventsOfType(t, store, "u1", models.EventStepChange), 2)

	// a step change inside the same bucket records too
	c.OnStepChange(ctx, progress.Payload{Step: step(2), Percent: pct(7)})
	events := eventsOfType(t, store, "u1", models.EventStepChange)
	require.Len(t, events, 3)

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[2].String(models.FieldMetadata)), &meta))
	assert.Equal(t, "journey-a", meta[models.FieldJourneySlug])
	assert.Equal(t, 2.0, meta[models.FieldStep])
}

func TestChangeEventsAndReadyFireOnce(t *testing.T) {
	store := docmemory.New()
	provider := idmemory.New()
	provider.SignIn(identity.User{ID: "u1"}, "github")

	c := progress.New(testConfig(), progress.Options{Identity: provider, Documents: store})
	defer c.Close()

	var mu sync.Mutex
	var ready int
	var changes []string
	cancel := c.Subscribe(func(ev progress.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Name {
		case progress.EventReady:
			ready++
		case progress.EventChange:
			changes = append(changes, ev.JourneySlug)
		}
	})
	defer cancel()

	ctx := context.Background()
	c.Bootstrap(ctx)
	c.OnStepChange(ctx, progress.Payload{Step: step(1), Percent: pct(10)})

	c.SignOut(ctx) // re-runs bootstrap; ready event must not repeat

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, ready)
	assert.Contains(t, changes, "journey-a")
	assert.True(t, c.Ready())
}

func TestOfferResumeWindow(t *testing.T) {
	prompt := &fakePrompt{}
	c := progress.New(progress.Config{JourneySlug: "journey-a"}, progress.Options{Prompt: prompt})
	defer c.Close()
	ctx := context.Background()
	c.Bootstrap(ctx)

	c.OnStepChange(ctx, progress.Payload{Step: step(1), Percent: pct(2)})
	assert.False(t, c.OfferResume(progress.ResumeOffer{}))

	c.OnStepChange(ctx, progress.Payload{Step: step(2), Percent: pct(45)})
	assert.True(t, c.OfferResume(progress.ResumeOffer{}))
	assert.Contains(t, prompt.messages[0], "45%")

	c.OnStepChange(ctx, progress.Payload{Step: step(9), Percent: pct(100)})
	assert.False(t, c.OfferResume(progress.ResumeOffer{}))

	assert.False(t, c.OfferResume(progress.ResumeOffer{JourneySlug: "unknown"}))
}

func TestResumeDefaultNavigationPriority(t *testing.T) {
	nav := &fakeNavigator{}
	prompt := &fakePrompt{}
	c := progress.New(progress.Config{JourneySlug: "journey-a"}, progress.Options{Prompt: prompt, Navigator: nav})
	defer c.Close()
	ctx := context.Background()
	c.Bootstrap(ctx)

	state := json.RawMessage(`{"url":"/labs/next","hash":"#part-2","scrollY":300}`)
	c.OnStepChange(ctx, progress.Payload{Step: step(2), Percent: pct(45), State: state})

	require.True(t, c.OfferResume(progress.ResumeOffer{}))
	prompt.onResume()
	assert.Equal(t, []string{"/labs/next"}, nav.urls)
	assert.Empty(t, nav.hashes)
	assert.Empty(t, nav.scrolls)
}

func TestResumeSelectorFallsThroughToScroll(t *testing.T) {
	nav := &fakeNavigator{selectorFound: false}
	prompt := &fakePrompt{}
	c := progress.New(progress.Config{JourneySlug: "journey-a"}, progress.Options{Prompt: prompt, Navigator: nav})
	defer c.Close()
	ctx := context.Background()
	c.Bootstrap(ctx)

	state := json.RawMessage(`{"selector":"#missing","scrollY":300}`)
	c.OnStepChange(ctx, progress.Payload{Step: step(2), Percent: pct(45), State: state})

	require.True(t, c.OfferResume(progress.ResumeOffer{}))
	prompt.onResume()
	assert.Equal(t, []string{"#missing"}, nav.selectors)
	assert.Equal(t, []float64{300}, nav.scrolls)
}

func TestAutoResumeGatedByDismissal(t *testing.T) {
	prompt := &fakePrompt{}
	kv := localstore.NewMemory()
	local := localstore.New(kv, zerolog.Nop())
	local.WriteProgress(map[string]models.ProgressEntry{
		"journey-a": {Step: 2, Percent: 45, UpdatedAt: "2026-01-01T00:00:00Z"},
	})

	c := progress.New(progress.Config{JourneySlug: "journey-a"}, progress.Options{Local: kv, Prompt: prompt})
	defer c.Close()
	ctx := context.Background()

	c.Bootstrap(ctx)
	assert.Equal(t, 1, prompt.shown())

	prompt.onDismiss()

	// a dismissed journey is not offered again by the automatic path
	c.Bootstrap(ctx)
	assert.Equal(t, 1, prompt.shown())
}

func TestSignInScenarioMigratesAnonymousProgress(t *testing.T) {
	ctx := context.Background()
	store := docmemory.New()
	kv := localstore.NewMemory()
	migrator := migrate.New(store, dbID, progressCol, eventsCol, zerolog.Nop())

	// first visit: anonymous session, 60% on journey-a
	anonProvider := idmemory.New()
	anon := progress.New(testConfig(), progress.Options{
		Local:     kv,
		Identity:  anonProvider,
		Documents: store,
		Migrator:  migrator,
	})
	anon.Bootstrap(ctx)
	anonUser := anon.CurrentUser()
	require.NotNil(t, anonUser)
	assert.False(t, anon.IsAuthenticated())

	anon.OnStepChange(ctx, progress.Payload{Step: step(3), Percent: pct(60)})
	assert.Eventually(t, func() bool {
		return len(listByUser(t, store, progressCol, anonUser.ID)) == 1
	}, time.Second, 10*time.Millisecond)
	anon.Close()

	stored, _ := kv.Get(localstore.AnonUserKey)
	assert.Equal(t, anonUser.ID, stored)

	// after the OAuth redirect: same device, now a signed-in user
	signedProvider := idmemory.New()
	signedProvider.SignIn(identity.User{ID: "signed", Name: "Dana"}, "github")
	signed := progress.New(testConfig(), progress.Options{
		Local:     kv,
		Identity:  signedProvider,
		Documents: store,
		Migrator:  migrator,
	})
	defer signed.Close()
	signed.Bootstrap(ctx)

	assert.True(t, signed.IsAuthenticated())
	entry := signed.GetProgress("journey-a")
	require.NotNil(t, entry)
	assert.Equal(t, 60.0, entry.Percent)

	// ownership consolidated onto the signed-in user, anchor cleared
	assert.Len(t, listByUser(t, store, progressCol, "signed"), 1)
	assert.Empty(t, listByUser(t, store, progressCol, anonUser.ID))
	_, ok := kv.Get(localstore.AnonUserKey)
	assert.False(t, ok)

	// the migration itself is audited for the new owner
	assert.Len(t, eventsOfType(t, store, "signed", models.EventMigration), 1)
}

func TestSignInWithOAuthRecordsAnchorAndCallbacks(t *testing.T) {
	store := docmemory.New()
	kv := localstore.NewMemory()
	provider := idmemory.New()

	c := progress.New(testConfig(), progress.Options{Local: kv, Identity: provider, Documents: store})
	defer c.Close()
	ctx := context.Background()
	c.Bootstrap(ctx)
	anonUser := c.CurrentUser()
	require.NotNil(t, anonUser)

	c.SignInWithOAuth(ctx, "")

	calls := provider.OAuthCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, progress.DefaultOAuthProvider, calls[0].Provider)
	assert.Contains(t, calls[0].SuccessURL, "auth=success")
	assert.Contains(t, calls[0].FailureURL, "auth=failed")

	stored, _ := kv.Get(localstore.AnonUserKey)
	assert.Equal(t, anonUser.ID, stored)
}

func TestSignOutReturnsToAnonymous(t *testing.T) {
	store := docmemory.New()
	provider := idmemory.New()
	provider.SignIn(identity.User{ID: "u1"}, "github")
	toolbar := &fakeToolbar{}

	c := progress.New(testConfig(), progress.Options{Identity: provider, Documents: store, Toolbar: toolbar})
	defer c.Close()
	ctx := context.Background()
	c.Bootstrap(ctx)
	assert.True(t, c.IsAuthenticated())
	assert.Equal(t, progress.StatusSynced, toolbar.state().Status)

	c.SignOut(ctx)

	assert.True(t, c.Ready())
	assert.False(t, c.IsAuthenticated())
	// sign-out deletes the session, so re-bootstrap lands on a fresh
	// anonymous identity
	user := c.CurrentUser()
	require.NotNil(t, user)
	assert.NotEqual(t, "u1", user.ID)
	assert.Equal(t, progress.StatusLocalDevice, toolbar.state().Status)
	assert.Len(t, eventsOfType(t, store, "u1", models.EventLogout), 1)
}

func TestApplyRemoteDocument(t *testing.T) {
	c := progress.New(progress.Config{JourneySlug: "journey-a"}, progress.Options{})
	defer c.Close()
	c.Bootstrap(context.Background())

	c.ApplyRemoteDocument(docstore.Document{
		ID:        "doc-1",
		UpdatedAt: "2026-01-01T00:00:00Z",
		Data: map[string]any{
			models.FieldJourneySlug: "journey-a",
			models.FieldStep:        4,
			models.FieldPercent:     70.0,
		},
	})

	entry := c.GetProgress("journey-a")
	require.NotNil(t, entry)
	assert.Equal(t, 4, entry.Step)
	assert.Equal(t, 70.0, entry.Percent)
	assert.Equal(t, "2026-01-01T00:00:00Z", entry.UpdatedAt)
}

func TestDegradedBackendStillBecomesReady(t *testing.T) {
	store := docmemory.New()
	store.Err = fmt.Errorf("backend down")
	provider := idmemory.New()
	provider.Err = fmt.Errorf("identity down")

	c := progress.New(testConfig(), progress.Options{Identity: provider, Documents: store})
	defer c.Close()

	ctx := context.Background()
	c.Bootstrap(ctx)
	assert.True(t, c.Ready())
	assert.Nil(t, c.CurrentUser())

	// local tracking keeps working
	c.OnStepChange(ctx, progress.Payload{Step: step(1), Percent: pct(10)})
	require.NotNil(t, c.GetProgress("journey-a"))
}
