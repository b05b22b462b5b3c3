// Package progress implements the progress tracking controller: session
// bootstrap, local and remote hydration, step-change handling with
// debounced remote persistence, resume prompts and change fan-out.
//
// The controller is an explicit instance rather than ambient state, so
// tests can run several of them side by side. All capability surfaces
// (identity, document store, views, navigation) are injected; every one
// of them is optional and a missing capability degrades to local-only
// behavior instead of failing.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cdcmanual/progresskit/pkg/docstore"
	"github.com/cdcmanual/progresskit/pkg/identity"
	"github.com/cdcmanual/progresskit/pkg/localstore"
	"github.com/cdcmanual/progresskit/pkg/migrate"
	"github.com/cdcmanual/progresskit/pkg/models"
)

// DefaultOAuthProvider is used when sign-in is requested without naming
// a provider.
const DefaultOAuthProvider = "github"

// Config carries the page-level settings the controller is constructed
// with.
type Config struct {
	DatabaseID           string
	ProgressCollectionID string
	EventsCollectionID   string

	// JourneySlug is the page's default journey, used when a step change
	// does not name one and for toolbar rendering and auto-resume.
	JourneySlug string

	// PageURL is the current page address, used to derive the OAuth
	// success and failure callbacks.
	PageURL string

	// Modules lists the trackable journeys for dashboard rendering.
	Modules []models.Module

	// DebounceDelay overrides the remote write debounce; zero keeps the
	// default.
	DebounceDelay time.Duration
}

// RemoteConfigured reports whether the document database settings are
// complete enough to sync.
func (c Config) RemoteConfigured() bool {
	return c.DatabaseID != "" && c.ProgressCollectionID != ""
}

// Options injects the controller's collaborators. Every field may be
// nil; the controller then runs without that capability.
type Options struct {
	// Local is the durable per-device cache. Defaults to an in-process
	// store, which keeps the controller functional but forgetful.
	Local localstore.KV

	Identity  identity.Provider
	Documents docstore.Store
	Migrator  MigrationInvoker

	Toolbar   Toolbar
	Dashboard Dashboard
	Prompt    ResumePrompt
	Navigator Navigator

	// Logger defaults to the nop logger when nil.
	Logger *zerolog.Logger
}

// MigrationInvoker folds one user's remote records into another's. The
// migrate package provides both a direct and an HTTP-backed form.
type MigrationInvoker interface {
	MigrateUser(ctx context.Context, fromUserID, toUserID string) (*migrate.Result, error)
}

// Payload is the loosely-shaped step-change input accepted at the API
// boundary. Slug is a legacy alias for JourneySlug and loses to both an
// explicit JourneySlug and the configured page journey.
type Payload struct {
	JourneySlug string
	Slug        string
	Step        *int
	Percent     *float64
	State       json.RawMessage
}

// StepChange is the canonical form of a payload after normalization.
type StepChange struct {
	Slug    string
	Step    int
	Percent float64
	State   json.RawMessage
}

type stepEvent struct {
	step   int
	bucket int
}

// Controller orchestrates the progress tracking session for one page
// load.
type Controller struct {
	cfg    Config
	log    zerolog.Logger
	online bool

	local    *localstore.Store
	identity identity.Provider
	docs     docstore.Store
	migrator MigrationInvoker

	toolbar   Toolbar
	dashboard Dashboard
	prompt    ResumePrompt
	nav       Navigator

	bus    *Bus
	sync   *syncer
	events *eventRecorder

	readyCh   chan struct{}
	readyOnce sync.Once

	mu              sync.Mutex
	user            *identity.User
	session         *identity.Session
	isAuthenticated bool
	isAnonymous     bool
	ready           bool
	readyEventSent  bool
	progress        map[string]models.ProgressEntry
	pending         []StepChange
	resumeFlags     map[string]string
	lastStepEvents  map[string]stepEvent
	lastAuthState   *bool
}

// New builds a controller. Call Bootstrap to start the session.
func New(cfg Config, opts Options) *Controller {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	kv := opts.Local
	if kv == nil {
		kv = localstore.NewMemory()
	}

	c := &Controller{
		cfg:            cfg,
		log:            log,
		local:          localstore.New(kv, log),
		identity:       opts.Identity,
		docs:           opts.Documents,
		migrator:       opts.Migrator,
		toolbar:        opts.Toolbar,
		dashboard:      opts.Dashboard,
		prompt:         opts.Prompt,
		nav:            opts.Navigator,
		bus:            NewBus(),
		readyCh:        make(chan struct{}),
		isAnonymous:    true,
		progress:       make(map[string]models.ProgressEntry),
		resumeFlags:    make(map[string]string),
		lastStepEvents: make(map[string]stepEvent),
	}
	c.online = cfg.RemoteConfigured() && opts.Identity != nil && opts.Documents != nil
	if opts.Documents != nil {
		c.sync = newSyncer(opts.Documents, cfg.DatabaseID, cfg.ProgressCollectionID, cfg.DebounceDelay, log)
	}
	c.events = newEventRecorder(opts.Documents, cfg.DatabaseID, cfg.EventsCollectionID, log)
	return c
}

// Bootstrap runs the session state machine: local hydrate, identity
// resolution, migration check, remote hydrate, finalize. It never fails;
// every network problem degrades to local-only mode.
func (c *Controller) Bootstrap(ctx context.Context) {
	for slug, entry := range c.local.ReadProgress() {
		c.mu.Lock()
		existing := c.lookup(slug)
		c.progress[slug] = MergeEntry(existing, entry)
		c.mu.Unlock()
	}

	c.renderToolbar()

	if !c.online {
		c.finishBootstrap(ctx)
		return
	}

	user, err := c.identity.Get(ctx)
	if err != nil {
		user = nil
	}
	if user == nil {
		session, err := c.identity.CreateAnonymousSession(ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("failed to establish anonymous session")
		} else {
			if session.UserID != "" {
				c.local.SetAnonUserID(session.UserID)
			}
			if user, err = c.identity.Get(ctx); err != nil {
				c.log.Warn().Err(err).Msg("failed to resolve anonymous user")
				user = nil
			}
		}
	}
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()

	c.updateSessionDetails(ctx)

	c.mu.Lock()
	anonymous := c.isAnonymous
	c.mu.Unlock()
	if user != nil {
		if anonymous {
			c.local.SetAnonUserID(user.ID)
		} else if stored := c.local.AnonUserID(); stored != "" && stored != user.ID {
			c.runMigration(ctx, stored, user.ID)
			c.local.SetAnonUserID("")
		}
	}

	c.loadRemoteProgress(ctx)
	c.finishBootstrap(ctx)
}

func (c *Controller) finishBootstrap(ctx context.Context) {
	c.resolveReady()
	c.renderToolbar()
	c.flushPending(ctx)
	c.maybeAutoResume()
}

// resolveReady flips the ready flag and publishes the ready event. The
// event goes out at most once per controller even though sign-out runs
// Bootstrap again.
func (c *Controller) resolveReady() {
	c.mu.Lock()
	c.ready = true
	first := !c.readyEventSent
	c.readyEventSent = true
	c.mu.Unlock()

	c.readyOnce.Do(func() { close(c.readyCh) })
	if first {
		c.bus.Publish(Event{Name: EventReady})
	}
}

// updateSessionDetails resolves the current session kind and narrates
// auth transitions to the agent log.
func (c *Controller) updateSessionDetails(ctx context.Context) {
	session, err := c.identity.GetSession(ctx, identity.SessionCurrent)

	c.mu.Lock()
	if err != nil {
		c.session = nil
		c.isAnonymous = true
		c.isAuthenticated = false
	} else {
		c.session = session
		c.isAnonymous = session.Anonymous()
		c.isAuthenticated = !c.isAnonymous
	}
	previous := c.lastAuthState
	authed := c.isAuthenticated
	c.lastAuthState = &authed
	user := c.user
	c.mu.Unlock()

	switch {
	case previous == nil && authed:
		c.agentLog("Session restored for " + user.Identity() + ".")
	case previous == nil:
		c.clearDashboard()
		c.agentLog("Anonymous session active. Sign in to sync your dashboard.")
	case authed && !*previous:
		c.agentLog("Signed in as " + user.Identity() + ".")
	case !authed && *previous:
		c.clearDashboard()
		c.agentLog("Signed out of CDC session.")
	}
}

func (c *Controller) runMigration(ctx context.Context, fromUserID, toUserID string) {
	if c.migrator == nil {
		return
	}
	result, err := c.migrator.MigrateUser(ctx, fromUserID, toUserID)
	if err != nil {
		c.log.Warn().Err(err).Msg("identity migration failed")
		return
	}
	metadata := map[string]any{"fromUserId": fromUserID, "toUserId": toUserID}
	if result != nil {
		metadata["payload"] = result
	}
	c.events.Record(ctx, toUserID, models.EventMigration, metadata)
}

// loadRemoteProgress pages through the user's remote documents, merges
// them in and refreshes the dashboard snapshot.
func (c *Controller) loadRemoteProgress(ctx context.Context) {
	c.mu.Lock()
	user := c.user
	anonymous := c.isAnonymous
	c.mu.Unlock()
	if user == nil {
		return
	}

	docs, err := docstore.ListAll(ctx, c.docs, c.cfg.DatabaseID, c.cfg.ProgressCollectionID,
		[]docstore.Query{docstore.Equal(models.FieldUserID, user.ID)})
	if err != nil {
		c.log.Warn().Err(err).Msg("unable to load remote progress")
		return
	}

	var changed []string
	c.mu.Lock()
	for _, doc := range docs {
		entry := entryFromDocument(doc)
		if entry.JourneySlug == "" {
			continue
		}
		existing := c.lookup(entry.JourneySlug)
		c.progress[entry.JourneySlug] = MergeEntry(existing, entry)
		changed = append(changed, entry.JourneySlug)
	}
	snapshot := c.copyProgress()
	c.mu.Unlock()

	for _, doc := range docs {
		c.sync.Record(doc.String(models.FieldJourneySlug), doc.ID)
	}
	for _, slug := range changed {
		c.publishChange(slug)
	}

	rows := DashboardRows(docs, c.cfg.Modules)
	c.local.WriteDashboard(rows)
	if !anonymous {
		if c.dashboard != nil {
			c.dashboard.RenderDashboard(rows)
		}
		completed := 0
		for _, row := range rows {
			if row.Status == models.StatusCompleted {
				completed++
			}
		}
		c.log.Info().Str("source", "SYNC").
			Msg(fmt.Sprintf("Synced %d progress record(s); %d completed.", len(rows), completed))
	}
	c.local.WriteProgress(snapshot)
}

// OnStepChange records a step change for a journey. Calls made before
// the controller is ready are queued and replayed in order once ready.
// It never fails; remote problems degrade to a skipped write.
func (c *Controller) OnStepChange(ctx context.Context, payload Payload) {
	slug := payload.JourneySlug
	if slug == "" {
		slug = c.cfg.JourneySlug
	}
	if slug == "" {
		slug = payload.Slug
	}
	if slug == "" {
		c.log.Warn().Msg("step change is missing a journey slug")
		return
	}

	change := StepChange{Slug: slug, State: payload.State}
	if payload.Step != nil {
		change.Step = *payload.Step
	}
	if payload.Percent != nil {
		change.Percent = models.ClampPercent(*payload.Percent)
	}

	c.mu.Lock()
	if !c.ready {
		c.pending = append(c.pending, change)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.apply(ctx, change)
}

func (c *Controller) apply(ctx context.Context, change StepChange) {
	incoming := models.ProgressEntry{
		JourneySlug: change.Slug,
		Step:        change.Step,
		Percent:     change.Percent,
		UpdatedAt:   models.Now(),
		State:       change.State,
	}

	c.mu.Lock()
	existing := c.lookup(change.Slug)
	merged := MergeEntry(existing, incoming)
	c.progress[change.Slug] = merged
	snapshot := c.copyProgress()
	user := c.user

	// One analytics event per (step, 5%-bucket) transition; rapid slider
	// input inside a bucket stays silent.
	bucket := int(merged.Percent / 5)
	previous, seen := c.lastStepEvents[change.Slug]
	record := !seen || previous.step != merged.Step || previous.bucket != bucket
	if record {
		c.lastStepEvents[change.Slug] = stepEvent{step: merged.Step, bucket: bucket}
	}
	c.mu.Unlock()

	c.local.WriteProgress(snapshot)
	c.renderToolbar()
	c.publishChange(change.Slug)

	if c.online && user != nil {
		c.sync.Persist(user.ID, merged)
	}
	if record && user != nil {
		c.events.Record(ctx, user.ID, models.EventStepChange, map[string]any{
			models.FieldJourneySlug: change.Slug,
			models.FieldStep:        merged.Step,
			models.FieldPercent:     merged.Percent,
		})
	}
}

func (c *Controller) flushPending(ctx context.Context) {
	c.mu.Lock()
	queue := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, change := range queue {
		c.apply(ctx, change)
	}
}

// GetProgress returns a copy of the journey's entry, or nil when none
// exists. Pure lookup, no side effects.
func (c *Controller) GetProgress(journeySlug string) *models.ProgressEntry {
	if journeySlug == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(journeySlug)
}

// CurrentUser returns the resolved user, or nil before bootstrap or in
// local-only mode.
func (c *Controller) CurrentUser() *identity.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// IsAuthenticated reports whether the session belongs to a signed-in
// (non-anonymous) user.
func (c *Controller) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isAuthenticated
}

// Ready reports whether bootstrap has completed.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// WaitReady blocks until bootstrap completes or the context ends.
func (c *Controller) WaitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a listener for ready and change events and returns
// its cancel function.
func (c *Controller) Subscribe(fn Listener) func() {
	return c.bus.Subscribe(fn)
}

// SignInWithOAuth starts the provider's OAuth flow. When running
// anonymously it first records the anonymous user id locally so the new
// identity can be linked back to it after the redirect.
func (c *Controller) SignInWithOAuth(ctx context.Context, provider string) {
	if provider == "" {
		provider = DefaultOAuthProvider
	}
	if !c.online {
		c.log.Warn().Msg("oauth sign-in unavailable")
		return
	}

	c.mu.Lock()
	user := c.user
	anonymous := c.isAnonymous
	c.mu.Unlock()
	if anonymous && user != nil && user.ID != "" {
		c.local.SetAnonUserID(user.ID)
	}

	err := c.identity.CreateOAuth2Session(ctx, provider,
		c.callbackURL("success"), c.callbackURL("failed"))
	if err != nil {
		c.log.Warn().Err(err).Msg("oauth sign-in failed")
		return
	}
	if user != nil {
		c.events.Record(ctx, user.ID, models.EventLogin, map[string]any{"provider": provider})
	}
}

func (c *Controller) callbackURL(status string) string {
	u, err := url.Parse(c.cfg.PageURL)
	if err != nil {
		return c.cfg.PageURL
	}
	q := u.Query()
	q.Set("auth", status)
	u.RawQuery = q.Encode()
	return u.String()
}

// SignOut deletes the current session, clears authentication state and
// the dashboard snapshot, then re-runs bootstrap so the page returns to
// anonymous mode without a reload.
func (c *Controller) SignOut(ctx context.Context) {
	if !c.online {
		return
	}

	if err := c.identity.DeleteSession(ctx, identity.SessionCurrent); err != nil {
		c.log.Warn().Err(err).Msg("sign out failed")
	} else {
		c.mu.Lock()
		user := c.user
		c.mu.Unlock()
		if user != nil {
			c.events.Record(ctx, user.ID, models.EventLogout, map[string]any{
				models.FieldJourneySlug: c.cfg.JourneySlug,
			})
		}
	}

	c.mu.Lock()
	c.user = nil
	c.session = nil
	c.isAuthenticated = false
	c.isAnonymous = true
	c.mu.Unlock()

	c.clearDashboard()
	c.Bootstrap(ctx)
}

// OfferResume shows a dismissible resume prompt when the journey has an
// entry worth resuming. Returns whether a prompt was shown.
func (c *Controller) OfferResume(offer ResumeOffer) bool {
	slug := offer.JourneySlug
	if slug == "" {
		slug = c.cfg.JourneySlug
	}
	if slug == "" || c.prompt == nil {
		return false
	}

	c.mu.Lock()
	entry, ok := c.progress[slug]
	c.mu.Unlock()
	if !ok || !withinResumeWindow(entry.Percent) {
		return false
	}

	percent := int(math.Round(entry.Percent))
	message := offer.Message
	if message == "" {
		message = fmt.Sprintf("Resume where you left off? You were %d%% through this journey.", percent)
	}

	onResume := func() {
		c.setResumeFlag(slug, resumeCompleted)
		if offer.OnResume != nil {
			offer.OnResume(entry)
		} else {
			defaultResume(c.nav, entry)
		}
		c.mu.Lock()
		user := c.user
		c.mu.Unlock()
		if user != nil {
			c.events.Record(context.Background(), user.ID, models.EventResume, map[string]any{
				models.FieldJourneySlug: slug,
				models.FieldPercent:     percent,
			})
		}
	}
	onDismiss := func() {
		c.setResumeFlag(slug, resumeDismissed)
	}
	return c.prompt.Show(message, onResume, onDismiss)
}

// maybeAutoResume offers a resume prompt for the page journey unless it
// was already offered, dismissed or taken this session.
func (c *Controller) maybeAutoResume() {
	slug := c.cfg.JourneySlug
	if slug == "" {
		return
	}
	c.mu.Lock()
	entry, ok := c.progress[slug]
	flag := c.resumeFlags[slug]
	c.mu.Unlock()
	if !ok || !withinResumeWindow(entry.Percent) {
		return
	}
	if flag == resumeDismissed || flag == resumeCompleted {
		return
	}
	c.setResumeFlag(slug, resumeOffered)
	c.OfferResume(ResumeOffer{JourneySlug: slug})
}

func (c *Controller) setResumeFlag(slug, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumeFlags[slug] = value
}

// ApplyRemoteDocument merges a progress document received out of band,
// e.g. from the realtime change feed, into the controller's state.
func (c *Controller) ApplyRemoteDocument(doc docstore.Document) {
	entry := entryFromDocument(doc)
	if entry.JourneySlug == "" {
		return
	}

	c.mu.Lock()
	existing := c.lookup(entry.JourneySlug)
	c.progress[entry.JourneySlug] = MergeEntry(existing, entry)
	snapshot := c.copyProgress()
	c.mu.Unlock()

	if c.sync != nil {
		c.sync.Record(entry.JourneySlug, doc.ID)
	}
	c.local.WriteProgress(snapshot)
	c.renderToolbar()
	c.publishChange(entry.JourneySlug)
}

// Close cancels pending debounced writes. The controller is not usable
// afterwards.
func (c *Controller) Close() {
	if c.sync != nil {
		c.sync.Stop()
	}
}

func (c *Controller) renderToolbar() {
	c.mu.Lock()
	entry, ok := c.progress[c.cfg.JourneySlug]
	authed := c.isAuthenticated
	anonymous := c.isAnonymous
	c.mu.Unlock()

	percent := 0
	if ok {
		percent = int(math.Round(entry.Percent))
	}

	status := StatusSignedOut
	switch {
	case !c.online:
		status = StatusOfflineOnly
	case authed:
		status = StatusSynced
	case anonymous:
		status = StatusLocalDevice
	}

	mode := AuthModeUnknown
	switch {
	case authed:
		mode = AuthModeAuthenticated
	case anonymous:
		mode = AuthModeAnonymous
	}

	if c.toolbar != nil {
		c.toolbar.RenderToolbar(ToolbarState{
			Percent:   percent,
			Status:    status,
			AuthMode:  mode,
			CanSignIn: c.online,
			SignedIn:  authed,
		})
	}
}

func (c *Controller) publishChange(slug string) {
	if slug == "" {
		return
	}
	c.mu.Lock()
	entry := c.lookup(slug)
	c.mu.Unlock()
	c.bus.Publish(Event{Name: EventChange, JourneySlug: slug, Entry: entry})
}

func (c *Controller) clearDashboard() {
	c.local.WriteDashboard(nil)
	if c.dashboard != nil {
		c.dashboard.ResetDashboard()
	}
}

func (c *Controller) agentLog(message string) {
	c.log.Info().Str("source", "CDC_AGENT").Msg(message)
}

// lookup returns a copy of the entry for slug, or nil. Caller holds the
// mutex.
func (c *Controller) lookup(slug string) *models.ProgressEntry {
	if entry, ok := c.progress[slug]; ok {
		e := entry
		return &e
	}
	return nil
}

// copyProgress snapshots the progress map. Caller holds the mutex.
func (c *Controller) copyProgress() map[string]models.ProgressEntry {
	out := make(map[string]models.ProgressEntry, len(c.progress))
	for slug, entry := range c.progress {
		out[slug] = entry
	}
	return out
}

// entryFromDocument converts a remote progress document into its local
// form. The state attribute travels as a JSON string and is kept only
// when it decodes.
func entryFromDocument(doc docstore.Document) models.ProgressEntry {
	entry := models.ProgressEntry{
		JourneySlug: doc.String(models.FieldJourneySlug),
		Step:        doc.Int(models.FieldStep),
		Percent:     models.ClampPercent(doc.Float(models.FieldPercent)),
		UpdatedAt:   doc.String(models.FieldUpdatedAt),
	}
	if entry.UpdatedAt == "" {
		entry.UpdatedAt = doc.UpdatedAt
	}
	if raw := doc.String(models.FieldState); raw != "" && json.Valid([]byte(raw)) {
		entry.State = json.RawMessage(raw)
	}
	return entry
}
