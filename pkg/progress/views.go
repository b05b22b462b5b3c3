package progress

import (
	"github.com/cdcmanual/progresskit/pkg/docstore"
	"github.com/cdcmanual/progresskit/pkg/models"
)

// Toolbar status messages, keyed off the sync capability and session kind.
const (
	StatusOfflineOnly = "Offline progress only"
	StatusSynced      = "Synced across devices"
	StatusLocalDevice = "Saving to this device"
	StatusSignedOut   = "Not signed in"
)

// Auth modes surfaced to page styling.
const (
	AuthModeAuthenticated = "authenticated"
	AuthModeAnonymous     = "anonymous"
	AuthModeUnknown       = "unknown"
)

// ToolbarState is everything a toolbar renderer needs for one refresh.
type ToolbarState struct {
	// Percent is the rounded completion of the page's journey, 0 when the
	// journey has no entry yet.
	Percent int

	// Status is one of the Status* messages above.
	Status string

	// AuthMode is one of the AuthMode* values above.
	AuthMode string

	// CanSignIn reports whether the sign-in affordance should be enabled.
	CanSignIn bool

	// SignedIn toggles the login/logout affordances.
	SignedIn bool
}

// Toolbar renders the persistent progress indicator. Implementations must
// tolerate being called repeatedly with identical state.
type Toolbar interface {
	RenderToolbar(state ToolbarState)
}

// Dashboard renders the per-journey overview after a remote hydrate and
// returns to its boot state when the visitor signs out.
type Dashboard interface {
	RenderDashboard(rows []models.DashboardRow)
	ResetDashboard()
}

// DashboardRows derives the dashboard view from the raw remote documents.
// Module titles come from the configured module list; unknown journeys
// fall back to their slug.
func DashboardRows(docs []docstore.Document, modules []models.Module) []models.DashboardRow {
	titles := make(map[string]string, len(modules))
	for _, m := range modules {
		titles[m.ID] = m.Title
	}

	rows := make([]models.DashboardRow, 0, len(docs))
	for _, doc := range docs {
		slug := doc.String(models.FieldJourneySlug)
		title, ok := titles[slug]
		if !ok {
			title = slug
		}

		percent := models.ClampPercent(doc.Float(models.FieldPercent))

		updatedAt := doc.String(models.FieldUpdatedAt)
		if updatedAt == "" {
			updatedAt = doc.UpdatedAt
		}
		if updatedAt == "" {
			updatedAt = doc.CreatedAt
		}
		if updatedAt == "" {
			updatedAt = models.Now()
		}

		var step *int
		if _, present := doc.Data[models.FieldStep]; present {
			v := doc.Int(models.FieldStep)
			step = &v
		}

		rows = append(rows, models.DashboardRow{
			ModuleID:    slug,
			ModuleTitle: title,
			Percent:     percent,
			Status:      models.StatusForPercent(percent),
			UpdatedAt:   updatedAt,
			Step:        step,
		})
	}
	return rows
}
