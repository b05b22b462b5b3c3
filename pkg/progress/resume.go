package progress

import (
	"math"

	"github.com/cdcmanual/progresskit/pkg/models"
)

// Per-journey resume flags, scoped to one page session. Once a prompt has
// been dismissed or taken, it is not offered again automatically.
const (
	resumeOffered   = "offered"
	resumeDismissed = "dismissed"
	resumeCompleted = "completed"
)

// ResumeOffer parameterizes one resume prompt. Zero values fall back to
// the page journey, a default message and the default navigation.
type ResumeOffer struct {
	JourneySlug string
	Message     string

	// OnResume, when set, replaces the default navigation behavior.
	OnResume func(entry models.ProgressEntry)
}

// ResumePrompt presents a dismissible resume prompt. Show returns false
// when no prompt surface exists; otherwise it must eventually call
// exactly one of onResume or onDismiss.
type ResumePrompt interface {
	Show(message string, onResume, onDismiss func()) bool
}

// Navigator is the page navigation surface the default resume behavior
// drives. ScrollToSelector reports whether the target element exists, so
// a missing anchor can fall through to the recorded scroll offset.
type Navigator interface {
	NavigateURL(url string)
	NavigateHash(hash string)
	ScrollToSelector(selector string) bool
	ScrollTo(y float64)
}

// withinResumeWindow reports whether an entry is worth resuming: far
// enough in to matter, not so far that the journey is effectively done.
func withinResumeWindow(percent float64) bool {
	rounded := math.Round(percent)
	return rounded >= 5 && rounded < 99
}

// defaultResume navigates to the entry's recorded position. The first
// present state field wins: url, then hash, then selector, then scrollY.
func defaultResume(nav Navigator, entry models.ProgressEntry) {
	if nav == nil {
		return
	}
	rs := models.DecodeResumeState(entry.State)
	if rs == nil {
		return
	}
	switch {
	case rs.URL != "":
		nav.NavigateURL(rs.URL)
	case rs.Hash != "":
		nav.NavigateHash(rs.Hash)
	case rs.Selector != "" && nav.ScrollToSelector(rs.Selector):
	case rs.ScrollY != nil:
		nav.ScrollTo(*rs.ScrollY)
	}
}
