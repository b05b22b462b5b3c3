package progress

import (
	"github.com/cdcmanual/progresskit/pkg/models"
)

// MergeEntry resolves two progress records for the same journey during
// local/remote hydrate. The incoming entry wins when either timestamp is
// missing or when it is at least as new as the existing one; otherwise
// the existing entry is kept unchanged.
//
// This rule is timestamp-only on purpose. The cross-user migration rule
// (percent first, timestamp as tiebreaker) lives in the migrate package;
// the two policies produce different outcomes and must not be unified.
func MergeEntry(existing *models.ProgressEntry, incoming models.ProgressEntry) models.ProgressEntry {
	if existing == nil {
		return incoming
	}
	newer := existing.UpdatedAt == "" ||
		incoming.UpdatedAt == "" ||
		models.ParseTimestamp(incoming.UpdatedAt) >= models.ParseTimestamp(existing.UpdatedAt)
	if !newer {
		return *existing
	}
	merged := incoming
	if merged.JourneySlug == "" {
		merged.JourneySlug = existing.JourneySlug
	}
	return merged
}
