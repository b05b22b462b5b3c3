// Package identity defines the capability surface the progress controller
// needs from the identity/session provider: resolve the current user,
// create anonymous sessions, start an OAuth2 flow and delete the current
// session. The rest subpackage talks to the provider's account API; the
// memory subpackage fakes it for tests and local-only operation.
package identity

import "context"

// ProviderAnonymous is the session provider name for anonymous sessions.
const ProviderAnonymous = "anonymous"

// SessionCurrent addresses the caller's active session.
const SessionCurrent = "current"

// User is an identity provider account.
type User struct {
	ID    string `json:"$id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Identity returns the friendliest available handle for log messages.
func (u *User) Identity() string {
	switch {
	case u == nil:
		return "user"
	case u.Name != "":
		return u.Name
	case u.Email != "":
		return u.Email
	case u.ID != "":
		return u.ID
	default:
		return "user"
	}
}

// Session is an identity provider session.
type Session struct {
	ID       string `json:"$id"`
	UserID   string `json:"userId"`
	Provider string `json:"provider"`
}

// Anonymous reports whether the session has no durable credentials.
func (s *Session) Anonymous() bool {
	return s != nil && s.Provider == ProviderAnonymous
}

// Provider is the identity/session capability surface.
type Provider interface {
	// Get returns the current user, or an error when no session exists.
	Get(ctx context.Context) (*User, error)

	// CreateAnonymousSession starts a session with no credentials.
	CreateAnonymousSession(ctx context.Context) (*Session, error)

	// GetSession fetches a session by id; use SessionCurrent for the
	// caller's active one.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// CreateOAuth2Session starts the provider's OAuth flow. The provider
	// redirects to successURL or failureURL once the flow finishes.
	CreateOAuth2Session(ctx context.Context, provider, successURL, failureURL string) error

	// DeleteSession ends a session server-side.
	DeleteSession(ctx context.Context, sessionID string) error
}
