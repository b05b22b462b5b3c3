// Package memory fakes the identity provider for tests. It hands out
// anonymous sessions on demand and can be pinned to an authenticated
// user to simulate the post-OAuth state.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/cdcmanual/progresskit/pkg/identity"
)

// ErrNoSession is returned by Get when no session has been established.
var ErrNoSession = errors.New("no active session")

// Provider is an in-memory identity.Provider.
type Provider struct {
	mu      sync.Mutex
	user    *identity.User
	session *identity.Session

	// Err, when set, fails every call. Used for degradation tests.
	Err error

	oauthCalls []OAuthCall
}

// OAuthCall records one CreateOAuth2Session invocation.
type OAuthCall struct {
	Provider   string
	SuccessURL string
	FailureURL string
}

var _ identity.Provider = (*Provider)(nil)

// New creates a provider with no active session.
func New() *Provider {
	return &Provider{}
}

// SignIn pins the provider to an authenticated user, replacing any
// anonymous session, as if an OAuth redirect had completed.
func (p *Provider) SignIn(user identity.User, providerName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = &user
	p.session = &identity.Session{ID: uuid.NewString(), UserID: user.ID, Provider: providerName}
}

// OAuthCalls returns the recorded OAuth invocations.
func (p *Provider) OAuthCalls() []OAuthCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]OAuthCall(nil), p.oauthCalls...)
}

func (p *Provider) Get(ctx context.Context) (*identity.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	if p.user == nil {
		return nil, ErrNoSession
	}
	u := *p.user
	return &u, nil
}

func (p *Provider) CreateAnonymousSession(ctx context.Context) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	userID := uuid.NewString()
	p.user = &identity.User{ID: userID}
	p.session = &identity.Session{ID: uuid.NewString(), UserID: userID, Provider: identity.ProviderAnonymous}
	s := *p.session
	return &s, nil
}

func (p *Provider) GetSession(ctx context.Context, sessionID string) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	if p.session == nil {
		return nil, ErrNoSession
	}
	s := *p.session
	return &s, nil
}

func (p *Provider) CreateOAuth2Session(ctx context.Context, provider, successURL, failureURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.oauthCalls = append(p.oauthCalls, OAuthCall{Provider: provider, SuccessURL: successURL, FailureURL: failureURL})
	return nil
}

func (p *Provider) DeleteSession(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.user = nil
	p.session = nil
	return nil
}
