// Package session tracks the authentication credential used by the delivery
// core. The credential itself is owned by the platform; this package only
// reads its expiry and triggers refreshes before it lapses.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/ovationhq/ovation-notify/internal/errors"
	"github.com/ovationhq/ovation-notify/internal/httpclient"
)

// Provider exposes the authentication state the delivery core depends on.
type Provider interface {
	// IsAuthenticated reports whether a session currently exists.
	IsAuthenticated() bool
	// Expiry returns the session's absolute expiry. ok is false when no
	// session exists.
	Expiry() (expiry time.Time, ok bool)
	// Refresh renews the credential before it lapses. A successful refresh
	// is silent; the server observes the new credential on its own next
	// check.
	Refresh(ctx context.Context) error
}

// refreshResponse is the wire shape of the platform's token refresh reply.
type refreshResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// APIProvider implements Provider against the platform's session refresh
// endpoint. Tokens are installed on the shared HTTP client so stream and
// poll requests carry the current credential automatically.
type APIProvider struct {
	client     *httpclient.Client
	refreshURL string

	mu     sync.RWMutex
	token  string
	expiry time.Time
}

// NewAPIProvider creates a provider that refreshes through refreshURL using
// the shared HTTP client.
func NewAPIProvider(client *httpclient.Client, refreshURL string) *APIProvider {
	return &APIProvider{
		client:     client,
		refreshURL: refreshURL,
	}
}

// SetSession installs a credential obtained at sign-in.
func (p *APIProvider) SetSession(token string, expiry time.Time) {
	p.mu.Lock()
	p.token = token
	p.expiry = expiry
	p.mu.Unlock()
	p.client.SetBearerToken(token)
}

// Clear destroys the local credential (sign-out).
func (p *APIProvider) Clear() {
	p.mu.Lock()
	p.token = ""
	p.expiry = time.Time{}
	p.mu.Unlock()
	p.client.SetBearerToken("")
}

// IsAuthenticated reports whether a credential is installed.
func (p *APIProvider) IsAuthenticated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token != ""
}

// Expiry returns the credential's absolute expiry.
func (p *APIProvider) Expiry() (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == "" {
		return time.Time{}, false
	}
	return p.expiry, true
}

// Refresh exchanges the current credential for a fresh one.
func (p *APIProvider) Refresh(ctx context.Context) error {
	var resp refreshResponse
	if err := p.client.PostJSON(ctx, p.refreshURL, nil, &resp); err != nil {
		return errors.New(err).
			Component("session").
			Category(errors.CategorySession).
			Context("operation", "refresh").
			Build()
	}
	if resp.Token == "" {
		return errors.Newf("refresh response carried no token").
			Component("session").
			Category(errors.CategorySession).
			Build()
	}

	p.mu.Lock()
	p.token = resp.Token
	p.expiry = resp.ExpiresAt
	p.mu.Unlock()
	p.client.SetBearerToken(resp.Token)
	return nil
}
