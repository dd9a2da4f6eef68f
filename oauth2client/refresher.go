package oauth2client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/AmmannChristian/go-authsession/session"
)

// ErrNoRefreshToken is returned by Refresh when no refresh token is available.
var ErrNoRefreshToken = errors.New("oauth2client: no refresh token")

// Refresher exchanges a refresh token for new access tokens using the OAuth2
// refresh_token grant. Rotated refresh tokens replace the stored one.
//
// Refresh has the signature of events.RefreshFunc and is meant to be registered
// as the tokenExpiration handler. Refresher is safe for concurrent use; calls
// are serialized so a rotated refresh token is never used twice.
type Refresher struct {
	settings

	config   *oauth2.Config
	verifier *oidc.IDTokenVerifier

	mu           sync.Mutex
	refreshToken string
}

// NewRefresher creates a refresher for config starting from refreshToken.
//
// Parameters:
//   - config: OAuth2 client configuration; only ClientID, ClientSecret, Endpoint and Scopes are used
//   - refreshToken: initial refresh token
//   - opts: Optional configuration options (WithLogger, WithLoggingEnabled, WithHTTPClient)
func NewRefresher(config *oauth2.Config, refreshToken string, opts ...Option) *Refresher {
	return &Refresher{
		settings:     newSettings(opts),
		config:       config,
		refreshToken: refreshToken,
	}
}

// NewOIDCRefresher discovers the token endpoint of issuerURL and returns a refresher
// for it. ID tokens returned by the refresh are verified against the issuer's keys.
func NewOIDCRefresher(ctx context.Context, issuerURL, clientID, clientSecret, refreshToken string, opts ...Option) (*Refresher, error) {
	s := newSettings(opts)

	provider, err := oidc.NewProvider(s.clientContext(ctx), issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oauth2client: discover %s: %w", issuerURL, err)
	}

	r := NewRefresher(&oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, oidc.ScopeOfflineAccess},
	}, refreshToken, opts...)
	r.verifier = provider.Verifier(&oidc.Config{ClientID: clientID})

	s.logf("oauth2client: discovered token endpoint %s", provider.Endpoint().TokenURL)
	return r, nil
}

// Refresh exchanges the current refresh token for a new access token.
func (r *Refresher) Refresh(ctx context.Context) (*session.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	ctx = r.clientContext(ctx)
	tok, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: r.refreshToken}).Token()
	if err != nil {
		return nil, tokenError("refresh token grant", err)
	}

	if r.verifier != nil {
		if rawIDToken, ok := tok.Extra("id_token").(string); ok && rawIDToken != "" {
			if _, err := r.verifier.Verify(ctx, rawIDToken); err != nil {
				return nil, fmt.Errorf("oauth2client: verify id token: %w", err)
			}
		}
	}

	st, err := sessionToken(tok)
	if err != nil {
		return nil, err
	}

	if tok.RefreshToken != "" && tok.RefreshToken != r.refreshToken {
		r.refreshToken = tok.RefreshToken
		r.logf("oauth2client: refresh token rotated")
	}
	r.logf("oauth2client: refreshed access token (expires: %s)", formatExpiry(st.Expiry))

	return st, nil
}

// RefreshToken returns the refresh token the next Refresh will use.
func (r *Refresher) RefreshToken() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshToken
}

// SetRefreshToken replaces the refresh token, e.g. after a new interactive login.
func (r *Refresher) SetRefreshToken(refreshToken string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshToken = refreshToken
}
