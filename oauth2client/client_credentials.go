package oauth2client

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/AmmannChristian/go-authsession/session"
)

// ClientCredentials obtains access tokens with the OAuth2 client credentials flow.
// It is safe for concurrent access.
type ClientCredentials struct {
	settings

	config       *clientcredentials.Config
	expiryLeeway time.Duration

	mu    sync.Mutex
	token *oauth2.Token
}

// NewClientCredentials creates a client credentials token source.
//
// Parameters:
//   - tokenURL: OAuth2 token endpoint (e.g., "https://auth.example.com/oauth/v2/token")
//   - clientID: OAuth2 client identifier
//   - clientSecret: OAuth2 client secret
//   - scopes: Space-separated list of OAuth2 scopes (e.g., "openid profile email")
//   - opts: Optional configuration options (WithLogger, WithLoggingEnabled, WithHTTPClient)
func NewClientCredentials(tokenURL, clientID, clientSecret, scopes string, opts ...Option) *ClientCredentials {
	return &ClientCredentials{
		settings: newSettings(opts),
		config: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			// Split scopes by whitespace to avoid sending a single concatenated scope.
			Scopes: strings.Fields(scopes),
		},
		expiryLeeway: time.Minute,
	}
}

// Token returns the cached access token while it is valid, fetching a new one otherwise.
// Use it for the initial Login.
func (c *ClientCredentials) Token(ctx context.Context) (*session.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tokenValid() {
		return sessionToken(c.token)
	}
	return c.fetchLocked(ctx)
}

// Refresh always fetches a new access token, since the cached one was rejected.
// It has the signature of events.RefreshFunc.
func (c *ClientCredentials) Refresh(ctx context.Context) (*session.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fetchLocked(ctx)
}

func (c *ClientCredentials) fetchLocked(ctx context.Context) (*session.Token, error) {
	tok, err := c.config.Token(c.clientContext(ctx))
	if err != nil {
		c.token = nil
		return nil, tokenError("client credentials grant", err)
	}

	c.token = tok
	c.logf("oauth2client: obtained new access token (expires: %s)", formatExpiry(tok.Expiry))

	return sessionToken(tok)
}

// tokenValid reports whether the cached token is still usable with a small safety window.
func (c *ClientCredentials) tokenValid() bool {
	if c.token == nil {
		return false
	}
	if !c.token.Expiry.IsZero() && time.Until(c.token.Expiry) <= c.expiryLeeway {
		return false
	}
	return c.token.Valid()
}
