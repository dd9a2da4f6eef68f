package oauth2client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/AmmannChristian/go-authsession/events"
	"github.com/AmmannChristian/go-authsession/session"
)

// ErrNoToken is returned when a token endpoint answers without an access token.
var ErrNoToken = errors.New("oauth2client: token endpoint returned no access token")

// Logger is an interface for optional logging in refreshers.
// Implementations can log token refresh events if desired.
type Logger interface {
	Printf(format string, args ...any)
}

// Option is a functional option shared by all refreshers.
type Option func(*settings)

type settings struct {
	logger     Logger
	httpClient *http.Client
}

// WithLogger sets a custom logger for token refresh events.
// If not set, no logging will occur.
func WithLogger(logger Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithLoggingEnabled enables logging using the default Go log package.
func WithLoggingEnabled() Option {
	return func(s *settings) {
		s.logger = log.Default()
	}
}

// WithHTTPClient sets the client used to reach the token and discovery endpoints.
// Without it, the client stored under oauth2.HTTPClient in the request context is
// used, falling back to http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		s.httpClient = c
	}
}

func newSettings(opts []Option) settings {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// clientContext returns ctx carrying the configured HTTP client.
func (s settings) clientContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}
	return ctx
}

func (s settings) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// tokenError converts a token endpoint failure into an events.StatusError when
// the endpoint answered with an HTTP status.
func tokenError(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		return &events.StatusError{
			StatusCode: rerr.Response.StatusCode,
			Err:        fmt.Errorf("oauth2client: %s: %w", op, err),
		}
	}
	return fmt.Errorf("oauth2client: %s: %w", op, err)
}

func sessionToken(tok *oauth2.Token) (*session.Token, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, ErrNoToken
	}
	return &session.Token{AccessToken: tok.AccessToken, Expiry: tok.Expiry}, nil
}

func formatExpiry(expiry time.Time) string {
	if expiry.IsZero() {
		return "unknown"
	}
	return expiry.Format(time.RFC3339)
}

// Starter is the part of tokenmanager.Manager used by Login.
type Starter interface {
	Login(ctx context.Context, accessToken string, expiry time.Time) error
}

// Login obtains a token from fetch and logs s in with it.
//
// Usage:
//
//	err := oauth2client.Login(ctx, tm, cc.Token)
func Login(ctx context.Context, s Starter, fetch events.RefreshFunc) error {
	tok, err := fetch(ctx)
	if err != nil {
		return err
	}
	if tok == nil {
		return ErrNoToken
	}
	return s.Login(ctx, tok.AccessToken, tok.Expiry)
}
