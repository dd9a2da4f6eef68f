package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/AmmannChristian/go-authsession/events"
	"github.com/AmmannChristian/go-authsession/headers"
	"github.com/AmmannChristian/go-authsession/metrics"
	"github.com/AmmannChristian/go-authsession/session"
	"github.com/AmmannChristian/go-authsession/tokenclaims"
)

// Logger is an interface for optional logging in Manager.
// Implementations can log lifecycle and refresh events if desired.
type Logger interface {
	Printf(format string, args ...any)
}

// Config is supplied to Initialize. The zero value is valid.
type Config struct {
	// CSRFToken is sent as X-CSRF-Token on every request. Empty means not configured.
	CSRFToken string

	// Events holds the lifecycle callbacks. Nil handlers are not registered.
	Events events.Handlers
}

// Manager owns an authentication session and the interception state of every
// transport wrapped with it. It is safe for concurrent use.
type Manager struct {
	store   session.Store
	session session.Session
	events  events.Bus
	headers *headers.Injector

	logger  Logger
	metrics *metrics.Metrics
	parser  tokenclaims.ExpiryParser

	// lifecycle serializes session transitions (Initialize, Login, SetAccessToken, Logout).
	lifecycle sync.Mutex
	csrfToken string

	// mu guards the interception state below.
	mu      sync.Mutex
	active  bool
	episode *episode
}

// Option is a functional option for configuring Manager.
type Option func(*Manager)

// WithLogger sets a custom logger for lifecycle and refresh events.
// If not set, no logging will occur.
func WithLogger(logger Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithLoggingEnabled enables logging using the default Go log package.
func WithLoggingEnabled() Option {
	return func(m *Manager) {
		m.logger = log.Default()
	}
}

// WithMetrics records Prometheus metrics for refresh episodes and buffered requests.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithExpiryParser derives missing expirations from the access token and rejects
// tokens the parser fails to verify. Expired or inactive tokens are not rejected;
// the session keeps them until a 401 starts a refresh.
func WithExpiryParser(p tokenclaims.ExpiryParser) Option {
	return func(m *Manager) {
		m.parser = p
	}
}

// WithHeaders uses inj as the header provider instead of a private one.
func WithHeaders(inj *headers.Injector) Option {
	return func(m *Manager) {
		if inj != nil {
			m.headers = inj
		}
	}
}

// New creates a logged-out Manager persisting to store.
// A nil store keeps the session in memory only.
func New(store session.Store, opts ...Option) *Manager {
	if store == nil {
		store = session.NewMemoryStore()
	}

	m := &Manager{
		store:   store,
		headers: headers.New(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Initialize resets the options to cfg and restores the persisted session.
//
// A stored record holding both a token and an expiration is logged in again, which
// fires the login event. Otherwise the session is reset and the empty state persisted.
// Calling Initialize again discards any pending refresh buffer.
func (m *Manager) Initialize(ctx context.Context, cfg Config) error {
	m.lifecycle.Lock()
	m.headers.RemoveAll()
	m.csrfToken = cfg.CSRFToken
	m.events.Register(cfg.Events)
	pending := m.detach()
	m.lifecycle.Unlock()

	m.rejectAll(pending, ErrLoggedOut, metrics.ReasonLoggedOut)

	var initErr error
	rec, err := m.store.Load(ctx)
	switch {
	case err == nil && rec.Complete():
		loginErr := m.Login(ctx, *rec.AccessToken, rec.AccessTokenExpiration.Time)
		if errors.Is(loginErr, ErrTokenRejected) {
			m.logf("tokenmanager: stored access token rejected, starting logged out: %v", loginErr)
			initErr = m.resetStored(ctx)
		} else {
			initErr = loginErr
		}
	case err == nil || errors.Is(err, session.ErrNotFound):
		initErr = m.resetStored(ctx)
	default:
		m.lifecycle.Lock()
		m.session.Reset()
		m.lifecycle.Unlock()
		initErr = fmt.Errorf("tokenmanager: load session: %w", err)
	}

	m.lifecycle.Lock()
	if m.csrfToken != "" {
		m.headers.SetCSRF(m.csrfToken)
	}
	m.lifecycle.Unlock()

	return initErr
}

// Login stores the access token, activates interception and fires the login event.
// A zero expiry means the expiration is unknown. A refresh episode in progress is
// ended: its buffered requests are replayed with the new token and its refresh
// result is discarded. Calls made with the context passed to the tokenExpiration
// handler leave the episode running.
//
// Persistence errors are returned, but the in-memory session is logged in regardless.
func (m *Manager) Login(ctx context.Context, accessToken string, expiry time.Time) error {
	expiry, err := m.resolveExpiry(ctx, accessToken, expiry)
	if err != nil {
		return err
	}

	m.lifecycle.Lock()
	persistErr := m.setAccessTokenLocked(ctx, accessToken, expiry)
	m.mu.Lock()
	m.active = true
	var (
		superseded *episode
		pending    []*pendingRequest
	)
	if !IsRefreshExempt(ctx) {
		superseded, pending = m.supersedeLocked()
	}
	m.mu.Unlock()
	m.metrics.SetActive(true)
	m.lifecycle.Unlock()

	if superseded != nil {
		m.metrics.SetPending(0)
		m.logf("tokenmanager: refresh episode %s superseded by login, replaying %d requests", superseded.id, len(pending))
		go m.replaySuperseded(pending)
	}

	m.logf("tokenmanager: logged in")
	m.events.Fire(events.Login)
	return persistErr
}

// SetAccessToken updates the token, the Authorization header and the persisted session.
// It neither fires events nor changes whether interception is active.
func (m *Manager) SetAccessToken(ctx context.Context, accessToken string, expiry time.Time) error {
	expiry, err := m.resolveExpiry(ctx, accessToken, expiry)
	if err != nil {
		return err
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.setAccessTokenLocked(ctx, accessToken, expiry)
}

// SetCSRFToken replaces the CSRF token. An empty value removes the header.
func (m *Manager) SetCSRFToken(value string) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.csrfToken = value
	if value == "" {
		m.headers.RemoveCSRF()
		return
	}
	m.headers.SetCSRF(value)
}

// Logout clears and persists the session, deactivates interception, removes the
// Authorization header and fires the logout event. Requests still buffered by a
// refresh episode fail with ErrLoggedOut.
func (m *Manager) Logout(ctx context.Context) error {
	m.lifecycle.Lock()
	pending, persistErr := m.logoutLocked(ctx)
	m.lifecycle.Unlock()

	m.rejectAll(pending, ErrLoggedOut, metrics.ReasonLoggedOut)
	m.logf("tokenmanager: logged out")
	m.events.Fire(events.Logout)
	return persistErr
}

// HasAccessToken reports whether an access token is set.
func (m *Manager) HasAccessToken() bool {
	return m.session.HasAccessToken()
}

// HasAccessTokenExpiration reports whether an access token expiration is set.
func (m *Manager) HasAccessTokenExpiration() bool {
	return m.session.HasAccessTokenExpiration()
}

// AccessToken returns the current access token and whether one is set.
func (m *Manager) AccessToken() (string, bool) {
	return m.session.AccessToken()
}

// AccessTokenExpiration returns the advisory expiration and whether one is set.
func (m *Manager) AccessTokenExpiration() (time.Time, bool) {
	return m.session.Expiry()
}

// CSRFToken returns the configured CSRF token.
func (m *Manager) CSRFToken() string {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.csrfToken
}

// Headers returns the header provider consulted by wrapped transports.
func (m *Manager) Headers() *headers.Injector {
	return m.headers
}

// Active reports whether 401 responses are currently intercepted.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Refreshing reports whether a refresh episode is in progress.
func (m *Manager) Refreshing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.episode != nil
}

// PendingRequests returns the number of requests held by the current refresh episode.
func (m *Manager) PendingRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.episode == nil {
		return 0
	}
	return len(m.episode.buffer)
}

// setAccessTokenLocked requires m.lifecycle.
func (m *Manager) setAccessTokenLocked(ctx context.Context, accessToken string, expiry time.Time) error {
	m.session.Set(accessToken, expiry)
	m.headers.SetBearer(accessToken)
	return m.persistLocked(ctx)
}

// logoutLocked requires m.lifecycle.
func (m *Manager) logoutLocked(ctx context.Context) ([]*pendingRequest, error) {
	m.session.Reset()
	persistErr := m.persistLocked(ctx)
	pending := m.detach()
	m.headers.RemoveAuthorization()
	return pending, persistErr
}

func (m *Manager) resetStored(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.session.Reset()
	return m.persistLocked(ctx)
}

func (m *Manager) persistLocked(ctx context.Context) error {
	if err := m.store.Save(ctx, m.session.Record()); err != nil {
		m.logf("tokenmanager: failed to persist session: %v", err)
		return fmt.Errorf("tokenmanager: persist session: %w", err)
	}
	return nil
}

func (m *Manager) resolveExpiry(ctx context.Context, accessToken string, expiry time.Time) (time.Time, error) {
	if m.parser == nil {
		return expiry, nil
	}

	parsed, err := m.parser.Expiry(ctx, accessToken)
	if errors.Is(err, tokenclaims.ErrNoExpiry) {
		return expiry, nil
	}
	if errors.Is(err, tokenclaims.ErrInactive) {
		m.logf("tokenmanager: access token reported inactive, keeping it until the server rejects it")
		return expiry, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrTokenRejected, err)
	}
	if expiry.IsZero() {
		return parsed, nil
	}
	return expiry, nil
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
