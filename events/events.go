package events

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/AmmannChristian/go-authsession/session"
)

// Name identifies a lifecycle event.
type Name string

// Lifecycle event names.
const (
	Login           Name = "login"
	Logout          Name = "logout"
	TokenExpiration Name = "tokenExpiration"
)

// ErrNoRefreshHandler is returned by Bus.Refresh when no TokenExpiration handler is registered.
var ErrNoRefreshHandler = errors.New("events: no tokenExpiration handler registered")

// RefreshFunc obtains a new access token after the current one was rejected.
// Returning (nil, nil) means the handler has already applied the new token.
type RefreshFunc func(ctx context.Context) (*session.Token, error)

// Handlers is the set of callbacks supplied at initialization.
// Nil fields are not registered.
type Handlers struct {
	Login           func()
	Logout          func()
	TokenExpiration RefreshFunc
}

// StatusError reports a failed refresh together with its HTTP-style status code.
type StatusError struct {
	StatusCode int
	Err        error
}

// Rejected returns a StatusError for status without an underlying cause.
func Rejected(status int) error {
	return &StatusError{StatusCode: status}
}

func (e *StatusError) Error() string {
	text := http.StatusText(e.StatusCode)
	if text == "" {
		text = "unknown status"
	}
	if e.Err != nil {
		return fmt.Sprintf("events: refresh failed with status %d (%s): %v", e.StatusCode, text, e.Err)
	}
	return fmt.Sprintf("events: refresh failed with status %d (%s)", e.StatusCode, text)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusCode extracts the status carried by a StatusError in err's chain.
// It returns 0 when there is none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// Bus holds at most one handler per event. The zero value is ready to use.
type Bus struct {
	mu      sync.RWMutex
	login   func()
	logout  func()
	refresh RefreshFunc
}

// Register replaces all handlers with h.
func (b *Bus) Register(h Handlers) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.login = h.Login
	b.logout = h.Logout
	b.refresh = h.TokenExpiration
}

// Merge registers the non-nil handlers of h, keeping the others.
func (b *Bus) Merge(h Handlers) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if h.Login != nil {
		b.login = h.Login
	}
	if h.Logout != nil {
		b.logout = h.Logout
	}
	if h.TokenExpiration != nil {
		b.refresh = h.TokenExpiration
	}
}

// Reset removes every handler.
func (b *Bus) Reset() {
	b.Register(Handlers{})
}

// Has reports whether a handler is registered for name.
func (b *Bus) Has(name Name) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	switch name {
	case Login:
		return b.login != nil
	case Logout:
		return b.logout != nil
	case TokenExpiration:
		return b.refresh != nil
	default:
		return false
	}
}

// Fire calls the Login or Logout handler for name and reports whether one ran.
// Unknown names and TokenExpiration are no-ops; use Refresh for the latter.
func (b *Bus) Fire(name Name) bool {
	b.mu.RLock()
	var fn func()
	switch name {
	case Login:
		fn = b.login
	case Logout:
		fn = b.logout
	}
	b.mu.RUnlock()

	if fn == nil {
		return false
	}
	fn()
	return true
}

// Refresh calls the TokenExpiration handler and passes its result through.
func (b *Bus) Refresh(ctx context.Context) (*session.Token, error) {
	b.mu.RLock()
	fn := b.refresh
	b.mu.RUnlock()

	if fn == nil {
		return nil, ErrNoRefreshHandler
	}
	return fn(ctx)
}
