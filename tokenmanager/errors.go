package tokenmanager

import (
	"context"
	"errors"
)

var (
	// ErrRefreshFailed is wrapped into the error returned to every request that was
	// buffered during a refresh episode whose tokenExpiration handler failed.
	ErrRefreshFailed = errors.New("tokenmanager: token refresh failed")

	// ErrLoggedOut is returned to buffered requests discarded by Logout or Initialize.
	ErrLoggedOut = errors.New("tokenmanager: session ended while request was pending")

	// ErrTokenRejected is returned when the configured ExpiryParser rejects an access token.
	ErrTokenRejected = errors.New("tokenmanager: access token rejected")
)

type exemptKey struct{}

// WithoutRefresh marks ctx so requests made with it are never buffered or replayed.
// The tokenExpiration handler always receives a context carrying this mark.
func WithoutRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, exemptKey{}, true)
}

// IsRefreshExempt reports whether ctx was marked by WithoutRefresh.
func IsRefreshExempt(ctx context.Context) bool {
	v, _ := ctx.Value(exemptKey{}).(bool)
	return v
}
