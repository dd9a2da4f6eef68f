// Package tokenmanager manages a client-side authentication session and intercepts
// outgoing requests to keep it valid.
//
// A Manager attaches "Authorization: Bearer <token>" and an optional X-CSRF-Token to every
// request sent through its Transport (HTTP) or client interceptors (gRPC). While a session is
// logged in and a tokenExpiration handler is registered, a 401 (or codes.Unauthenticated) does
// not reach the caller. Instead the request is buffered and exactly one refresh episode runs,
// however many requests fail concurrently. When the handler succeeds, every buffered request is
// resent in arrival order with the new token and each caller receives its resend's real result.
// When the handler fails, every buffered caller gets an error wrapping ErrRefreshFailed and the
// session is logged out.
//
// # Features
//
//   - Login / Logout / SetAccessToken / SetCSRFToken with persistence through session.Store
//   - Session restore on Initialize, firing the login event again
//   - One refresh in flight per episode; FIFO replay; no request lost or settled twice
//   - Request bodies captured for replay; resent requests are never intercepted again
//   - Caller context cancellation honoured while a request is buffered
//   - gRPC unary and stream client interceptors sharing the same session
//   - Optional logging (WithLogger, WithLoggingEnabled), Prometheus metrics (WithMetrics)
//     and JWT expiry derivation (WithExpiryParser)
//
// # Quick Start
//
//	tm := tokenmanager.New(session.NewFileStore(path), tokenmanager.WithLoggingEnabled())
//
//	refresher := oauth2client.NewRefresher(oauthConfig, refreshToken)
//	err := tm.Initialize(ctx, tokenmanager.Config{
//	    CSRFToken: csrf,
//	    Events: events.Handlers{
//	        Logout:          func() { fmt.Println("signed out") },
//	        TokenExpiration: refresher.Refresh,
//	    },
//	})
//
//	client := &http.Client{Transport: tm.Transport(nil)}
//	if !tm.HasAccessToken() {
//	    err = tm.Login(ctx, accessToken, expiry)
//	}
//
// # Notes
//
//   - The tokenExpiration handler receives a context marked with WithoutRefresh, so requests it
//     makes through the same client are passed through rather than buffered.
//   - The access token expiration is advisory; nothing logs out when it passes.
//   - Stream RPCs only receive metadata; an Unauthenticated stream is not replayed.
package tokenmanager
