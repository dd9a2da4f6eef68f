// Package events is the registry of session lifecycle callbacks.
//
// Three events exist: Login and Logout are fire-and-forget notifications without payload, and
// TokenExpiration is a request for a fresh access token. At most one handler is registered per event;
// registering again replaces the previous handler. A missing handler is a silent no-op.
//
// A TokenExpiration handler returns either a new session.Token, nil (meaning it already applied the
// credential itself), or an error. Use StatusError to report the HTTP-style status of a failed refresh.
package events
