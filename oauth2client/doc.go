// Package oauth2client provides token sources for the tokenExpiration handler of a
// tokenmanager.Manager.
//
// Every type exposes a Refresh method with the signature of events.RefreshFunc, so it
// can be registered directly. Token endpoint failures that carry an HTTP status are
// returned as *events.StatusError.
//
// # Features
//
//   - Refresh token grant with rotation tracking (Refresher)
//   - Token endpoint discovery and ID token verification via OpenID Connect (NewOIDCRefresher)
//   - Client credentials flow with caching and early refresh (ClientCredentials)
//   - Optional logging (WithLogger, WithLoggingEnabled)
//
// # Quick Start
//
//	refresher, err := oauth2client.NewOIDCRefresher(ctx,
//	    "https://auth.example.com",
//	    "client-id",
//	    "client-secret",
//	    refreshToken,
//	    oauth2client.WithLoggingEnabled(),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = tm.Initialize(ctx, tokenmanager.Config{
//	    Events: events.Handlers{TokenExpiration: refresher.Refresh},
//	})
//
// # Notes
//
//   - Refresh calls are serialized per refresher.
//   - The HTTP client is taken from WithHTTPClient, then from oauth2.HTTPClient in the context.
package oauth2client
