// Package httpclient builds HTTP clients whose requests carry the session headers of a
// tokenmanager.Manager and survive access token expiry transparently.
//
// The fluent Builder wraps a base transport with the manager's interceptor and adds
// TLS (custom CA, mTLS, insecure for tests), timeouts and redirect handling.
//
// # Features
//
//   - Fluent builder for http.Client with session interception
//   - TLS 1.2+ by default, with custom CA/mTLS and optional InsecureSkipVerify
//   - Custom timeouts, base transport override, and redirect disabling
//
// # Quick Start
//
//	tm := tokenmanager.New(session.NewFileStore(path))
//
//	client, err := httpclient.NewBuilder().
//	    WithTokenManager(tm).
//	    WithTLS("/path/to/ca.crt", "", "").
//	    WithTimeout(60 * time.Second).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := client.Get("https://api.example.com/data")
//
// Building several clients from the same manager is safe: they share one refresh
// episode and one pending-request buffer.
package httpclient
