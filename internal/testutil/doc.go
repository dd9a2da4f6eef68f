// Package testutil provides test helpers for go-authsession packages.
//
// It includes utilities to spin up IPv4-only local HTTP servers (avoiding IPv6 in sandboxes),
// stub HTTP transports, mock OAuth2 token endpoints without real sockets, JWKS servers with signed
// test tokens, in-process Redis servers, and self-signed certificates for TLS tests.
//
// # Utilities
//
//   - NewLocalHTTPServer: start httptest server bound to 127.0.0.1
//   - RoundTripFunc, NewResponse: inline http.RoundTripper implementations and canned responses
//   - MockOAuth2Server and TokenJSON: stub OAuth2 token endpoints and capture requests
//   - NewJWTTestSetup / NewJWTClaims: RSA keys, JWKS server and signed tokens
//   - NewRedis: miniredis-backed go-redis client
//   - WriteTestCACert / WriteTestCertAndKey: generate temporary CA and leaf certificates
//   - WaitFor: poll a condition until it holds or the test fails
package testutil
