package testutil

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"golang.org/x/oauth2"
)

// NewLocalHTTPServer starts handler on 127.0.0.1 and closes it when the test ends.
// The listener is tcp4 because sandboxes may refuse IPv6 sockets.
func NewLocalHTTPServer(tb testing.TB, handler http.Handler) *httptest.Server {
	tb.Helper()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("listen on 127.0.0.1: %v", err)
	}

	srv := httptest.NewUnstartedServer(handler)
	srv.Listener = ln
	srv.Start()
	tb.Cleanup(srv.Close)

	return srv
}

// RoundTripFunc adapts a function to http.RoundTripper.
type RoundTripFunc func(*http.Request) (*http.Response, error)

// RoundTrip calls f.
func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// NewResponse returns a response to req with status and body.
func NewResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

// TokenJSON renders a token endpoint success body. An empty refreshToken is omitted.
func TokenJSON(accessToken, refreshToken string, expiresIn int) string {
	if refreshToken == "" {
		return fmt.Sprintf(`{"access_token":%q,"token_type":"Bearer","expires_in":%d}`, accessToken, expiresIn)
	}
	return fmt.Sprintf(`{"access_token":%q,"token_type":"Bearer","expires_in":%d,"refresh_token":%q}`,
		accessToken, expiresIn, refreshToken)
}

// MockOAuth2Server is an in-memory token endpoint. Requests never reach a socket:
// Client routes them to the handler and records them.
type MockOAuth2Server struct {
	// URL is a placeholder token endpoint; only Client can reach it.
	URL string
	// Ctx carries Client under oauth2.HTTPClient.
	Ctx    context.Context
	Client *http.Client

	mu       sync.Mutex
	requests []*http.Request
}

// NewMockOAuth2Server returns a mock served by handler. A nil handler answers every
// request with a one hour "mock-access-token".
func NewMockOAuth2Server(tb testing.TB, handler RoundTripFunc) *MockOAuth2Server {
	tb.Helper()

	if handler == nil {
		handler = func(req *http.Request) (*http.Response, error) {
			resp := NewResponse(req, http.StatusOK, TokenJSON("mock-access-token", "", 3600))
			resp.Header.Set("Content-Type", "application/json")
			return resp, nil
		}
	}

	m := &MockOAuth2Server{URL: "https://mock-oauth.example.com"}
	m.Client = &http.Client{Transport: RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		m.mu.Lock()
		m.requests = append(m.requests, req)
		m.mu.Unlock()
		return handler(req)
	})}
	m.Ctx = context.WithValue(context.Background(), oauth2.HTTPClient, m.Client)

	return m
}

// Requests returns a copy of the requests received so far.
func (m *MockOAuth2Server) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request(nil), m.requests...)
}
