package tokenmanager

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/AmmannChristian/go-authsession/headers"
)

// Transport is an http.RoundTripper that attaches the manager's credential headers
// and, while a session is active, holds back 401 responses until a refresh episode
// has produced a new token, then resends the request.
//
// Callers see either the response of the resent request or an error wrapping
// ErrRefreshFailed / ErrLoggedOut; they never see the intercepted 401.
type Transport struct {
	// Base is the underlying HTTP transport. If nil, http.DefaultTransport is used.
	Base http.RoundTripper

	manager *Manager
}

// Transport wraps base with the manager's interceptor.
// Wrapping a Transport that already belongs to m returns it unchanged.
func (m *Manager) Transport(base http.RoundTripper) *Transport {
	if t, ok := base.(*Transport); ok && t.manager == m {
		return t
	}
	if base == nil {
		base = http.DefaultTransport
	}

	return &Transport{
		Base:    base,
		manager: m,
	}
}

// Manager returns the manager the transport belongs to.
func (t *Transport) Manager() *Manager {
	return t.manager
}

// RoundTrip implements http.RoundTripper interface.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.manager == nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, errors.New("tokenmanager: Transport has no Manager")
	}

	ctx := req.Context()
	if IsRefreshExempt(ctx) || !t.manager.intercepting() {
		reqClone := req.Clone(ctx)
		t.manager.applyHeaders(reqClone.Header)
		return t.base().RoundTrip(reqClone)
	}

	replayable, err := rewindable(req)
	if err != nil {
		return nil, err
	}

	send := func() (outcome, string) {
		return t.send(replayable)
	}

	out, sentAuth := send()
	if !out.unauthorized {
		return out.resp, out.err
	}

	out = t.manager.handleUnauthorized(ctx, sentAuth, out, send)
	return out.resp, out.err
}

func (t *Transport) send(req *http.Request) (outcome, string) {
	reqClone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return outcome{err: fmt.Errorf("tokenmanager: rewind request body: %w", err)}, ""
		}
		reqClone.Body = body
	}

	sentAuth := t.manager.applyHeaders(reqClone.Header)

	resp, err := t.base().RoundTrip(reqClone)
	return outcome{
		resp:         resp,
		err:          err,
		unauthorized: err == nil && resp != nil && resp.StatusCode == http.StatusUnauthorized,
	}, sentAuth
}

func (t *Transport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

// applyHeaders sets the credential headers on h and returns the Authorization value sent.
// Authorization is only attached while interception is active.
func (m *Manager) applyHeaders(h http.Header) string {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if !active {
		m.headers.Without(headers.Authorization).Apply(h)
		return ""
	}

	m.headers.Apply(h)
	return h.Get(headers.Authorization)
}

// rewindable returns a copy of req whose body can be read once per attempt.
// The caller's body is consumed and closed.
func rewindable(req *http.Request) (*http.Request, error) {
	reqClone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		reqClone.GetBody = nil
		return reqClone, nil
	}

	if req.GetBody != nil {
		req.Body.Close()
		return reqClone, nil
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("tokenmanager: buffer request body: %w", err)
	}

	reqClone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	reqClone.ContentLength = int64(len(data))
	return reqClone, nil
}
