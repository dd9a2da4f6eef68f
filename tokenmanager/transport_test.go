package tokenmanager

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AmmannChristian/go-authsession/events"
	"github.com/AmmannChristian/go-authsession/headers"
	"github.com/AmmannChristian/go-authsession/internal/testutil"
	"github.com/AmmannChristian/go-authsession/metrics"
	"github.com/AmmannChristian/go-authsession/session"
)

const waitTimeout = 2 * time.Second

// newActiveManager returns a manager logged in with "abc" whose tokenExpiration
// handler is refresh.
func newActiveManager(t *testing.T, refresh events.RefreshFunc, opts ...Option) (*Manager, *eventCounter) {
	t.Helper()

	counter := &eventCounter{}
	h := counter.handlers()
	h.TokenExpiration = refresh

	tm := New(session.NewMemoryStore(), opts...)
	ctx := context.Background()
	if err := tm.Initialize(ctx, Config{Events: h}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := tm.Login(ctx, "abc", time.Unix(1999999999, 0)); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return tm, counter
}

// tokenBackend answers 200 for "Bearer <valid>" and 401 for anything else.
func tokenBackend(valid string) testutil.RoundTripFunc {
	return func(req *http.Request) (*http.Response, error) {
		if req.Header.Get(headers.Authorization) == "Bearer "+valid {
			return testutil.NewResponse(req, http.StatusOK, "ok "+req.URL.Path), nil
		}
		return testutil.NewResponse(req, http.StatusUnauthorized, "expired"), nil
	}
}

func staticRefresh(token string) events.RefreshFunc {
	return func(context.Context) (*session.Token, error) {
		return &session.Token{AccessToken: token}, nil
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return string(data)
}

func TestManager_Transport(t *testing.T) {
	tm := New(nil)
	base := testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		return testutil.NewResponse(req, http.StatusOK, ""), nil
	})

	transport := tm.Transport(base)
	if transport.Manager() != tm {
		t.Error("transport should belong to the manager")
	}

	if again := tm.Transport(transport); again != transport {
		t.Error("wrapping twice with the same manager should return the same transport")
	}

	other := New(nil)
	if wrapped := other.Transport(transport); wrapped == transport || wrapped.Base != transport {
		t.Error("another manager should wrap the transport")
	}

	if tm.Transport(nil).Base != http.DefaultTransport {
		t.Error("nil base should default to http.DefaultTransport")
	}
}

func TestTransport_NoManager(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com", nil)

	_, err := (&Transport{}).RoundTrip(req)
	if err == nil || !strings.Contains(err.Error(), "no Manager") {
		t.Errorf("expected missing manager error, got %v", err)
	}
}

func TestTransport_Headers(t *testing.T) {
	var gotAuth, gotCSRF string
	base := testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		gotAuth = req.Header.Get(headers.Authorization)
		gotCSRF = req.Header.Get(headers.CSRFToken)
		return testutil.NewResponse(req, http.StatusOK, ""), nil
	})

	tm := New(nil)
	ctx := context.Background()
	if err := tm.Initialize(ctx, Config{CSRFToken: "csrf-1"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	client := &http.Client{Transport: tm.Transport(base)}

	tests := []struct {
		name     string
		setup    func()
		wantAuth string
		wantCSRF string
	}{
		{
			name:     "logged out",
			setup:    func() {},
			wantCSRF: "csrf-1",
		},
		{
			name: "token set without login",
			setup: func() {
				_ = tm.SetAccessToken(ctx, "abc", time.Time{})
			},
			wantCSRF: "csrf-1",
		},
		{
			name: "logged in",
			setup: func() {
				_ = tm.Login(ctx, "abc", time.Time{})
			},
			wantAuth: "Bearer abc",
			wantCSRF: "csrf-1",
		},
		{
			name: "token replaced",
			setup: func() {
				_ = tm.SetAccessToken(ctx, "def", time.Time{})
				tm.SetCSRFToken("")
			},
			wantAuth: "Bearer def",
		},
		{
			name: "logged out again",
			setup: func() {
				_ = tm.Logout(ctx)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()

			req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/me", nil)
			req.Header.Set("X-Caller", "test")
			resp, err := client.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()

			if gotAuth != tt.wantAuth {
				t.Errorf("expected Authorization %q, got %q", tt.wantAuth, gotAuth)
			}
			if gotCSRF != tt.wantCSRF {
				t.Errorf("expected CSRF %q, got %q", tt.wantCSRF, gotCSRF)
			}
			if req.Header.Get(headers.Authorization) != "" {
				t.Error("caller's request must not be modified")
			}
		})
	}
}

// TestTransport_RefreshScenario drives a full session: three requests fail with
// 401 while a refresh is pending, one refresh runs, and all three are resent in
// arrival order with the new token.
func TestTransport_RefreshScenario(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	counter := &eventCounter{}
	release := make(chan struct{})
	var refreshCalls atomic.Int32

	h := counter.handlers()
	h.TokenExpiration = func(context.Context) (*session.Token, error) {
		refreshCalls.Add(1)
		<-release
		return &session.Token{AccessToken: "xyz", Expiry: time.Unix(2000000000, 0)}, nil
	}

	tm := New(store)
	if err := tm.Initialize(ctx, Config{Events: h}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if tm.Headers().Authorization() != "" {
		t.Fatal("expected no Authorization header after Initialize")
	}

	if err := tm.Login(ctx, "abc", time.Unix(1999999999, 0)); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if got := tm.Headers().Authorization(); got != "Bearer abc" {
		t.Fatalf("expected 'Bearer abc', got %q", got)
	}
	if counter.logins.Load() != 1 {
		t.Fatalf("expected one login event, got %d", counter.logins.Load())
	}

	var (
		mu       sync.Mutex
		replayed []string
		firsts   atomic.Int32
	)
	base := testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch req.Header.Get(headers.Authorization) {
		case "Bearer abc":
			firsts.Add(1)
			return testutil.NewResponse(req, http.StatusUnauthorized, "expired"), nil
		case "Bearer xyz":
			mu.Lock()
			replayed = append(replayed, req.URL.Path)
			mu.Unlock()
			return testutil.NewResponse(req, http.StatusOK, "ok "+req.URL.Path), nil
		default:
			return testutil.NewResponse(req, http.StatusBadRequest, "missing token"), nil
		}
	})
	client := &http.Client{Transport: tm.Transport(base)}

	type result struct {
		path   string
		status int
		body   string
		err    error
	}
	paths := []string{"/a", "/b", "/c"}
	results := make(chan result, len(paths))

	for i, path := range paths {
		go func() {
			resp, err := client.Get("https://api.example.com" + path)
			if err != nil {
				results <- result{path: path, err: err}
				return
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			results <- result{path: path, status: resp.StatusCode, body: string(body)}
		}()
		testutil.WaitFor(t, waitTimeout, func() bool { return tm.PendingRequests() == i+1 })
	}

	if !tm.Refreshing() {
		t.Error("expected a refresh episode in progress")
	}
	if refreshCalls.Load() != 1 {
		t.Errorf("expected exactly one refresh while buffering, got %d", refreshCalls.Load())
	}

	close(release)

	for range paths {
		r := <-results
		if r.err != nil {
			t.Errorf("%s: unexpected error: %v", r.path, r.err)
			continue
		}
		if r.status != http.StatusOK || r.body != "ok "+r.path {
			t.Errorf("%s: expected replayed response, got %d %q", r.path, r.status, r.body)
		}
	}

	if refreshCalls.Load() != 1 {
		t.Errorf("expected exactly one refresh, got %d", refreshCalls.Load())
	}
	if firsts.Load() != 3 {
		t.Errorf("expected three rejected first attempts, got %d", firsts.Load())
	}

	mu.Lock()
	got := strings.Join(replayed, ",")
	mu.Unlock()
	if got != "/a,/b,/c" {
		t.Errorf("expected replay in arrival order, got %s", got)
	}

	if tm.Refreshing() || tm.PendingRequests() != 0 {
		t.Error("expected the buffer to be cleared")
	}
	if got := tm.Headers().Authorization(); got != "Bearer xyz" {
		t.Errorf("expected 'Bearer xyz', got %q", got)
	}
	assertPersistedMatches(t, tm, store)

	if err := tm.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if tm.Headers().Authorization() != "" {
		t.Error("expected Authorization header to be removed")
	}
	if counter.logouts.Load() != 1 {
		t.Errorf("expected one logout event, got %d", counter.logouts.Load())
	}
}

func TestTransport_RefreshFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	mt := metrics.NewMetrics(reg)
	release := make(chan struct{})
	var refreshCalls atomic.Int32

	tm, counter := newActiveManager(t, func(context.Context) (*session.Token, error) {
		refreshCalls.Add(1)
		<-release
		return nil, events.Rejected(http.StatusUnauthorized)
	}, WithMetrics(mt))

	rt := tm.Transport(tokenBackend("never"))

	errs := make(chan error, 2)
	for i := range 2 {
		go func() {
			req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/data", nil)
			resp, err := rt.RoundTrip(req)
			if resp != nil {
				resp.Body.Close()
			}
			errs <- err
		}()
		testutil.WaitFor(t, waitTimeout, func() bool { return tm.PendingRequests() == i+1 })
	}

	close(release)

	for range 2 {
		err := <-errs
		if !errors.Is(err, ErrRefreshFailed) {
			t.Errorf("expected ErrRefreshFailed, got %v", err)
		}
		if events.StatusCode(err) != http.StatusUnauthorized {
			t.Errorf("expected status 401 in error chain, got %d", events.StatusCode(err))
		}
	}

	if counter.logouts.Load() != 1 {
		t.Errorf("expected one logout event, got %d", counter.logouts.Load())
	}
	if tm.HasAccessToken() || tm.Active() || tm.Refreshing() {
		t.Error("expected logged-out, inactive manager")
	}
	if tm.Headers().Authorization() != "" {
		t.Error("expected Authorization header to be removed")
	}

	// Interception is off: the next 401 reaches the caller.
	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/data", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 to pass through, got %d", resp.StatusCode)
	}
	if refreshCalls.Load() != 1 {
		t.Errorf("expected exactly one refresh, got %d", refreshCalls.Load())
	}

	if v := promtestutil.ToFloat64(mt.RefreshEpisodesTotal.WithLabelValues(metrics.ResultFailure)); v != 1 {
		t.Errorf("expected 1 failed episode, got %v", v)
	}
	if v := promtestutil.ToFloat64(mt.RejectedRequestsTotal.WithLabelValues(metrics.ReasonRefreshFailed)); v != 2 {
		t.Errorf("expected 2 rejected requests, got %v", v)
	}
	if v := promtestutil.ToFloat64(mt.SessionActive); v != 0 {
		t.Errorf("expected session_active 0, got %v", v)
	}
}

func TestTransport_PassThrough(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) (*Manager, *atomic.Int32)
		ctx   func() context.Context
	}{
		{
			name: "not logged in",
			setup: func(t *testing.T) (*Manager, *atomic.Int32) {
				calls := &atomic.Int32{}
				tm := New(nil)
				err := tm.Initialize(context.Background(), Config{Events: events.Handlers{
					TokenExpiration: func(context.Context) (*session.Token, error) {
						calls.Add(1)
						return &session.Token{AccessToken: "xyz"}, nil
					},
				}})
				if err != nil {
					t.Fatalf("Initialize failed: %v", err)
				}
				return tm, calls
			},
		},
		{
			name: "no refresh handler",
			setup: func(t *testing.T) (*Manager, *atomic.Int32) {
				tm := New(nil)
				if err := tm.Login(context.Background(), "abc", time.Time{}); err != nil {
					t.Fatalf("Login failed: %v", err)
				}
				return tm, &atomic.Int32{}
			},
		},
		{
			name: "exempt context",
			setup: func(t *testing.T) (*Manager, *atomic.Int32) {
				calls := &atomic.Int32{}
				tm, _ := newActiveManager(t, func(context.Context) (*session.Token, error) {
					calls.Add(1)
					return &session.Token{AccessToken: "xyz"}, nil
				})
				return tm, calls
			},
			ctx: func() context.Context { return WithoutRefresh(context.Background()) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm, calls := tt.setup(t)

			ctx := context.Background()
			if tt.ctx != nil {
				ctx = tt.ctx()
			}
			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.example.com/data", nil)
			resp, err := tm.Transport(tokenBackend("xyz")).RoundTrip(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("expected 401 to pass through, got %d", resp.StatusCode)
			}
			if calls.Load() != 0 {
				t.Errorf("expected no refresh, got %d", calls.Load())
			}
			if tm.Refreshing() {
				t.Error("expected no refresh episode")
			}
		})
	}
}

func TestTransport_OtherFailuresPassThrough(t *testing.T) {
	var refreshCalls atomic.Int32
	tm, _ := newActiveManager(t, func(context.Context) (*session.Token, error) {
		refreshCalls.Add(1)
		return &session.Token{AccessToken: "xyz"}, nil
	})

	errDial := errors.New("connection refused")
	tests := []struct {
		name       string
		base       testutil.RoundTripFunc
		wantStatus int
		wantErr    error
	}{
		{
			name: "server error",
			base: func(req *http.Request) (*http.Response, error) {
				return testutil.NewResponse(req, http.StatusInternalServerError, "boom"), nil
			},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "forbidden",
			base: func(req *http.Request) (*http.Response, error) {
				return testutil.NewResponse(req, http.StatusForbidden, "no"), nil
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name: "transport error",
			base: func(*http.Request) (*http.Response, error) {
				return nil, errDial
			},
			wantErr: errDial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/data", nil)
			resp, err := tm.Transport(tt.base).RoundTrip(req)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}

	if refreshCalls.Load() != 0 {
		t.Errorf("expected no refresh, got %d", refreshCalls.Load())
	}
}

func TestTransport_ReplayStillUnauthorized(t *testing.T) {
	var refreshCalls atomic.Int32
	tm, _ := newActiveManager(t, func(context.Context) (*session.Token, error) {
		refreshCalls.Add(1)
		return &session.Token{AccessToken: "still-bad"}, nil
	})

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/data", nil)
	resp, err := tm.Transport(tokenBackend("good")).RoundTrip(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected replayed 401 to be returned, got %d", resp.StatusCode)
	}
	if refreshCalls.Load() != 1 {
		t.Errorf("expected exactly one refresh, got %d", refreshCalls.Load())
	}
	if got := tm.Headers().Authorization(); got != "Bearer still-bad" {
		t.Errorf("expected refreshed token to be applied, got %q", got)
	}
}

func TestTransport_HandlerSetsToken(t *testing.T) {
	var tm *Manager
	tm, _ = newActiveManager(t, func(ctx context.Context) (*session.Token, error) {
		if err := tm.SetAccessToken(ctx, "xyz", time.Time{}); err != nil {
			return nil, err
		}
		return nil, nil
	})

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/data", nil)
	resp, err := tm.Transport(tokenBackend("xyz")).RoundTrip(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body := readBody(t, resp); resp.StatusCode != http.StatusOK || body != "ok /data" {
		t.Errorf("expected replayed response, got %d %q", resp.StatusCode, body)
	}
	if tm.HasAccessTokenExpiration() {
		t.Error("expected no expiration")
	}
}

func TestTransport_HandlerRequestsAreNotIntercepted(t *testing.T) {
	base := testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/token" {
			return testutil.NewResponse(req, http.StatusUnauthorized, "refresh token expired"), nil
		}
		return testutil.NewResponse(req, http.StatusUnauthorized, "expired"), nil
	})

	var client *http.Client
	tm, counter := newActiveManager(t, func(ctx context.Context) (*session.Token, error) {
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.example.com/token", nil)
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, events.Rejected(resp.StatusCode)
		}
		return &session.Token{AccessToken: "xyz"}, nil
	})
	client = &http.Client{Transport: tm.Transport(base)}

	_, err := client.Get("https://api.example.com/data")
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}
	if counter.logouts.Load() != 1 {
		t.Errorf("expected one logout event, got %d", counter.logouts.Load())
	}
}

func TestTransport_MissingRefreshResult(t *testing.T) {
	tm, counter := newActiveManager(t, func(context.Context) (*session.Token, error) {
		return nil, nil
	})

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/data", nil)
	resp, err := tm.Transport(tokenBackend("xyz")).RoundTrip(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	// The handler left the token unchanged, so the replay is rejected again.
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
	if counter.logouts.Load() != 0 {
		t.Error("expected no logout")
	}
}

func TestTransport_LogoutDuringRefresh(t *testing.T) {
	reg := prometheus.NewRegistry()
	mt := metrics.NewMetrics(reg)
	release := make(chan struct{})

	tm, counter := newActiveManager(t, func(context.Context) (*session.Token, error) {
		<-release
		return &session.Token{AccessToken: "xyz"}, nil
	}, WithMetrics(mt))

	errs := make(chan error, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/data", nil)
		resp, err := tm.Transport(tokenBackend("xyz")).RoundTrip(req)
		if resp != nil {
			resp.Body.Close()
		}
		errs <- err
	}()
	testutil.WaitFor(t, waitTimeout, func() bool { return tm.PendingRequests() == 1 })

	if err := tm.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	if err := <-errs; !errors.Is(err, ErrLoggedOut) {
		t.Errorf("expected ErrLoggedOut, got %v", err)
	}

	close(release)
	testutil.WaitFor(t, waitTimeout, func() bool {
		return promtestutil.ToFloat64(mt.RefreshEpisodesTotal.WithLabelValues(metrics.ResultAbandoned)) == 1
	})

	if tm.HasAccessToken() {
		t.Error("refreshed token must not be applied after logout")
	}
	if counter.logouts.Load() != 1 {
		t.Errorf("expected one logout event, got %d", counter.logouts.Load())
	}
	if v := promtestutil.ToFloat64(mt.RejectedRequestsTotal.WithLabelValues(metrics.ReasonLoggedOut)); v != 1 {
		t.Errorf("expected 1 request rejected by logout, got %v", v)
	}
}

func TestTransport_InitializeDuringRefresh(t *testing.T) {
	release := make(chan struct{})
	var tm *Manager
	tm, _ = newActiveManager(t, func(context.Context) (*session.Token, error) {
		<-release
		return nil, errors.New("too late")
	})

	errs := make(chan error, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/data", nil)
		_, err := tm.Transport(tokenBackend("xyz")).RoundTrip(req)
		errs <- err
	}()
	testutil.WaitFor(t, waitTimeout, func() bool { return tm.PendingRequests() == 1 })

	if err := tm.Initialize(context.Background(), Config{}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := <-errs; !errors.Is(err, ErrLoggedOut) {
		t.Errorf("expected ErrLoggedOut, got %v", err)
	}

	close(release)

	// The abandoned episode neither logs out nor clears the restored session.
	testutil.WaitFor(t, waitTimeout, func() bool { return !tm.Refreshing() })
	if !tm.Active() {
		t.Error("expected the restored session to stay active")
	}
}

func TestTransport_LoginDuringRefresh(t *testing.T) {
	reg := prometheus.NewRegistry()
	mt := metrics.NewMetrics(reg)
	release := make(chan struct{})

	tm, _ := newActiveManager(t, func(context.Context) (*session.Token, error) {
		<-release
		return &session.Token{AccessToken: "late"}, nil
	}, WithMetrics(mt))

	type result struct {
		status int
		err    error
	}
	results := make(chan result, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/data", nil)
		resp, err := tm.Transport(tokenBackend("new")).RoundTrip(req)
		if err != nil {
			results <- result{err: err}
			return
		}
		resp.Body.Close()
		results <- result{status: resp.StatusCode}
	}()
	testutil.WaitFor(t, waitTimeout, func() bool { return tm.PendingRequests() == 1 })

	if err := tm.Login(context.Background(), "new", time.Unix(2000000000, 0)); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if tm.Refreshing() {
		t.Error("expected login to end the refresh episode")
	}

	r := <-results
	if r.err != nil || r.status != http.StatusOK {
		t.Fatalf("expected buffered request replayed with the new token, got %d %v", r.status, r.err)
	}

	close(release)
	testutil.WaitFor(t, waitTimeout, func() bool {
		return promtestutil.ToFloat64(mt.RefreshEpisodesTotal.WithLabelValues(metrics.ResultAbandoned)) == 1
	})

	if token, _ := tm.AccessToken(); token != "new" {
		t.Errorf("expected the login token to survive the late refresh, got %q", token)
	}
	if !tm.Active() {
		t.Error("expected interception to stay active")
	}
}

func TestTransport_RefreshPersistFailure(t *testing.T) {
	logger := &stubLogger{}
	tm := New(&failingStore{saveErr: errors.New("disk full")}, WithLogger(logger))
	ctx := context.Background()

	// Both calls report the storage failure but still change the in-memory session.
	_ = tm.Initialize(ctx, Config{Events: events.Handlers{TokenExpiration: staticRefresh("xyz")}})
	_ = tm.Login(ctx, "abc", time.Unix(1999999999, 0))

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/data", nil)
	resp, err := tm.Transport(tokenBackend("xyz")).RoundTrip(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body := readBody(t, resp); resp.StatusCode != http.StatusOK || body != "ok /data" {
		t.Errorf("expected replayed response, got %d %q", resp.StatusCode, body)
	}
	if token, _ := tm.AccessToken(); token != "xyz" {
		t.Errorf("expected refreshed token in memory, got %q", token)
	}

	found := false
	for _, msg := range logger.getMessages() {
		if strings.Contains(msg, "token not persisted") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the storage failure to be logged, got %v", logger.getMessages())
	}
}

func TestTransport_ContextCancelledWhileBuffered(t *testing.T) {
	reg := prometheus.NewRegistry()
	mt := metrics.NewMetrics(reg)
	release := make(chan struct{})

	tm, _ := newActiveManager(t, func(context.Context) (*session.Token, error) {
		<-release
		return &session.Token{AccessToken: "xyz"}, nil
	}, WithMetrics(mt))

	var replays atomic.Int32
	base := testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Header.Get(headers.Authorization) == "Bearer xyz" {
			replays.Add(1)
			return testutil.NewResponse(req, http.StatusOK, "ok"), nil
		}
		return testutil.NewResponse(req, http.StatusUnauthorized, "expired"), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.example.com/data", nil)
		_, err := tm.Transport(base).RoundTrip(req)
		errs <- err
	}()
	testutil.WaitFor(t, waitTimeout, func() bool { return tm.PendingRequests() == 1 })

	cancel()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	close(release)
	testutil.WaitFor(t, waitTimeout, func() bool {
		return promtestutil.ToFloat64(mt.ReplayedRequestsTotal.WithLabelValues(metrics.OutcomeSkipped)) == 1
	})
	testutil.WaitFor(t, waitTimeout, func() bool { return !tm.Refreshing() })

	if replays.Load() != 0 {
		t.Errorf("cancelled request must not be resent, got %d", replays.Load())
	}
	if got := tm.Headers().Authorization(); got != "Bearer xyz" {
		t.Errorf("expected refresh to complete, got %q", got)
	}
}

// opaqueReader hides the concrete reader type so http.NewRequest cannot set GetBody.
type opaqueReader struct{ io.Reader }

func TestTransport_ReplaysBody(t *testing.T) {
	tests := []struct {
		name string
		body func() io.Reader
	}{
		{name: "rewindable body", body: func() io.Reader { return strings.NewReader("payload") }},
		{name: "streamed body", body: func() io.Reader { return opaqueReader{strings.NewReader("payload")} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				mu     sync.Mutex
				bodies []string
			)
			base := testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
				data, err := io.ReadAll(req.Body)
				if err != nil {
					return nil, err
				}
				mu.Lock()
				bodies = append(bodies, string(data))
				mu.Unlock()
				return tokenBackend("xyz")(req)
			})

			tm, _ := newActiveManager(t, staticRefresh("xyz"))

			req, _ := http.NewRequest(http.MethodPost, "https://api.example.com/items", tt.body())
			resp, err := tm.Transport(base).RoundTrip(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected 200, got %d", resp.StatusCode)
			}

			mu.Lock()
			defer mu.Unlock()
			if len(bodies) != 2 || bodies[0] != "payload" || bodies[1] != "payload" {
				t.Errorf("expected the body on both attempts, got %q", bodies)
			}
		})
	}
}

func TestTransport_StaleCredentialRetry(t *testing.T) {
	var refreshCalls atomic.Int32
	tm, _ := newActiveManager(t, func(context.Context) (*session.Token, error) {
		refreshCalls.Add(1)
		return &session.Token{AccessToken: "other"}, nil
	})

	entered := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	base := testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Header.Get(headers.Authorization) == "Bearer abc" {
			once.Do(func() { close(entered) })
			<-proceed
		}
		return tokenBackend("xyz")(req)
	})

	type result struct {
		resp *http.Response
		err  error
	}
	results := make(chan result, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/data", nil)
		resp, err := tm.Transport(base).RoundTrip(req)
		results <- result{resp, err}
	}()

	<-entered
	if err := tm.SetAccessToken(context.Background(), "xyz", time.Time{}); err != nil {
		t.Fatalf("SetAccessToken failed: %v", err)
	}
	close(proceed)

	r := <-results
	if r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}
	r.resp.Body.Close()

	if r.resp.StatusCode != http.StatusOK {
		t.Errorf("expected retry with the new token to succeed, got %d", r.resp.StatusCode)
	}
	if refreshCalls.Load() != 0 {
		t.Errorf("expected no refresh, got %d", refreshCalls.Load())
	}
}

func TestTransport_RefreshMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mt := metrics.NewMetrics(reg)
	logger := &stubLogger{}
	tm, _ := newActiveManager(t, staticRefresh("xyz"), WithMetrics(mt), WithLogger(logger))

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/data", nil)
	resp, err := tm.Transport(tokenBackend("xyz")).RoundTrip(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	testutil.WaitFor(t, waitTimeout, func() bool {
		return promtestutil.ToFloat64(mt.RefreshEpisodesTotal.WithLabelValues(metrics.ResultSuccess)) == 1
	})

	if v := promtestutil.ToFloat64(mt.ReplayedRequestsTotal.WithLabelValues(metrics.OutcomeOK)); v != 1 {
		t.Errorf("expected 1 replayed request, got %v", v)
	}
	if v := promtestutil.ToFloat64(mt.PendingRequests); v != 0 {
		t.Errorf("expected pending_requests 0, got %v", v)
	}
	if v := promtestutil.ToFloat64(mt.SessionActive); v != 1 {
		t.Errorf("expected session_active 1, got %v", v)
	}
	if n := promtestutil.CollectAndCount(mt.RefreshDuration); n != 1 {
		t.Errorf("expected refresh duration histogram, got %d series", n)
	}

	msgs := strings.Join(logger.getMessages(), "\n")
	if !strings.Contains(msgs, "refresh episode") {
		t.Errorf("expected refresh episode to be logged, got %s", msgs)
	}
	if strings.Contains(msgs, "xyz") {
		t.Error("access token must not be logged")
	}
}
