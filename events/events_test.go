package events

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/AmmannChristian/go-authsession/session"
)

func TestBus_FireWithoutHandlers(t *testing.T) {
	var b Bus

	for _, name := range []Name{Login, Logout, TokenExpiration, Name("unknown")} {
		if b.Fire(name) {
			t.Errorf("expected Fire(%q) to be a no-op", name)
		}
		if b.Has(name) {
			t.Errorf("expected Has(%q) to be false", name)
		}
	}
}

func TestBus_Fire(t *testing.T) {
	var b Bus
	var logins, logouts int

	b.Register(Handlers{
		Login:  func() { logins++ },
		Logout: func() { logouts++ },
	})

	if !b.Fire(Login) {
		t.Error("expected login handler to run")
	}
	if !b.Fire(Logout) {
		t.Error("expected logout handler to run")
	}
	if b.Fire(TokenExpiration) {
		t.Error("expected Fire(TokenExpiration) to be a no-op")
	}

	if logins != 1 || logouts != 1 {
		t.Errorf("expected one call each, got login=%d logout=%d", logins, logouts)
	}
}

func TestBus_LastRegistrationWins(t *testing.T) {
	var b Bus
	var calls []string

	b.Register(Handlers{Login: func() { calls = append(calls, "first") }})
	b.Merge(Handlers{Login: func() { calls = append(calls, "second") }})
	b.Merge(Handlers{Logout: func() { calls = append(calls, "logout") }})

	b.Fire(Login)
	b.Fire(Logout)

	if strings.Join(calls, ",") != "second,logout" {
		t.Errorf("unexpected calls: %v", calls)
	}

	b.Reset()
	if b.Has(Login) || b.Has(Logout) {
		t.Error("expected Reset to clear handlers")
	}
}

func TestBus_Refresh(t *testing.T) {
	var b Bus

	if _, err := b.Refresh(context.Background()); !errors.Is(err, ErrNoRefreshHandler) {
		t.Fatalf("expected ErrNoRefreshHandler, got %v", err)
	}

	b.Register(Handlers{
		TokenExpiration: func(ctx context.Context) (*session.Token, error) {
			return &session.Token{AccessToken: "xyz"}, nil
		},
	})

	if !b.Has(TokenExpiration) {
		t.Fatal("expected refresh handler to be registered")
	}

	tok, err := b.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if tok == nil || tok.AccessToken != "xyz" {
		t.Errorf("expected token 'xyz', got %+v", tok)
	}
}

func TestBus_RefreshPassesErrorThrough(t *testing.T) {
	var b Bus
	b.Register(Handlers{
		TokenExpiration: func(ctx context.Context) (*session.Token, error) {
			return nil, Rejected(http.StatusUnauthorized)
		},
	})

	_, err := b.Refresh(context.Background())
	if StatusCode(err) != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d (%v)", StatusCode(err), err)
	}
}

func TestStatusError(t *testing.T) {
	cause := errors.New("invalid_grant")
	err := error(&StatusError{StatusCode: http.StatusBadRequest, Err: cause})

	if !errors.Is(err, cause) {
		t.Error("expected StatusError to unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "invalid_grant") {
		t.Errorf("unexpected message: %v", err)
	}

	wrapped := errors.Join(errors.New("outer"), err)
	if StatusCode(wrapped) != http.StatusBadRequest {
		t.Errorf("expected status 400 through wrapping, got %d", StatusCode(wrapped))
	}
	if StatusCode(errors.New("plain")) != 0 {
		t.Error("expected status 0 for plain error")
	}
	if !strings.Contains(Rejected(599).Error(), "unknown status") {
		t.Errorf("unexpected message for unknown status: %v", Rejected(599))
	}
}
