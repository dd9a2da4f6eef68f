package session

import (
	"sync"
	"time"
)

// Token is a bearer access token with an optional expiration.
// A zero Expiry means the expiration is unknown.
type Token struct {
	AccessToken string
	Expiry      time.Time
}

// Session is the in-memory holder of the current access token.
// The zero value is an empty, logged-out session and is safe for concurrent use.
type Session struct {
	mu          sync.RWMutex
	accessToken string
	hasToken    bool
	expiry      time.Time
}

// Set stores the access token and its expiration. A zero expiry clears the expiration.
// The expiration is truncated to whole seconds, the precision of the persisted record.
func (s *Session) Set(accessToken string, expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessToken = accessToken
	s.hasToken = true
	s.expiry = expiry.Truncate(time.Second)
}

// Reset clears the token and the expiration.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessToken = ""
	s.hasToken = false
	s.expiry = time.Time{}
}

// AccessToken returns the current token and whether one is set.
func (s *Session) AccessToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken, s.hasToken
}

// Expiry returns the access token expiration and whether one is set.
func (s *Session) Expiry() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiry, !s.expiry.IsZero()
}

// HasAccessToken reports whether an access token is set.
func (s *Session) HasAccessToken() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasToken
}

// HasAccessTokenExpiration reports whether an access token expiration is set.
func (s *Session) HasAccessTokenExpiration() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.expiry.IsZero()
}

// Record returns the persisted form of the session.
func (s *Session) Record() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec Record
	if s.hasToken {
		token := s.accessToken
		rec.AccessToken = &token
	}
	if !s.expiry.IsZero() {
		rec.AccessTokenExpiration = &Expiration{Time: s.expiry}
	}
	return rec
}

// Restore replaces the session contents with rec.
func (s *Session) Restore(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessToken = ""
	s.hasToken = false
	s.expiry = time.Time{}

	if rec.AccessToken != nil {
		s.accessToken = *rec.AccessToken
		s.hasToken = true
	}
	if rec.AccessTokenExpiration != nil {
		s.expiry = rec.AccessTokenExpiration.Time.Truncate(time.Second)
	}
}
