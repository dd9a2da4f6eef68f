// Package redisstore persists a session Record in Redis.
//
// The record is stored as JSON under session.StorageKey, optionally namespaced with a
// key prefix so several clients can share one Redis database.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AmmannChristian/go-authsession/session"
)

// ErrUnavailable wraps errors returned by the Redis client.
var ErrUnavailable = errors.New("redisstore: redis unavailable")

// Store implements session.Store on top of a Redis client.
type Store struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// Option is a functional option for configuring Store.
type Option func(*Store)

// WithPrefix namespaces the storage key as "<prefix>:auth.session".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.key = prefix + ":" + session.StorageKey
		}
	}
}

// WithTTL expires the stored record ttl after each save. Zero keeps it forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// New creates a Store using client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		key:    session.StorageKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the Redis key holding the record.
func (s *Store) Key() string {
	return s.key
}

// Load implements session.Store.
func (s *Store) Load(ctx context.Context) (session.Record, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Record{}, session.ErrNotFound
	}
	if err != nil {
		return session.Record{}, fmt.Errorf("%w: get %s: %w", ErrUnavailable, s.key, err)
	}

	var rec session.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return session.Record{}, fmt.Errorf("redisstore: decode record: %w", err)
	}
	return rec, nil
}

// Save implements session.Store.
func (s *Store) Save(ctx context.Context, rec session.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redisstore: encode record: %w", err)
	}

	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrUnavailable, s.key, err)
	}
	return nil
}
