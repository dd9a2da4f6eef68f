// Package sqlstore persists a session Record in a SQL table.
//
// The same queries run on PostgreSQL (through the pgx stdlib driver) and SQLite
// (through the pure-Go modernc driver). One row per storage key holds the token
// and its expiration in Unix seconds; NULL columns mean absent.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AmmannChristian/go-authsession/session"
)

// DefaultTable is the table used when WithTable is not given.
const DefaultTable = "auth_sessions"

// Store implements session.Store on top of database/sql.
type Store struct {
	db    *sql.DB
	table string
	key   string
}

// Option is a functional option for configuring Store.
type Option func(*Store)

// WithTable overrides the table name. The name is inserted into queries verbatim.
func WithTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.table = table
		}
	}
}

// WithKey overrides the row key, which defaults to session.StorageKey.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// New creates a Store using db.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:    db,
		table: DefaultTable,
		key:   session.StorageKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	storage_key TEXT PRIMARY KEY,
	access_token TEXT,
	access_token_expiration BIGINT,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, s.table)

	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("sqlstore: create table %s: %w", s.table, err)
	}
	return nil
}

// Load implements session.Store.
func (s *Store) Load(ctx context.Context) (session.Record, error) {
	q := fmt.Sprintf(`SELECT access_token, access_token_expiration FROM %s WHERE storage_key = $1`, s.table)

	var (
		token      sql.NullString
		expiration sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, q, s.key).Scan(&token, &expiration)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Record{}, session.ErrNotFound
	}
	if err != nil {
		return session.Record{}, fmt.Errorf("sqlstore: load %s: %w", s.key, err)
	}

	var rec session.Record
	if token.Valid {
		rec.AccessToken = &token.String
	}
	if expiration.Valid {
		rec.AccessTokenExpiration = &session.Expiration{Time: time.Unix(expiration.Int64, 0)}
	}
	return rec, nil
}

// Save implements session.Store.
func (s *Store) Save(ctx context.Context, rec session.Record) error {
	q := fmt.Sprintf(`
INSERT INTO %s (storage_key, access_token, access_token_expiration, updated_at)
VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
ON CONFLICT (storage_key) DO UPDATE SET
	access_token = EXCLUDED.access_token,
	access_token_expiration = EXCLUDED.access_token_expiration,
	updated_at = CURRENT_TIMESTAMP`, s.table)

	var (
		token      sql.NullString
		expiration sql.NullInt64
	)
	if rec.AccessToken != nil {
		token = sql.NullString{String: *rec.AccessToken, Valid: true}
	}
	if rec.AccessTokenExpiration != nil {
		expiration = sql.NullInt64{Int64: rec.AccessTokenExpiration.Unix(), Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, q, s.key, token, expiration); err != nil {
		return fmt.Errorf("sqlstore: save %s: %w", s.key, err)
	}
	return nil
}
