// Package session holds the in-memory authentication session and its persisted form.
//
// A Session tracks the current bearer access token and its advisory expiration. The expiration is
// metadata only: nothing in this module logs a user out because a timestamp has passed. Sessions are
// persisted as a Record under the fixed storage key "auth.session" through a Store.
//
// # Features
//
//   - Concurrency-safe Session holder with HasAccessToken / HasAccessTokenExpiration predicates
//   - JSON Record schema {"accessToken": string|null, "accessTokenExpiration": string|number|null}
//   - Expiration codec accepting Unix seconds, Unix milliseconds, numeric strings and RFC 3339 strings
//   - Store interface with MemoryStore and FileStore implementations
//
// Additional Store backends live in the redisstore and sqlstore packages.
//
// # Quick Start
//
//	store := session.NewFileStore(filepath.Join(home, ".authsession", "session.json"))
//
//	rec, err := store.Load(ctx)
//	if errors.Is(err, session.ErrNotFound) {
//	    // never logged in
//	}
package session
