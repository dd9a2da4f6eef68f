package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Store.Load when no record has been saved yet.
var ErrNotFound = errors.New("session: no stored session")

// Store persists a session Record under a fixed key.
// Implementations only need last-write-wins semantics.
type Store interface {
	// Load returns the stored record or ErrNotFound.
	Load(ctx context.Context) (Record, error)

	// Save replaces the stored record.
	Save(ctx context.Context, rec Record) error
}

// MemoryStore keeps the encoded record in memory.
// Records are round-tripped through JSON so it behaves like a real backend.
type MemoryStore struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data == nil {
		return Record{}, ErrNotFound
	}

	var rec Record
	if err := json.Unmarshal(m.data, &rec); err != nil {
		return Record{}, fmt.Errorf("session: decode record: %w", err)
	}
	return rec, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encode record: %w", err)
	}

	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

// Raw returns the encoded record, or nil if nothing was saved.
func (m *MemoryStore) Raw() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data == nil {
		return nil
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// SetRaw replaces the encoded record, e.g. to seed a session written by another client.
func (m *MemoryStore) SetRaw(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if data == nil {
		m.data = nil
		return
	}
	m.data = append([]byte(nil), data...)
}
