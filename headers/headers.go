// Package headers provides the outgoing credential headers consulted by transports on every request.
//
// An Injector replaces a globally mutated header configuration: transports call Apply (HTTP) or
// Pairs (gRPC metadata) per request, so the values in effect are always the latest ones set.
package headers

import (
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Header names emitted on outgoing requests.
const (
	Authorization = "Authorization"
	CSRFToken     = "X-CSRF-Token"
)

// Provider supplies headers for an outgoing request.
type Provider interface {
	Apply(h http.Header)
}

// Injector stores the Authorization and CSRF header values.
// The zero value holds no headers and is safe for concurrent use.
type Injector struct {
	mu     sync.RWMutex
	values map[string]string
}

// New returns an empty Injector.
func New() *Injector {
	return &Injector{}
}

// SetBearer sets "Authorization: Bearer <token>".
func (i *Injector) SetBearer(token string) {
	i.set(Authorization, "Bearer "+token)
}

// RemoveAuthorization removes the Authorization header.
func (i *Injector) RemoveAuthorization() {
	i.remove(Authorization)
}

// Authorization returns the current Authorization value, or "" if unset.
func (i *Injector) Authorization() string {
	return i.get(Authorization)
}

// SetCSRF sets the X-CSRF-Token header.
func (i *Injector) SetCSRF(value string) {
	i.set(CSRFToken, value)
}

// RemoveCSRF removes the X-CSRF-Token header.
func (i *Injector) RemoveCSRF() {
	i.remove(CSRFToken)
}

// CSRF returns the current X-CSRF-Token value, or "" if unset.
func (i *Injector) CSRF() string {
	return i.get(CSRFToken)
}

// RemoveAll clears every header.
func (i *Injector) RemoveAll() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.values = nil
}

// Apply sets every stored header on h.
func (i *Injector) Apply(h http.Header) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	for name, value := range i.values {
		h.Set(name, value)
	}
}

// Without returns a Provider that applies everything except the named headers.
func (i *Injector) Without(names ...string) Provider {
	return filtered{src: i, skip: names}
}

// Pairs returns the headers as lower-cased key/value pairs for gRPC metadata, sorted by key.
func (i *Injector) Pairs(skip ...string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	keys := make([]string, 0, len(i.values))
	for name := range i.values {
		if contains(skip, name) {
			continue
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, name := range keys {
		pairs = append(pairs, strings.ToLower(name), i.values[name])
	}
	return pairs
}

func (i *Injector) set(name, value string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.values == nil {
		i.values = make(map[string]string, 2)
	}
	i.values[name] = value
}

func (i *Injector) remove(name string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.values, name)
}

func (i *Injector) get(name string) string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.values[name]
}

type filtered struct {
	src  *Injector
	skip []string
}

func (f filtered) Apply(h http.Header) {
	f.src.mu.RLock()
	defer f.src.mu.RUnlock()

	for name, value := range f.src.values {
		if contains(f.skip, name) {
			continue
		}
		h.Set(name, value)
	}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}
