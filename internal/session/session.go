// SPDX-License-Identifier: MIT

// Package session holds per-connection scratch state for the duration of a
// single intercepted exchange: created at request admission, read and
// written by plugins for the life of the request, and freed in the
// after-response handler.
package session

import "sync"

// Identity is a stable, monotonically increasing key for one intercepted
// exchange. It is valid from the engine's per-request admission until
// after-response completes and is never reused.
type Identity uint64

// Data is the opaque string-keyed scratch map a single session owns.
// SessionData is never shared across sessions, so Data itself needs no
// internal locking — the engine guarantees only the owning goroutine
// touches it at any point in the lifecycle.
type Data struct {
	values map[string]any
}

func newData() *Data {
	return &Data{values: make(map[string]any)}
}

// Get returns the value stored under key, if any.
func (d *Data) Get(key string) (any, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Set stores value under key, overwriting any previous value.
func (d *Data) Set(key string, value any) {
	d.values[key] = value
}

// Delete removes key from the session data.
func (d *Data) Delete(key string) {
	delete(d.values, key)
}

// Store is the SessionIdentity -> SessionData map the engine allocates
// from at admission and frees into after after-response. It is the only
// piece of session state that is genuinely concurrent (many sessions live
// at once), so it is guarded by a mutex rather than sync.Map: the
// allocate/free pattern is not read-heavy enough for sync.Map to pay off,
// and a plain map gives us an exact Len() for tests and metrics.
type Store struct {
	mu      sync.Mutex
	entries map[Identity]*Data
	nextID  Identity
}

// NewStore returns an empty session store.
func NewStore() *Store {
	return &Store{entries: make(map[Identity]*Data)}
}

// Allocate creates a fresh Identity and an empty Data for it, and returns
// both. Called exactly once per admitted request.
func (s *Store) Allocate() (Identity, *Data) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	d := newData()
	s.entries[id] = d
	return id, d
}

// Get returns the Data for id, if the session is still live.
func (s *Store) Get(id Identity) (*Data, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.entries[id]
	return d, ok
}

// Free removes id from the store. Called exactly once, from the
// after-response handler, regardless of whether the response came from the
// origin or was synthesized by a plugin.
func (s *Store) Free(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Len reports the number of live sessions. Used by tests and the admin
// metrics endpoint, never by the request path itself.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
