// SPDX-License-Identifier: MIT

// Package respstate tracks whether a response has already been produced for
// an intercepted exchange, so later plugins and the engine itself know to
// skip work that would otherwise clobber an earlier short-circuit.
package respstate

import "sync"

// State records the short-circuit status of a single exchange. The zero
// value is the correct "nothing has responded yet" state.
//
// hasBeenSet is monotonic: once true it never goes back to false. Plugins
// call MarkSet when they synthesize a response (a mock, a cached replay, an
// injected error); the engine checks HasBeenSet once before-request
// dispatch returns, before dialing the origin. Every before-request
// subscriber still runs, so a later one checks HasBeenSet itself.
type State struct {
	mu              sync.Mutex
	hasBeenSet      bool
	hasBeenModified bool
}

// MarkSet records that a response now exists for this exchange. Safe to
// call more than once; later calls are no-ops with respect to hasBeenSet,
// but each call still counts as a modification.
func (s *State) MarkSet() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasBeenSet = true
	s.hasBeenModified = true
}

// MarkModified records that an existing response's body/headers/status were
// changed in place (as opposed to a fresh response being set).
func (s *State) MarkModified() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasBeenModified = true
}

// HasBeenSet reports whether a response has been produced for this
// exchange, by a plugin short-circuit or by the real origin.
func (s *State) HasBeenSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasBeenSet
}

// HasBeenModified reports whether any plugin touched the response after it
// was set, including the act of setting it.
func (s *State) HasBeenModified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasBeenModified
}

// Reset clears the state. Used by tests and by session reuse paths; the
// engine itself never resets a live exchange's state mid-flight.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasBeenSet = false
	s.hasBeenModified = false
}
