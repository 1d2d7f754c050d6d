// Package mock provides an in-memory test double for [profile.Store].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent use
// via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.Store{}
//	store.ProfilesByUserResult = []profile.Profile{{Name: "Kim"}}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("ProfilesByUser"); got != 1 {
//	    t.Errorf("expected 1 ProfilesByUser call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/speakerid/pkg/profile"
)

// Compile-time interface check.
var _ profile.Store = (*Store)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable test double for [profile.Store]. All exported *Err
// fields default to nil (success); result fields default to empty.
type Store struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	// ProfilesByUserResult is returned by [Store.ProfilesByUser].
	// When nil, an empty non-nil slice is returned.
	ProfilesByUserResult []profile.Profile

	// ProfilesByUserErr is returned by [Store.ProfilesByUser] when non-nil.
	ProfilesByUserErr error

	// FindResult is returned by [Store.FindByUserAndName] for names absent
	// from FindResultsByName. Nil means "not found" (which is not an error).
	FindResult *profile.Profile

	// FindResultsByName maps a profile name to the result returned for it by
	// [Store.FindByUserAndName]. Takes precedence over FindResult.
	FindResultsByName map[string]*profile.Profile

	// FindErr is returned by [Store.FindByUserAndName] when non-nil.
	FindErr error

	// SaveErr is returned by [Store.Save] when non-nil.
	SaveErr error

	// Saved accumulates every profile passed to [Store.Save].
	Saved []profile.Profile

	// IncrementErr is returned by [Store.IncrementConfidence] when non-nil.
	IncrementErr error

	// SearchByVoiceResult is returned by [Store.SearchByVoice].
	// When nil, an empty non-nil slice is returned.
	SearchByVoiceResult []profile.VoiceMatch

	// SearchByVoiceErr is returned by [Store.SearchByVoice] when non-nil.
	SearchByVoiceErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls and saved profiles without altering the
// response configuration.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.Saved = nil
}

// ProfilesByUser implements [profile.Store].
func (m *Store) ProfilesByUser(_ context.Context, userID string) ([]profile.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "ProfilesByUser", Args: []any{userID}})
	if m.ProfilesByUserResult == nil {
		return []profile.Profile{}, m.ProfilesByUserErr
	}
	out := make([]profile.Profile, len(m.ProfilesByUserResult))
	copy(out, m.ProfilesByUserResult)
	return out, m.ProfilesByUserErr
}

// FindByUserAndName implements [profile.Store].
func (m *Store) FindByUserAndName(_ context.Context, userID, name string) (*profile.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "FindByUserAndName", Args: []any{userID, name}})
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	result := m.FindResult
	if r, ok := m.FindResultsByName[name]; ok {
		result = r
	}
	if result == nil {
		return nil, nil
	}
	p := *result
	return &p, nil
}

// Save implements [profile.Store].
func (m *Store) Save(_ context.Context, p profile.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Save", Args: []any{p}})
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Saved = append(m.Saved, p)
	return nil
}

// IncrementConfidence implements [profile.Store].
func (m *Store) IncrementConfidence(_ context.Context, userID, name, sourceMeetingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "IncrementConfidence", Args: []any{userID, name, sourceMeetingID}})
	return m.IncrementErr
}

// SearchByVoice implements [profile.Store].
func (m *Store) SearchByVoice(_ context.Context, userID string, embedding []float32, limit int) ([]profile.VoiceMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "SearchByVoice", Args: []any{userID, embedding, limit}})
	if m.SearchByVoiceResult == nil {
		return []profile.VoiceMatch{}, m.SearchByVoiceErr
	}
	out := make([]profile.VoiceMatch, len(m.SearchByVoiceResult))
	copy(out, m.SearchByVoiceResult)
	return out, m.SearchByVoiceErr
}
