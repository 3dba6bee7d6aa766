package freeboxos

import "sync"

// CredentialStore holds the current session credentials.
//
// The SessionManager that owns the store is its only writer. The Executor
// reads it when attaching the session header and when comparing challenges.
//
// Thread Safety: All methods are safe for concurrent use.
type CredentialStore struct {
	mu    sync.RWMutex
	creds Credentials
}

// NewCredentialStore creates an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{}
}

// Get returns a snapshot of the current credentials.
func (s *CredentialStore) Get() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

func (s *CredentialStore) set(c Credentials) {
	s.mu.Lock()
	s.creds = c
	s.mu.Unlock()
}
