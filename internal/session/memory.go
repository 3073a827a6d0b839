package session

import (
	"context"
	"sync"
)

// MemoryStore keeps sessions for the lifetime of the process.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]Session{}}
}

func (m *MemoryStore) Load(_ context.Context, profile string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[normalizeProfile(profile)]
	if !ok {
		return Session{}, ErrNoSession
	}
	return s, nil
}

func (m *MemoryStore) Save(_ context.Context, profile string, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[normalizeProfile(profile)] = s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, profile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, normalizeProfile(profile))
	return nil
}
