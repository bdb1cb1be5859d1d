package session

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/vault-service/internal/domain"
)

type memoryEntry struct {
	identity  domain.SessionIdentity
	expiresAt time.Time
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	now      func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, identity domain.SessionIdentity, ttl time.Duration) (string, error) {
	id := newSessionID()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = memoryEntry{identity: identity, expiresAt: s.now().Add(ttl)}
	return id, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.SessionIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	if !ok {
		return domain.SessionIdentity{}, ErrNotFound
	}
	if !entry.expiresAt.After(s.now()) {
		delete(s.sessions, id)
		return domain.SessionIdentity{}, ErrNotFound
	}
	return entry.identity, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.sessions {
		if entry.identity.UserID == userID {
			delete(s.sessions, id)
		}
	}
	return nil
}
