// testutils/store.go
package testutils

import (
	"context"
	"sync"
	"time"
)

type InMemoryStore struct {
	mu         sync.Mutex
	bannedKeys map[string]time.Time
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		bannedKeys: make(map[string]time.Time),
	}
}

// IsAuthorBanned checks if an author is in the in-memory ban map and handles expiry.
func (s *InMemoryStore) IsAuthorBanned(ctx context.Context, author string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, found := s.bannedKeys[author]
	if found && time.Now().After(expiry) {
		delete(s.bannedKeys, author)
		return false, nil
	}
	return found, nil
}

func (s *InMemoryStore) BanAuthor(ctx context.Context, author string, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bannedKeys[author] = time.Now().Add(duration)
	return nil
}

func (s *InMemoryStore) UnbanAuthor(ctx context.Context, author string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bannedKeys, author)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// MockStore counts lookups and can be told to fail.
type MockStore struct {
	mu          sync.Mutex
	banned      map[string]bool
	calls       int
	errToReturn error
}

func NewMockStore() *MockStore {
	return &MockStore{banned: make(map[string]bool)}
}

func (s *MockStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errToReturn = err
}

func (s *MockStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *MockStore) IsAuthorBanned(ctx context.Context, author string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.errToReturn != nil {
		return false, s.errToReturn
	}
	return s.banned[author], nil
}

func (s *MockStore) BanAuthor(ctx context.Context, author string, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errToReturn != nil {
		return s.errToReturn
	}
	s.banned[author] = true
	return nil
}

func (s *MockStore) UnbanAuthor(ctx context.Context, author string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errToReturn != nil {
		return s.errToReturn
	}
	delete(s.banned, author)
	return nil
}

func (s *MockStore) Close() error {
	return nil
}
