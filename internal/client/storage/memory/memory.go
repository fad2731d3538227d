// Package memory is an in-process implementation of the client storage
// interfaces, used by tests and by the embedded mode of the engine.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iudanet/docsync/internal/client/storage"
)

// Storage keeps values and the session in maps.
type Storage struct {
	values map[string]string
	auth   *storage.AuthData
	mu     sync.RWMutex
}

var (
	_ storage.KVStore     = (*Storage)(nil)
	_ storage.AuthStorage = (*Storage)(nil)
)

// New creates an empty storage.
func New() *Storage {
	return &Storage{values: make(map[string]string)}
}

func (s *Storage) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return "", storage.ErrKeyNotFound
	}
	return v, nil
}

func (s *Storage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

func (s *Storage) Contains(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.values[key]
	return ok, nil
}

func (s *Storage) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Storage) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = make(map[string]string)
	return nil
}

func (s *Storage) SaveAuth(_ context.Context, auth *storage.AuthData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *auth
	s.auth = &c
	return nil
}

func (s *Storage) GetAuth(_ context.Context) (*storage.AuthData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.auth == nil {
		return nil, storage.ErrAuthNotFound
	}
	c := *s.auth
	return &c, nil
}

func (s *Storage) DeleteAuth(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.auth == nil {
		return storage.ErrAuthNotFound
	}
	s.auth = nil
	return nil
}

func (s *Storage) IsAuthenticated(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.auth.Usable(time.Now()), nil
}
