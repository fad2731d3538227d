// Package data is the application-facing view of the local store: every
// change made through it is handed to the replication engine.
package data

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/iudanet/docsync/internal/client/storage"
	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/validation"
)

//go:generate moq -out replicator_mock.go . Replicator

// Replicator receives change notifications for synced keys.
type Replicator interface {
	MarkAsPending(key string) error
	MarkAsDeleted(ctx context.Context, key string) error
}

// Router reports whether a key is configured for sync.
type Router interface {
	Has(key string) bool
}

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("key not found")

// Service handles client-side value operations.
type Service struct {
	local  storage.KVStore
	sync   Replicator
	routes Router
	logger *slog.Logger
}

// NewService creates a data service. Keys the router does not know are kept
// locally and never synced.
func NewService(local storage.KVStore, sync Replicator, routes Router, logger *slog.Logger) *Service {
	return &Service{
		local:  local,
		sync:   sync,
		routes: routes,
		logger: logger,
	}
}

// Put сохраняет значение локально и помечает ключ для синхронизации
func (s *Service) Put(ctx context.Context, key string, value models.Value) error {
	if err := validation.ValidateKey(key); err != nil {
		return err
	}

	raw, err := value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize %q: %w", key, err)
	}
	if err := s.local.Set(ctx, key, string(raw)); err != nil {
		return fmt.Errorf("failed to save %q: %w", key, err)
	}

	if !s.routes.Has(key) {
		s.logger.DebugContext(ctx, "key is local only", slog.String("key", key))
		return nil
	}
	return s.sync.MarkAsPending(key)
}

// PutJSON разбирает JSON текст и сохраняет его как значение ключа
func (s *Service) PutJSON(ctx context.Context, key, raw string) error {
	value, err := models.ParseJSON([]byte(raw))
	if err != nil {
		return fmt.Errorf("value of %q is not valid JSON: %w", key, err)
	}
	return s.Put(ctx, key, value)
}

// Get возвращает значение ключа
func (s *Service) Get(ctx context.Context, key string) (models.Value, error) {
	if err := validation.ValidateKey(key); err != nil {
		return models.Value{}, err
	}

	raw, err := s.local.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return models.Value{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return models.Value{}, fmt.Errorf("failed to read %q: %w", key, err)
	}

	value, err := models.ParseJSON([]byte(raw))
	if err != nil {
		return models.Value{}, fmt.Errorf("stored value of %q is not valid JSON: %w", key, err)
	}
	return value, nil
}

// Remove удаляет ключ локально и ставит удаление в очередь синхронизации
func (s *Service) Remove(ctx context.Context, key string) error {
	if err := validation.ValidateKey(key); err != nil {
		return err
	}
	if err := s.local.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}

	if !s.routes.Has(key) {
		return nil
	}
	return s.sync.MarkAsDeleted(ctx, key)
}

// Keys возвращает пользовательские ключи в порядке байтов, без служебных записей
func (s *Service) Keys(ctx context.Context) ([]string, error) {
	all, err := s.local.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	keys := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, validation.ReservedPrefix) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
