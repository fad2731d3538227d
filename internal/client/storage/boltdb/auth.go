package boltdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/docsync/internal/client/storage"
)

// sessionKey единственная запись bucket auth: на устройстве одна сессия
var sessionKey = []byte("session")

var _ storage.AuthStorage = (*Storage)(nil)

// SaveAuth replaces the stored session.
func (s *Storage) SaveAuth(ctx context.Context, auth *storage.AuthData) error {
	if auth == nil {
		return fmt.Errorf("nil auth data")
	}
	data, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return s.update(bucketAuth, func(b *bbolt.Bucket) error {
		if err := b.Put(sessionKey, data); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		return nil
	})
}

// GetAuth returns the stored session or storage.ErrAuthNotFound.
func (s *Storage) GetAuth(ctx context.Context) (*storage.AuthData, error) {
	var auth storage.AuthData
	err := s.view(bucketAuth, func(b *bbolt.Bucket) error {
		data := b.Get(sessionKey)
		if data == nil {
			return storage.ErrAuthNotFound
		}
		// Unmarshal копирует данные, срез bbolt за пределы транзакции не уходит
		if err := json.Unmarshal(data, &auth); err != nil {
			return fmt.Errorf("corrupted session record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &auth, nil
}

// DeleteAuth drops the session. Deleting twice reports storage.ErrAuthNotFound.
func (s *Storage) DeleteAuth(ctx context.Context) error {
	return s.update(bucketAuth, func(b *bbolt.Bucket) error {
		if b.Get(sessionKey) == nil {
			return storage.ErrAuthNotFound
		}
		return b.Delete(sessionKey)
	})
}

// IsAuthenticated reports whether the stored session can still authorize
// requests, directly or after a refresh.
func (s *Storage) IsAuthenticated(ctx context.Context) (bool, error) {
	auth, err := s.GetAuth(ctx)
	switch {
	case errors.Is(err, storage.ErrAuthNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return auth.Usable(time.Now()), nil
}
