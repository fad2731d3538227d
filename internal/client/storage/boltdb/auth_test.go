package boltdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/docsync/internal/client/storage"
)

func TestStorage_SaveGetDeleteAuth(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	auth := &storage.AuthData{
		Username:    "alice",
		UserID:      "user-id-123",
		AccessToken: "access-token",
		ServerURL:   "http://localhost:8080",
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
	}

	// Проверяем что GetAuth до сохранения выдаст ErrAuthNotFound
	_, err := store.GetAuth(ctx)
	assert.ErrorIs(t, err, storage.ErrAuthNotFound)

	authOk, err := store.IsAuthenticated(ctx)
	require.NoError(t, err)
	assert.False(t, authOk)

	// Сохраняем auth
	require.NoError(t, store.SaveAuth(ctx, auth))

	// Получаем auth и сравниваем
	got, err := store.GetAuth(ctx)
	require.NoError(t, err)
	assert.Equal(t, auth, got)

	// IsAuthenticated должна вернуть true (токен не просрочен)
	authOk, err = store.IsAuthenticated(ctx)
	require.NoError(t, err)
	assert.True(t, authOk)

	// Обновляем auth с истекшим токеном
	auth.ExpiresAt = time.Now().Add(-time.Hour).Unix()
	require.NoError(t, store.SaveAuth(ctx, auth))

	authOk, err = store.IsAuthenticated(ctx)
	require.NoError(t, err)
	assert.False(t, authOk)

	// С refresh токеном сессию можно продлить
	auth.RefreshToken = "refresh-token"
	require.NoError(t, store.SaveAuth(ctx, auth))

	authOk, err = store.IsAuthenticated(ctx)
	require.NoError(t, err)
	assert.True(t, authOk)

	// Удаляем
	require.NoError(t, store.DeleteAuth(ctx))
	assert.ErrorIs(t, store.DeleteAuth(ctx), storage.ErrAuthNotFound)
}

func TestStorage_AuthInvalidInput(t *testing.T) {
	ctx := context.Background()

	t.Run("nil auth data", func(t *testing.T) {
		store := createTestStorage(t)
		assert.Error(t, store.SaveAuth(ctx, nil))
		_, err := store.GetAuth(ctx)
		assert.ErrorIs(t, err, storage.ErrAuthNotFound)
	})

	t.Run("closed storage", func(t *testing.T) {
		store := createTestStorage(t)
		require.NoError(t, store.SaveAuth(ctx, &storage.AuthData{Username: "alice", RefreshToken: "r"}))
		require.NoError(t, store.Close())

		assert.ErrorIs(t, store.SaveAuth(ctx, &storage.AuthData{}), storage.ErrStorageClosed)
		_, err := store.GetAuth(ctx)
		assert.ErrorIs(t, err, storage.ErrStorageClosed)
		assert.ErrorIs(t, store.DeleteAuth(ctx), storage.ErrStorageClosed)

		ok, err := store.IsAuthenticated(ctx)
		assert.ErrorIs(t, err, storage.ErrStorageClosed)
		assert.False(t, ok)
	})
}
