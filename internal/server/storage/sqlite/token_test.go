package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/server/storage"
)

func TestTokenStorage_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	userID := createTestUser(t, ctx, s)
	expiresAt := time.Now().Add(24 * time.Hour).Truncate(time.Second)

	require.NoError(t, s.SaveRefreshToken(ctx, &models.RefreshToken{
		Token:     "hash-1",
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}))

	retrieved, err := s.GetRefreshToken(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, userID, retrieved.UserID)
	assert.True(t, expiresAt.Equal(retrieved.ExpiresAt))

	// Повторное сохранение заменяет запись
	require.NoError(t, s.SaveRefreshToken(ctx, &models.RefreshToken{
		Token:     "hash-1",
		UserID:    userID,
		ExpiresAt: expiresAt.Add(time.Hour),
		CreatedAt: time.Now(),
	}))
	retrieved, err = s.GetRefreshToken(ctx, "hash-1")
	require.NoError(t, err)
	assert.True(t, expiresAt.Add(time.Hour).Equal(retrieved.ExpiresAt))

	_, err = s.GetRefreshToken(ctx, "notfound")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestTokenStorage_UnknownUserRejected(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	err := s.SaveRefreshToken(ctx, &models.RefreshToken{
		Token:     "orphan",
		UserID:    "missing-user",
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	})
	assert.Error(t, err, "foreign key должен отклонить токен без пользователя")
}

func TestTokenStorage_Delete(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	userID := createTestUser(t, ctx, s)
	otherID := createTestUser(t, ctx, s)

	for _, tok := range []*models.RefreshToken{
		{Token: "a", UserID: userID, ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now()},
		{Token: "b", UserID: userID, ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now()},
		{Token: "c", UserID: otherID, ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now()},
	} {
		require.NoError(t, s.SaveRefreshToken(ctx, tok))
	}

	require.NoError(t, s.DeleteRefreshToken(ctx, "a"))
	assert.ErrorIs(t, s.DeleteRefreshToken(ctx, "a"), storage.ErrTokenNotFound)

	deleted, err := s.DeleteUserTokens(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = s.GetRefreshToken(ctx, "c")
	assert.NoError(t, err, "токены другого пользователя не затрагиваются")
}

func TestTokenStorage_DeleteExpiredTokens(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	userID := createTestUser(t, ctx, s)

	tests := []struct {
		name      string
		expiresAt time.Time
		token     string
	}{
		{name: "expired", token: "old", expiresAt: time.Now().Add(-time.Hour)},
		{name: "expired long ago", token: "older", expiresAt: time.Now().Add(-48 * time.Hour)},
		{name: "valid", token: "fresh", expiresAt: time.Now().Add(time.Hour)},
	}
	for _, tt := range tests {
		require.NoError(t, s.SaveRefreshToken(ctx, &models.RefreshToken{
			Token:     tt.token,
			UserID:    userID,
			ExpiresAt: tt.expiresAt,
			CreatedAt: time.Now(),
		}), tt.name)
	}

	deleted, err := s.DeleteExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = s.GetRefreshToken(ctx, "fresh")
	assert.NoError(t, err)

	deleted, err = s.DeleteExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
