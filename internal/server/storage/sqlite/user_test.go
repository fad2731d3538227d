package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/server/storage"
)

func TestUserStorage_CreateUser(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	tests := []struct {
		wantError error
		user      *models.User
		name      string
	}{
		{
			name: "create new user successfully",
			user: &models.User{
				ID:          uuid.New().String(),
				Username:    "testuser1",
				AuthKeyHash: "hash123",
				PublicSalt:  "salt123",
				CreatedAt:   time.Now(),
			},
		},
		{
			name: "create user with last login",
			user: &models.User{
				ID:          uuid.New().String(),
				Username:    "testuser2",
				AuthKeyHash: "hash456",
				PublicSalt:  "salt456",
				CreatedAt:   time.Now(),
				LastLogin:   timePtr(time.Now()),
			},
		},
		{
			name: "duplicate username",
			user: &models.User{
				ID:          uuid.New().String(),
				Username:    "testuser1",
				AuthKeyHash: "other",
				PublicSalt:  "other",
				CreatedAt:   time.Now(),
			},
			wantError: storage.ErrUserAlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CreateUser(ctx, tt.user)
			if tt.wantError != nil {
				assert.ErrorIs(t, err, tt.wantError)
				return
			}
			require.NoError(t, err)

			retrieved, err := s.GetUserByID(ctx, tt.user.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.user.Username, retrieved.Username)
			assert.Equal(t, tt.user.AuthKeyHash, retrieved.AuthKeyHash)
			assert.Equal(t, tt.user.PublicSalt, retrieved.PublicSalt)
			assert.Equal(t, tt.user.LastLogin != nil, retrieved.LastLogin != nil)
		})
	}
}

func TestUserStorage_GetUser(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	user := &models.User{
		ID:          uuid.New().String(),
		Username:    "findme",
		AuthKeyHash: "hash123",
		PublicSalt:  "salt123",
		CreatedAt:   time.Now(),
	}
	require.NoError(t, s.CreateUser(ctx, user))

	byName, err := s.GetUserByUsername(ctx, "findme")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)
	assert.Nil(t, byName.LastLogin)

	byID, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "findme", byID.Username)

	_, err = s.GetUserByUsername(ctx, "notfound")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = s.GetUserByID(ctx, "nonexistent")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestUserStorage_UpdateLastLogin(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	userID := createTestUser(t, ctx, s)

	tests := []struct {
		loginTime time.Time
		wantError error
		name      string
		userID    string
	}{
		{
			name:      "update last login for existing user",
			userID:    userID,
			loginTime: time.Now(),
		},
		{
			name:      "update last login for non-existent user",
			userID:    "nonexistent",
			loginTime: time.Now(),
			wantError: storage.ErrUserNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.UpdateLastLogin(ctx, tt.userID, tt.loginTime)
			if tt.wantError != nil {
				assert.ErrorIs(t, err, tt.wantError)
				return
			}
			require.NoError(t, err)

			retrieved, err := s.GetUserByID(ctx, tt.userID)
			require.NoError(t, err)
			require.NotNil(t, retrieved.LastLogin)
			assert.WithinDuration(t, tt.loginTime, *retrieved.LastLogin, time.Second)
		})
	}
}

// Helper function
func timePtr(t time.Time) *time.Time {
	return &t
}
