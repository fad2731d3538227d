package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/docsync/internal/client/storage"
)

func TestStorage_KV(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, "b", "2"))
	require.NoError(t, s.Set(ctx, "a", "1"))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	ok, err := s.Contains(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "a"))
	ok, err = s.Contains(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.ClearAll(ctx))
	keys, err = s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStorage_Auth(t *testing.T) {
	ctx := context.Background()
	s := New()

	ok, err := s.IsAuthenticated(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	auth := &storage.AuthData{UserID: "u1", ExpiresAt: time.Now().Add(time.Hour).Unix()}
	require.NoError(t, s.SaveAuth(ctx, auth))

	// Изменение исходной структуры не влияет на сохранённую копию
	auth.UserID = "mutated"
	got, err := s.GetAuth(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	ok, err = s.IsAuthenticated(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.DeleteAuth(ctx))
	assert.ErrorIs(t, s.DeleteAuth(ctx), storage.ErrAuthNotFound)
}
