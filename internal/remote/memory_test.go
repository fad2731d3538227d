package remote

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/docsync/internal/models"
)

func mustObject(t *testing.T, raw string) *models.Object {
	t.Helper()
	v, err := models.ParseJSON([]byte(raw))
	require.NoError(t, err)
	require.True(t, v.IsObject())
	return v.Object()
}

func TestMemoryStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	snap, err := s.GetDocument(ctx, "users/u1/documents/main")
	require.NoError(t, err)
	assert.False(t, snap.Exists)
	assert.Equal(t, "main", snap.ID)

	require.NoError(t, s.SetDocument(ctx, "users/u1/documents/main", mustObject(t, `{"a":1}`), SetOptions{}))

	snap, err = s.GetDocument(ctx, "users/u1/documents/main")
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.NotZero(t, snap.Version)
	assert.True(t, snap.Data.Equal(mustObject(t, `{"a":1}`)))

	require.NoError(t, s.DeleteDocument(ctx, "users/u1/documents/main"))
	snap, err = s.GetDocument(ctx, "users/u1/documents/main")
	require.NoError(t, err)
	assert.False(t, snap.Exists)
}

func TestMemoryStore_MergeAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	path := "users/u1/documents/main"

	require.NoError(t, s.SetDocument(ctx, path, mustObject(t, `{"meta":{"k1":1},"x":true}`), SetOptions{}))
	require.NoError(t, s.SetDocument(ctx, path, mustObject(t, `{"meta":{"k2":2}}`), SetOptions{Merge: true}))

	snap, err := s.GetDocument(ctx, path)
	require.NoError(t, err)
	assert.True(t, snap.Data.Equal(mustObject(t, `{"meta":{"k1":1,"k2":2},"x":true}`)))

	// Update заменяет поле верхнего уровня целиком
	require.NoError(t, s.UpdateDocument(ctx, path, mustObject(t, `{"meta":{"k3":3}}`)))
	snap, err = s.GetDocument(ctx, path)
	require.NoError(t, err)
	assert.True(t, snap.Data.Equal(mustObject(t, `{"meta":{"k3":3},"x":true}`)))

	err = s.UpdateDocument(ctx, "users/u1/documents/missing", mustObject(t, `{"a":1}`))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_GetCollection(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	b := s.NewBatch()
	b.Set("users/u1/documents/main/profile/chunk_1", mustObject(t, `{"b":2}`), SetOptions{})
	b.Set("users/u1/documents/main/profile/chunk_0", mustObject(t, `{"a":1}`), SetOptions{})
	b.Set("users/u1/documents/main/other/chunk_0", mustObject(t, `{"z":0}`), SetOptions{})
	assert.Equal(t, 3, b.Len())
	require.NoError(t, b.Commit(ctx))

	docs, err := s.GetCollection(ctx, "users/u1/documents/main/profile")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "chunk_0", docs[0].ID)
	assert.Equal(t, "chunk_1", docs[1].ID)

	_, err = s.GetCollection(ctx, "users/u1/documents/main")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestMemoryStore_BatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	b := s.NewBatch()
	b.Set("c/ok", mustObject(t, `{"a":1}`), SetOptions{})
	b.Update("c/missing", mustObject(t, `{"a":1}`))
	require.ErrorIs(t, b.Commit(ctx), ErrNotFound)

	snap, err := s.GetDocument(ctx, "c/ok")
	require.NoError(t, err)
	assert.False(t, snap.Exists, "failed batch must not leave partial writes")
	assert.Equal(t, 0, s.Stats().Commits)
}

func TestMemoryStore_RunTransaction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.SetDocument(ctx, "c/counter", mustObject(t, `{"n":0}`), SetOptions{}))

	increment := func(ctx context.Context, tx Transaction) error {
		snap, err := tx.Get(ctx, "c/counter")
		if err != nil {
			return err
		}
		v, _ := snap.Data.Get("n")
		n, _ := v.AsUint()
		next := models.NewObject()
		next.Set("n", models.Int(int64(n)+1))
		tx.Set("c/counter", next, SetOptions{})
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.RunTransaction(ctx, increment)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrAborted)
	}

	snap, err := s.GetDocument(ctx, "c/counter")
	require.NoError(t, err)
	v, _ := snap.Data.Get("n")
	n, _ := v.AsUint()
	assert.Equal(t, uint64(succeeded), n, "no lost updates")
}

func TestMemoryStore_RunTransaction_FnError(t *testing.T) {
	s := NewMemoryStore()
	wantErr := errors.New("stop")

	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx Transaction) error {
		tx.Set("c/doc", models.NewObject(), SetOptions{})
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 0, s.Stats().Commits)
}

func TestMemoryStore_PreconditionFailed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.SetDocument(ctx, "c/doc", mustObject(t, `{"a":1}`), SetOptions{}))

	snap, err := s.GetDocument(ctx, "c/doc")
	require.NoError(t, err)
	require.NoError(t, s.SetDocument(ctx, "c/doc", mustObject(t, `{"a":2}`), SetOptions{}))

	err = s.Commit(ctx, []Mutation{{Kind: MutationDelete, Path: "c/doc"}},
		[]Precondition{{Path: "c/doc", Version: snap.Version}})
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, "users/u1/documents/main", Join("users", "u1", "documents", "main"))
	assert.Equal(t, "users/u1/documents", Parent("users/u1/documents/main"))
	assert.Equal(t, "main", ID("users/u1/documents/main"))
	assert.Equal(t, "", Parent("root"))

	tests := []struct {
		path    string
		wantDoc bool
	}{
		{"users/u1", true},
		{"users/u1/documents/main/profile/chunk_0", true},
		{"users", false},
		{"users//documents", false},
		{"", false},
		{"users/../x", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := ValidateDocumentPath(tt.path)
			if tt.wantDoc {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPath)
			}
		})
	}
}
