package data

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/docsync/internal/client/storage/memory"
	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/routing"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(t *testing.T) (*Service, *memory.Storage, *ReplicatorMock) {
	t.Helper()

	routes, err := routing.NewTable([]routing.Document{
		{Name: "settings", Keys: []string{"theme", "lang"}},
	})
	require.NoError(t, err)

	local := memory.New()
	repl := &ReplicatorMock{
		MarkAsPendingFunc: func(string) error { return nil },
		MarkAsDeletedFunc: func(context.Context, string) error { return nil },
	}
	return NewService(local, repl, routes, setupTestLogger()), local, repl
}

func TestService_PutGet(t *testing.T) {
	ctx := context.Background()
	svc, local, repl := newTestService(t)

	require.NoError(t, svc.PutJSON(ctx, "theme", `{"mode":"dark","accent":"blue"}`))

	raw, err := local.Get(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, `{"mode":"dark","accent":"blue"}`, raw, "key order is preserved")

	got, err := svc.Get(ctx, "theme")
	require.NoError(t, err)
	mode, ok := got.Object().Get("mode")
	require.True(t, ok)
	assert.True(t, mode.Equal(models.String("dark")))

	require.Len(t, repl.MarkAsPendingCalls(), 1)
	assert.Equal(t, "theme", repl.MarkAsPendingCalls()[0].Key)
}

func TestService_LocalOnlyKeyIsNotSynced(t *testing.T) {
	ctx := context.Background()
	svc, _, repl := newTestService(t)

	require.NoError(t, svc.Put(ctx, "draft", models.String("x")))
	require.NoError(t, svc.Remove(ctx, "draft"))

	assert.Empty(t, repl.MarkAsPendingCalls())
	assert.Empty(t, repl.MarkAsDeletedCalls())
}

func TestService_Remove(t *testing.T) {
	ctx := context.Background()
	svc, local, repl := newTestService(t)

	require.NoError(t, svc.Put(ctx, "lang", models.String("en")))
	require.NoError(t, svc.Remove(ctx, "lang"))

	ok, err := local.Contains(ctx, "lang")
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, repl.MarkAsDeletedCalls(), 1)
	assert.Equal(t, "lang", repl.MarkAsDeletedCalls()[0].Key)

	_, err = svc.Get(ctx, "lang")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ReplicatorErrorIsReturned(t *testing.T) {
	ctx := context.Background()
	svc, local, repl := newTestService(t)
	repl.MarkAsPendingFunc = func(string) error { return errors.New("engine closed") }

	err := svc.Put(ctx, "theme", models.Bool(true))
	assert.ErrorContains(t, err, "engine closed")

	// Локальная запись уже сделана и будет подхвачена следующим sync
	ok, err := local.Contains(ctx, "theme")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_InvalidInput(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	tests := []struct {
		call func() error
		name string
	}{
		{name: "empty key", call: func() error { return svc.Put(ctx, "", models.Null()) }},
		{name: "reserved key", call: func() error { return svc.Put(ctx, "__queue__", models.Null()) }},
		{name: "slash in key", call: func() error { return svc.Remove(ctx, "a/b") }},
		{name: "broken json", call: func() error { return svc.PutJSON(ctx, "theme", `{"a":`) }},
		{name: "get reserved", call: func() error { _, err := svc.Get(ctx, "__last_backup__"); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.call())
		})
	}
}

func TestService_KeysSkipsInternalRecords(t *testing.T) {
	ctx := context.Background()
	svc, local, _ := newTestService(t)

	require.NoError(t, svc.Put(ctx, "theme", models.Int(1)))
	require.NoError(t, svc.Put(ctx, "draft", models.Int(2)))
	require.NoError(t, local.Set(ctx, "__sync_meta__theme", `{}`))

	keys, err := svc.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"draft", "theme"}, keys)
}
