package metadata

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/docsync/internal/client/storage/memory"
	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/remote"
	"github.com/iudanet/docsync/internal/routing"
	"github.com/iudanet/docsync/internal/syncerr"
)

const mainDoc = "users/u1/documents/main"

type fakeSession struct {
	uid string
}

func (f *fakeSession) UserID(context.Context) (string, error) {
	if f.uid == "" {
		return "", fmt.Errorf("session: %w", syncerr.ErrNotAuthenticated)
	}
	return f.uid, nil
}

// hookStore вызывает onGet перед каждым чтением документа
type hookStore struct {
	*remote.MemoryStore
	onGet func()
}

func (h *hookStore) GetDocument(ctx context.Context, path string) (remote.Snapshot, error) {
	if h.onGet != nil {
		h.onGet()
	}
	return h.MemoryStore.GetDocument(ctx, path)
}

type testEnv struct {
	store   *Store
	local   *memory.Storage
	remote  *hookStore
	session *fakeSession
}

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	routes, err := routing.NewTable([]routing.Document{
		{Name: "main", Keys: []string{"profile", "settings"}},
		{Name: "notes", Keys: []string{"drafts"}},
	})
	require.NoError(t, err)

	env := &testEnv{
		local:   memory.New(),
		remote:  &hookStore{MemoryStore: remote.NewMemoryStore()},
		session: &fakeSession{uid: "u1"},
	}
	// Отрицательная задержка: flush только явный
	env.store = New(env.local, env.remote, routes, env.session, Config{FlushDelay: -1}, setupTestLogger())
	t.Cleanup(env.store.Close)
	return env
}

func (e *testEnv) putRemote(t *testing.T, records map[string]models.RemoteMetadata) {
	t.Helper()
	meta := models.NewObject()
	for k, rm := range records {
		meta.Set(k, rm.ToValue())
	}
	data := models.NewObject()
	data.Set(routing.MetadataField, models.ObjectValue(meta))
	require.NoError(t, e.remote.SetDocument(context.Background(), mainDoc, data, remote.SetOptions{Merge: true}))
}

func (e *testEnv) readRemote(t *testing.T) map[string]models.RemoteMetadata {
	t.Helper()
	snap, err := e.remote.GetDocument(context.Background(), mainDoc)
	require.NoError(t, err)
	out := make(map[string]models.RemoteMetadata)
	if !snap.Exists {
		return out
	}
	field, _ := snap.Data.Get(routing.MetadataField)
	field.Object().Range(func(k string, v models.Value) bool {
		rm, ok := models.RemoteMetadataFromValue(v)
		require.True(t, ok)
		out[k] = rm
		return true
	})
	return out
}

func TestStore_LocalGetSet(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	got, err := env.store.Get(ctx, "profile")
	require.NoError(t, err)
	assert.Nil(t, got)

	meta := &models.LocalSyncMetadata{Digest: "abc", SyncStatus: models.SyncStatusPending, Version: 10}
	require.NoError(t, env.store.Set(ctx, "profile", meta, false))

	got, err = env.store.Get(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	require.NoError(t, env.store.UpdateSyncStatus(ctx, "profile", models.SyncStatusSynced))
	got, err = env.store.Get(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)
	assert.Equal(t, uint64(10), got.Version)

	assert.Equal(t, 0, env.store.PendingCount(), "no remote sync requested")
}

func TestStore_CorruptedLocalMetadata(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.local.Set(ctx, localPrefix+"profile", "{not json"))
	got, err := env.store.Get(ctx, "profile")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, env.local.Set(ctx, localPrefix+"settings", `{"digest":"x","sync_status":"weird","version":1}`))
	got, err = env.store.Get(ctx, "settings")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_NeedsHydration(t *testing.T) {
	tests := []struct {
		name   string
		local  *models.LocalSyncMetadata
		remote *models.RemoteMetadata
		want   bool
	}{
		{name: "nothing remote", local: &models.LocalSyncMetadata{Version: 5, SyncStatus: models.SyncStatusSynced}, want: false},
		{name: "remote newer", local: &models.LocalSyncMetadata{Version: 5, SyncStatus: models.SyncStatusSynced}, remote: &models.RemoteMetadata{Digest: "r", Version: 6}, want: true},
		{name: "same version", local: &models.LocalSyncMetadata{Version: 6, SyncStatus: models.SyncStatusSynced}, remote: &models.RemoteMetadata{Digest: "r", Version: 6}, want: false},
		{name: "local newer", local: &models.LocalSyncMetadata{Version: 9, SyncStatus: models.SyncStatusPending}, remote: &models.RemoteMetadata{Digest: "r", Version: 6}, want: false},
		{name: "never synced locally", remote: &models.RemoteMetadata{Digest: "r", Version: 1}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			env := newTestEnv(t)
			if tt.local != nil {
				require.NoError(t, env.store.Set(ctx, "profile", tt.local, false))
			}
			if tt.remote != nil {
				env.putRemote(t, map[string]models.RemoteMetadata{"profile": *tt.remote})
			}

			got, err := env.store.NeedsHydration(ctx, "profile")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_RemoteCacheAndRefresh(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.putRemote(t, map[string]models.RemoteMetadata{"profile": {Digest: "a", Version: 1}})

	rm, err := env.store.GetRemote(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rm.Version)

	// Другой клиент обновил метаданные: кеш ещё отдаёт старое
	env.putRemote(t, map[string]models.RemoteMetadata{"profile": {Digest: "b", Version: 2}})
	rm, err = env.store.GetRemote(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rm.Version)

	// Ключи одного документа делят кеш
	other, err := env.store.GetRemote(ctx, "settings")
	require.NoError(t, err)
	assert.Nil(t, other)

	env.store.InvalidateCache("settings")
	rm, err = env.store.GetRemote(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rm.Version)

	env.putRemote(t, map[string]models.RemoteMetadata{"profile": {Digest: "c", Version: 3}})
	rm, err = env.store.RefreshRemote(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, "c", rm.Digest)
}

func TestStore_FetchRacingInvalidationIsNotCached(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.putRemote(t, map[string]models.RemoteMetadata{"profile": {Digest: "a", Version: 1}})

	// Инвалидация во время чтения
	env.remote.onGet = func() { env.store.InvalidateCache("profile") }
	_, err := env.store.GetRemote(ctx, "profile")
	require.NoError(t, err)
	env.remote.onGet = nil

	env.putRemote(t, map[string]models.RemoteMetadata{"profile": {Digest: "b", Version: 2}})
	rm, err := env.store.GetRemote(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, "b", rm.Digest, "stale read must not have been cached")
}

func TestStore_SyncToRemote_CoalescesKeys(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.store.Set(ctx, "profile", &models.LocalSyncMetadata{Digest: "p", Version: 10, SyncStatus: models.SyncStatusSynced}, true))
	require.NoError(t, env.store.Set(ctx, "settings", &models.LocalSyncMetadata{Digest: "s", Version: 11, SyncStatus: models.SyncStatusSynced}, true))
	assert.Equal(t, 2, env.store.PendingCount())

	require.NoError(t, env.store.Flush(ctx))

	assert.Equal(t, 1, env.remote.Stats().Commits, "one write per document")
	assert.Equal(t, map[string]models.RemoteMetadata{
		"profile":  {Digest: "p", Version: 10},
		"settings": {Digest: "s", Version: 11},
	}, env.readRemote(t))
	assert.Equal(t, 0, env.store.PendingCount())
}

func TestStore_SyncToRemote_VersionRules(t *testing.T) {
	tests := []struct {
		name   string
		local  models.LocalSyncMetadata
		remote models.RemoteMetadata
		want   models.RemoteMetadata
	}{
		{
			name:   "local newer wins",
			local:  models.LocalSyncMetadata{Digest: "local", Version: 20, SyncStatus: models.SyncStatusSynced},
			remote: models.RemoteMetadata{Digest: "remote", Version: 10},
			want:   models.RemoteMetadata{Digest: "local", Version: 20},
		},
		{
			name:   "remote newer kept",
			local:  models.LocalSyncMetadata{Digest: "local", Version: 5, SyncStatus: models.SyncStatusSynced},
			remote: models.RemoteMetadata{Digest: "remote", Version: 10},
			want:   models.RemoteMetadata{Digest: "remote", Version: 10},
		},
		{
			name:   "tie favours remote",
			local:  models.LocalSyncMetadata{Digest: "local", Version: 10, SyncStatus: models.SyncStatusSynced},
			remote: models.RemoteMetadata{Digest: "remote", Version: 10},
			want:   models.RemoteMetadata{Digest: "remote", Version: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			env := newTestEnv(t)
			env.putRemote(t, map[string]models.RemoteMetadata{
				"profile":  tt.remote,
				"settings": {Digest: "untouched", Version: 1},
			})

			local := tt.local
			require.NoError(t, env.store.Set(ctx, "profile", &local, true))
			require.NoError(t, env.store.SyncToRemote(ctx, "main"))

			got := env.readRemote(t)
			assert.Equal(t, tt.want, got["profile"])
			assert.Equal(t, models.RemoteMetadata{Digest: "untouched", Version: 1}, got["settings"], "merge-write keeps other keys")
		})
	}
}

func TestStore_SyncToRemote_NotAuthenticated(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.session.uid = ""

	require.NoError(t, env.store.Set(ctx, "profile", &models.LocalSyncMetadata{Digest: "p", Version: 1, SyncStatus: models.SyncStatusSynced}, true))
	require.NoError(t, env.store.Flush(ctx))

	assert.Equal(t, 0, env.remote.Stats().Commits)
	assert.Equal(t, 1, env.store.PendingCount(), "keys stay pending until login")

	env.session.uid = "u1"
	require.NoError(t, env.store.Flush(ctx))
	assert.Equal(t, models.RemoteMetadata{Digest: "p", Version: 1}, env.readRemote(t)["profile"])
}

func TestStore_EnsureConsistency(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	got, err := env.store.EnsureConsistency(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, models.RemoteMetadata{}, got)

	require.NoError(t, env.store.Set(ctx, "profile", &models.LocalSyncMetadata{Digest: "l", Version: 7, SyncStatus: models.SyncStatusPending}, false))
	got, err = env.store.EnsureConsistency(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, models.RemoteMetadata{Digest: "l", Version: 7}, got)

	env.putRemote(t, map[string]models.RemoteMetadata{"profile": {Digest: "r", Version: 7}})
	env.store.InvalidateCache("profile")
	got, err = env.store.EnsureConsistency(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, models.RemoteMetadata{Digest: "r", Version: 7}, got)
}

func TestStore_MalformedRemoteRecordsSkipped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	raw, err := models.ParseJSON([]byte(`{"_sync_meta":{"profile":{"d":"ok","v":3},"settings":"garbage"}}`))
	require.NoError(t, err)
	require.NoError(t, env.remote.SetDocument(ctx, mainDoc, raw.Object(), remote.SetOptions{}))

	rm, err := env.store.GetRemote(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rm.Version)

	rm, err = env.store.GetRemote(ctx, "settings")
	require.NoError(t, err)
	assert.Nil(t, rm)
}

func TestStore_Cancel(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.store.Set(ctx, "profile", &models.LocalSyncMetadata{Digest: "p", Version: 1, SyncStatus: models.SyncStatusSynced}, true))
	env.store.Cancel()
	assert.Equal(t, 0, env.store.PendingCount())

	require.NoError(t, env.store.Flush(ctx))
	assert.Equal(t, 0, env.remote.Stats().Commits)
}

func TestStore_UnknownKey(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.store.GetRemote(context.Background(), "unknown")
	assert.ErrorIs(t, err, syncerr.ErrValidation)
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	snap, err := env.remote.GetDocument(ctx, mainDoc)
	require.NoError(t, err)
	assert.Nil(t, Lookup(snap, "profile"))

	env.putRemote(t, map[string]models.RemoteMetadata{"profile": {Digest: "p", Version: 4}})
	snap, err = env.remote.GetDocument(ctx, mainDoc)
	require.NoError(t, err)
	assert.Equal(t, &models.RemoteMetadata{Digest: "p", Version: 4}, Lookup(snap, "profile"))
	assert.Nil(t, Lookup(snap, "settings"))
}
