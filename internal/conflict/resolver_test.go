package conflict

import (
	"io"
	"log/slog"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/syncerr"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func mustValue(t *testing.T, raw string) *models.Value {
	t.Helper()
	v, err := models.ParseJSON([]byte(raw))
	require.NoError(t, err)
	return &v
}

func TestDetect(t *testing.T) {
	local := mustValue(t, `{"name":"John"}`)
	remote := mustValue(t, `{"name":"Jane"}`)
	lm := &models.LocalSyncMetadata{Version: 1}
	rm := &models.RemoteMetadata{Version: 2}

	tests := []struct {
		name       string
		local      *models.Value
		remote     *models.Value
		localMeta  *models.LocalSyncMetadata
		remoteMeta *models.RemoteMetadata
		want       bool
	}{
		{name: "diverged", local: local, remote: remote, localMeta: lm, remoteMeta: rm, want: true},
		{name: "local missing", remote: remote, localMeta: lm, remoteMeta: rm, want: false},
		{name: "remote missing", local: local, localMeta: lm, remoteMeta: rm, want: false},
		{name: "no local metadata", local: local, remote: remote, remoteMeta: rm, want: false},
		{name: "equal values", local: local, remote: mustValue(t, `{"name":"John"}`), localMeta: lm, remoteMeta: rm, want: false},
		{name: "equal versions", local: local, remote: remote, localMeta: lm, remoteMeta: &models.RemoteMetadata{Version: 1}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.local, tt.remote, tt.localMeta, tt.remoteMeta))
			// Detect симметричен относительно значений
			assert.Equal(t, tt.want, Detect(tt.remote, tt.local, tt.localMeta, tt.remoteMeta))
		})
	}
}

func TestResolve_Strategies(t *testing.T) {
	tests := []struct {
		name       string
		strategy   Strategy
		localVer   uint64
		remoteVer  uint64
		wantValue  string
		wantWinner Winner
	}{
		{name: "local wins", strategy: LocalWins, localVer: 1, remoteVer: 2, wantValue: `{"name":"John"}`, wantWinner: WinnerLocal},
		{name: "remote wins", strategy: RemoteWins, localVer: 2, remoteVer: 1, wantValue: `{"name":"Jane"}`, wantWinner: WinnerRemote},
		{name: "last modified remote newer", strategy: LastModifiedWins, localVer: 1, remoteVer: 2, wantValue: `{"name":"Jane"}`, wantWinner: WinnerRemote},
		{name: "last modified local newer", strategy: LastModifiedWins, localVer: 3, remoteVer: 2, wantValue: `{"name":"John"}`, wantWinner: WinnerLocal},
		{name: "last modified tie", strategy: LastModifiedWins, localVer: 2, remoteVer: 2, wantValue: `{"name":"Jane"}`, wantWinner: WinnerRemote},
	}

	r := NewResolver(setupTestLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := r.NewInfo("profile",
				mustValue(t, `{"name":"John"}`),
				mustValue(t, `{"name":"Jane"}`),
				&models.LocalSyncMetadata{Version: tt.localVer},
				&models.RemoteMetadata{Version: tt.remoteVer})

			res := r.Resolve(info, tt.strategy, NoMerge)
			require.True(t, res.Success)
			require.NoError(t, res.Err)
			assert.Equal(t, tt.wantWinner, res.Winner)
			assert.True(t, mustValue(t, tt.wantValue).Equal(res.Value))
			assert.True(t, info.Resolved)
			assert.Equal(t, tt.strategy, info.Strategy)
			require.NotNil(t, info.ResolvedValue)
			assert.True(t, res.Value.Equal(*info.ResolvedValue))
		})
	}
}

func TestResolve_Merge(t *testing.T) {
	local := `{"name":"John","prefs":{"theme":"dark","lang":"en"},"local_only":1}`
	remote := `{"name":"Jane","prefs":{"theme":"light","font":"mono"},"remote_only":2}`

	tests := []struct {
		name     string
		strategy Strategy
		merge    MergeStrategy
		want     string
	}{
		{
			name:     "shallow remote winner",
			strategy: RemoteWins,
			merge:    ShallowMerge,
			want:     `{"name":"Jane","prefs":{"theme":"light","font":"mono"},"remote_only":2,"local_only":1}`,
		},
		{
			name:     "shallow local winner",
			strategy: LocalWins,
			merge:    ShallowMerge,
			want:     `{"name":"John","prefs":{"theme":"dark","lang":"en"},"local_only":1,"remote_only":2}`,
		},
		{
			name:     "deep remote winner",
			strategy: RemoteWins,
			merge:    DeepMerge,
			want:     `{"name":"Jane","prefs":{"theme":"light","font":"mono","lang":"en"},"remote_only":2,"local_only":1}`,
		},
		{
			name:     "field level overlays local",
			strategy: RemoteWins,
			merge:    FieldLevel,
			want:     `{"name":"John","prefs":{"theme":"dark","lang":"en"},"remote_only":2,"local_only":1}`,
		},
	}

	r := NewResolver(setupTestLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := r.NewInfo("profile", mustValue(t, local), mustValue(t, remote),
				&models.LocalSyncMetadata{Version: 1}, &models.RemoteMetadata{Version: 2})

			res := r.Resolve(info, tt.strategy, tt.merge)
			require.True(t, res.Success)
			assert.Equal(t, WinnerMerged, res.Winner)
			assert.True(t, mustValue(t, tt.want).Equal(res.Value), "got %s", mustJSON(t, res.Value))

			// Запись в истории хранит собственную копию итогового значения
			require.NotNil(t, info.ResolvedValue)
			res.Value.Object().Set("name", models.String("changed"))
			assert.True(t, mustValue(t, tt.want).Equal(*info.ResolvedValue))
		})
	}
}

func TestResolve_MergeSkippedForNonObjects(t *testing.T) {
	r := NewResolver(setupTestLogger())
	info := r.NewInfo("list", mustValue(t, `[1,2]`), mustValue(t, `[3]`),
		&models.LocalSyncMetadata{Version: 1}, &models.RemoteMetadata{Version: 2})

	res := r.Resolve(info, RemoteWins, DeepMerge)
	require.True(t, res.Success)
	assert.Equal(t, WinnerRemote, res.Winner)
	assert.True(t, mustValue(t, `[3]`).Equal(res.Value))
}

func TestResolve_UnknownStrategy(t *testing.T) {
	r := NewResolver(setupTestLogger())
	info := r.NewInfo("profile", mustValue(t, `{"a":1}`), mustValue(t, `{"a":2}`),
		&models.LocalSyncMetadata{Version: 1}, &models.RemoteMetadata{Version: 2})

	res := r.Resolve(info, Strategy("COIN_FLIP"), NoMerge)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, syncerr.ErrConflict)
	assert.True(t, mustValue(t, `{"a":1}`).Equal(res.Value))
	assert.False(t, info.Resolved)
	assert.Nil(t, info.ResolvedValue)

	res = r.Resolve(info, RemoteWins, MergeStrategy("UNION"))
	assert.False(t, res.Success)
	assert.True(t, mustValue(t, `{"a":1}`).Equal(res.Value))
}

// Пример из документации: John v1 против Jane v2
func TestResolve_LastModifiedExample(t *testing.T) {
	r := NewResolver(setupTestLogger())
	info := r.NewInfo("user",
		mustValue(t, `{"name":"John"}`), mustValue(t, `{"name":"Jane"}`),
		&models.LocalSyncMetadata{Version: 1}, &models.RemoteMetadata{Version: 2})

	res := r.Resolve(info, LastModifiedWins, NoMerge)
	require.True(t, res.Success)
	assert.True(t, mustValue(t, `{"name":"Jane"}`).Equal(res.Value))
}

func TestResolve_Symmetry(t *testing.T) {
	r := NewResolver(setupTestLogger())
	a, b := mustValue(t, `{"v":"a"}`), mustValue(t, `{"v":"b"}`)

	forward := r.Resolve(r.NewInfo("k", a, b, &models.LocalSyncMetadata{Version: 5}, &models.RemoteMetadata{Version: 7}), LastModifiedWins, NoMerge)
	backward := r.Resolve(r.NewInfo("k", b, a, &models.LocalSyncMetadata{Version: 7}, &models.RemoteMetadata{Version: 5}), LastModifiedWins, NoMerge)

	assert.True(t, forward.Value.Equal(backward.Value), "the newer value wins regardless of side")
}

func TestNewInfo_ID(t *testing.T) {
	r := NewResolver(setupTestLogger())
	first := r.NewInfo("k", nil, nil, nil, nil)
	second := r.NewInfo("k", nil, nil, nil, nil)

	_, err := ulid.Parse(first.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("LAST_MODIFIED_WINS")
	require.NoError(t, err)
	assert.Equal(t, LastModifiedWins, s)

	_, err = ParseStrategy("whatever")
	assert.ErrorIs(t, err, syncerr.ErrConfig)

	m, err := ParseMergeStrategy("")
	require.NoError(t, err)
	assert.Equal(t, NoMerge, m)

	_, err = ParseMergeStrategy("UNION")
	assert.ErrorIs(t, err, syncerr.ErrConfig)
}

func mustJSON(t *testing.T, v models.Value) string {
	t.Helper()
	out, err := v.MarshalJSON()
	require.NoError(t, err)
	return string(out)
}
