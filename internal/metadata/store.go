// Package metadata keeps per-key sync metadata locally and the compact
// per-document {digest, version} map remotely, and decides when a key is
// stale.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/iudanet/docsync/internal/client/storage"
	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/remote"
	"github.com/iudanet/docsync/internal/routing"
	"github.com/iudanet/docsync/internal/scheduler"
	"github.com/iudanet/docsync/internal/syncerr"
)

const (
	// DefaultCacheTTL время жизни кеша удалённых метаданных документа
	DefaultCacheTTL = 5 * time.Second
	// DefaultFlushDelay пауза debounce перед записью метаданных на сервер
	DefaultFlushDelay = time.Second

	localPrefix      = "__sync_meta__:"
	defaultCacheSize = 64
)

// Session resolves the current user. UserID returns an error wrapping
// syncerr.ErrNotAuthenticated when there is no valid session.
type Session interface {
	UserID(ctx context.Context) (string, error)
}

// Config tunes the store. Zero fields take defaults; a negative FlushDelay
// disables the timer so remote flushes happen only through Flush.
type Config struct {
	CacheTTL   time.Duration
	FlushDelay time.Duration
	CacheSize  int
}

// remoteDoc is the parsed metadata map of one document.
type remoteDoc map[string]models.RemoteMetadata

// Store is the versioned metadata store.
type Store struct {
	local   storage.KVStore
	remote  remote.Store
	routes  *routing.Table
	session Session
	logger  *slog.Logger
	cache   *expirable.LRU[string, remoteDoc]
	flusher *scheduler.Debouncer
	fetches singleflight.Group

	generations map[string]uint64            // doc → поколение кеша
	pending     map[string]map[string]uint64 // doc → key → seq
	epoch       uint64
	seq         uint64
	mu          sync.Mutex
	flushMu     sync.Mutex
}

// New creates a metadata store.
func New(local storage.KVStore, rs remote.Store, routes *routing.Table, session Session, cfg Config, logger *slog.Logger) *Store {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.FlushDelay == 0 {
		cfg.FlushDelay = DefaultFlushDelay
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}

	s := &Store{
		local:       local,
		remote:      rs,
		routes:      routes,
		session:     session,
		logger:      logger,
		cache:       expirable.NewLRU[string, remoteDoc](cfg.CacheSize, nil, cfg.CacheTTL),
		generations: make(map[string]uint64),
		pending:     make(map[string]map[string]uint64),
	}
	s.flusher = scheduler.NewDebouncer(cfg.FlushDelay, s.flushDocs)
	return s
}

// Close stops the flush timer. Pending keys that were not flushed stay pending.
func (s *Store) Close() {
	s.flusher.Stop()
}

// Get returns local metadata of key, or nil if the key was never tracked.
func (s *Store) Get(ctx context.Context, key string) (*models.LocalSyncMetadata, error) {
	raw, err := s.local.Get(ctx, localPrefix+key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata of %q: %w", key, err)
	}

	var meta models.LocalSyncMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil || !meta.SyncStatus.Valid() {
		// Повреждённая запись равносильна отсутствию: ключ будет синхронизирован заново
		s.logger.Warn("Dropping corrupted local metadata", "key", key, "error", err)
		return nil, nil
	}
	return &meta, nil
}

// Set stores local metadata. With scheduleRemoteSync the key is queued for
// the next remote metadata flush of its document.
func (s *Store) Set(ctx context.Context, key string, meta *models.LocalSyncMetadata, scheduleRemoteSync bool) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := s.local.Set(ctx, localPrefix+key, string(data)); err != nil {
		return fmt.Errorf("failed to save metadata of %q: %w", key, err)
	}

	if !scheduleRemoteSync {
		return nil
	}
	doc, err := s.routes.Document(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.seq++
	if s.pending[doc] == nil {
		s.pending[doc] = make(map[string]uint64)
	}
	s.pending[doc][key] = s.seq
	s.mu.Unlock()

	s.flusher.Add(doc)
	return nil
}

// Remove deletes local metadata of key.
func (s *Store) Remove(ctx context.Context, key string) error {
	return s.local.Delete(ctx, localPrefix+key)
}

// UpdateSyncStatus changes only the status of key.
func (s *Store) UpdateSyncStatus(ctx context.Context, key string, status models.SyncStatus) error {
	meta, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if meta == nil {
		meta = &models.LocalSyncMetadata{}
	}
	meta.SyncStatus = status
	return s.Set(ctx, key, meta, false)
}

// GetRemote returns the remote metadata of key (cached), or nil if the
// remote document has no record for it.
func (s *Store) GetRemote(ctx context.Context, key string) (*models.RemoteMetadata, error) {
	return s.remoteFor(ctx, key, false)
}

// RefreshRemote bypasses the cache.
func (s *Store) RefreshRemote(ctx context.Context, key string) (*models.RemoteMetadata, error) {
	return s.remoteFor(ctx, key, true)
}

// NeedsHydration refreshes the remote metadata of the key's document and
// reports whether the remote version is strictly newer than the local one.
func (s *Store) NeedsHydration(ctx context.Context, key string) (bool, error) {
	rm, err := s.RefreshRemote(ctx, key)
	if err != nil {
		return false, err
	}
	if rm == nil {
		return false, nil
	}
	local, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if local == nil {
		return true, nil
	}
	return rm.Version > local.Version, nil
}

// EnsureConsistency returns the authoritative {digest, version} of key after
// reconciling local and cached remote state (ties favour remote).
func (s *Store) EnsureConsistency(ctx context.Context, key string) (models.RemoteMetadata, error) {
	local, err := s.Get(ctx, key)
	if err != nil {
		return models.RemoteMetadata{}, err
	}
	rm, err := s.GetRemote(ctx, key)
	if err != nil {
		return models.RemoteMetadata{}, err
	}
	switch {
	case rm != nil && (local == nil || rm.Version >= local.Version):
		return *rm, nil
	case local != nil:
		return models.RemoteMetadata{Digest: local.Digest, Version: local.Version}, nil
	default:
		return models.RemoteMetadata{}, nil
	}
}

// InvalidateCache drops cached remote metadata of the key's document.
func (s *Store) InvalidateCache(key string) {
	doc, err := s.routes.Document(key)
	if err != nil {
		return
	}
	s.invalidateDoc(doc)
}

// InvalidateAll drops every cached document.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	s.epoch++
	s.mu.Unlock()
	s.cache.Purge()
}

// SyncToRemote writes the metadata of every pending key of doc in one
// merge-write. For each key the higher of the cached remote and local
// versions wins; a tie keeps the remote record. Without a session this is a
// no-op and the keys stay pending.
func (s *Store) SyncToRemote(ctx context.Context, doc string) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	uid, err := s.session.UserID(ctx)
	if errors.Is(err, syncerr.ErrNotAuthenticated) {
		s.logger.Debug("Skipping metadata flush: not authenticated", "document", doc)
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	snapshot := make(map[string]uint64, len(s.pending[doc]))
	for k, seq := range s.pending[doc] {
		snapshot[k] = seq
	}
	s.mu.Unlock()
	if len(snapshot) == 0 {
		return nil
	}

	current, err := s.fetch(ctx, doc, false)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	patch := models.NewObject()
	for _, key := range keys {
		local, err := s.Get(ctx, key)
		if err != nil {
			return err
		}
		if local == nil {
			continue
		}
		if rm, ok := current[key]; ok && rm.Version >= local.Version {
			continue
		}
		patch.Set(key, models.RemoteMetadata{Digest: local.Digest, Version: local.Version}.ToValue())
	}

	if patch.Len() > 0 {
		data := models.NewObject()
		data.Set(routing.MetadataField, models.ObjectValue(patch))
		path := routing.DocumentPath(uid, doc)
		if err := s.remote.SetDocument(ctx, path, data, remote.SetOptions{Merge: true}); err != nil {
			return syncerr.Transient(fmt.Errorf("failed to write metadata of %s: %w", path, err))
		}
		s.invalidateDoc(doc)
		s.logger.Debug("Remote metadata flushed", "document", doc, "keys", patch.Len())
	}

	s.mu.Lock()
	for k, seq := range snapshot {
		// Ключ, помеченный заново во время записи, остаётся в очереди
		if s.pending[doc][k] == seq {
			delete(s.pending[doc], k)
		}
	}
	if len(s.pending[doc]) == 0 {
		delete(s.pending, doc)
	}
	s.mu.Unlock()
	return nil
}

// Flush synchronously writes remote metadata for every document with pending keys.
func (s *Store) Flush(ctx context.Context) error {
	s.flusher.Cancel()

	s.mu.Lock()
	docs := make([]string, 0, len(s.pending))
	for doc := range s.pending {
		docs = append(docs, doc)
	}
	s.mu.Unlock()
	sort.Strings(docs)

	return s.flushDocs(ctx, docs)
}

// Cancel drops scheduled flushes and pending keys and clears the cache.
func (s *Store) Cancel() {
	s.flusher.Cancel()
	s.mu.Lock()
	s.pending = make(map[string]map[string]uint64)
	s.mu.Unlock()
	s.InvalidateAll()
}

// PendingCount returns the number of keys waiting for a remote flush.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, keys := range s.pending {
		n += len(keys)
	}
	return n
}

func (s *Store) flushDocs(ctx context.Context, docs []string) error {
	var errs []error
	for _, doc := range docs {
		if err := s.SyncToRemote(ctx, doc); err != nil {
			s.logger.Warn("Remote metadata flush failed", "document", doc, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) remoteFor(ctx context.Context, key string, force bool) (*models.RemoteMetadata, error) {
	doc, err := s.routes.Document(key)
	if err != nil {
		return nil, err
	}
	if force {
		s.invalidateDoc(doc)
	}
	m, err := s.fetch(ctx, doc, force)
	if err != nil {
		return nil, err
	}
	rm, ok := m[key]
	if !ok {
		return nil, nil
	}
	return &rm, nil
}

// fetch returns the metadata map of doc. Concurrent fetches of the same
// document generation share one remote read; a result that raced an
// invalidation is returned but not cached.
func (s *Store) fetch(ctx context.Context, doc string, force bool) (remoteDoc, error) {
	if !force {
		if m, ok := s.cache.Get(doc); ok {
			return m, nil
		}
	}

	uid, err := s.session.UserID(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	gen, epoch := s.generations[doc], s.epoch
	s.mu.Unlock()

	key := fmt.Sprintf("%s/%s#%d.%d", uid, doc, epoch, gen)
	v, err, _ := s.fetches.Do(key, func() (any, error) {
		path := routing.DocumentPath(uid, doc)
		snap, err := s.remote.GetDocument(ctx, path)
		if err != nil {
			return nil, syncerr.Transient(fmt.Errorf("failed to read metadata of %s: %w", path, err))
		}
		return s.parse(snap), nil
	})
	if err != nil {
		return nil, err
	}
	m := v.(remoteDoc)

	s.mu.Lock()
	if s.generations[doc] == gen && s.epoch == epoch {
		s.cache.Add(doc, m)
	}
	s.mu.Unlock()
	return m, nil
}

func (s *Store) parse(snap remote.Snapshot) remoteDoc {
	out := make(remoteDoc)
	if !snap.Exists {
		return out
	}
	field, ok := snap.Data.Get(routing.MetadataField)
	if !ok {
		return out
	}
	field.Object().Range(func(key string, v models.Value) bool {
		rm, ok := models.RemoteMetadataFromValue(v)
		if !ok {
			s.logger.Warn("Skipping malformed remote metadata", "path", snap.Path, "key", key)
			return true
		}
		out[key] = rm
		return true
	})
	return out
}

func (s *Store) invalidateDoc(doc string) {
	s.mu.Lock()
	s.generations[doc]++
	s.mu.Unlock()
	s.cache.Remove(doc)
}

// Lookup extracts the remote record of key from a metadata document snapshot.
func Lookup(snap remote.Snapshot, key string) *models.RemoteMetadata {
	if !snap.Exists {
		return nil
	}
	field, ok := snap.Data.Get(routing.MetadataField)
	if !ok {
		return nil
	}
	raw, ok := field.Object().Get(key)
	if !ok {
		return nil
	}
	rm, ok := models.RemoteMetadataFromValue(raw)
	if !ok {
		return nil
	}
	return &rm
}
