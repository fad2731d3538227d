// Package chunk maps arbitrarily large values onto size- and field-bounded
// remote documents named chunk_0..chunk_{N-1} and diffs chunk sets so that
// unchanged chunks are never rewritten.
package chunk

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/iudanet/docsync/internal/metrics"
	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/remote"
	"github.com/iudanet/docsync/internal/syncerr"
)

const (
	// DefaultMaxChunkBytes граница размера одного чанка в байтах
	DefaultMaxChunkBytes = 200_000
	// DefaultSafeFieldLimit порог полей с запасом до лимита документа
	DefaultSafeFieldLimit = 19_000
	// MaxDocumentFields жёсткий лимит полей удалённого документа
	MaxDocumentFields = 20_000
	// DefaultLargeChunkBytes начиная с этого размера чанки сравниваются хешем
	DefaultLargeChunkBytes = 64 * 1024
	// DefaultLockTimeout блокировка пути старше этого считается зависшей
	DefaultLockTimeout = 30 * time.Second
	// DefaultCacheTTL время жизни кеша чтения
	DefaultCacheTTL = 2 * time.Second

	// ScalarField хранит значения, которые не являются объектом или массивом
	ScalarField = "__value__"

	chunkPrefix      = "chunk_"
	defaultCacheSize = 256
)

// Config tunes the codec. Zero fields take defaults.
type Config struct {
	MaxChunkBytes   int
	SafeFieldLimit  int
	LargeChunkBytes int
	CacheSize       int
	LockTimeout     time.Duration
	CacheTTL        time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxChunkBytes <= 0 {
		c.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if c.SafeFieldLimit <= 0 || c.SafeFieldLimit >= MaxDocumentFields {
		c.SafeFieldLimit = DefaultSafeFieldLimit
	}
	if c.LargeChunkBytes <= 0 {
		c.LargeChunkBytes = DefaultLargeChunkBytes
	}
	if c.CacheSize <= 0 {
		c.CacheSize = defaultCacheSize
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	return c
}

// Codec reads and writes chunked values.
type Codec struct {
	store   remote.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	locks   *pathLocks
	cache   *expirable.LRU[string, models.Value]
	cfg     Config
	gen     atomic.Uint64 // растёт при каждой записи, защищает кеш от устаревших чтений
}

// New creates a codec on top of store.
func New(store remote.Store, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Codec {
	cfg = cfg.withDefaults()
	return &Codec{
		store:   store,
		logger:  logger,
		metrics: m,
		locks:   newPathLocks(cfg.LockTimeout, logger),
		cache:   expirable.NewLRU[string, models.Value](cfg.CacheSize, nil, cfg.CacheTTL),
		cfg:     cfg,
	}
}

// WriteStats describes what one write did.
type WriteStats struct {
	Chunks  int
	Written int
	Skipped int
	Deleted int
}

// Write stores value for key under the document at docPath. All chunk writes
// and stale-chunk deletions commit as one batch.
func (c *Codec) Write(ctx context.Context, docPath, key string, value models.Value) (WriteStats, error) {
	l, err := c.split(value)
	if err != nil {
		return WriteStats{}, err
	}
	coll, err := collectionPath(docPath, key)
	if err != nil {
		return WriteStats{}, err
	}

	unlock, err := c.locks.lock(ctx, coll)
	if err != nil {
		return WriteStats{}, err
	}
	defer unlock()
	c.invalidate(coll)

	existing, err := c.store.GetCollection(ctx, coll)
	if err != nil {
		return WriteStats{}, syncerr.Transient(fmt.Errorf("failed to list chunks of %s: %w", coll, err))
	}

	batch := c.store.NewBatch()
	stats := c.plan(batch, coll, l, existing)
	if batch.Len() > 0 {
		if err := batch.Commit(ctx); err != nil {
			return WriteStats{}, syncerr.Transient(fmt.Errorf("failed to commit chunks of %s: %w", coll, err))
		}
		c.invalidate(coll)
	}

	c.record(coll, stats)
	return stats, nil
}

// Lock takes the write lock of key's chunk collection. Callers of WriteTx
// hold it until their transaction has committed.
func (c *Codec) Lock(ctx context.Context, docPath, key string) (func(), error) {
	coll, err := collectionPath(docPath, key)
	if err != nil {
		return nil, err
	}
	unlock, err := c.locks.lock(ctx, coll)
	if err != nil {
		return nil, err
	}
	return func() {
		c.invalidate(coll)
		unlock()
	}, nil
}

// WriteTx buffers the chunk writes for key into tx. Existing chunks are
// listed outside the transaction; the caller's transaction provides isolation
// and the caller holds Lock for key until it commits.
func (c *Codec) WriteTx(ctx context.Context, tx remote.Transaction, docPath, key string, value models.Value) (WriteStats, error) {
	l, err := c.split(value)
	if err != nil {
		return WriteStats{}, err
	}
	coll, err := collectionPath(docPath, key)
	if err != nil {
		return WriteStats{}, err
	}
	c.invalidate(coll)

	existing, err := c.store.GetCollection(ctx, coll)
	if err != nil {
		return WriteStats{}, syncerr.Transient(fmt.Errorf("failed to list chunks of %s: %w", coll, err))
	}

	stats := c.plan(tx, coll, l, existing)
	c.record(coll, stats)
	return stats, nil
}

// Delete removes every chunk of key.
func (c *Codec) Delete(ctx context.Context, docPath, key string) error {
	coll, err := collectionPath(docPath, key)
	if err != nil {
		return err
	}

	unlock, err := c.locks.lock(ctx, coll)
	if err != nil {
		return err
	}
	defer unlock()
	c.invalidate(coll)

	existing, err := c.store.GetCollection(ctx, coll)
	if err != nil {
		return syncerr.Transient(fmt.Errorf("failed to list chunks of %s: %w", coll, err))
	}
	if len(existing) == 0 {
		return nil
	}

	batch := c.store.NewBatch()
	for _, snap := range existing {
		batch.Delete(snap.Path)
	}
	if err := batch.Commit(ctx); err != nil {
		return syncerr.Transient(fmt.Errorf("failed to delete chunks of %s: %w", coll, err))
	}
	c.invalidate(coll)
	c.metrics.ChunksWritten(0, 0, len(existing))
	return nil
}

// Read reassembles the value of key. found is false when no chunk exists.
// Corrupted or empty chunk documents are skipped.
func (c *Codec) Read(ctx context.Context, docPath, key string) (models.Value, bool, error) {
	coll, err := collectionPath(docPath, key)
	if err != nil {
		return models.Value{}, false, err
	}

	// Читатель ждёт завершения записи в тот же путь
	if err := c.locks.wait(ctx, coll); err != nil {
		return models.Value{}, false, err
	}
	if v, ok := c.cache.Get(coll); ok {
		return v.Clone(), true, nil
	}

	gen := c.gen.Load()
	snaps, err := c.store.GetCollection(ctx, coll)
	if err != nil {
		return models.Value{}, false, syncerr.Transient(fmt.Errorf("failed to read chunks of %s: %w", coll, err))
	}

	chunks := make(map[int]*models.Object, len(snaps))
	for _, snap := range snaps {
		i, ok := parseID(snap.ID)
		if !ok || snap.Data == nil {
			c.logger.Warn("Skipping corrupted chunk", "path", snap.Path)
			continue
		}
		chunks[i] = snap.Data
	}

	v, found := assemble(chunks)
	if found && c.gen.Load() == gen {
		c.cache.Add(coll, v.Clone())
	}
	return v, found, nil
}

// InvalidateCache drops the cached value of key.
func (c *Codec) InvalidateCache(docPath, key string) {
	c.invalidate(remote.Join(docPath, key))
}

// PurgeCache drops every cached value.
func (c *Codec) PurgeCache() {
	c.gen.Add(1)
	c.cache.Purge()
}

// plan diffs the new layout against existing chunk documents and buffers
// only the writes that change something.
func (c *Codec) plan(w remote.Writer, coll string, l layout, existing []remote.Snapshot) WriteStats {
	stored := make(map[int]*models.Object, len(existing))
	var present []int
	for _, snap := range existing {
		i, ok := parseID(snap.ID)
		if !ok {
			continue
		}
		present = append(present, i)
		if snap.Data != nil {
			stored[i] = snap.Data
		}
	}
	sort.Ints(present)

	stats := WriteStats{Chunks: len(l.chunks)}
	for i, chunk := range l.chunks {
		old, ok := stored[i]
		if ok && c.sameChunk(old, chunk) {
			stats.Skipped++
			continue
		}
		// Merge только для единственного чанка и только при добавлении полей,
		// иначе удалённые поля остались бы на сервере
		merge := ok && len(l.chunks) == 1 && !l.replace && canMerge(old, chunk)
		w.Set(remote.Join(coll, ID(i)), chunk, remote.SetOptions{Merge: merge})
		stats.Written++
	}
	for _, i := range present {
		if i >= len(l.chunks) {
			w.Delete(remote.Join(coll, ID(i)))
			stats.Deleted++
		}
	}
	return stats
}

func (c *Codec) record(coll string, stats WriteStats) {
	c.metrics.ChunksWritten(stats.Written, stats.Skipped, stats.Deleted)
	c.logger.Debug("Chunks written",
		"path", coll,
		"chunks", stats.Chunks,
		"written", stats.Written,
		"skipped", stats.Skipped,
		"deleted", stats.Deleted,
	)
}

func (c *Codec) invalidate(coll string) {
	c.gen.Add(1)
	c.cache.Remove(coll)
}

func collectionPath(docPath, key string) (string, error) {
	coll := remote.Join(docPath, key)
	if err := remote.ValidateCollectionPath(coll); err != nil {
		return "", syncerr.Validation("%v", err)
	}
	return coll, nil
}
