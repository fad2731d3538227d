// Package replication orchestrates change capture, queue-driven backup,
// restore and selective hydration between the local store and the remote
// document store.
package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/iudanet/docsync/internal/chunk"
	"github.com/iudanet/docsync/internal/client/storage"
	"github.com/iudanet/docsync/internal/clock"
	"github.com/iudanet/docsync/internal/conflict"
	"github.com/iudanet/docsync/internal/crypto"
	"github.com/iudanet/docsync/internal/metadata"
	"github.com/iudanet/docsync/internal/metrics"
	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/queue"
	"github.com/iudanet/docsync/internal/remote"
	"github.com/iudanet/docsync/internal/routing"
	"github.com/iudanet/docsync/internal/scheduler"
	"github.com/iudanet/docsync/internal/syncerr"
)

const (
	// LastBackupKey ключ локального хранилища с временем последнего успешного бэкапа
	LastBackupKey = "__last_backup__"

	DefaultDebounceWindow = 50 * time.Millisecond
	DefaultSyncInterval   = 30 * time.Second
	DefaultHydrationBatch = 10
)

// Deps are the collaborators of the controller. Clock and Sink are optional.
type Deps struct {
	Local   storage.KVStore
	Remote  remote.Store
	Session metadata.Session
	Online  queue.Connectivity
	Routes  *routing.Table
	Clock   *clock.Clock
	Sink    ErrorSink
}

// Config tunes the controller. Zero fields take defaults; a negative
// DebounceWindow disables the timer so MarkAsPending is drained only by
// FlushPending and SyncPending.
type Config struct {
	Strategy        conflict.Strategy
	MergeStrategy   conflict.MergeStrategy
	Integrity       IntegrityConfig
	Chunk           chunk.Config
	Metadata        metadata.Config
	Queue           queue.Config
	DebounceWindow  time.Duration
	SyncInterval    time.Duration
	HydrationBatch  int
	ConflictHistory int
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = conflict.LastModifiedWins
	}
	if c.Integrity.Recovery == "" {
		c.Integrity.Recovery = ForceRefresh
	}
	if c.Integrity.MaxRetries <= 0 {
		c.Integrity.MaxRetries = DefaultIntegrityRetries
	}
	switch {
	case c.Integrity.RetryDelay == 0:
		c.Integrity.RetryDelay = DefaultIntegrityDelay
	case c.Integrity.RetryDelay < 0:
		c.Integrity.RetryDelay = time.Nanosecond
	}
	if c.DebounceWindow == 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.HydrationBatch <= 0 {
		c.HydrationBatch = DefaultHydrationBatch
	}
	return c
}

// Controller is the replication engine of one local store.
type Controller struct {
	local       storage.KVStore
	remote      remote.Store
	session     metadata.Session
	routes      *routing.Table
	logger      *slog.Logger
	metrics     *metrics.Metrics
	sink        ErrorSink
	clock       *clock.Clock
	meta        *metadata.Store
	codec       *chunk.Codec
	queue       *queue.Queue
	resolver    *conflict.Resolver
	conflicts   *conflict.Tracker
	pending     *scheduler.Debouncer
	diagnostics diagnostics
	hydrations  singleflight.Group
	cfg         Config

	hydrating atomic.Int32
	syncing   atomic.Bool
	followUp  atomic.Bool
}

// New wires a controller and restores the persisted operation queue.
func New(ctx context.Context, deps Deps, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Controller, error) {
	switch {
	case deps.Local == nil:
		return nil, syncerr.Config("local store is required")
	case deps.Remote == nil:
		return nil, syncerr.Config("remote store is required")
	case deps.Session == nil:
		return nil, syncerr.Config("session is required")
	case deps.Routes == nil:
		return nil, syncerr.Config("routing table is required")
	}
	cfg = cfg.withDefaults()
	if _, err := conflict.ParseStrategy(string(cfg.Strategy)); err != nil {
		return nil, err
	}
	if _, err := conflict.ParseMergeStrategy(string(cfg.MergeStrategy)); err != nil {
		return nil, err
	}
	if _, err := ParseRecoveryStrategy(string(cfg.Integrity.Recovery)); err != nil {
		return nil, err
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger = logger.With("node", clk.NodeID())

	c := &Controller{
		local:     deps.Local,
		remote:    deps.Remote,
		session:   deps.Session,
		routes:    deps.Routes,
		logger:    logger,
		metrics:   m,
		sink:      deps.Sink,
		clock:     clk,
		resolver:  conflict.NewResolver(logger),
		conflicts: conflict.NewTracker(cfg.ConflictHistory),
		cfg:       cfg,
	}
	if c.sink == nil {
		c.sink = LogSink{Logger: logger}
	}

	c.meta = metadata.New(deps.Local, deps.Remote, deps.Routes, deps.Session, cfg.Metadata, logger)
	c.codec = chunk.New(deps.Remote, cfg.Chunk, logger, m)
	c.queue = queue.New(ctx, deps.Local, executor{c: c}, deps.Online, cfg.Queue, logger, m)
	c.pending = scheduler.NewDebouncer(cfg.DebounceWindow, c.markPendingBatch)

	return c, nil
}

// Close stops background timers. Queued operations stay persisted.
func (c *Controller) Close() {
	c.pending.Stop()
	c.meta.Close()
}

// Run syncs pending operations on every tick until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SyncInterval)
	defer ticker.Stop()

	c.logger.Info("Replication loop started", "interval", c.cfg.SyncInterval)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Replication loop stopped")
			return
		case <-ticker.C:
			if _, err := c.SyncPending(ctx); err != nil {
				c.logger.Warn("Periodic sync failed", "error", err)
			}
		}
	}
}

// MarkAsPending schedules key for change detection after the debounce window.
func (c *Controller) MarkAsPending(key string) error {
	if !c.routes.Has(key) {
		return syncerr.Validation("key %q is not configured for sync", key)
	}
	c.pending.Add(key)
	return nil
}

// FlushPending runs change detection for every debounced key right away.
func (c *Controller) FlushPending(ctx context.Context) error {
	return c.pending.Flush(ctx)
}

// MarkAsDeleted enqueues deletion of key. Keys that were never synced are ignored.
func (c *Controller) MarkAsDeleted(ctx context.Context, key string) error {
	if !c.routes.Has(key) {
		return syncerr.Validation("key %q is not configured for sync", key)
	}
	meta, err := c.meta.Get(ctx, key)
	if err != nil {
		return err
	}
	if meta == nil || meta.Digest == "" {
		return nil
	}

	meta.SyncStatus = models.SyncStatusPending
	meta.Version = c.clock.Tick()
	if err := c.meta.Set(ctx, key, meta, false); err != nil {
		return err
	}
	c.meta.InvalidateCache(key)
	return c.queue.AddOperation(ctx, queue.OpDelete, key)
}

func (c *Controller) markPendingBatch(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := c.markPendingNow(ctx, key); err != nil {
			c.logger.Error("Failed to capture change", "key", key, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// markPendingNow compares the current value of key with its recorded digest
// and enqueues a write when it changed.
func (c *Controller) markPendingNow(ctx context.Context, key string) error {
	value, ok, err := c.readLocal(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return c.MarkAsDeleted(ctx, key)
	}

	digest, err := crypto.Digest(value)
	if err != nil {
		return syncerr.Validation("cannot fingerprint %q: %v", key, err)
	}
	meta, err := c.meta.Get(ctx, key)
	if err != nil {
		return err
	}
	if meta != nil && meta.Digest == digest {
		return nil
	}

	if err := c.meta.Set(ctx, key, &models.LocalSyncMetadata{
		Digest:     digest,
		SyncStatus: models.SyncStatusPending,
		Version:    c.clock.Tick(),
	}, false); err != nil {
		return err
	}
	c.meta.InvalidateCache(key)

	c.logger.Debug("Change captured", "key", key, "digest", digest)
	return c.queue.AddOperation(ctx, queue.OpSet, key)
}

// SyncPending drains the operation queue once. While a hydration runs it
// only schedules a follow-up sync.
func (c *Controller) SyncPending(ctx context.Context) (*SyncResult, error) {
	res := &SyncResult{Failed: make(map[string]error)}

	if c.hydrating.Load() > 0 {
		c.followUp.Store(true)
		res.Deferred = true
		c.logger.Debug("Hydration in progress, sync deferred")
		return res, nil
	}
	if !c.syncing.CompareAndSwap(false, true) {
		c.logger.Debug("Sync already in progress")
		return res, nil
	}

	if err := c.pending.Flush(ctx); err != nil {
		c.logger.Warn("Change capture failed for some keys", "error", err)
	}

	var conflicted []string
	for _, r := range c.queue.ProcessOperations(ctx) {
		switch {
		case r.Success:
			res.Succeeded = append(res.Succeeded, r.Key)
		case r.Retrying:
			res.Retrying = append(res.Retrying, r.Key)
		default:
			res.Failed[r.Key] = r.Err
		}
		if errors.Is(r.Err, syncerr.ErrConflict) {
			conflicted = append(conflicted, r.Key)
		}
	}

	if len(res.Succeeded) > 0 {
		if err := c.stampBackup(ctx); err != nil {
			c.logger.Warn("Failed to record backup time", "error", err)
		}
	}
	if err := c.meta.Flush(ctx); err != nil {
		c.logger.Warn("Remote metadata flush failed", "error", err)
		c.sink.Report(ctx, err)
	}
	c.syncing.Store(false)

	if len(res.Succeeded)+len(res.Failed)+len(res.Retrying) > 0 {
		c.logger.Info("Sync completed",
			"succeeded", len(res.Succeeded),
			"failed", len(res.Failed),
			"retrying", len(res.Retrying))
	}

	// Удалённая сторона изменилась раньше нас: подтягиваем и разрешаем конфликт
	if len(conflicted) > 0 {
		if _, err := c.Hydrate(ctx, conflicted...); err != nil {
			c.logger.Warn("Conflict hydration failed", "keys", conflicted, "error", err)
		}
	}
	return res, nil
}

// SyncAll evaluates every configured key, enqueues what changed locally and
// drains the queue.
func (c *Controller) SyncAll(ctx context.Context) (*BackupResult, error) {
	if _, err := c.session.UserID(ctx); err != nil {
		return nil, err
	}
	if err := c.pending.Flush(ctx); err != nil {
		c.logger.Warn("Change capture failed for some keys", "error", err)
	}

	res := &BackupResult{Failed: make(map[string]error)}
	planned := make(map[string]bool)
	for _, key := range c.routes.Keys() {
		queued, err := c.prepareBackup(ctx, key)
		switch {
		case err != nil:
			res.FailedKeys = append(res.FailedKeys, key)
			res.Failed[key] = err
		case queued:
			planned[key] = true
		default:
			res.SkippedKeys = append(res.SkippedKeys, key)
		}
	}

	pass, err := c.SyncPending(ctx)
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(pass.Succeeded))
	for _, k := range pass.Succeeded {
		done[k] = true
	}
	for _, k := range pass.Retrying {
		pass.Failed[k] = fmt.Errorf("%s: failed, will be retried", k)
	}

	for _, key := range c.routes.Keys() {
		if !planned[key] {
			continue
		}
		switch {
		case done[key]:
			res.BackedUpKeys = append(res.BackedUpKeys, key)
		case pass.Failed[key] != nil:
			res.FailedKeys = append(res.FailedKeys, key)
			res.Failed[key] = pass.Failed[key]
		default:
			// не обработан в этом проходе (нет связи или отложено)
			res.SkippedKeys = append(res.SkippedKeys, key)
		}
	}

	c.logger.Info("Backup completed",
		"backed_up", len(res.BackedUpKeys),
		"failed", len(res.FailedKeys),
		"skipped", len(res.SkippedKeys))
	return res, nil
}

// prepareBackup makes sure key has a queued operation if its local state
// is not yet on the remote side. It reports whether the key was queued.
func (c *Controller) prepareBackup(ctx context.Context, key string) (bool, error) {
	value, ok, err := c.readLocal(ctx, key)
	if err != nil {
		return false, err
	}
	meta, err := c.meta.Get(ctx, key)
	if err != nil {
		return false, err
	}

	if !ok {
		if meta == nil || meta.Digest == "" {
			return false, nil
		}
		return true, c.MarkAsDeleted(ctx, key)
	}

	digest, err := crypto.Digest(value)
	if err != nil {
		return false, syncerr.Validation("cannot fingerprint %q: %v", key, err)
	}
	switch {
	case meta != nil && meta.Digest == digest && meta.SyncStatus == models.SyncStatusSynced:
		return false, nil
	case meta != nil && meta.Digest == digest:
		// Изменение уже зафиксировано, но не доехало: новая попытка с нуля
		return true, c.queue.AddOperation(ctx, queue.OpSet, key)
	default:
		return true, c.markPendingNow(ctx, key)
	}
}

// Restore pulls every configured key from the remote store and overwrites
// the local copy.
func (c *Controller) Restore(ctx context.Context) (*RestoreResult, error) {
	uid, err := c.session.UserID(ctx)
	if err != nil {
		return nil, err
	}

	v, err, _ := c.hydrations.Do("restore", func() (any, error) {
		c.hydrating.Add(1)
		defer c.hydrating.Add(-1)

		c.meta.InvalidateAll()
		c.codec.PurgeCache()
		outcomes := c.forEachKey(ctx, c.routes.Keys(), func(ctx context.Context, key string) keyOutcome {
			return c.restoreKey(ctx, uid, key)
		})
		return newRestoreResult(outcomes), nil
	})
	c.runFollowUp(ctx)
	if err != nil {
		return nil, err
	}

	res := v.(*RestoreResult)
	c.logger.Info("Restore completed",
		"restored", len(res.RestoredKeys),
		"failed", len(res.FailedKeys),
		"skipped", len(res.SkippedKeys))
	return res, nil
}

// CancelPendingOperations drops queued operations, debounced keys and
// scheduled metadata flushes. An operation already executing completes.
func (c *Controller) CancelPendingOperations(ctx context.Context) error {
	dropped := c.pending.Cancel()
	c.meta.Cancel()
	if err := c.queue.ClearAll(ctx); err != nil {
		return err
	}
	c.logger.Info("Pending operations cancelled", "debounced", len(dropped))
	return nil
}

// Status returns the local sync metadata of key (nil if never tracked).
func (c *Controller) Status(ctx context.Context, key string) (*models.LocalSyncMetadata, error) {
	return c.meta.Get(ctx, key)
}

// EnsureConsistency returns the authoritative {digest, version} of key.
func (c *Controller) EnsureConsistency(ctx context.Context, key string) (models.RemoteMetadata, error) {
	return c.meta.EnsureConsistency(ctx, key)
}

// PendingOperations returns the queued operations in order.
func (c *Controller) PendingOperations() []queue.Operation {
	return c.queue.Snapshot()
}

// Conflicts returns the most recent conflicts, oldest first.
func (c *Controller) Conflicts() []conflict.Info {
	return c.conflicts.Recent()
}

// IntegrityFailures returns the most recent integrity failures, oldest first.
func (c *Controller) IntegrityFailures() []IntegrityError {
	return c.diagnostics.recent()
}

// LastBackup returns the time of the last sync that pushed anything.
func (c *Controller) LastBackup(ctx context.Context) (time.Time, bool, error) {
	raw, err := c.local.Get(ctx, LastBackupKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid backup timestamp %q: %w", raw, err)
	}
	return t, true, nil
}

func (c *Controller) stampBackup(ctx context.Context) error {
	return c.local.Set(ctx, LastBackupKey, time.Now().UTC().Format(time.RFC3339Nano))
}

func (c *Controller) docPath(uid, key string) (string, error) {
	doc, err := c.routes.Document(key)
	if err != nil {
		return "", err
	}
	return routing.DocumentPath(uid, doc), nil
}

func (c *Controller) readLocal(ctx context.Context, key string) (models.Value, bool, error) {
	raw, err := c.local.Get(ctx, key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return models.Value{}, false, nil
	}
	if err != nil {
		return models.Value{}, false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	v, err := models.ParseJSON([]byte(raw))
	if err != nil {
		return models.Value{}, false, syncerr.Validation("stored value of %q is not valid JSON: %v", key, err)
	}
	return v, true, nil
}

func (c *Controller) writeLocal(ctx context.Context, key string, v models.Value) error {
	data, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	return c.local.Set(ctx, key, string(data))
}
