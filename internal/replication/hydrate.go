package replication

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/iudanet/docsync/internal/conflict"
	"github.com/iudanet/docsync/internal/crypto"
	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/queue"
)

// Hydrate pulls keys (all configured keys when none are given) whose remote
// version is newer than the local one. Concurrent callers share the
// in-flight hydration and its result.
func (c *Controller) Hydrate(ctx context.Context, keys ...string) (*HydrationResult, error) {
	return c.runHydration(ctx, "hydrate", keys, false)
}

// ForceHydrate re-fetches and re-verifies keys regardless of versions.
func (c *Controller) ForceHydrate(ctx context.Context, keys ...string) (*HydrationResult, error) {
	return c.runHydration(ctx, "force", keys, true)
}

func (c *Controller) runHydration(ctx context.Context, flight string, keys []string, force bool) (*HydrationResult, error) {
	uid, err := c.session.UserID(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		keys = c.routes.Keys()
	}

	v, err, shared := c.hydrations.Do(flight, func() (any, error) {
		c.hydrating.Add(1)
		defer c.hydrating.Add(-1)

		outcomes := c.forEachKey(ctx, keys, func(ctx context.Context, key string) keyOutcome {
			return c.hydrateKey(ctx, uid, key, force)
		})
		res := newHydrationResult(outcomes)
		c.logger.Info("Hydration completed",
			"force", force,
			"hydrated", len(res.HydratedKeys),
			"up_to_date", len(res.UpToDateKeys),
			"conflicts", len(res.ConflictKeys),
			"failed", len(res.Failed))
		return res, nil
	})
	if shared {
		c.logger.Debug("Joined in-flight hydration")
	}
	c.runFollowUp(ctx)
	if err != nil {
		return nil, err
	}
	return v.(*HydrationResult), nil
}

// runFollowUp runs the sync that was deferred while hydration was in flight.
func (c *Controller) runFollowUp(ctx context.Context) {
	if c.hydrating.Load() > 0 || !c.followUp.CompareAndSwap(true, false) {
		return
	}
	if _, err := c.SyncPending(ctx); err != nil {
		c.logger.Warn("Follow-up sync failed", "error", err)
	}
}

// forEachKey runs fn for keys in fixed-size batches, concurrently inside a
// batch. A failing key never affects the others.
func (c *Controller) forEachKey(ctx context.Context, keys []string, fn func(ctx context.Context, key string) keyOutcome) []keyOutcome {
	outcomes := make([]keyOutcome, len(keys))
	for start := 0; start < len(keys); start += c.cfg.HydrationBatch {
		end := min(start+c.cfg.HydrationBatch, len(keys))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				outcomes[i] = fn(ctx, keys[i])
				return nil
			})
		}
		_ = g.Wait()
	}
	return outcomes
}

func (c *Controller) hydrateKey(ctx context.Context, uid, key string, force bool) keyOutcome {
	out := keyOutcome{key: key}
	fail := func(err error) keyOutcome {
		c.logger.Warn("Hydration of key failed", "key", key, "error", err)
		c.metrics.Hydrated("failed")
		out.status = statusFailed
		out.err = err
		return out
	}

	docPath, err := c.docPath(uid, key)
	if err != nil {
		return fail(err)
	}

	if !force {
		stale, err := c.meta.NeedsHydration(ctx, key)
		if err != nil {
			return fail(err)
		}
		if !stale {
			c.metrics.Hydrated("up_to_date")
			return out
		}
	}

	remoteState, err := c.fetchRemote(ctx, key, docPath, true)
	if err != nil {
		return fail(err)
	}
	if remoteState.meta == nil && !remoteState.found {
		c.metrics.Hydrated("up_to_date")
		return out
	}

	localMeta, err := c.meta.Get(ctx, key)
	if err != nil {
		return fail(err)
	}
	local, hasLocal, err := c.readLocal(ctx, key)
	if err != nil {
		return fail(err)
	}
	unsynced := hasLocal && c.unsynced(local, localMeta)

	if remoteState.meta != nil && remoteState.meta.Digest == "" {
		if unsynced {
			// Ключ удалён на сервере, но локально изменён позже: локальная версия уходит заново
			return c.keepLocal(ctx, out, key, local, remoteState.meta)
		}
		if err := c.applyTombstone(ctx, key, remoteState.meta.Version); err != nil {
			return fail(err)
		}
		out.status = statusHydrated
		c.metrics.Hydrated("deleted")
		return out
	}

	if unsynced && remoteState.found && remoteState.meta != nil {
		rv := remoteState.value
		if conflict.Detect(&local, &rv, localMeta, remoteState.meta) {
			return c.resolveConflict(ctx, key, docPath, local, localMeta, remoteState)
		}
	}

	var localPtr *models.Value
	if hasLocal {
		localPtr = &local
	}
	out = c.acceptRemote(ctx, key, docPath, remoteState, localPtr)
	c.metrics.Hydrated(outcomeLabel(out))
	return out
}

func (c *Controller) resolveConflict(ctx context.Context, key, docPath string, local models.Value, localMeta *models.LocalSyncMetadata, remoteState fetched) keyOutcome {
	out := keyOutcome{key: key, conflict: true}
	if err := c.meta.UpdateSyncStatus(ctx, key, models.SyncStatusConflict); err != nil {
		c.logger.Warn("Failed to mark conflict", "key", key, "error", err)
	}

	rv := remoteState.value
	rm := *remoteState.meta
	info := c.resolver.NewInfo(key, &local, &rv, localMeta.Clone(), &rm)
	info.Node = c.clock.NodeID()
	res := c.resolver.Resolve(info, c.cfg.Strategy, c.cfg.MergeStrategy)
	c.conflicts.Record(info)
	c.metrics.ConflictDetected(string(c.cfg.Strategy))

	if !res.Success {
		// Локальное изменение остаётся в очереди
		if err := c.meta.UpdateSyncStatus(ctx, key, models.SyncStatusPending); err != nil {
			c.logger.Warn("Failed to restore pending status", "key", key, "error", err)
		}
		c.metrics.Hydrated("failed")
		out.status = statusFailed
		out.err = res.Err
		return out
	}

	switch res.Winner {
	case conflict.WinnerRemote:
		accepted := c.acceptRemote(ctx, key, docPath, remoteState, &local)
		accepted.conflict = true
		c.metrics.Hydrated(outcomeLabel(accepted))
		return accepted

	case conflict.WinnerMerged:
		if err := c.writeLocal(ctx, key, res.Value); err != nil {
			c.metrics.Hydrated("failed")
			out.status = statusFailed
			out.err = err
			return out
		}
		kept := c.keepLocal(ctx, out, key, res.Value, remoteState.meta)
		if kept.status != statusFailed {
			kept.status = statusHydrated
		}
		return kept

	default:
		return c.keepLocal(ctx, out, key, local, remoteState.meta)
	}
}

// keepLocal re-stamps value as a new local change newer than rm and
// enqueues it for upload.
func (c *Controller) keepLocal(ctx context.Context, out keyOutcome, key string, value models.Value, rm *models.RemoteMetadata) keyOutcome {
	digest, err := crypto.Digest(value)
	if err == nil {
		c.clock.Observe(rm.Version)
		err = c.meta.Set(ctx, key, &models.LocalSyncMetadata{
			Digest:     digest,
			SyncStatus: models.SyncStatusPending,
			Version:    c.clock.Tick(),
		}, false)
	}
	if err == nil {
		c.meta.InvalidateCache(key)
		err = c.queue.AddOperation(ctx, queue.OpSet, key)
	}
	if err != nil {
		c.metrics.Hydrated("failed")
		out.status = statusFailed
		out.err = err
		return out
	}
	c.metrics.Hydrated("kept_local")
	out.status = statusKeptLocal
	return out
}

// acceptRemote verifies the fetched value against its remote digest and
// commits it locally, falling back to integrity recovery.
func (c *Controller) acceptRemote(ctx context.Context, key, docPath string, remoteState fetched, local *models.Value) keyOutcome {
	out := keyOutcome{key: key}

	if remoteState.meta == nil {
		// Данные есть, метаданные ещё не записаны: доверяем содержимому
		remoteState.meta = &models.RemoteMetadata{Digest: remoteState.digest}
	}

	verified, attempts, err := c.verify(ctx, key, docPath, remoteState)
	switch {
	case err == nil:
		if err := c.commitRemote(ctx, key, verified); err != nil {
			out.status = statusFailed
			out.err = err
			return out
		}
		out.status = statusHydrated
		return out
	case errors.Is(err, errDigestMismatch):
		return c.recoverIntegrity(ctx, key, docPath, verified, attempts, local)
	default:
		out.status = statusFailed
		out.err = err
		return out
	}
}

// commitRemote writes an accepted remote value and its metadata locally.
func (c *Controller) commitRemote(ctx context.Context, key string, f fetched) error {
	if err := c.writeLocal(ctx, key, f.value); err != nil {
		return err
	}
	c.clock.Observe(f.meta.Version)
	if err := c.meta.Set(ctx, key, &models.LocalSyncMetadata{
		Digest:     f.digest,
		SyncStatus: models.SyncStatusSynced,
		Version:    f.meta.Version,
	}, false); err != nil {
		return err
	}
	return c.queue.RemoveOperation(ctx, key)
}

func (c *Controller) applyTombstone(ctx context.Context, key string, version uint64) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	c.clock.Observe(version)
	if err := c.meta.Set(ctx, key, &models.LocalSyncMetadata{
		SyncStatus: models.SyncStatusSynced,
		Version:    version,
	}, false); err != nil {
		return err
	}
	return c.queue.RemoveOperation(ctx, key)
}

func (c *Controller) restoreKey(ctx context.Context, uid, key string) keyOutcome {
	out := keyOutcome{key: key}

	docPath, err := c.docPath(uid, key)
	if err != nil {
		out.status, out.err = statusFailed, err
		return out
	}
	remoteState, err := c.fetchRemote(ctx, key, docPath, true)
	if err != nil {
		out.status, out.err = statusFailed, err
		return out
	}

	switch {
	case remoteState.meta == nil && !remoteState.found:
		// На сервере ничего нет, локальная копия не трогается
		return out
	case remoteState.meta != nil && remoteState.meta.Digest == "":
		if err := c.applyTombstone(ctx, key, remoteState.meta.Version); err != nil {
			out.status, out.err = statusFailed, err
			return out
		}
		out.status = statusHydrated
		return out
	}

	local, hasLocal, err := c.readLocal(ctx, key)
	var localPtr *models.Value
	if err == nil && hasLocal {
		localPtr = &local
	}
	return c.acceptRemote(ctx, key, docPath, remoteState, localPtr)
}

// unsynced reports whether local holds changes the remote side has not seen.
func (c *Controller) unsynced(local models.Value, meta *models.LocalSyncMetadata) bool {
	if meta == nil {
		return false
	}
	if meta.SyncStatus != models.SyncStatusSynced {
		return true
	}
	digest, err := crypto.Digest(local)
	return err != nil || digest != meta.Digest
}

func outcomeLabel(o keyOutcome) string {
	switch o.status {
	case statusHydrated:
		return "hydrated"
	case statusKeptLocal:
		return "kept_local"
	case statusFailed:
		return "failed"
	default:
		return "up_to_date"
	}
}
