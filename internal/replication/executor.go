package replication

import (
	"context"
	"errors"
	"fmt"

	"github.com/iudanet/docsync/internal/chunk"
	"github.com/iudanet/docsync/internal/crypto"
	"github.com/iudanet/docsync/internal/metadata"
	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/queue"
	"github.com/iudanet/docsync/internal/remote"
	"github.com/iudanet/docsync/internal/syncerr"
)

// executor runs queued operations against the remote store.
type executor struct {
	c *Controller
}

// Execute implements queue.Executor.
func (e executor) Execute(ctx context.Context, op queue.Operation) error {
	uid, err := e.c.session.UserID(ctx)
	if err != nil {
		return err
	}
	docPath, err := e.c.docPath(uid, op.Key)
	if err != nil {
		return err
	}

	switch op.Type {
	case queue.OpSet:
		return e.c.executeSet(ctx, docPath, op.Key)
	case queue.OpDelete:
		return e.c.executeDelete(ctx, docPath, op.Key)
	default:
		return syncerr.Validation("unknown operation type %q", op.Type)
	}
}

func (c *Controller) executeSet(ctx context.Context, docPath, key string) error {
	value, ok, err := c.readLocal(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		// Значение удалили после постановки в очередь
		return c.executeDelete(ctx, docPath, key)
	}
	digest, err := crypto.Digest(value)
	if err != nil {
		return syncerr.Validation("cannot fingerprint %q: %v", key, err)
	}

	meta, err := c.meta.Get(ctx, key)
	if err != nil {
		return err
	}
	if meta == nil {
		meta = &models.LocalSyncMetadata{Digest: digest, Version: c.clock.Tick()}
	}
	meta.SyncStatus = models.SyncStatusInProgress
	if err := c.meta.Set(ctx, key, meta, false); err != nil {
		return err
	}

	unlock, err := c.codec.Lock(ctx, docPath, key)
	if err != nil {
		return c.failOperation(ctx, key, err)
	}
	var stats chunk.WriteStats
	err = c.remote.RunTransaction(ctx, func(ctx context.Context, tx remote.Transaction) error {
		snap, err := tx.Get(ctx, docPath)
		if err != nil {
			return err
		}
		// Сервер получил более новую версию от другого клиента
		if rm := metadata.Lookup(snap, key); rm != nil && rm.Version > meta.Version && rm.Digest != digest {
			return fmt.Errorf("%w: %q changed remotely at version %d", syncerr.ErrConflict, key, rm.Version)
		}
		stats, err = c.codec.WriteTx(ctx, tx, docPath, key, value)
		return err
	})
	unlock()
	c.codec.InvalidateCache(docPath, key)
	if err != nil {
		return c.failOperation(ctx, key, err)
	}

	c.logger.Debug("Value uploaded",
		"key", key,
		"chunks", stats.Chunks,
		"written", stats.Written,
		"skipped", stats.Skipped,
		"deleted", stats.Deleted)

	current, err := c.meta.Get(ctx, key)
	if err != nil {
		return err
	}
	if current != nil && current.Version != meta.Version {
		// Ключ изменён во время загрузки: его новая операция уже в очереди
		return nil
	}
	return c.meta.Set(ctx, key, &models.LocalSyncMetadata{
		Digest:     digest,
		SyncStatus: models.SyncStatusSynced,
		Version:    meta.Version,
	}, true)
}

func (c *Controller) executeDelete(ctx context.Context, docPath, key string) error {
	meta, err := c.meta.Get(ctx, key)
	if err != nil {
		return err
	}
	version := c.clock.Tick()
	if meta != nil && meta.Version > 0 {
		version = meta.Version
	}
	if err := c.meta.UpdateSyncStatus(ctx, key, models.SyncStatusInProgress); err != nil {
		return err
	}

	if err := c.codec.Delete(ctx, docPath, key); err != nil {
		return c.failOperation(ctx, key, err)
	}

	// Пустой digest: удалять на сервере больше нечего
	return c.meta.Set(ctx, key, &models.LocalSyncMetadata{
		SyncStatus: models.SyncStatusSynced,
		Version:    version,
	}, true)
}

func (c *Controller) failOperation(ctx context.Context, key string, err error) error {
	status := models.SyncStatusFailed
	if errors.Is(err, syncerr.ErrConflict) {
		status = models.SyncStatusConflict
	}
	if serr := c.meta.UpdateSyncStatus(ctx, key, status); serr != nil {
		c.logger.Warn("Failed to update sync status", "key", key, "error", serr)
	}
	if errors.Is(err, syncerr.ErrConflict) || errors.Is(err, syncerr.ErrValidation) {
		return err
	}
	return syncerr.Transient(err)
}
