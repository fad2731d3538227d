package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iudanet/docsync/internal/client/storage"
)

// persistedOperation допускает отсутствующие поля, чтобы отбраковать неполные записи
type persistedOperation struct {
	Type       OpType `json:"type"`
	Key        string `json:"key"`
	RetryCount *int   `json:"retryCount"`
	MaxRetries *int   `json:"maxRetries"`
}

func (q *Queue) persist(ctx context.Context) error {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	ops := q.Snapshot()
	q.metrics.SetQueueDepth(len(ops))

	if len(ops) == 0 {
		if err := q.local.Delete(ctx, StorageKey); err != nil {
			return fmt.Errorf("failed to clear persisted queue: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}
	if err := q.local.Set(ctx, StorageKey, string(data)); err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}
	return nil
}

func (q *Queue) load(ctx context.Context) {
	raw, err := q.local.Get(ctx, StorageKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return
	}
	if err != nil {
		q.logger.Error("Failed to read persisted queue", "error", err)
		return
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		q.logger.Error("Persisted queue is corrupted, starting empty", "error", err)
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range items {
		op, err := decodeOperation(item, q.cfg.MaxRetries)
		if err != nil {
			q.logger.Warn("Dropping invalid persisted operation", "index", i, "error", err)
			continue
		}
		q.seq++
		q.entries[op.Key] = &entry{op: op, seq: q.seq}
	}
	q.logger.Debug("Operation queue restored", "operations", len(q.entries))
}

func decodeOperation(data []byte, defaultMax int) (Operation, error) {
	var p persistedOperation
	if err := json.Unmarshal(data, &p); err != nil {
		return Operation{}, err
	}
	switch {
	case !p.Type.Valid():
		return Operation{}, fmt.Errorf("unknown type %q", p.Type)
	case p.Key == "":
		return Operation{}, fmt.Errorf("missing key")
	case p.RetryCount == nil || *p.RetryCount < 0:
		return Operation{}, fmt.Errorf("invalid retry count")
	}

	op := Operation{Type: p.Type, Key: p.Key, RetryCount: *p.RetryCount, MaxRetries: defaultMax}
	if p.MaxRetries != nil && *p.MaxRetries > 0 {
		op.MaxRetries = *p.MaxRetries
	}
	return op, nil
}
