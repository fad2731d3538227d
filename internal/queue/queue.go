// Package queue implements the durable retrying operation queue of the
// replication engine.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iudanet/docsync/internal/client/storage"
	"github.com/iudanet/docsync/internal/metrics"
	"github.com/iudanet/docsync/internal/syncerr"
)

const (
	// StorageKey ключ локального хранилища с сохранённой очередью
	StorageKey = "__sync_operation_queue__"

	DefaultBatchSize  = 10
	DefaultBatchDelay = 100 * time.Millisecond
	DefaultMaxRetries = 3
)

// ErrMaxRetriesExceeded is reported for operations evicted after their last attempt.
var ErrMaxRetriesExceeded = errors.New("operation exceeded max retries")

// OpType тип операции
type OpType string

const (
	OpSet    OpType = "set"
	OpDelete OpType = "delete"
)

// Valid reports whether t is a known operation type.
func (t OpType) Valid() bool {
	return t == OpSet || t == OpDelete
}

// Operation is a pending replication of one key.
type Operation struct {
	Type       OpType `json:"type"`
	Key        string `json:"key"`
	RetryCount int    `json:"retryCount"`
	MaxRetries int    `json:"maxRetries"`
}

//go:generate moq -out queue_mock.go . Executor Connectivity

// Executor выполняет операцию на удалённой стороне
type Executor interface {
	Execute(ctx context.Context, op Operation) error
}

// Connectivity сообщает, доступен ли удалённый store
type Connectivity interface {
	IsOnline(ctx context.Context) bool
}

// Result is the outcome of one operation within a processing pass.
type Result struct {
	Err      error
	Key      string
	Type     OpType
	Success  bool
	Retrying bool // операция осталась в очереди для следующей попытки
}

// Config tunes queue processing. Zero fields take defaults.
type Config struct {
	BatchSize  int
	BatchDelay time.Duration
	MaxRetries int
}

type entry struct {
	op  Operation
	seq uint64
}

// Queue holds at most one operation per key. Every mutation is persisted to
// the local store and replayed by New.
type Queue struct {
	local   storage.KVStore
	exec    Executor
	online  Connectivity
	logger  *slog.Logger
	metrics *metrics.Metrics
	entries map[string]*entry
	cfg     Config

	seq        uint64
	processing atomic.Bool
	mu         sync.Mutex
	persistMu  sync.Mutex
}

// New creates a queue and restores the persisted operations.
func New(ctx context.Context, local storage.KVStore, exec Executor, online Connectivity, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Queue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	} else if cfg.BatchDelay == 0 {
		cfg.BatchDelay = DefaultBatchDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	q := &Queue{
		local:   local,
		exec:    exec,
		online:  online,
		logger:  logger,
		metrics: m,
		entries: make(map[string]*entry),
		cfg:     cfg,
	}
	q.load(ctx)
	q.metrics.SetQueueDepth(q.Len())
	return q
}

// AddOperation enqueues an operation for key, replacing any queued one.
func (q *Queue) AddOperation(ctx context.Context, opType OpType, key string) error {
	if !opType.Valid() {
		return syncerr.Validation("unknown operation type %q", opType)
	}
	if key == "" {
		return syncerr.Validation("operation without key")
	}

	q.mu.Lock()
	q.seq++
	q.entries[key] = &entry{
		op:  Operation{Type: opType, Key: key, MaxRetries: q.cfg.MaxRetries},
		seq: q.seq,
	}
	q.mu.Unlock()

	q.logger.Debug("Operation enqueued", "key", key, "type", opType)
	return q.persist(ctx)
}

// RemoveOperation drops the queued operation of key, if any.
func (q *Queue) RemoveOperation(ctx context.Context, key string) error {
	q.mu.Lock()
	_, ok := q.entries[key]
	delete(q.entries, key)
	q.mu.Unlock()

	if !ok {
		return nil
	}
	return q.persist(ctx)
}

// ClearAll drops every queued operation. An operation executing right now
// finishes but is not re-queued.
func (q *Queue) ClearAll(ctx context.Context) error {
	q.mu.Lock()
	q.entries = make(map[string]*entry)
	q.mu.Unlock()
	return q.persist(ctx)
}

// Len returns the number of queued operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot returns the queued operations in enqueue order.
func (q *Queue) Snapshot() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.sortedLocked()
	ops := make([]Operation, len(entries))
	for i, e := range entries {
		ops[i] = e.op
	}
	return ops
}

// ProcessOperations runs one pass over the queue. A concurrent call returns
// nil immediately, as does a call while the remote store is unreachable.
func (q *Queue) ProcessOperations(ctx context.Context) []Result {
	if !q.processing.CompareAndSwap(false, true) {
		q.logger.Debug("Queue processing already in progress")
		return nil
	}
	defer q.processing.Store(false)

	if q.online == nil || !q.online.IsOnline(ctx) {
		q.logger.Debug("Remote store unreachable, queue processing postponed", "queued", q.Len())
		return nil
	}

	var results []Result
	var runnable []*entry
	for _, e := range q.ordered() {
		if e.op.RetryCount >= e.op.MaxRetries {
			q.evict(e)
			q.logger.Warn("Evicting operation at retry limit", "key", e.op.Key, "type", e.op.Type, "retry_count", e.op.RetryCount)
			q.metrics.OperationDone(string(e.op.Type), "evicted")
			results = append(results, Result{Key: e.op.Key, Type: e.op.Type, Err: ErrMaxRetriesExceeded})
			continue
		}
		runnable = append(runnable, e)
	}

	for start := 0; start < len(runnable); start += q.cfg.BatchSize {
		if start > 0 {
			if !q.pause(ctx) || !q.online.IsOnline(ctx) {
				q.logger.Info("Queue processing interrupted", "remaining", len(runnable)-start)
				break
			}
		}
		end := min(start+q.cfg.BatchSize, len(runnable))
		results = append(results, q.runBatch(ctx, runnable[start:end])...)

		if err := q.persist(ctx); err != nil {
			q.logger.Error("Failed to persist operation queue", "error", err)
		}
	}

	if len(runnable) == 0 {
		if err := q.persist(ctx); err != nil {
			q.logger.Error("Failed to persist operation queue", "error", err)
		}
	}
	return results
}

func (q *Queue) runBatch(ctx context.Context, batch []*entry) []Result {
	results := make([]Result, len(batch))

	var g errgroup.Group
	for i, e := range batch {
		g.Go(func() error {
			results[i] = q.execute(ctx, e)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (q *Queue) execute(ctx context.Context, e *entry) Result {
	op := e.op
	res := Result{Key: op.Key, Type: op.Type}

	err := q.exec.Execute(ctx, op)

	q.mu.Lock()
	defer q.mu.Unlock()

	current := q.entries[op.Key] == e
	switch {
	case err == nil:
		res.Success = true
		if current {
			delete(q.entries, op.Key)
		}
		q.metrics.OperationDone(string(op.Type), "success")
		q.logger.Debug("Operation completed", "key", op.Key, "type", op.Type)

	case !syncerr.IsRetryable(err):
		res.Err = err
		if current {
			delete(q.entries, op.Key)
		}
		q.metrics.OperationDone(string(op.Type), "rejected")
		q.logger.Error("Operation rejected", "key", op.Key, "type", op.Type, "error", err)

	default:
		res.Err = err
		if !current {
			// операцию заменили во время выполнения, новая запись не трогается
			break
		}
		e.op.RetryCount++
		if e.op.RetryCount < e.op.MaxRetries {
			res.Retrying = true
			q.metrics.OperationDone(string(op.Type), "retry")
			q.logger.Warn("Operation failed, will retry", "key", op.Key, "type", op.Type, "attempt", e.op.RetryCount, "error", err)
			break
		}
		delete(q.entries, op.Key)
		res.Err = fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, err)
		q.metrics.OperationDone(string(op.Type), "failed")
		q.logger.Error("Operation failed permanently", "key", op.Key, "type", op.Type, "error", err)
	}
	return res
}

func (q *Queue) pause(ctx context.Context) bool {
	if q.cfg.BatchDelay == 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(q.cfg.BatchDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (q *Queue) evict(e *entry) {
	q.mu.Lock()
	if q.entries[e.op.Key] == e {
		delete(q.entries, e.op.Key)
	}
	q.mu.Unlock()
}

func (q *Queue) ordered() []*entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sortedLocked()
}

func (q *Queue) sortedLocked() []*entry {
	entries := make([]*entry, 0, len(q.entries))
	for _, e := range q.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}
