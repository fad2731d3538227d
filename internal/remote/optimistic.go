package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sethvargo/go-retry"
)

// Committer is the minimal surface optimistic transactions need: reads that
// report a document version and an atomic conditional commit.
type Committer interface {
	GetDocument(ctx context.Context, path string) (Snapshot, error)
	Commit(ctx context.Context, writes []Mutation, preconditions []Precondition) error
}

// RunOptimistic runs fn against c. Every document read inside fn becomes a
// precondition of the commit; a failed precondition re-runs fn according to
// backoff. When the backoff gives up the result wraps ErrAborted.
func RunOptimistic(ctx context.Context, c Committer, backoff retry.Backoff, fn TxFunc) error {
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		tx := &optimisticTx{committer: c, reads: make(map[string]uint64)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if tx.Len() == 0 {
			return nil
		}
		err := c.Commit(ctx, tx.Mutations(), tx.preconditions())
		if errors.Is(err, ErrPreconditionFailed) {
			return retry.RetryableError(err)
		}
		return err
	})
	if errors.Is(err, ErrPreconditionFailed) {
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}
	return err
}

type optimisticTx struct {
	committer Committer
	reads     map[string]uint64
	Buffer
	mu sync.Mutex
}

func (t *optimisticTx) Get(ctx context.Context, path string) (Snapshot, error) {
	snap, err := t.committer.GetDocument(ctx, path)
	if err != nil {
		return Snapshot{}, err
	}
	t.mu.Lock()
	// Первое чтение фиксирует версию, повторные её не перезаписывают
	if _, seen := t.reads[path]; !seen {
		t.reads[path] = snap.Version
	}
	t.mu.Unlock()
	return snap, nil
}

func (t *optimisticTx) preconditions() []Precondition {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Precondition, 0, len(t.reads))
	for path, version := range t.reads {
		out = append(out, Precondition{Path: path, Version: version})
	}
	return out
}
