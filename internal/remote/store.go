// Package remote describes the hierarchical document store the replication
// engine writes to, and provides an in-process implementation.
package remote

import (
	"context"

	"github.com/iudanet/docsync/internal/models"
)

// Snapshot is the state of one document at read time.
type Snapshot struct {
	Data    *models.Object
	ID      string
	Path    string
	Version uint64 // 0 для несуществующего документа
	Exists  bool
}

// SetOptions controls SetDocument behaviour.
type SetOptions struct {
	// Merge deep-merges nested objects into the existing document instead of replacing it
	Merge bool
}

// Writer buffers document mutations (batch or transaction).
type Writer interface {
	Set(path string, data *models.Object, opts SetOptions)
	Update(path string, data *models.Object)
	Delete(path string)
}

// Batch is an atomic group of writes.
type Batch interface {
	Writer
	// Commit applies every buffered write or none of them
	Commit(ctx context.Context) error
	// Len returns the number of buffered writes
	Len() int
}

// Transaction reads documents and buffers writes that commit only if none of
// the documents read have changed in the meantime.
type Transaction interface {
	Writer
	Get(ctx context.Context, path string) (Snapshot, error)
}

// TxFunc is the body of a transaction. It may run more than once.
type TxFunc func(ctx context.Context, tx Transaction) error

// Store is the remote document store contract.
type Store interface {
	GetDocument(ctx context.Context, path string) (Snapshot, error)
	SetDocument(ctx context.Context, path string, data *models.Object, opts SetOptions) error
	// UpdateDocument replaces the given top-level fields of an existing document
	UpdateDocument(ctx context.Context, path string, data *models.Object) error
	DeleteDocument(ctx context.Context, path string) error
	// GetCollection returns the direct child documents of a collection ordered by id
	GetCollection(ctx context.Context, path string) ([]Snapshot, error)
	RunTransaction(ctx context.Context, fn TxFunc) error
	NewBatch() Batch
}
