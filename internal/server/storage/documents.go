package storage

import (
	"context"

	"github.com/iudanet/docsync/internal/remote"
)

// DocumentStorage defines persistence of the hierarchical document tree
type DocumentStorage interface {
	// GetDocument returns the document at path.
	// A missing document is not an error: the snapshot has Exists == false and Version 0.
	GetDocument(ctx context.Context, path string) (remote.Snapshot, error)

	// ListDocuments returns the direct child documents of a collection ordered by id
	ListDocuments(ctx context.Context, collection string) ([]remote.Snapshot, error)

	// Commit applies writes atomically if every precondition still holds.
	// Returns ErrPreconditionFailed otherwise; nothing is written in that case.
	Commit(ctx context.Context, writes []remote.Mutation, preconditions []remote.Precondition) error

	// Ping checks that the storage is reachable
	Ping(ctx context.Context) error
}
