package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/iudanet/docsync/internal/models"
)

const memoryTxAttempts = 5

// MemoryStore is an in-process Store. Writes are atomic per commit and every
// document carries a version bumped on each change, which backs optimistic
// transactions.
type MemoryStore struct {
	docs      map[string]memoryDoc
	seq       uint64
	commits   int
	mutations int
	mu        sync.RWMutex
}

type memoryDoc struct {
	data    *models.Object
	version uint64
}

// MemoryStats counts applied commits and individual document writes.
type MemoryStats struct {
	Commits   int
	Mutations int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]memoryDoc)}
}

// GetDocument returns a copy of the document at path.
func (s *MemoryStore) GetDocument(ctx context.Context, path string) (Snapshot, error) {
	if err := ValidateDocumentPath(path); err != nil {
		return Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{ID: ID(path), Path: path}
	if doc, ok := s.docs[path]; ok {
		snap.Exists = true
		snap.Data = doc.data.Clone()
		snap.Version = doc.version
	}
	return snap, nil
}

// SetDocument creates or overwrites (or merges into) a document.
func (s *MemoryStore) SetDocument(ctx context.Context, path string, data *models.Object, opts SetOptions) error {
	return s.Commit(ctx, []Mutation{{Kind: MutationSet, Path: path, Data: data, Merge: opts.Merge}}, nil)
}

// UpdateDocument replaces top-level fields of an existing document.
func (s *MemoryStore) UpdateDocument(ctx context.Context, path string, data *models.Object) error {
	return s.Commit(ctx, []Mutation{{Kind: MutationUpdate, Path: path, Data: data}}, nil)
}

// DeleteDocument removes a document. Deleting a missing document is not an error.
func (s *MemoryStore) DeleteDocument(ctx context.Context, path string) error {
	return s.Commit(ctx, []Mutation{{Kind: MutationDelete, Path: path}}, nil)
}

// GetCollection returns direct children of the collection ordered by id.
func (s *MemoryStore) GetCollection(ctx context.Context, path string) ([]Snapshot, error) {
	if err := ValidateCollectionPath(path); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Snapshot
	for p, doc := range s.docs {
		if Parent(p) != path {
			continue
		}
		out = append(out, Snapshot{
			ID:      ID(p),
			Path:    p,
			Data:    doc.data.Clone(),
			Version: doc.version,
			Exists:  true,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RunTransaction runs fn with optimistic concurrency control.
func (s *MemoryStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	backoff := retry.WithMaxRetries(memoryTxAttempts-1, retry.NewConstant(time.Millisecond))
	return RunOptimistic(ctx, s, backoff, fn)
}

// NewBatch starts an atomic write batch.
func (s *MemoryStore) NewBatch() Batch {
	return &memoryBatch{store: s}
}

// Commit applies writes atomically if every precondition still holds.
func (s *MemoryStore) Commit(ctx context.Context, writes []Mutation, preconditions []Precondition) error {
	for _, w := range writes {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range preconditions {
		if s.docs[p.Path].version != p.Version {
			return fmt.Errorf("%w: %s", ErrPreconditionFailed, p.Path)
		}
	}

	// Сначала считаем результат целиком, чтобы ошибка не оставила частичную запись
	staged := make(map[string]*models.Object, len(writes))
	touched := make([]string, 0, len(writes))
	for _, w := range writes {
		current, ok := staged[w.Path]
		if !ok {
			if doc, exists := s.docs[w.Path]; exists {
				current = doc.data
			}
			touched = append(touched, w.Path)
		}
		next, err := Apply(current, w)
		if err != nil {
			return err
		}
		staged[w.Path] = next
	}

	for _, path := range touched {
		s.seq++
		if data := staged[path]; data != nil {
			s.docs[path] = memoryDoc{data: data, version: s.seq}
		} else {
			delete(s.docs, path)
		}
	}
	s.commits++
	s.mutations += len(writes)
	return nil
}

// Stats returns write counters.
func (s *MemoryStore) Stats() MemoryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return MemoryStats{Commits: s.commits, Mutations: s.mutations}
}

type memoryBatch struct {
	store *MemoryStore
	Buffer
}

func (b *memoryBatch) Commit(ctx context.Context) error {
	if b.Len() == 0 {
		return nil
	}
	return b.store.Commit(ctx, b.Mutations(), nil)
}
