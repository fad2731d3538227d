package remote

import (
	"fmt"

	"github.com/iudanet/docsync/internal/models"
)

// MutationKind is the type of a buffered write.
type MutationKind string

const (
	MutationSet    MutationKind = "set"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// Mutation is a single buffered write. The same shape travels over the wire
// to the document server.
type Mutation struct {
	Data  *models.Object `json:"data,omitempty"`
	Kind  MutationKind   `json:"kind"`
	Path  string         `json:"path"`
	Merge bool           `json:"merge,omitempty"`
}

// Precondition requires a document to still be at Version when a commit
// applies (Version 0 means the document must not exist).
type Precondition struct {
	Path    string `json:"path"`
	Version uint64 `json:"version"`
}

// Validate checks the mutation shape.
func (m Mutation) Validate() error {
	if err := ValidateDocumentPath(m.Path); err != nil {
		return err
	}
	switch m.Kind {
	case MutationSet, MutationUpdate:
		if m.Data == nil {
			return fmt.Errorf("%w: %s without data", ErrInvalidPath, m.Kind)
		}
	case MutationDelete:
	default:
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
	return nil
}

// Apply computes the document contents after m. current is nil when the
// document does not exist; a nil result means the document is deleted.
func Apply(current *models.Object, m Mutation) (*models.Object, error) {
	switch m.Kind {
	case MutationSet:
		if m.Merge && current != nil {
			merged := current.Clone()
			merged.MergeDeep(m.Data)
			return merged, nil
		}
		return m.Data.Clone(), nil
	case MutationUpdate:
		if current == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, m.Path)
		}
		updated := current.Clone()
		m.Data.Range(func(k string, v models.Value) bool {
			updated.Set(k, v.Clone())
			return true
		})
		return updated, nil
	case MutationDelete:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
}

// Buffer is the Writer shared by batches and transactions of every Store
// implementation.
type Buffer struct {
	writes []Mutation
}

func (b *Buffer) Set(path string, data *models.Object, opts SetOptions) {
	b.writes = append(b.writes, Mutation{Kind: MutationSet, Path: path, Data: data.Clone(), Merge: opts.Merge})
}

func (b *Buffer) Update(path string, data *models.Object) {
	b.writes = append(b.writes, Mutation{Kind: MutationUpdate, Path: path, Data: data.Clone()})
}

func (b *Buffer) Delete(path string) {
	b.writes = append(b.writes, Mutation{Kind: MutationDelete, Path: path})
}

// Mutations returns the buffered writes.
func (b *Buffer) Mutations() []Mutation {
	return b.writes
}

// Len returns the number of buffered writes.
func (b *Buffer) Len() int {
	return len(b.writes)
}
