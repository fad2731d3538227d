package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/remote"
	"github.com/iudanet/docsync/internal/server/storage"
)

// queryer общий интерфейс *sql.DB и *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetDocument returns the document at path
func (s *Storage) GetDocument(ctx context.Context, path string) (remote.Snapshot, error) {
	if err := remote.ValidateDocumentPath(path); err != nil {
		return remote.Snapshot{}, err
	}

	data, version, err := s.loadDocument(ctx, s.db, path)
	if err != nil {
		return remote.Snapshot{}, err
	}

	return remote.Snapshot{
		Data:    data,
		ID:      remote.ID(path),
		Path:    path,
		Version: version,
		Exists:  data != nil,
	}, nil
}

// ListDocuments returns the direct children of a collection ordered by id
func (s *Storage) ListDocuments(ctx context.Context, collection string) ([]remote.Snapshot, error) {
	if err := remote.ValidateCollectionPath(collection); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, data, version FROM documents WHERE parent = ? ORDER BY path`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	snapshots := []remote.Snapshot{}
	for rows.Next() {
		var (
			path    string
			blob    []byte
			version uint64
		)
		if err := rows.Scan(&path, &blob, &version); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		data, err := s.decode(blob)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", path, err)
		}
		snapshots = append(snapshots, remote.Snapshot{
			Data:    data,
			ID:      remote.ID(path),
			Path:    path,
			Version: version,
			Exists:  true,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return snapshots, nil
}

// Commit applies writes in one SQL transaction if every precondition holds.
// Each touched document gets a fresh version from document_sequence.
func (s *Storage) Commit(ctx context.Context, writes []remote.Mutation, preconditions []remote.Precondition) error {
	for _, w := range writes {
		if err := w.Validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, p := range preconditions {
		_, version, err := s.loadDocument(ctx, tx, p.Path)
		if err != nil {
			return err
		}
		if version != p.Version {
			return fmt.Errorf("%w: %s", storage.ErrPreconditionFailed, p.Path)
		}
	}

	// Сначала считаем итоговое состояние каждого документа, потом пишем
	staged := make(map[string]*models.Object, len(writes))
	touched := make([]string, 0, len(writes))
	for _, w := range writes {
		current, ok := staged[w.Path]
		if !ok {
			current, _, err = s.loadDocument(ctx, tx, w.Path)
			if err != nil {
				return err
			}
			touched = append(touched, w.Path)
		}
		next, err := remote.Apply(current, w)
		if err != nil {
			return err
		}
		staged[w.Path] = next
	}

	updatedAt := s.now().UnixMilli()
	for _, path := range touched {
		data := staged[path]
		if data == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
				return fmt.Errorf("failed to delete document: %w", err)
			}
			continue
		}

		blob, err := s.encode(data)
		if err != nil {
			return fmt.Errorf("document %s: %w", path, err)
		}
		version, err := nextVersion(ctx, tx)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (path, parent, data, version, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				data = excluded.data,
				version = excluded.version,
				updated_at = excluded.updated_at
		`, path, remote.Parent(path), blob, version, updatedAt)
		if err != nil {
			return fmt.Errorf("failed to write document: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// loadDocument читает документ; отсутствующий документ даёт (nil, 0, nil)
func (s *Storage) loadDocument(ctx context.Context, q queryer, path string) (*models.Object, uint64, error) {
	var (
		blob    []byte
		version uint64
	)

	err := q.QueryRowContext(ctx, `SELECT data, version FROM documents WHERE path = ?`, path).Scan(&blob, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to get document: %w", err)
	}

	data, err := s.decode(blob)
	if err != nil {
		return nil, 0, fmt.Errorf("document %s: %w", path, err)
	}

	return data, version, nil
}

func nextVersion(ctx context.Context, tx *sql.Tx) (uint64, error) {
	var version uint64
	err := tx.QueryRowContext(ctx,
		`UPDATE document_sequence SET value = value + 1 WHERE id = 1 RETURNING value`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate document version: %w", err)
	}
	return version, nil
}

func (s *Storage) encode(data *models.Object) ([]byte, error) {
	raw, err := data.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return s.encoder.EncodeAll(raw, nil), nil
}

func (s *Storage) decode(blob []byte) (*models.Object, error) {
	raw, err := s.decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress document: %w", err)
	}
	data := models.NewObject()
	if err := data.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return data, nil
}
