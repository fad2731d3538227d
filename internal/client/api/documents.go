package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/remote"
	"github.com/iudanet/docsync/pkg/api"
)

var (
	_ remote.Store     = (*Client)(nil)
	_ remote.Committer = (*Client)(nil)
)

// GetDocument читает документ. Отсутствующий документ не является ошибкой.
func (c *Client) GetDocument(ctx context.Context, path string) (remote.Snapshot, error) {
	if err := remote.ValidateDocumentPath(path); err != nil {
		return remote.Snapshot{}, err
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return remote.Snapshot{}, err
	}

	var doc api.Document
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/documents/"+path, token, nil, &doc); err != nil {
		return remote.Snapshot{}, fmt.Errorf("get document %s: %w", path, mapDocumentError(err))
	}
	return doc.Snapshot(), nil
}

// GetCollection возвращает прямых потомков коллекции, упорядоченных по id
func (c *Client) GetCollection(ctx context.Context, path string) ([]remote.Snapshot, error) {
	if err := remote.ValidateCollectionPath(path); err != nil {
		return nil, err
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	var resp api.CollectionResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/collections/"+path, token, nil, &resp); err != nil {
		return nil, fmt.Errorf("get collection %s: %w", path, mapDocumentError(err))
	}

	out := make([]remote.Snapshot, 0, len(resp.Documents))
	for _, d := range resp.Documents {
		out = append(out, d.Snapshot())
	}
	return out, nil
}

// SetDocument создает, перезаписывает или дополняет (merge) документ
func (c *Client) SetDocument(ctx context.Context, path string, data *models.Object, opts remote.SetOptions) error {
	return c.Commit(ctx, []remote.Mutation{{Kind: remote.MutationSet, Path: path, Data: data, Merge: opts.Merge}}, nil)
}

// UpdateDocument заменяет поля верхнего уровня существующего документа
func (c *Client) UpdateDocument(ctx context.Context, path string, data *models.Object) error {
	return c.Commit(ctx, []remote.Mutation{{Kind: remote.MutationUpdate, Path: path, Data: data}}, nil)
}

// DeleteDocument удаляет документ
func (c *Client) DeleteDocument(ctx context.Context, path string) error {
	return c.Commit(ctx, []remote.Mutation{{Kind: remote.MutationDelete, Path: path}}, nil)
}

// Commit атомарно применяет записи, если все условия на версии выполнены
func (c *Client) Commit(ctx context.Context, writes []remote.Mutation, preconditions []remote.Precondition) error {
	for _, w := range writes {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	req := api.CommitRequest{Writes: writes, Preconditions: preconditions}
	var resp api.CommitResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/commit", token, req, &resp); err != nil {
		return fmt.Errorf("commit: %w", mapDocumentError(err))
	}
	return nil
}

// RunTransaction выполняет fn с оптимистичной блокировкой: прочитанные
// документы становятся условиями commit, при конфликте fn выполняется заново.
func (c *Client) RunTransaction(ctx context.Context, fn remote.TxFunc) error {
	backoff := retry.NewExponential(20 * time.Millisecond)
	backoff = retry.WithCappedDuration(time.Second, backoff)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(uint64(c.txRetries), backoff)
	return remote.RunOptimistic(ctx, c, backoff, fn)
}

// NewBatch начинает атомарную группу записей
func (c *Client) NewBatch() remote.Batch {
	return &batch{client: c}
}

type batch struct {
	client *Client
	remote.Buffer
}

func (b *batch) Commit(ctx context.Context) error {
	if b.Len() == 0 {
		return nil
	}
	return b.client.Commit(ctx, b.Mutations(), nil)
}

// mapDocumentError переводит ответы сервера в ошибки хранилища документов
func mapDocumentError(err error) error {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	switch statusErr.StatusCode {
	case http.StatusConflict:
		return fmt.Errorf("%w: %w", remote.ErrPreconditionFailed, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", remote.ErrNotFound, err)
	}
	return err
}
