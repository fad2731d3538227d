package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/iudanet/docsync/internal/metrics"
	"github.com/iudanet/docsync/internal/remote"
	"github.com/iudanet/docsync/internal/server/storage"
	"github.com/iudanet/docsync/pkg/api"
)

// MaxCommitWrites ограничивает размер одного commit
const MaxCommitWrites = 500

// maxCommitBody ограничивает размер тела запроса commit (байты)
const maxCommitBody = 32 << 20

// DocumentHandler обслуживает чтение и атомарную запись дерева документов.
// Пользователь видит только поддерево users/{uid}/.
type DocumentHandler struct {
	logger  *slog.Logger
	storage storage.DocumentStorage
	metrics *metrics.Metrics
}

// NewDocumentHandler создает handler документов. m может быть nil.
func NewDocumentHandler(logger *slog.Logger, documents storage.DocumentStorage, m *metrics.Metrics) *DocumentHandler {
	return &DocumentHandler{
		logger:  logger,
		storage: documents,
		metrics: m,
	}
}

// GetDocument обрабатывает GET /api/v1/documents/*
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := chi.URLParam(r, "*")

	if status, msg := h.authorize(r, path); status != http.StatusOK {
		sendError(h.logger, w, msg, status)
		return
	}

	snap, err := h.storage.GetDocument(ctx, path)
	if err != nil {
		h.storageError(w, r, err)
		return
	}

	sendJSON(h.logger, w, api.FromSnapshot(snap), http.StatusOK)
}

// GetCollection обрабатывает GET /api/v1/collections/*
func (h *DocumentHandler) GetCollection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := chi.URLParam(r, "*")

	if status, msg := h.authorize(r, path); status != http.StatusOK {
		sendError(h.logger, w, msg, status)
		return
	}

	snaps, err := h.storage.ListDocuments(ctx, path)
	if err != nil {
		h.storageError(w, r, err)
		return
	}

	resp := api.CollectionResponse{Documents: make([]api.Document, 0, len(snaps))}
	for _, s := range snaps {
		resp.Documents = append(resp.Documents, api.FromSnapshot(s))
	}

	sendJSON(h.logger, w, resp, http.StatusOK)
}

// Commit обрабатывает POST /api/v1/commit.
// Все записи применяются атомарно; устаревшая версия в предусловиях даёт 409.
func (h *DocumentHandler) Commit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.CommitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommitBody)).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode commit request", slog.Any("error", err))
		sendError(h.logger, w, "invalid request body", http.StatusBadRequest)
		return
	}

	if len(req.Writes) > MaxCommitWrites {
		sendError(h.logger, w, "too many writes in one commit", http.StatusBadRequest)
		return
	}

	for _, m := range req.Writes {
		if status, msg := h.authorize(r, m.Path); status != http.StatusOK {
			sendError(h.logger, w, msg, status)
			return
		}
	}
	for _, p := range req.Preconditions {
		if status, msg := h.authorize(r, p.Path); status != http.StatusOK {
			sendError(h.logger, w, msg, status)
			return
		}
	}

	if err := h.storage.Commit(ctx, req.Writes, req.Preconditions); err != nil {
		h.storageError(w, r, err)
		return
	}

	h.metrics.Committed(len(req.Writes))

	sendJSON(h.logger, w, api.CommitResponse{Applied: len(req.Writes)}, http.StatusOK)
}

// authorize проверяет, что путь лежит внутри users/{uid}/ текущего пользователя
func (h *DocumentHandler) authorize(r *http.Request, path string) (int, string) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		return http.StatusUnauthorized, "unauthorized"
	}

	if path == "" {
		return http.StatusBadRequest, "path is required"
	}

	if !strings.HasPrefix(path, "users/"+userID+"/") {
		h.logger.WarnContext(r.Context(), "access outside user root",
			slog.String("user_id", userID),
			slog.String("path", path))
		return http.StatusForbidden, "access denied"
	}

	return http.StatusOK, ""
}

func (h *DocumentHandler) storageError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrPreconditionFailed):
		h.metrics.PreconditionFailed()
		sendError(h.logger, w, err.Error(), http.StatusConflict)
	case errors.Is(err, remote.ErrInvalidPath):
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, remote.ErrNotFound):
		sendError(h.logger, w, err.Error(), http.StatusNotFound)
	default:
		h.logger.ErrorContext(r.Context(), "document storage error", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
	}
}
