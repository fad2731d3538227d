package api

import (
	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/remote"
)

// Document представляет документ в ответах сервера
type Document struct {
	Data    *models.Object `json:"data,omitempty"`
	ID      string         `json:"id"`
	Path    string         `json:"path"`
	Version uint64         `json:"version"` // 0 если документа нет
	Exists  bool           `json:"exists"`
}

// CollectionResponse представляет прямых потомков коллекции, упорядоченных по id
type CollectionResponse struct {
	Documents []Document `json:"documents"`
}

// CommitRequest атомарный набор записей с условиями на версии документов
type CommitRequest struct {
	Writes        []remote.Mutation     `json:"writes"`
	Preconditions []remote.Precondition `json:"preconditions,omitempty"`
}

// CommitResponse представляет ответ на успешный commit
type CommitResponse struct {
	Applied int `json:"applied"` // количество применённых записей
}

// HealthResponse представляет ответ health check
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// FromSnapshot converts a store snapshot into its wire form.
func FromSnapshot(s remote.Snapshot) Document {
	return Document{
		Data:    s.Data,
		ID:      s.ID,
		Path:    s.Path,
		Version: s.Version,
		Exists:  s.Exists,
	}
}

// Snapshot converts the wire form back into a store snapshot.
func (d Document) Snapshot() remote.Snapshot {
	return remote.Snapshot{
		Data:    d.Data,
		ID:      d.ID,
		Path:    d.Path,
		Version: d.Version,
		Exists:  d.Exists,
	}
}
