// Package routing maps syncable keys onto remote documents.
package routing

import (
	"fmt"

	"github.com/iudanet/docsync/internal/remote"
	"github.com/iudanet/docsync/internal/syncerr"
	"github.com/iudanet/docsync/internal/validation"
)

// MetadataField is the field of a document that holds the per-key
// {d, v} metadata map.
const MetadataField = "_sync_meta"

// Document groups keys that share one remote metadata record.
type Document struct {
	Name string   `yaml:"name"`
	Keys []string `yaml:"keys"`
}

// Table is the immutable key → document routing table.
type Table struct {
	docOf map[string]string
	keys  []string
	docs  []Document
}

// NewTable validates the configuration and builds the table.
// Every key must belong to exactly one document.
func NewTable(docs []Document) (*Table, error) {
	if len(docs) == 0 {
		return nil, syncerr.Config("no documents configured")
	}

	t := &Table{docOf: make(map[string]string)}
	seenDocs := make(map[string]struct{}, len(docs))

	for _, d := range docs {
		if err := validation.ValidateName(d.Name); err != nil {
			return nil, syncerr.Config("document: %v", err)
		}
		if _, dup := seenDocs[d.Name]; dup {
			return nil, syncerr.Config("document %q configured twice", d.Name)
		}
		seenDocs[d.Name] = struct{}{}

		if len(d.Keys) == 0 {
			return nil, syncerr.Config("document %q has no keys", d.Name)
		}
		keys := make([]string, 0, len(d.Keys))
		for _, k := range d.Keys {
			if err := validation.ValidateKey(k); err != nil {
				return nil, syncerr.Config("document %q: %v", d.Name, err)
			}
			if other, dup := t.docOf[k]; dup {
				return nil, syncerr.Config("key %q routed to both %q and %q", k, other, d.Name)
			}
			t.docOf[k] = d.Name
			keys = append(keys, k)
			t.keys = append(t.keys, k)
		}
		t.docs = append(t.docs, Document{Name: d.Name, Keys: keys})
	}

	return t, nil
}

// Document returns the document name of key.
func (t *Table) Document(key string) (string, error) {
	doc, ok := t.docOf[key]
	if !ok {
		return "", syncerr.Validation("key %q is not configured for sync", key)
	}
	return doc, nil
}

// Has reports whether key is routed.
func (t *Table) Has(key string) bool {
	_, ok := t.docOf[key]
	return ok
}

// Keys returns every routed key in configuration order.
func (t *Table) Keys() []string {
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// Documents returns the configured documents.
func (t *Table) Documents() []Document {
	out := make([]Document, len(t.docs))
	copy(out, t.docs)
	return out
}

// DocumentPath is the remote path of a user's document.
func DocumentPath(userID, doc string) string {
	return remote.Join("users", userID, "documents", doc)
}

// KeyPath resolves the remote document path of key for userID.
func (t *Table) KeyPath(userID, key string) (string, error) {
	doc, err := t.Document(key)
	if err != nil {
		return "", err
	}
	if err := validation.ValidateName(userID); err != nil {
		return "", fmt.Errorf("invalid user id: %w", err)
	}
	return DocumentPath(userID, doc), nil
}
