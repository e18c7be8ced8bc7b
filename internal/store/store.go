// Package store persists plan documents and debounces writes to them.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/Lllllllleong/accreditationplan/internal/models"
)

// ErrNotFound is returned by Get when no document exists for the key.
var ErrNotFound = errors.New("plan document not found")

// ErrIncompleteKey is returned when a namespace, user or file name is missing.
var ErrIncompleteKey = errors.New("document key is incomplete")

// DocumentStore is a keyed document store with merge-write semantics:
// Upsert replaces groupedData, aiSummary and timestamp and leaves any other
// stored field alone.
type DocumentStore interface {
	Get(ctx context.Context, key models.DocKey) (*models.PlanDocument, error)
	Upsert(ctx context.Context, key models.DocKey, doc *models.PlanDocument) error
	List(ctx context.Context, namespace, userID string) ([]models.DocSummary, error)
}

// DocID turns a file name into a usable document ID. Path separators are
// not allowed in IDs, and "." and ".." are reserved.
func DocID(fileName string) string {
	id := strings.NewReplacer("/", "_", "\\", "_").Replace(strings.TrimSpace(fileName))
	switch id {
	case "", ".", "..":
		return "_" + id
	}
	if strings.HasPrefix(id, "__") && strings.HasSuffix(id, "__") {
		return "_" + id + "_"
	}
	return id
}
