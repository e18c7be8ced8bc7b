package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Lllllllleong/accreditationplan/internal/models"
)

// MemoryStore keeps documents in process. Used by tests and by planctl.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[models.DocKey]models.PlanDocument
	// writes counts successful Upserts.
	writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[models.DocKey]models.PlanDocument)}
}

func (s *MemoryStore) Get(_ context.Context, key models.DocKey) (*models.PlanDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[s.norm(key)]
	if !ok {
		return nil, ErrNotFound
	}
	doc.GroupedData = doc.GroupedData.Clone()
	return &doc, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, key models.DocKey, doc *models.PlanDocument) error {
	if !key.Complete() {
		return ErrIncompleteKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[s.norm(key)] = models.PlanDocument{
		GroupedData: doc.GroupedData.Clone(),
		AISummary:   doc.AISummary,
		Timestamp:   doc.Timestamp,
	}
	s.writes++
	return nil
}

func (s *MemoryStore) List(_ context.Context, namespace, userID string) ([]models.DocSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DocSummary
	for k, doc := range s.docs {
		if k.Namespace != namespace || k.UserID != userID {
			continue
		}
		out = append(out, models.DocSummary{FileName: k.FileName, ItemCount: doc.GroupedData.ItemCount(), Timestamp: doc.Timestamp})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Writes reports how many Upserts succeeded.
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *MemoryStore) norm(k models.DocKey) models.DocKey {
	k.FileName = DocID(k.FileName)
	return k
}
