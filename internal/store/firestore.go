package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/accreditationplan/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps one document per user and file under
// artifacts/{namespace}/users/{user}/pps_data/{file}.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) files(namespace, userID string) *firestore.CollectionRef {
	return s.client.Collection("artifacts").Doc(namespace).Collection("users").Doc(userID).Collection("pps_data")
}

func (s *FirestoreStore) doc(key models.DocKey) *firestore.DocumentRef {
	return s.files(key.Namespace, key.UserID).Doc(DocID(key.FileName))
}

func (s *FirestoreStore) Get(ctx context.Context, key models.DocKey) (*models.PlanDocument, error) {
	if !key.Complete() {
		return nil, ErrIncompleteKey
	}
	snap, err := s.doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan document %s: %w", key.FileName, err)
	}
	doc, err := decodePlan(snap.Data())
	if err != nil {
		return nil, fmt.Errorf("failed to decode plan document %s: %w", key.FileName, err)
	}
	return doc, nil
}

// decodePlan reads a document through its JSON form, so documents written
// by the browser client (numeric cells, extra columns, no order lists)
// decode the same way ours do.
func decodePlan(data map[string]interface{}) (*models.PlanDocument, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var doc models.PlanDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// encodePlan lays doc out the way the browser client stores it: the
// chapter map is groupedData itself.
func encodePlan(key models.DocKey, doc *models.PlanDocument) map[string]interface{} {
	var (
		chapters map[string]*models.Chapter
		order    []string
	)
	if doc.GroupedData != nil {
		chapters, order = doc.GroupedData.Chapters, doc.GroupedData.Order
	}
	if chapters == nil {
		chapters = map[string]*models.Chapter{}
	}
	return map[string]interface{}{
		"groupedData":  chapters,
		"chapterOrder": order,
		"aiSummary":    doc.AISummary,
		"timestamp":    doc.Timestamp,
		"fileName":     key.FileName,
	}
}

// Upsert writes only the plan fields, so anything else a client stored on
// the document survives.
func (s *FirestoreStore) Upsert(ctx context.Context, key models.DocKey, doc *models.PlanDocument) error {
	if !key.Complete() {
		return ErrIncompleteKey
	}
	_, err := s.doc(key).Set(ctx, encodePlan(key, doc), firestore.Merge(
		[]string{"groupedData"},
		[]string{"chapterOrder"},
		[]string{"aiSummary"},
		[]string{"timestamp"},
		[]string{"fileName"},
	))
	if err != nil {
		return fmt.Errorf("failed to upsert plan document %s: %w", key.FileName, err)
	}
	return nil
}

func (s *FirestoreStore) List(ctx context.Context, namespace, userID string) ([]models.DocSummary, error) {
	iter := s.files(namespace, userID).Documents(ctx)
	defer iter.Stop()

	var out []models.DocSummary
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list plan documents: %w", err)
		}
		data := snap.Data()
		doc, err := decodePlan(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode plan document %s: %w", snap.Ref.ID, err)
		}
		name, _ := data["fileName"].(string)
		if name == "" {
			name = snap.Ref.ID
		}
		out = append(out, models.DocSummary{FileName: name, ItemCount: doc.GroupedData.ItemCount(), Timestamp: doc.Timestamp})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}
