package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Lllllllleong/accreditationplan/internal/models"
)

// OpenPostgres opens a pooled connection through the pgx stdlib driver and
// checks it with a ping.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS plan_documents (
	namespace  TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	file_name  TEXT NOT NULL,
	body       JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, user_id, file_name)
)`

// PostgresStore keeps each plan document as a JSONB body. Upsert merges at
// the top level with ||, matching the Firestore merge write.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create plan_documents: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key models.DocKey) (*models.PlanDocument, error) {
	if !key.Complete() {
		return nil, ErrIncompleteKey
	}
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM plan_documents WHERE namespace = $1 AND user_id = $2 AND file_name = $3`,
		key.Namespace, key.UserID, key.FileName,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select plan document: %w", err)
	}
	var doc models.PlanDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode plan document %s: %w", key.FileName, err)
	}
	return &doc, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, key models.DocKey, doc *models.PlanDocument) error {
	if !key.Complete() {
		return ErrIncompleteKey
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode plan document: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO plan_documents (namespace, user_id, file_name, body, updated_at)
VALUES ($1, $2, $3, $4::jsonb, $5)
ON CONFLICT (namespace, user_id, file_name)
DO UPDATE SET body = plan_documents.body || EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		key.Namespace, key.UserID, key.FileName, string(body), doc.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert plan document: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, namespace, userID string) ([]models.DocSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT file_name, body -> 'groupedData', updated_at
FROM plan_documents
WHERE namespace = $1 AND user_id = $2
ORDER BY updated_at DESC`, namespace, userID)
	if err != nil {
		return nil, fmt.Errorf("list plan documents: %w", err)
	}
	defer rows.Close()

	var out []models.DocSummary
	for rows.Next() {
		var (
			name    string
			treeRaw []byte
			updated time.Time
		)
		if err := rows.Scan(&name, &treeRaw, &updated); err != nil {
			return nil, fmt.Errorf("scan plan document: %w", err)
		}
		var tree *models.Tree
		if len(treeRaw) > 0 {
			if err := json.Unmarshal(treeRaw, &tree); err != nil {
				return nil, fmt.Errorf("decode tree of %s: %w", name, err)
			}
		}
		out = append(out, models.DocSummary{FileName: name, ItemCount: tree.ItemCount(), Timestamp: updated})
	}
	return out, rows.Err()
}
