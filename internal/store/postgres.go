package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"newsroom/api/internal/newsdoc"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc newsdoc.Document, actor string) (Document, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return Document{}, fmt.Errorf("encode document: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin create document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	item := Document{ID: doc.UUID, Version: 1, Body: doc, CreatedBy: actor, UpdatedBy: actor}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO documents (id, doc_type, title, language, body, version, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5::jsonb, 1, $6, $6)
		RETURNING created_at, updated_at
	`, doc.UUID, doc.Type, doc.Title, doc.Language, string(body), actor).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Document{}, ErrExists
		}
		return Document{}, fmt.Errorf("insert document: %w", err)
	}

	if err := insertVersion(ctx, tx, doc.UUID, 1, body, actor); err != nil {
		return Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit create document: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) SaveDocument(ctx context.Context, doc newsdoc.Document, actor string) (Document, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return Document{}, fmt.Errorf("encode document: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin save document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	item := Document{ID: doc.UUID, Body: doc, UpdatedBy: actor}
	err = tx.QueryRowContext(ctx, `
		UPDATE documents
		SET doc_type=$2, title=$3, language=$4, body=$5::jsonb, version=version+1, updated_by=$6, updated_at=NOW()
		WHERE id=$1
		RETURNING version, created_by, created_at, updated_at
	`, doc.UUID, doc.Type, doc.Title, doc.Language, string(body), actor).Scan(&item.Version, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("update document: %w", err)
	}

	if err := insertVersion(ctx, tx, doc.UUID, item.Version, body, actor); err != nil {
		return Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit save document: %w", err)
	}
	return item, nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, id string, version int64, body []byte, actor string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO document_versions (document_id, version, body, created_by)
		VALUES ($1, $2, $3::jsonb, $4)
	`, id, version, string(body), actor)
	if err != nil {
		return fmt.Errorf("insert document version: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	var (
		item Document
		body string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, version, body::text, created_by, updated_by, created_at, updated_at
		FROM documents
		WHERE id=$1
	`, id).Scan(&item.ID, &item.Version, &body, &item.CreatedBy, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	if err := json.Unmarshal([]byte(body), &item.Body); err != nil {
		return Document{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	return item, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, id string, version int64) (Version, error) {
	var (
		item Version
		body string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT document_id, version, body::text, created_by, created_at
		FROM document_versions
		WHERE document_id=$1 AND version=$2
	`, id, version).Scan(&item.DocumentID, &item.Version, &body, &item.CreatedBy, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, ErrNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("get document version: %w", err)
	}
	if err := json.Unmarshal([]byte(body), &item.Body); err != nil {
		return Version{}, fmt.Errorf("decode document %s version %d: %w", id, version, err)
	}
	return item, nil
}

// ListVersions returns the newest versions first.
func (s *PostgresStore) ListVersions(ctx context.Context, id string, limit int) ([]Version, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, version, body::text, created_by, created_at
		FROM document_versions
		WHERE document_id=$1
		ORDER BY version DESC
		LIMIT $2
	`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list document versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		var (
			item Version
			body string
		)
		if err := rows.Scan(&item.DocumentID, &item.Version, &body, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document version: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &item.Body); err != nil {
			return nil, fmt.Errorf("decode document %s version %d: %w", id, item.Version, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document versions: %w", err)
	}
	return items, nil
}
