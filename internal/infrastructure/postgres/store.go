// Package postgres provides PostgreSQL persistence for documents, processed
// records, cached model responses, and question history.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Document is a stored clinical note with its processing results.
type Document struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Content       string          `json:"content"`
	StructuredRec json.RawMessage `json:"structured_record,omitempty"`
	FHIRBundle    json.RawMessage `json:"fhir_bundle,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Store persists documents and derived artifacts.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStore creates a store.
func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id               UUID PRIMARY KEY,
	title            TEXT NOT NULL,
	content          TEXT NOT NULL,
	structured_record JSONB,
	fhir_bundle      JSONB,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS llm_responses (
	input_hash  TEXT NOT NULL,
	operation   TEXT NOT NULL,
	response    BYTEA NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (input_hash, operation)
);

CREATE TABLE IF NOT EXISTS questions (
	id          UUID PRIMARY KEY,
	question    TEXT NOT NULL,
	answer      TEXT NOT NULL,
	sources     JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS event_outbox (
	id           BIGSERIAL PRIMARY KEY,
	document_id  UUID NOT NULL,
	event_type   TEXT NOT NULL,
	payload      JSONB NOT NULL,
	kafka_topic  TEXT NOT NULL,
	kafka_key    TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at TIMESTAMPTZ,
	retry_count  INT NOT NULL DEFAULT 0,
	last_error   TEXT
);

CREATE INDEX IF NOT EXISTS idx_event_outbox_pending
	ON event_outbox (created_at) WHERE processed_at IS NULL;
`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// CreateDocument inserts a document and returns it with generated fields.
func (s *Store) CreateDocument(ctx context.Context, title, content string) (*Document, error) {
	doc := &Document{ID: uuid.NewString(), Title: title, Content: content}

	query := `
		INSERT INTO documents (id, title, content)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`
	err := s.pool.QueryRow(ctx, query, doc.ID, doc.Title, doc.Content).
		Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}

	s.logger.Info("document created", zap.String("id", doc.ID), zap.String("title", title))
	return doc, nil
}

// GetDocument fetches a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	query := `
		SELECT id, title, content, structured_record, fhir_bundle, created_at, updated_at
		FROM documents
		WHERE id = $1
	`
	doc := &Document{}
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&doc.ID, &doc.Title, &doc.Content,
		&doc.StructuredRec, &doc.FHIRBundle,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns all documents newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]*Document, error) {
	query := `
		SELECT id, title, content, structured_record, fhir_bundle, created_at, updated_at
		FROM documents
		ORDER BY created_at DESC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc := &Document{}
		err := rows.Scan(
			&doc.ID, &doc.Title, &doc.Content,
			&doc.StructuredRec, &doc.FHIRBundle,
			&doc.CreatedAt, &doc.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveResults stores the processing output for a document and writes the
// corresponding events to the outbox in the same transaction.
func (s *Store) SaveResults(ctx context.Context, id string, record, bundle json.RawMessage, events ...*OutboxEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE documents
		SET structured_record = $1, fhir_bundle = $2, updated_at = NOW()
		WHERE id = $3
	`
	result, err := tx.Exec(ctx, query, record, bundle, id)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	for _, event := range events {
		if err := WriteEntry(ctx, tx, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
