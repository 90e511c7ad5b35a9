// Package storage persists documents, embedding records and search analytics.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/jinzai/internal/models"
)

var (
	// ErrNotClaimable indicates a claim or a processing-only update found the document in another state.
	ErrNotClaimable = errors.New("document is not claimable")

	// ErrAlreadyExists indicates a document with the same ID is already stored.
	ErrAlreadyExists = errors.New("document already exists")
)

// EmbeddingFilter selects embedding records. Zero values match everything.
type EmbeddingFilter struct {
	DocumentIDs []string
	FieldTypes  []models.FieldType
}

// EmbeddingsVersion changes whenever embedding records are added or removed, including by
// another process sharing the database. Latest is the newest record's created_at in Unix
// nanoseconds.
type EmbeddingsVersion struct {
	Count  int64
	Latest int64
}

// Storage is the record store behind ingestion and search.
//
// Every failure to reach the database wraps models.ErrStorage; lookups of missing rows wrap
// models.ErrNotFound. Writes are visible to subsequent reads from the same process.
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, filter models.DocumentFilter, offset, limit int) ([]*models.Document, error)
	CountDocuments(ctx context.Context, filter models.DocumentFilter) (int64, error)
	CountByStatus(ctx context.Context) (map[models.Status]int64, error)

	// Ingestion state changes. Claim is the only write path into processing; the others
	// only apply to a document that is still processing.
	ClaimDocument(ctx context.Context, id string, staleBefore time.Time) (*models.Document, error)
	ReleaseDocument(ctx context.Context, id string) error
	CompleteDocument(ctx context.Context, doc *models.Document, records []*models.EmbeddingRecord) error
	FailDocument(ctx context.Context, doc *models.Document) error
	RequeueDocument(ctx context.Context, doc *models.Document) error
	RecoverStale(ctx context.Context, staleBefore time.Time) (int64, error)

	// Embedding records
	ListEmbeddings(ctx context.Context, filter EmbeddingFilter) ([]*models.EmbeddingRecord, error)
	GetEmbeddingsByDocumentID(ctx context.Context, docID string) ([]*models.EmbeddingRecord, error)
	DeleteEmbeddingsByDocumentID(ctx context.Context, docID string) error
	CountEmbeddings(ctx context.Context) (int64, error)
	EmbeddingsVersion(ctx context.Context) (EmbeddingsVersion, error)

	// Search analytics
	CreateSearchQuery(ctx context.Context, rec *models.SearchQueryRecord) error
	UpdateSearchQueryFeedback(ctx context.Context, id string, feedback models.Feedback, note string) error
	ListSearchQueries(ctx context.Context, offset, limit int) ([]*models.SearchQueryRecord, error)

	Close() error
}
