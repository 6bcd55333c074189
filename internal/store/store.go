// Package store persists documents, entries and the supporting
// queues. The Postgres implementation is the production path; the
// memory implementation backs tests and store-less deployments.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/contaflow/invoice-pipeline/internal/models"
)

// ErrNotFound is returned when a lookup finds nothing.
var ErrNotFound = errors.New("not found")

// DuplicateHit is one dedupe-index row matching a duplicate probe.
type DuplicateHit struct {
	DocumentID    string
	InvoiceNumber string
	InvoiceDate   string
	Gross         decimal.Decimal
}

type Store interface {
	// documents
	UpsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
	ListDocumentsByStatus(ctx context.Context, tenant string, status models.DocStatus) ([]*models.Document, error)

	// raw OCR output, kept so reprocessing never re-runs OCR
	SaveExtraction(ctx context.Context, docID string, res *models.ExtractionResult) error
	GetExtraction(ctx context.Context, docID string) (*models.ExtractionResult, error)

	// proposed journal entries
	SaveEntry(ctx context.Context, entry *models.Entry) error
	GetEntry(ctx context.Context, docID string) (*models.Entry, error)

	// duplicate index
	UpsertDedupe(ctx context.Context, docID, tenant, supplierNIF, invNumber, invDate string, gross decimal.Decimal) error
	FindDuplicates(ctx context.Context, tenant, supplierNIF, invNumber string, gross decimal.Decimal, lookbackDays int) ([]DuplicateHit, error)

	// human review queue
	AddReview(ctx context.Context, item *models.ReviewItem) error
	RemoveReview(ctx context.Context, docID string) error
	ListReviews(ctx context.Context, tenant string, limit, offset int) ([]*models.ReviewItem, error)

	// transient-failure retry queue
	EnqueueRetry(ctx context.Context, item *models.RetryItem) error
	ListRetries(ctx context.Context, limit int) ([]*models.RetryItem, error)
	ResolveRetry(ctx context.Context, docID string) error

	// audit trail
	AddAudit(ctx context.Context, ev *models.AuditEvent) error
	ListAudit(ctx context.Context, docID string) ([]*models.AuditEvent, error)

	Close()
}
