package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/contaflow/invoice-pipeline/internal/models"
)

// Memory is a mutex-guarded in-process Store. It backs tests and
// "OCR-only" deployments without a database.
type Memory struct {
	mu          sync.Mutex
	documents   map[string]*models.Document
	extractions map[string]*models.ExtractionResult
	entries     map[string]*models.Entry
	dedupe      map[string]dedupeRow
	reviews     map[string]*models.ReviewItem
	retries     map[string]*models.RetryItem
	audit       []*models.AuditEvent
}

type dedupeRow struct {
	tenant      string
	supplierNIF string
	invNumber   string
	invDate     string
	gross       decimal.Decimal
}

func NewMemory() *Memory {
	return &Memory{
		documents:   map[string]*models.Document{},
		extractions: map[string]*models.ExtractionResult{},
		entries:     map[string]*models.Entry{},
		dedupe:      map[string]dedupeRow{},
		reviews:     map[string]*models.ReviewItem{},
		retries:     map[string]*models.RetryItem{},
	}
}

func (m *Memory) UpsertDocument(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *doc
	m.documents[doc.ID] = &cp
	return nil
}

func (m *Memory) GetDocument(_ context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *Memory) UpdateDocument(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[doc.ID]; !ok {
		return ErrNotFound
	}
	cp := *doc
	cp.UpdatedAt = time.Now().UTC()
	m.documents[doc.ID] = &cp
	return nil
}

func (m *Memory) ListDocumentsByStatus(_ context.Context, tenant string, status models.DocStatus) ([]*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Document
	for _, doc := range m.documents {
		if doc.Status != status {
			continue
		}
		if tenant != "" && doc.Tenant != tenant {
			continue
		}
		cp := *doc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return out, nil
}

func (m *Memory) SaveExtraction(_ context.Context, docID string, res *models.ExtractionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *res
	m.extractions[docID] = &cp
	return nil
}

func (m *Memory) GetExtraction(_ context.Context, docID string) (*models.ExtractionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.extractions[docID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *res
	return &cp, nil
}

func (m *Memory) SaveEntry(_ context.Context, entry *models.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.entries[entry.DocumentID] = &cp
	return nil
}

func (m *Memory) GetEntry(_ context.Context, docID string) (*models.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[docID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (m *Memory) UpsertDedupe(_ context.Context, docID, tenant, supplierNIF, invNumber, invDate string, gross decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dedupe[docID] = dedupeRow{
		tenant:      tenant,
		supplierNIF: supplierNIF,
		invNumber:   invNumber,
		invDate:     invDate,
		gross:       gross,
	}
	return nil
}

func (m *Memory) FindDuplicates(_ context.Context, tenant, supplierNIF, invNumber string, gross decimal.Decimal, lookbackDays int) ([]DuplicateHit, error) {
	if supplierNIF == "" {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -lookbackDays).Format("2006-01-02")
	tolerance := decimal.NewFromFloat(0.01)
	var hits []DuplicateHit
	for docID, row := range m.dedupe {
		if row.tenant != tenant || row.supplierNIF != supplierNIF {
			continue
		}
		if row.invDate < cutoff {
			continue
		}
		numberMatch := invNumber != "" && row.invNumber == invNumber
		grossMatch := row.gross.Sub(gross).Abs().LessThanOrEqual(tolerance)
		if numberMatch || grossMatch {
			hits = append(hits, DuplicateHit{
				DocumentID:    docID,
				InvoiceNumber: row.invNumber,
				InvoiceDate:   row.invDate,
				Gross:         row.gross,
			})
		}
	}
	return hits, nil
}

func (m *Memory) AddReview(_ context.Context, item *models.ReviewItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	m.reviews[item.DocumentID] = &cp
	return nil
}

func (m *Memory) RemoveReview(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reviews, docID)
	return nil
}

func (m *Memory) ListReviews(_ context.Context, tenant string, limit, offset int) ([]*models.ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ReviewItem
	for _, item := range m.reviews {
		if tenant != "" && item.Tenant != tenant {
			continue
		}
		cp := *item
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) EnqueueRetry(_ context.Context, item *models.RetryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.retries[item.DocumentID]; ok {
		item.Attempts = existing.Attempts + 1
	}
	cp := *item
	m.retries[item.DocumentID] = &cp
	return nil
}

func (m *Memory) ListRetries(_ context.Context, limit int) ([]*models.RetryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RetryItem
	for _, item := range m.retries {
		cp := *item
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextTry.Before(out[j].NextTry) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ResolveRetry(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.retries, docID)
	return nil
}

func (m *Memory) AddAudit(_ context.Context, ev *models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *Memory) ListAudit(_ context.Context, docID string) ([]*models.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditEvent
	for _, ev := range m.audit {
		if ev.DocumentID == docID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) Close() {}
