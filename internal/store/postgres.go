package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/contaflow/invoice-pipeline/internal/models"
)

// Postgres is the production Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, verifies the connection and creates the schema
// if it does not exist yet.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings optimized for PgBouncer
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Println("Database connection pool initialized successfully")
	return p, nil
}

func (p *Postgres) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL,
			filename TEXT,
			object_key TEXT,
			status TEXT NOT NULL,
			doc_type TEXT,
			supplier_nif TEXT,
			invoice_number TEXT,
			ocr_provider TEXT,
			ocr_latency_ms BIGINT,
			llm_provider TEXT,
			llm_model TEXT,
			conf_ocr DOUBLE PRECISION,
			conf_entry DOUBLE PRECISION,
			conf_llm DOUBLE PRECISION,
			conf_global DOUBLE PRECISION,
			issues JSONB,
			error_message TEXT,
			received_at TIMESTAMPTZ NOT NULL,
			ocr_at TIMESTAMPTZ,
			ruled_at TIMESTAMPTZ,
			posted_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_tenant_status ON documents (tenant, status)`,
		`CREATE TABLE IF NOT EXISTS extractions (
			document_id TEXT PRIMARY KEY,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			document_id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL,
			invoice_number TEXT,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS dedupe (
			document_id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL,
			supplier_nif TEXT NOT NULL,
			invoice_number TEXT,
			invoice_date TEXT,
			gross DOUBLE PRECISION,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dedupe_tenant_nif ON dedupe (tenant, supplier_nif)`,
		`CREATE TABLE IF NOT EXISTS review_queue (
			id UUID PRIMARY KEY,
			document_id TEXT NOT NULL UNIQUE,
			tenant TEXT NOT NULL,
			reasons JSONB,
			labels JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS retry_queue (
			document_id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL,
			reason TEXT,
			attempts INT NOT NULL DEFAULT 0,
			next_try TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_trail (
			id UUID PRIMARY KEY,
			document_id TEXT NOT NULL,
			step TEXT NOT NULL,
			actor TEXT,
			before_state TEXT,
			after_state TEXT,
			at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_document ON audit_trail (document_id)`,
	}
	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

const documentColumns = `id, tenant, COALESCE(filename, ''), COALESCE(object_key, ''), status,
	COALESCE(doc_type, ''), COALESCE(supplier_nif, ''), COALESCE(invoice_number, ''),
	COALESCE(ocr_provider, ''), COALESCE(ocr_latency_ms, 0), COALESCE(llm_provider, ''), COALESCE(llm_model, ''),
	COALESCE(conf_ocr, 0), COALESCE(conf_entry, 0), COALESCE(conf_llm, 0), COALESCE(conf_global, 0),
	COALESCE(issues, '[]'::jsonb), COALESCE(error_message, ''),
	received_at, ocr_at, ruled_at, posted_at, updated_at`

func scanDocument(row pgx.Row) (*models.Document, error) {
	var doc models.Document
	var issues []byte
	err := row.Scan(
		&doc.ID, &doc.Tenant, &doc.Filename, &doc.ObjectKey, &doc.Status,
		&doc.DocType, &doc.SupplierNIF, &doc.InvoiceNumber,
		&doc.OCRProvider, &doc.OCRLatencyMS, &doc.LLMProvider, &doc.LLMModel,
		&doc.ConfidenceOCR, &doc.ConfidenceEntry, &doc.ConfidenceLLM, &doc.ConfidenceGlobal,
		&issues, &doc.ErrorMessage,
		&doc.ReceivedAt, &doc.OCRAt, &doc.RuledAt, &doc.PostedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(issues) > 0 {
		if err := json.Unmarshal(issues, &doc.Issues); err != nil {
			return nil, fmt.Errorf("failed to decode issues for %s: %w", doc.ID, err)
		}
	}
	return &doc, nil
}

func (p *Postgres) UpsertDocument(ctx context.Context, doc *models.Document) error {
	issues, err := json.Marshal(doc.Issues)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO documents (
			id, tenant, filename, object_key, status, doc_type, supplier_nif, invoice_number,
			ocr_provider, ocr_latency_ms, llm_provider, llm_model,
			conf_ocr, conf_entry, conf_llm, conf_global,
			issues, error_message, received_at, ocr_at, ruled_at, posted_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		ON CONFLICT (id) DO UPDATE SET
			tenant = EXCLUDED.tenant,
			filename = EXCLUDED.filename,
			object_key = EXCLUDED.object_key,
			status = EXCLUDED.status,
			doc_type = EXCLUDED.doc_type,
			supplier_nif = EXCLUDED.supplier_nif,
			invoice_number = EXCLUDED.invoice_number,
			ocr_provider = EXCLUDED.ocr_provider,
			ocr_latency_ms = EXCLUDED.ocr_latency_ms,
			llm_provider = EXCLUDED.llm_provider,
			llm_model = EXCLUDED.llm_model,
			conf_ocr = EXCLUDED.conf_ocr,
			conf_entry = EXCLUDED.conf_entry,
			conf_llm = EXCLUDED.conf_llm,
			conf_global = EXCLUDED.conf_global,
			issues = EXCLUDED.issues,
			error_message = EXCLUDED.error_message,
			ocr_at = EXCLUDED.ocr_at,
			ruled_at = EXCLUDED.ruled_at,
			posted_at = EXCLUDED.posted_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err = p.pool.Exec(ctx, query,
		doc.ID, doc.Tenant, doc.Filename, doc.ObjectKey, doc.Status, doc.DocType, doc.SupplierNIF, doc.InvoiceNumber,
		doc.OCRProvider, doc.OCRLatencyMS, doc.LLMProvider, doc.LLMModel,
		doc.ConfidenceOCR, doc.ConfidenceEntry, doc.ConfidenceLLM, doc.ConfidenceGlobal,
		issues, doc.ErrorMessage, doc.ReceivedAt, doc.OCRAt, doc.RuledAt, doc.PostedAt, doc.UpdatedAt,
	)
	return err
}

func (p *Postgres) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(p.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (p *Postgres) UpdateDocument(ctx context.Context, doc *models.Document) error {
	doc.UpdatedAt = time.Now().UTC()
	return p.UpsertDocument(ctx, doc)
}

func (p *Postgres) ListDocumentsByStatus(ctx context.Context, tenant string, status models.DocStatus) ([]*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE tenant = $1 AND status = $2 ORDER BY received_at DESC`
	rows, err := p.pool.Query(ctx, query, tenant, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (p *Postgres) SaveExtraction(ctx context.Context, docID string, res *models.ExtractionResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO extractions (document_id, payload) VALUES ($1, $2)
		ON CONFLICT (document_id) DO UPDATE SET payload = EXCLUDED.payload
	`
	_, err = p.pool.Exec(ctx, query, docID, payload)
	return err
}

func (p *Postgres) GetExtraction(ctx context.Context, docID string) (*models.ExtractionResult, error) {
	var payload []byte
	err := p.pool.QueryRow(ctx, `SELECT payload FROM extractions WHERE document_id = $1`, docID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var res models.ExtractionResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("failed to decode extraction for %s: %w", docID, err)
	}
	return &res, nil
}

func (p *Postgres) SaveEntry(ctx context.Context, entry *models.Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO entries (document_id, tenant, invoice_number, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id) DO UPDATE SET
			tenant = EXCLUDED.tenant,
			invoice_number = EXCLUDED.invoice_number,
			payload = EXCLUDED.payload
	`
	_, err = p.pool.Exec(ctx, query, entry.DocumentID, entry.Tenant, entry.InvoiceNumber, payload)
	return err
}

func (p *Postgres) GetEntry(ctx context.Context, docID string) (*models.Entry, error) {
	var payload []byte
	err := p.pool.QueryRow(ctx, `SELECT payload FROM entries WHERE document_id = $1`, docID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var entry models.Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode entry for %s: %w", docID, err)
	}
	return &entry, nil
}

func (p *Postgres) UpsertDedupe(ctx context.Context, docID, tenant, supplierNIF, invNumber, invDate string, gross decimal.Decimal) error {
	grossVal, _ := gross.Float64()
	query := `
		INSERT INTO dedupe (document_id, tenant, supplier_nif, invoice_number, invoice_date, gross, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (document_id) DO UPDATE SET
			tenant = EXCLUDED.tenant,
			supplier_nif = EXCLUDED.supplier_nif,
			invoice_number = EXCLUDED.invoice_number,
			invoice_date = EXCLUDED.invoice_date,
			gross = EXCLUDED.gross,
			updated_at = now()
	`
	_, err := p.pool.Exec(ctx, query, docID, tenant, supplierNIF, invNumber, invDate, grossVal)
	return err
}

func (p *Postgres) FindDuplicates(ctx context.Context, tenant, supplierNIF, invNumber string, gross decimal.Decimal, lookbackDays int) ([]DuplicateHit, error) {
	if supplierNIF == "" {
		return nil, nil
	}
	cutoff := time.Now().AddDate(0, 0, -lookbackDays).Format("2006-01-02")
	grossVal, _ := gross.Float64()
	query := `
		SELECT document_id, COALESCE(invoice_number, ''), COALESCE(invoice_date, ''), COALESCE(gross, 0)
		FROM dedupe
		WHERE tenant = $1 AND supplier_nif = $2 AND invoice_date >= $3
		  AND (($4 <> '' AND invoice_number = $4) OR abs(gross - $5) <= 0.01)
	`
	rows, err := p.pool.Query(ctx, query, tenant, supplierNIF, cutoff, invNumber, grossVal)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []DuplicateHit
	for rows.Next() {
		var hit DuplicateHit
		var grossOut float64
		if err := rows.Scan(&hit.DocumentID, &hit.InvoiceNumber, &hit.InvoiceDate, &grossOut); err != nil {
			return nil, err
		}
		hit.Gross = decimal.NewFromFloat(grossOut)
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (p *Postgres) AddReview(ctx context.Context, item *models.ReviewItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	reasons, err := json.Marshal(item.Reasons)
	if err != nil {
		return err
	}
	labels, err := json.Marshal(item.Labels)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO review_queue (id, document_id, tenant, reasons, labels, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (document_id) DO UPDATE SET
			reasons = EXCLUDED.reasons,
			labels = EXCLUDED.labels,
			created_at = EXCLUDED.created_at
	`
	_, err = p.pool.Exec(ctx, query, item.ID, item.DocumentID, item.Tenant, reasons, labels, item.CreatedAt)
	return err
}

func (p *Postgres) RemoveReview(ctx context.Context, docID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM review_queue WHERE document_id = $1`, docID)
	return err
}

func (p *Postgres) ListReviews(ctx context.Context, tenant string, limit, offset int) ([]*models.ReviewItem, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, document_id, tenant, COALESCE(reasons, '[]'::jsonb), COALESCE(labels, '[]'::jsonb), created_at
		FROM review_queue
		WHERE tenant = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := p.pool.Query(ctx, query, tenant, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.ReviewItem
	for rows.Next() {
		var item models.ReviewItem
		var reasons, labels []byte
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.Tenant, &reasons, &labels, &item.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(reasons, &item.Reasons); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(labels, &item.Labels); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

func (p *Postgres) EnqueueRetry(ctx context.Context, item *models.RetryItem) error {
	query := `
		INSERT INTO retry_queue (document_id, tenant, reason, attempts, next_try)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id) DO UPDATE SET
			reason = EXCLUDED.reason,
			attempts = retry_queue.attempts + 1,
			next_try = EXCLUDED.next_try
	`
	_, err := p.pool.Exec(ctx, query, item.DocumentID, item.Tenant, item.Reason, item.Attempts, item.NextTry)
	return err
}

func (p *Postgres) ListRetries(ctx context.Context, limit int) ([]*models.RetryItem, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT document_id, tenant, COALESCE(reason, ''), attempts, next_try
		FROM retry_queue
		ORDER BY next_try ASC
		LIMIT $1
	`
	rows, err := p.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.RetryItem
	for rows.Next() {
		var item models.RetryItem
		if err := rows.Scan(&item.DocumentID, &item.Tenant, &item.Reason, &item.Attempts, &item.NextTry); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

func (p *Postgres) ResolveRetry(ctx context.Context, docID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM retry_queue WHERE document_id = $1`, docID)
	return err
}

func (p *Postgres) AddAudit(ctx context.Context, ev *models.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	query := `
		INSERT INTO audit_trail (id, document_id, step, actor, before_state, after_state, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := p.pool.Exec(ctx, query, ev.ID, ev.DocumentID, ev.Step, ev.Actor, ev.Before, ev.After, ev.At)
	return err
}

func (p *Postgres) ListAudit(ctx context.Context, docID string) ([]*models.AuditEvent, error) {
	query := `
		SELECT id, document_id, step, COALESCE(actor, ''), COALESCE(before_state, ''), COALESCE(after_state, ''), at
		FROM audit_trail
		WHERE document_id = $1
		ORDER BY at ASC
	`
	rows, err := p.pool.Query(ctx, query, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		var ev models.AuditEvent
		if err := rows.Scan(&ev.ID, &ev.DocumentID, &ev.Step, &ev.Actor, &ev.Before, &ev.After, &ev.At); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func (p *Postgres) Close() {
	p.pool.Close()
	log.Println("Database connection pool closed")
}
