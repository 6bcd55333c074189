// Package pipeline drives a document through OCR, accounting rules,
// confidence fusion and the routing decision, persisting every state
// transition.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/contaflow/invoice-pipeline/internal/models"
	"github.com/contaflow/invoice-pipeline/internal/ocr"
	"github.com/contaflow/invoice-pipeline/internal/policy"
	"github.com/contaflow/invoice-pipeline/internal/rules"
	"github.com/contaflow/invoice-pipeline/internal/store"
)

// Confidence fusion weights. Missing inputs are dropped and the
// remaining weights renormalized.
const (
	weightOCR   = 0.35
	weightEntry = 0.40
	weightLLM   = 0.25
)

const retryDelay = 5 * time.Minute

// ObjectStore stores the original upload. Satisfied by
// storage.Storage; nil disables upload.
type ObjectStore interface {
	UploadDocument(ctx context.Context, tenant, docID, filename string, data []byte, contentType string) (string, error)
}

// Exporter ships an approved entry to the ERP. Satisfied by
// export.Adapter implementations; nil leaves documents in ENTRY_READY.
type Exporter interface {
	Name() string
	ExportEntry(ctx context.Context, docID string, entry *models.Entry) (string, error)
}

// Config holds the routing thresholds.
type Config struct {
	// MinConfEntry is the review floor: global confidence below it
	// queues the document for review. Default 0.85.
	MinConfEntry float64
	// ConfidenceMinOK is the LOW_CONFIDENCE floor. Default 0.80.
	ConfidenceMinOK float64
}

// Pipeline is the document orchestrator.
type Pipeline struct {
	store    store.Store
	gateway  *ocr.Gateway
	engine   *rules.Engine
	policies *policy.Loader
	objects  ObjectStore
	exporter Exporter
	cfg      Config
}

func New(st store.Store, gw *ocr.Gateway, engine *rules.Engine, policies *policy.Loader,
	objects ObjectStore, exporter Exporter, cfg Config) *Pipeline {
	if cfg.MinConfEntry <= 0 {
		cfg.MinConfEntry = 0.85
	}
	if cfg.ConfidenceMinOK <= 0 {
		cfg.ConfidenceMinOK = 0.80
	}
	return &Pipeline{
		store:    st,
		gateway:  gw,
		engine:   engine,
		policies: policies,
		objects:  objects,
		exporter: exporter,
		cfg:      cfg,
	}
}

// ProcessBytes runs the full pipeline for one uploaded file. The
// returned document carries the outcome; an error is returned only for
// store failures that leave no usable document behind.
func (p *Pipeline) ProcessBytes(ctx context.Context, data []byte, filename, tenant string,
	meta models.Metadata, force bool) (*models.Document, error) {

	docID := ocr.ContentHash(data)

	existing, err := p.store.GetDocument(ctx, docID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up document %s: %w", docID, err)
	}
	if existing != nil && !force && !reprocessable(existing.Status) {
		log.Printf("document %s already processed (status %s), skipping", docID, existing.Status)
		return existing, nil
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:         docID,
		Tenant:     tenant,
		Filename:   filename,
		Status:     models.StatusReceived,
		ReceivedAt: now,
		UpdatedAt:  now,
	}
	if existing != nil {
		doc.ReceivedAt = existing.ReceivedAt
		doc.ObjectKey = existing.ObjectKey
	}
	if err := p.store.UpsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to persist document %s: %w", docID, err)
	}
	p.audit(ctx, docID, "RECEIVED", "", string(models.StatusReceived))

	if p.objects != nil && doc.ObjectKey == "" {
		key, err := p.objects.UploadDocument(ctx, tenant, docID, filename, data, http.DetectContentType(data))
		if err != nil {
			log.Printf("warning: upload of %s failed: %v", docID, err)
		} else {
			doc.ObjectKey = key
		}
	}

	// tenant policy can tighten the premium threshold
	pol := p.policies.Get(tenant)
	if pol.PremiumGross.IsPositive() {
		meta.PremiumGross = pol.PremiumGross
	}

	ocrStart := time.Now()
	res, err := p.gateway.Analyze(ctx, data)
	if err != nil {
		return p.failOCR(ctx, doc, err)
	}
	ocrAt := time.Now().UTC()
	doc.OCRAt = &ocrAt
	doc.OCRProvider = p.gateway.Provider()
	doc.OCRLatencyMS = time.Since(ocrStart).Milliseconds()
	if res.DurationMS > 0 {
		doc.OCRLatencyMS = res.DurationMS
	}
	doc.ConfidenceOCR = res.Confidence
	doc.Status = models.StatusOCROK
	if res.PageCount == 0 {
		doc.Issues = rules.AppendIssue(doc.Issues, rules.IssuePageCountZero)
	}

	if err := p.store.SaveExtraction(ctx, docID, res); err != nil {
		return nil, fmt.Errorf("failed to persist extraction for %s: %w", docID, err)
	}
	if err := p.store.UpdateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to update document %s: %w", docID, err)
	}
	p.audit(ctx, docID, "OCR", string(models.StatusReceived), string(models.StatusOCROK))

	inv := models.FromExtraction(tenant, res, meta)
	return p.ruleAndRoute(ctx, doc, inv)
}

// Reprocess re-runs rules, fusion and routing against the persisted
// OCR output. The gateway is never called again.
func (p *Pipeline) Reprocess(ctx context.Context, docID string, meta models.Metadata) (*models.Document, error) {
	doc, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.Status.Terminal() {
		return nil, fmt.Errorf("document %s is already posted", docID)
	}
	res, err := p.store.GetExtraction(ctx, docID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("document %s has no stored extraction to reprocess", docID)
		}
		return nil, err
	}

	if err := p.store.RemoveReview(ctx, docID); err != nil {
		log.Printf("warning: failed to dequeue review for %s: %v", docID, err)
	}

	pol := p.policies.Get(doc.Tenant)
	if pol.PremiumGross.IsPositive() && !meta.PremiumGross.IsPositive() {
		meta.PremiumGross = pol.PremiumGross
	}

	doc.Issues = nil
	doc.ErrorMessage = ""
	if res.PageCount == 0 {
		doc.Issues = rules.AppendIssue(doc.Issues, rules.IssuePageCountZero)
	}
	doc.Status = models.StatusOCROK

	inv := models.FromExtraction(doc.Tenant, res, meta)
	p.audit(ctx, docID, "REPROCESS", "", string(models.StatusOCROK))
	return p.ruleAndRoute(ctx, doc, inv)
}

// ruleAndRoute runs the rules engine, fuses confidences and makes the
// routing decision, finishing the document in ENTRY_READY/POSTED,
// REVIEW_PENDING or ERROR.
func (p *Pipeline) ruleAndRoute(ctx context.Context, doc *models.Document, inv *models.Invoice) (*models.Document, error) {
	if inv.Metadata.DocType == "" {
		inv.Metadata.DocType = rules.ClassifyDocType(inv)
	}

	eval, err := p.engine.Evaluate(ctx, doc.ID, inv)
	if err != nil {
		doc.Status = models.StatusError
		doc.ErrorMessage = err.Error()
		if uerr := p.store.UpdateDocument(ctx, doc); uerr != nil {
			log.Printf("failed to stamp ERROR on %s: %v", doc.ID, uerr)
		}
		p.audit(ctx, doc.ID, "RULES", string(models.StatusOCROK), string(models.StatusError))
		return doc, nil
	}

	ruledAt := time.Now().UTC()
	doc.RuledAt = &ruledAt
	doc.DocType = inv.Metadata.DocType
	doc.SupplierNIF = eval.Entry.SupplierNIF
	doc.InvoiceNumber = eval.Entry.InvoiceNumber
	doc.ConfidenceEntry = eval.Confidence
	for _, code := range eval.Issues {
		doc.Issues = rules.AppendIssue(doc.Issues, code)
	}
	if eval.LLM != nil {
		doc.LLMProvider = eval.LLM.Provider
		doc.LLMModel = eval.LLM.Model
		doc.ConfidenceLLM = eval.LLM.Confidence
	}

	var llmConf *float64
	if eval.LLM != nil && eval.LLM.Confidence > 0 {
		llmConf = &eval.LLM.Confidence
	}
	doc.ConfidenceGlobal = FuseConfidence(doc.ConfidenceOCR, eval.Confidence, llmConf)
	if doc.ConfidenceGlobal < p.cfg.ConfidenceMinOK {
		doc.Issues = rules.AppendIssue(doc.Issues, rules.IssueLowConfidence)
	}

	// tenant policy overrides
	overrides := p.policies.Overrides(doc.Tenant, inv.Metadata.Category)
	for _, code := range overrides {
		doc.Issues = rules.AppendIssue(doc.Issues, code)
	}

	reasons := reviewReasons(doc, eval, p.cfg.MinConfEntry, overrides)
	if len(reasons) > 0 {
		doc.Status = models.StatusReviewPending
		if err := p.store.AddReview(ctx, &models.ReviewItem{
			DocumentID: doc.ID,
			Tenant:     doc.Tenant,
			Reasons:    reasons,
			Labels:     rules.IssuesToMessages(doc.Issues),
		}); err != nil {
			log.Printf("warning: failed to queue review for %s: %v", doc.ID, err)
		}
		if err := p.store.UpdateDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("failed to update document %s: %w", doc.ID, err)
		}
		p.audit(ctx, doc.ID, "ROUTE", string(models.StatusOCROK), string(models.StatusReviewPending))
		return doc, nil
	}

	doc.Status = models.StatusEntryReady
	if err := p.store.UpdateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to update document %s: %w", doc.ID, err)
	}
	p.audit(ctx, doc.ID, "ROUTE", string(models.StatusOCROK), string(models.StatusEntryReady))

	if p.exporter == nil {
		return doc, nil
	}

	location, err := p.exporter.ExportEntry(ctx, doc.ID, eval.Entry)
	if err != nil {
		log.Printf("export of %s failed: %v", doc.ID, err)
		doc.Status = models.StatusError
		doc.ErrorMessage = err.Error()
		doc.Issues = rules.AppendIssue(doc.Issues, rules.IssueExportError)
		if uerr := p.store.UpdateDocument(ctx, doc); uerr != nil {
			return nil, fmt.Errorf("failed to update document %s: %w", doc.ID, uerr)
		}
		p.audit(ctx, doc.ID, "EXPORT", string(models.StatusEntryReady), string(models.StatusError))
		return doc, nil
	}

	postedAt := time.Now().UTC()
	doc.PostedAt = &postedAt
	doc.Status = models.StatusPosted
	if err := p.store.UpdateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to update document %s: %w", doc.ID, err)
	}
	if err := p.store.RemoveReview(ctx, doc.ID); err != nil {
		log.Printf("warning: failed to dequeue review for %s: %v", doc.ID, err)
	}
	if err := p.store.ResolveRetry(ctx, doc.ID); err != nil {
		log.Printf("warning: failed to resolve retry for %s: %v", doc.ID, err)
	}
	p.audit(ctx, doc.ID, "EXPORT", string(models.StatusEntryReady), string(models.StatusPosted))
	log.Printf("document %s posted via %s (%s)", doc.ID, p.exporter.Name(), location)
	return doc, nil
}

// failOCR stamps the document ERROR according to the gateway's error
// taxonomy. Transient failures additionally join the retry queue.
func (p *Pipeline) failOCR(ctx context.Context, doc *models.Document, err error) (*models.Document, error) {
	doc.Status = models.StatusError
	doc.ErrorMessage = err.Error()

	var transient *ocr.TransientError
	switch {
	case errors.Is(err, ocr.ErrProviderDegraded):
		doc.Issues = rules.AppendIssue(doc.Issues, rules.IssueProviderDegraded)
	case errors.As(err, &transient):
		doc.Issues = rules.AppendIssue(doc.Issues, rules.IssueOCRTempError)
		if qerr := p.store.EnqueueRetry(ctx, &models.RetryItem{
			DocumentID: doc.ID,
			Tenant:     doc.Tenant,
			Reason:     transient.Reason,
			NextTry:    time.Now().Add(retryDelay),
		}); qerr != nil {
			log.Printf("warning: failed to enqueue retry for %s: %v", doc.ID, qerr)
		}
	}

	if uerr := p.store.UpdateDocument(ctx, doc); uerr != nil {
		return nil, fmt.Errorf("failed to stamp ERROR on %s: %w", doc.ID, uerr)
	}
	p.audit(ctx, doc.ID, "OCR", string(models.StatusReceived), string(models.StatusError))
	return doc, nil
}

// reviewReasons collects the issue codes that force human review.
func reviewReasons(doc *models.Document, eval *rules.Evaluation, minConf float64, overrides []string) []string {
	var reasons []string
	if eval.Duplicate {
		if rules.HasIssue(doc.Issues, rules.IssueDupNIFNumber) {
			reasons = append(reasons, rules.IssueDupNIFNumber)
		}
		if rules.HasIssue(doc.Issues, rules.IssueDupNIFGross) {
			reasons = append(reasons, rules.IssueDupNIFGross)
		}
	}
	if doc.ConfidenceGlobal < minConf {
		reasons = append(reasons, rules.IssueLowConfidence)
	}
	for _, code := range doc.Issues {
		if rules.HardIssues[code] || rules.ReviewAlways[code] {
			reasons = append(reasons, code)
		}
	}
	reasons = append(reasons, overrides...)

	var deduped []string
	for _, code := range reasons {
		deduped = rules.AppendIssue(deduped, code)
	}
	return deduped
}

// FuseConfidence combines the OCR, entry and advisor confidences,
// renormalizing the weights over the inputs that are present.
func FuseConfidence(ocrConf, entryConf float64, llmConf *float64) float64 {
	sum := entryConf * weightEntry
	weights := weightEntry
	if ocrConf > 0 {
		sum += ocrConf * weightOCR
		weights += weightOCR
	}
	if llmConf != nil {
		sum += *llmConf * weightLLM
		weights += weightLLM
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

func reprocessable(s models.DocStatus) bool {
	return s == models.StatusError || s == models.StatusReviewPending
}

func (p *Pipeline) audit(ctx context.Context, docID, step, before, after string) {
	if err := p.store.AddAudit(ctx, &models.AuditEvent{
		DocumentID: docID,
		Step:       step,
		Actor:      "system",
		Before:     before,
		After:      after,
	}); err != nil {
		log.Printf("warning: failed to record audit %s for %s: %v", step, docID, err)
	}
}
