package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/contaflow/invoice-pipeline/internal/cache"
	"github.com/contaflow/invoice-pipeline/internal/health"
	"github.com/contaflow/invoice-pipeline/internal/models"
	"github.com/contaflow/invoice-pipeline/internal/monitor"
	"github.com/contaflow/invoice-pipeline/internal/ocr"
	"github.com/contaflow/invoice-pipeline/internal/policy"
	"github.com/contaflow/invoice-pipeline/internal/ratelimit"
	"github.com/contaflow/invoice-pipeline/internal/rules"
	"github.com/contaflow/invoice-pipeline/internal/store"
)

type countingBackend struct {
	inner ocr.Backend
	calls int
}

func (c *countingBackend) Name() string { return c.inner.Name() }

func (c *countingBackend) Analyze(ctx context.Context, data []byte) (*models.ExtractionResult, error) {
	c.calls++
	return c.inner.Analyze(ctx, data)
}

type overloadedBackend struct {
	calls int
}

func (o *overloadedBackend) Name() string { return "docintel" }

func (o *overloadedBackend) Analyze(context.Context, []byte) (*models.ExtractionResult, error) {
	o.calls++
	return nil, &ocr.CallError{StatusCode: 503, Err: errors.New("service overloaded")}
}

type fakeExporter struct {
	calls int
	fail  bool
}

func (f *fakeExporter) Name() string { return "a3innuva" }

func (f *fakeExporter) ExportEntry(_ context.Context, docID string, _ *models.Entry) (string, error) {
	f.calls++
	if f.fail {
		return "", errors.New("export bucket unavailable")
	}
	return "exports/" + docID + ".csv", nil
}

type testEnv struct {
	pipeline *Pipeline
	store    *store.Memory
	health   *health.Registry
	exporter *fakeExporter
	backend  ocr.Backend
}

func newTestEnv(t *testing.T, backend ocr.Backend, attempts int, policyDir string) *testEnv {
	t.Helper()
	st := store.NewMemory()
	hr := health.NewRegistry(map[string]int{"ocr": 3, "llm": 3}, 3)
	gw := ocr.NewGateway(backend, ratelimit.NewBucket(1000), semaphore.NewWeighted(1),
		cache.New(), hr, monitor.New(), ocr.GatewayConfig{Attempts: attempts, CacheEnabled: true})
	engine := rules.NewEngine(st, nil, []rules.VendorRule{{
		Tenant: "acme", SupplierName: "TELEFONICA DE ESPANA", NIF: "A58818501",
		Account: "628100", IVAType: 21,
	}}, rules.EngineConfig{})
	exporter := &fakeExporter{}
	p := New(st, gw, engine, policy.NewLoader(policyDir), nil, exporter, Config{})
	return &testEnv{pipeline: p, store: st, health: hr, exporter: exporter, backend: backend}
}

// cleanPayload is a coherent invoice the dummy backend will echo back.
func cleanPayload(t *testing.T, mutate func(*models.ExtractionResult)) []byte {
	t.Helper()
	res := &models.ExtractionResult{
		SupplierName:  "Telefonica de Espana",
		SupplierNIF:   "A58818501",
		InvoiceNumber: "F-2025-100",
		InvoiceDate:   time.Now().AddDate(0, 0, -10).Format("2006-01-02"),
		Currency:      "EUR",
		Base:          decimal.NewFromFloat(16.53),
		VAT:           decimal.NewFromFloat(3.47),
		Gross:         decimal.NewFromFloat(20),
	}
	if mutate != nil {
		mutate(res)
	}
	data, err := json.Marshal(res)
	require.NoError(t, err)
	return data
}

func TestProcessCleanInvoiceIsPosted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &countingBackend{inner: ocr.DummyBackend{}}, 5, "")

	doc, err := env.pipeline.ProcessBytes(ctx, cleanPayload(t, nil), "factura.pdf", "acme", models.Metadata{}, false)
	require.NoError(t, err)

	assert.Equal(t, models.StatusPosted, doc.Status)
	require.NotNil(t, doc.PostedAt)
	assert.Equal(t, 1, env.exporter.calls)
	assert.Equal(t, "dummy", doc.OCRProvider)
	assert.InDelta(t, 0.95, doc.ConfidenceGlobal, 1e-6)
	assert.NotContains(t, doc.Issues, rules.IssueLowConfidence)

	entry, err := env.store.GetEntry(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, entry.Balanced())

	events, err := env.store.ListAudit(ctx, doc.ID)
	require.NoError(t, err)
	var steps []string
	for _, ev := range events {
		steps = append(steps, ev.Step)
	}
	assert.Equal(t, []string{"RECEIVED", "OCR", "ROUTE", "EXPORT"}, steps)
}

func TestProcessIsIdempotentByContentHash(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{inner: ocr.DummyBackend{}}
	env := newTestEnv(t, backend, 5, "")
	data := cleanPayload(t, nil)

	first, err := env.pipeline.ProcessBytes(ctx, data, "factura.pdf", "acme", models.Metadata{}, false)
	require.NoError(t, err)
	require.Equal(t, models.StatusPosted, first.Status)

	// same bytes again: the posted document comes back untouched
	second, err := env.pipeline.ProcessBytes(ctx, data, "factura.pdf", "acme", models.Metadata{}, false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, backend.calls)

	// even forced, the extraction cache answers without a provider call
	third, err := env.pipeline.ProcessBytes(ctx, data, "factura.pdf", "acme", models.Metadata{}, true)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, 1, backend.calls)
}

func TestProcessRoutesHardIssueToReview(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &countingBackend{inner: ocr.DummyBackend{}}, 5, "")

	data := cleanPayload(t, func(res *models.ExtractionResult) {
		res.Gross = decimal.NewFromFloat(19) // base+vat say 20
	})
	doc, err := env.pipeline.ProcessBytes(ctx, data, "factura.pdf", "acme", models.Metadata{}, false)
	require.NoError(t, err)

	assert.Equal(t, models.StatusReviewPending, doc.Status)
	assert.Contains(t, doc.Issues, rules.IssueAmountMismatch)
	assert.Equal(t, 0, env.exporter.calls)

	reviews, err := env.store.ListReviews(ctx, "acme", 10, 0)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, doc.ID, reviews[0].DocumentID)
	assert.Contains(t, reviews[0].Reasons, rules.IssueAmountMismatch)
	assert.NotEmpty(t, reviews[0].Labels)
}

func TestProcessDegradedProviderFailsFast(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{inner: ocr.DummyBackend{}}
	env := newTestEnv(t, backend, 5, "")

	for i := 0; i < 3; i++ {
		env.health.RecordFailure("ocr", "dummy")
	}

	doc, err := env.pipeline.ProcessBytes(ctx, cleanPayload(t, nil), "factura.pdf", "acme", models.Metadata{}, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, doc.Status)
	assert.Contains(t, doc.Issues, rules.IssueProviderDegraded)
	assert.Equal(t, 0, backend.calls)
}

func TestProcessTransientFailureQueuesRetry(t *testing.T) {
	ctx := context.Background()
	backend := &overloadedBackend{}
	env := newTestEnv(t, backend, 2, "")

	doc, err := env.pipeline.ProcessBytes(ctx, cleanPayload(t, nil), "factura.pdf", "acme", models.Metadata{}, false)
	require.NoError(t, err)

	assert.Equal(t, models.StatusError, doc.Status)
	assert.Contains(t, doc.Issues, rules.IssueOCRTempError)
	assert.Equal(t, 2, backend.calls)

	retries, err := env.store.ListRetries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, retries, 1)
	assert.Equal(t, doc.ID, retries[0].DocumentID)
}

func TestProcessPolicyAutopostDisabled(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme.yaml"), []byte("autopost: false\n"), 0o644))
	env := newTestEnv(t, &countingBackend{inner: ocr.DummyBackend{}}, 5, dir)

	doc, err := env.pipeline.ProcessBytes(ctx, cleanPayload(t, nil), "factura.pdf", "acme", models.Metadata{}, false)
	require.NoError(t, err)

	assert.Equal(t, models.StatusReviewPending, doc.Status)
	assert.Contains(t, doc.Issues, rules.IssuePolicyAutoreview)
	assert.Equal(t, 0, env.exporter.calls)
}

func TestProcessExportFailureNeverPosts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &countingBackend{inner: ocr.DummyBackend{}}, 5, "")
	env.exporter.fail = true

	doc, err := env.pipeline.ProcessBytes(ctx, cleanPayload(t, nil), "factura.pdf", "acme", models.Metadata{}, false)
	require.NoError(t, err)

	assert.Equal(t, models.StatusError, doc.Status)
	assert.Contains(t, doc.Issues, rules.IssueExportError)
	assert.Nil(t, doc.PostedAt)
}

func TestReprocessUsesStoredExtraction(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{inner: ocr.DummyBackend{}}
	env := newTestEnv(t, backend, 5, "")

	// unknown supplier: fallback mapping at 0.60 lands in review
	data := cleanPayload(t, func(res *models.ExtractionResult) {
		res.SupplierName = "Proveedor Desconocido SL"
		res.SupplierNIF = "B12345674"
	})
	doc, err := env.pipeline.ProcessBytes(ctx, data, "factura.pdf", "acme", models.Metadata{}, false)
	require.NoError(t, err)
	require.Equal(t, models.StatusReviewPending, doc.Status)
	require.Equal(t, 1, backend.calls)

	// the operator assigns a category; rules re-run without new OCR
	redone, err := env.pipeline.Reprocess(ctx, doc.ID, models.Metadata{Category: "telefonia"})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.calls)
	assert.Equal(t, models.StatusPosted, redone.Status)
	assert.NotContains(t, redone.Issues, rules.IssueNoRule)

	reviews, err := env.store.ListReviews(ctx, "acme", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, reviews)
}

func TestReprocessWithoutExtractionFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &countingBackend{inner: ocr.DummyBackend{}}, 5, "")

	doc := &models.Document{ID: "deadbeef", Tenant: "acme", Status: models.StatusError,
		ReceivedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, env.store.UpsertDocument(ctx, doc))

	_, err := env.pipeline.Reprocess(ctx, "deadbeef", models.Metadata{})
	assert.Error(t, err)
}

func TestReprocessRefusesPostedDocument(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &countingBackend{inner: ocr.DummyBackend{}}, 5, "")

	doc, err := env.pipeline.ProcessBytes(ctx, cleanPayload(t, nil), "factura.pdf", "acme", models.Metadata{}, false)
	require.NoError(t, err)
	require.Equal(t, models.StatusPosted, doc.Status)

	_, err = env.pipeline.Reprocess(ctx, doc.ID, models.Metadata{})
	assert.ErrorContains(t, err, "already posted")
}

func TestFuseConfidence(t *testing.T) {
	// ocr=0.9 entry=0.8 llm absent: (0.9*0.35 + 0.8*0.40) / 0.75
	assert.InDelta(t, 0.8267, FuseConfidence(0.9, 0.8, nil), 0.001)

	llm := 0.5
	assert.InDelta(t, 0.76, FuseConfidence(0.9, 0.8, &llm), 0.001)

	// no OCR confidence: entry only
	assert.InDelta(t, 0.8, FuseConfidence(0, 0.8, nil), 1e-9)
}

func TestFusionFlagsLowConfidence(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &countingBackend{inner: ocr.DummyBackend{}}, 5, "")

	// mediocre OCR and an unknown supplier keep the fused score low
	data := cleanPayload(t, func(res *models.ExtractionResult) {
		res.SupplierName = "Proveedor Desconocido SL"
		res.SupplierNIF = "B12345674"
		res.Confidence = 0.55
	})
	doc, err := env.pipeline.ProcessBytes(ctx, data, "factura.pdf", "acme", models.Metadata{}, false)
	require.NoError(t, err)

	assert.Equal(t, models.StatusReviewPending, doc.Status)
	assert.Contains(t, doc.Issues, rules.IssueLowConfidence)
	assert.Less(t, doc.ConfidenceGlobal, 0.80)
}

func TestProcessStampsProviderMetadata(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &countingBackend{inner: ocr.DummyBackend{}}, 5, "")

	doc, err := env.pipeline.ProcessBytes(ctx, cleanPayload(t, nil), "factura.pdf", "acme", models.Metadata{}, false)
	require.NoError(t, err)

	assert.Len(t, doc.ID, 64)
	assert.Equal(t, ocr.ContentHash(cleanPayload(t, nil)), doc.ID)
	assert.Equal(t, "A58818501", doc.SupplierNIF)
	assert.Equal(t, "F-2025-100", doc.InvoiceNumber)
	assert.NotNil(t, doc.OCRAt)
	assert.NotNil(t, doc.RuledAt)
	assert.InDelta(t, 0.95, doc.ConfidenceOCR, 1e-9)
	assert.InDelta(t, 0.95, doc.ConfidenceEntry, 1e-9)
}
