package ocr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/contaflow/invoice-pipeline/internal/cache"
	"github.com/contaflow/invoice-pipeline/internal/health"
	"github.com/contaflow/invoice-pipeline/internal/models"
	"github.com/contaflow/invoice-pipeline/internal/monitor"
	"github.com/contaflow/invoice-pipeline/internal/ratelimit"
)

// scriptedBackend returns the queued errors in order, then succeeds.
type scriptedBackend struct {
	errs  []error
	calls int
}

func (s *scriptedBackend) Name() string { return "scripted" }

func (s *scriptedBackend) Analyze(_ context.Context, _ []byte) (*models.ExtractionResult, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &models.ExtractionResult{InvoiceNumber: "F-1", Confidence: 0.9, PageCount: 1}, nil
}

func newTestGateway(b Backend, hr *health.Registry, cfg GatewayConfig) (*Gateway, *[]time.Duration) {
	if hr == nil {
		hr = health.NewRegistry(nil, 3)
	}
	g := NewGateway(b, ratelimit.NewBucket(1000), semaphore.NewWeighted(1),
		cache.New(), hr, monitor.New(), cfg)
	var sleeps []time.Duration
	g.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return g, &sleeps
}

func TestAnalyzeCachesByContentHash(t *testing.T) {
	b := &scriptedBackend{}
	g, _ := newTestGateway(b, nil, GatewayConfig{CacheEnabled: true})

	data := []byte("same document bytes")
	first, err := g.Analyze(context.Background(), data)
	require.NoError(t, err)

	second, err := g.Analyze(context.Background(), data)
	require.NoError(t, err)

	assert.Equal(t, 1, b.calls)
	assert.Same(t, first, second)
}

func TestAnalyzeFailsFastWhileDegraded(t *testing.T) {
	hr := health.NewRegistry(nil, 3)
	hr.RecordFailure("ocr", "scripted")
	hr.RecordFailure("ocr", "scripted")
	hr.RecordFailure("ocr", "scripted")

	b := &scriptedBackend{}
	g, _ := newTestGateway(b, hr, GatewayConfig{})

	_, err := g.Analyze(context.Background(), []byte("doc"))
	assert.ErrorIs(t, err, ErrProviderDegraded)
	assert.Equal(t, 0, b.calls)
}

func TestAnalyzeRetriesOnServerErrors(t *testing.T) {
	b := &scriptedBackend{errs: []error{
		&CallError{StatusCode: 503, Err: errors.New("unavailable")},
		&CallError{StatusCode: 500, Err: errors.New("boom")},
	}}
	g, sleeps := newTestGateway(b, nil, GatewayConfig{Attempts: 5})

	res, err := g.Analyze(context.Background(), []byte("doc"))
	require.NoError(t, err)
	assert.Equal(t, "F-1", res.InvoiceNumber)
	assert.Equal(t, 3, b.calls)

	// backoff schedule starts at 0.8s and 2.1s, plus up to 20% jitter
	require.Len(t, *sleeps, 2)
	assert.GreaterOrEqual(t, (*sleeps)[0], 800*time.Millisecond)
	assert.LessOrEqual(t, (*sleeps)[0], 960*time.Millisecond)
	assert.GreaterOrEqual(t, (*sleeps)[1], 2100*time.Millisecond)
}

func TestAnalyzeHonorsRetryAfter(t *testing.T) {
	b := &scriptedBackend{errs: []error{
		&CallError{StatusCode: 429, RetryAfter: 2 * time.Second, Err: errors.New("throttled")},
	}}
	g, sleeps := newTestGateway(b, nil, GatewayConfig{Attempts: 3})

	_, err := g.Analyze(context.Background(), []byte("doc"))
	require.NoError(t, err)

	require.Len(t, *sleeps, 1)
	assert.Equal(t, 2*time.Second, (*sleeps)[0])
}

func TestAnalyzeCapsRetryAfter(t *testing.T) {
	b := &scriptedBackend{errs: []error{
		&CallError{StatusCode: 429, RetryAfter: 10 * time.Minute, Err: errors.New("throttled")},
	}}
	g, sleeps := newTestGateway(b, nil, GatewayConfig{Attempts: 3, MaxSleep: 45 * time.Second})

	_, err := g.Analyze(context.Background(), []byte("doc"))
	require.NoError(t, err)

	require.Len(t, *sleeps, 1)
	assert.Equal(t, 45*time.Second, (*sleeps)[0])
}

func TestAnalyzeFatalOnClientError(t *testing.T) {
	b := &scriptedBackend{errs: []error{
		&CallError{StatusCode: 400, Err: errors.New("bad payload")},
	}}
	g, sleeps := newTestGateway(b, nil, GatewayConfig{Attempts: 5})

	_, err := g.Analyze(context.Background(), []byte("doc"))

	var fatal *FatalError
	assert.ErrorAs(t, err, &fatal)
	assert.Equal(t, 1, b.calls)
	assert.Empty(t, *sleeps)
}

func TestAnalyzeFatalOnMalformedPayload(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>this is not an extraction</html>")
	}))
	defer srv.Close()

	g, sleeps := newTestGateway(NewDocIntelBackend(srv.URL, "key"), nil, GatewayConfig{Attempts: 4})

	_, err := g.Analyze(context.Background(), []byte("doc"))

	var fatal *FatalError
	assert.ErrorAs(t, err, &fatal)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *sleeps)
}

func TestAnalyzeTransientAfterExhaustedAttempts(t *testing.T) {
	b := &scriptedBackend{errs: []error{
		&CallError{StatusCode: 503, Err: errors.New("down")},
		&CallError{StatusCode: 503, Err: errors.New("down")},
		&CallError{StatusCode: 503, Err: errors.New("down")},
	}}
	hr := health.NewRegistry(map[string]int{"ocr": 3}, 3)
	g, _ := newTestGateway(b, hr, GatewayConfig{Attempts: 3})

	_, err := g.Analyze(context.Background(), []byte("doc"))

	var transient *TransientError
	assert.ErrorAs(t, err, &transient)
	assert.Equal(t, 3, b.calls)

	// three consecutive failures opened the breaker
	assert.True(t, hr.IsDegraded("ocr", "scripted"))
}

func TestNetworkErrorIsRetryable(t *testing.T) {
	b := &scriptedBackend{errs: []error{
		&CallError{Err: errors.New("connection refused")},
	}}
	g, _ := newTestGateway(b, nil, GatewayConfig{Attempts: 3})

	res, err := g.Analyze(context.Background(), []byte("doc"))
	require.NoError(t, err)
	assert.Equal(t, 2, b.calls)
	assert.Equal(t, "scripted", res.Provider)
}
