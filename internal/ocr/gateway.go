package ocr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/contaflow/invoice-pipeline/internal/cache"
	"github.com/contaflow/invoice-pipeline/internal/health"
	"github.com/contaflow/invoice-pipeline/internal/models"
	"github.com/contaflow/invoice-pipeline/internal/monitor"
	"github.com/contaflow/invoice-pipeline/internal/ratelimit"
)

// Backend is one concrete OCR provider.
type Backend interface {
	Name() string
	Analyze(ctx context.Context, data []byte) (*models.ExtractionResult, error)
}

const breakerKind = "ocr"

// Statuses worth another attempt. Everything else 4xx is a payload or
// auth problem and retrying the same bytes cannot fix it.
var retryableStatus = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// Escalating waits between attempts when the provider gives no
// Retry-After hint.
var backoffSchedule = []time.Duration{
	800 * time.Millisecond,
	2100 * time.Millisecond,
	5 * time.Second,
	11 * time.Second,
}

// GatewayConfig tunes the retry and pacing behavior.
type GatewayConfig struct {
	Attempts     int
	MaxSleep     time.Duration
	ReadTimeout  time.Duration
	CacheEnabled bool
}

// Gateway wraps a backend with the full resilience stack: extraction
// cache, circuit breaker, rate limiting, a concurrency cap and
// retries with backoff.
type Gateway struct {
	backend Backend
	bucket  *ratelimit.Bucket
	sem     *semaphore.Weighted
	cache   *cache.Cache
	healthR *health.Registry
	stats   *monitor.Stats
	cfg     GatewayConfig

	sleep func(time.Duration)
}

func NewGateway(backend Backend, bucket *ratelimit.Bucket, sem *semaphore.Weighted,
	c *cache.Cache, hr *health.Registry, stats *monitor.Stats, cfg GatewayConfig) *Gateway {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 5
	}
	if cfg.MaxSleep <= 0 {
		cfg.MaxSleep = 45 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	return &Gateway{
		backend: backend,
		bucket:  bucket,
		sem:     sem,
		cache:   c,
		healthR: hr,
		stats:   stats,
		cfg:     cfg,
		sleep:   time.Sleep,
	}
}

// ContentHash is the document identity used across the whole service.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Provider returns the wrapped backend's name.
func (g *Gateway) Provider() string { return g.backend.Name() }

// Analyze runs the extraction for one document. Identical bytes are
// answered from the cache without touching the provider. While the
// breaker is open it fails fast with ErrProviderDegraded. Exhausted
// retryable attempts surface as *TransientError, everything else as
// *FatalError.
func (g *Gateway) Analyze(ctx context.Context, data []byte) (*models.ExtractionResult, error) {
	hash := ContentHash(data)
	if g.cfg.CacheEnabled {
		if res, ok := g.cache.Get(hash); ok {
			g.stats.Record(monitor.Sample{CacheHit: true})
			return res, nil
		}
	}

	if g.healthR.IsDegraded(breakerKind, g.backend.Name()) {
		return nil, ErrProviderDegraded
	}

	var lastErr error
	for attempt := 0; attempt < g.cfg.Attempts; attempt++ {
		throttle := g.bucket.Acquire()

		if err := g.sem.Acquire(ctx, 1); err != nil {
			return nil, &TransientError{Reason: "canceled while waiting for slot", Err: err}
		}
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.ReadTimeout)
		start := time.Now()
		res, err := g.backend.Analyze(callCtx, data)
		latency := time.Since(start)
		cancel()
		g.sem.Release(1)

		if err == nil {
			g.stats.Record(monitor.Sample{
				Status:     200,
				LatencyMS:  latency.Milliseconds(),
				Retried:    attempt > 0,
				ThrottleMS: throttle.Milliseconds(),
			})
			g.healthR.RecordSuccess(breakerKind, g.backend.Name())
			res.Provider = g.backend.Name()
			res.DurationMS = latency.Milliseconds()
			if g.cfg.CacheEnabled {
				g.cache.Put(hash, res)
			}
			return res, nil
		}

		g.healthR.RecordFailure(breakerKind, g.backend.Name())

		status := 0
		var retryAfter time.Duration
		var ce *CallError
		if errors.As(err, &ce) {
			status = ce.StatusCode
			retryAfter = ce.RetryAfter
		}
		g.stats.Record(monitor.Sample{
			Status:     status,
			LatencyMS:  latency.Milliseconds(),
			Retried:    attempt > 0,
			ThrottleMS: throttle.Milliseconds(),
		})
		lastErr = err

		var fatal *FatalError
		if errors.As(err, &fatal) {
			return nil, fatal
		}
		if status != 0 && !retryableStatus[status] {
			return nil, &FatalError{Reason: fmt.Sprintf("provider rejected document (status %d)", status), Err: err}
		}

		if attempt == g.cfg.Attempts-1 {
			break
		}
		wait := backoffDelay(attempt)
		if retryAfter > 0 {
			wait = retryAfter
			if wait > g.cfg.MaxSleep {
				wait = g.cfg.MaxSleep
			}
		}
		log.Printf("ocr attempt %d/%d failed (status %d), retrying in %s",
			attempt+1, g.cfg.Attempts, status, wait.Round(time.Millisecond))
		g.sleep(wait)
	}

	return nil, &TransientError{
		Reason: fmt.Sprintf("attempts exhausted after %d tries", g.cfg.Attempts),
		Err:    lastErr,
	}
}

// backoffDelay returns the scheduled wait for an attempt plus up to
// 20% jitter. Attempts past the schedule reuse the last step.
func backoffDelay(attempt int) time.Duration {
	idx := attempt
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	base := backoffSchedule[idx]
	return base + time.Duration(rand.Float64()*0.2*float64(base))
}
