// Package health tracks provider circuit-breaker state per
// (kind, name) pair, e.g. ("ocr", "docintel") or ("llm", "openai").
package health

import (
	"log"
	"sync"
	"time"
)

type key struct {
	kind string
	name string
}

type state struct {
	degraded     bool
	consecutive  int
	cumulative   int
	firstFailure time.Time
	degradedAt   time.Time

	// seconds from the first failure of a streak to opening,
	// one sample per open transition
	timeToDegrade []float64
}

// ProviderState is a read-only view of one breaker for the health
// endpoint.
type ProviderState struct {
	Kind          string    `json:"kind"`
	Name          string    `json:"name"`
	Degraded      bool      `json:"degraded"`
	Consecutive   int       `json:"consecutiveFailures"`
	Cumulative    int       `json:"cumulativeFailures"`
	DegradedAt    time.Time `json:"degradedAt,omitempty"`
	TimeToDegrade []float64 `json:"timeToDegradeSeconds,omitempty"`
}

// Registry holds all breakers. Thresholds are per kind with a
// fallback for kinds not listed.
type Registry struct {
	mu         sync.Mutex
	thresholds map[string]int
	fallback   int
	states     map[key]*state
}

// NewRegistry creates a registry. A fallback threshold <= 0 becomes 3.
func NewRegistry(thresholds map[string]int, fallback int) *Registry {
	if fallback <= 0 {
		fallback = 3
	}
	return &Registry{
		thresholds: thresholds,
		fallback:   fallback,
		states:     map[key]*state{},
	}
}

func (r *Registry) threshold(kind string) int {
	if t, ok := r.thresholds[kind]; ok && t > 0 {
		return t
	}
	return r.fallback
}

func (r *Registry) get(kind, name string) *state {
	k := key{kind, name}
	s, ok := r.states[k]
	if !ok {
		s = &state{}
		r.states[k] = s
	}
	return s
}

// RecordSuccess resets the consecutive counter and closes the breaker.
func (r *Registry) RecordSuccess(kind, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.get(kind, name)
	s.consecutive = 0
	s.firstFailure = time.Time{}
	if s.degraded {
		s.degraded = false
		log.Printf("provider %s/%s recovered, breaker closed", kind, name)
	}
}

// RecordFailure counts one failure and opens the breaker when the
// consecutive counter reaches the threshold. Opening is idempotent.
// It returns the degraded state after the failure.
func (r *Registry) RecordFailure(kind, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.get(kind, name)
	now := time.Now()
	if s.consecutive == 0 {
		s.firstFailure = now
	}
	s.consecutive++
	s.cumulative++

	if !s.degraded && s.consecutive >= r.threshold(kind) {
		s.degraded = true
		s.degradedAt = now
		s.timeToDegrade = append(s.timeToDegrade, now.Sub(s.firstFailure).Seconds())
		log.Printf("provider %s/%s degraded after %d consecutive failures", kind, name, s.consecutive)
	}
	return s.degraded
}

// IsDegraded reports the breaker state without modifying it.
func (r *Registry) IsDegraded(kind, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.states[key{kind, name}]; ok {
		return s.degraded
	}
	return false
}

// Snapshot returns a copy of every breaker state.
func (r *Registry) Snapshot() []ProviderState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ProviderState, 0, len(r.states))
	for k, s := range r.states {
		ps := ProviderState{
			Kind:        k.kind,
			Name:        k.name,
			Degraded:    s.degraded,
			Consecutive: s.consecutive,
			Cumulative:  s.cumulative,
			DegradedAt:  s.degradedAt,
		}
		ps.TimeToDegrade = append(ps.TimeToDegrade, s.timeToDegrade...)
		out = append(out, ps)
	}
	return out
}
