// Package monitor collects per-call statistics for outbound provider
// traffic, surfaced through the health endpoint.
package monitor

import "sync"

const maxSamples = 500

// Sample describes one provider attempt.
type Sample struct {
	Status        int
	LatencyMS     int64
	Retried       bool
	ThrottleMS    int64
	CacheHit      bool
}

// Snapshot is an aggregate view of collected samples.
type Snapshot struct {
	Calls        int     `json:"calls"`
	Errors       int     `json:"errors"`
	Retries      int     `json:"retries"`
	Throttled    int     `json:"throttled"`
	CacheHits    int     `json:"cacheHits"`
	AvgLatencyMS float64 `json:"avgLatencyMs"`
	MaxLatencyMS int64   `json:"maxLatencyMs"`
	AvgDelayMS   float64 `json:"avgDelayMs"`
}

// Stats accumulates samples under a mutex. Latency and delay keep a
// bounded window so a long-running process does not grow unbounded.
type Stats struct {
	mu        sync.Mutex
	calls     int
	errors    int
	retries   int
	throttled int
	cacheHits int
	latencies []int64
	delays    []int64
}

func New() *Stats {
	return &Stats{}
}

// Record adds one sample.
func (s *Stats) Record(sm Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if sm.CacheHit {
		s.cacheHits++
		return
	}
	if sm.Status >= 400 || sm.Status == 0 {
		s.errors++
	}
	if sm.Retried {
		s.retries++
	}
	if sm.ThrottleMS > 0 {
		s.throttled++
		s.delays = push(s.delays, sm.ThrottleMS)
	}
	s.latencies = push(s.latencies, sm.LatencyMS)
}

func push(w []int64, v int64) []int64 {
	if len(w) >= maxSamples {
		w = w[1:]
	}
	return append(w, v)
}

// Snapshot aggregates the collected samples. With reset true the
// counters and windows are cleared after reading.
func (s *Stats) Snapshot(reset bool) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Calls:     s.calls,
		Errors:    s.errors,
		Retries:   s.retries,
		Throttled: s.throttled,
		CacheHits: s.cacheHits,
	}
	var sum int64
	for _, l := range s.latencies {
		sum += l
		if l > snap.MaxLatencyMS {
			snap.MaxLatencyMS = l
		}
	}
	if len(s.latencies) > 0 {
		snap.AvgLatencyMS = float64(sum) / float64(len(s.latencies))
	}
	sum = 0
	for _, d := range s.delays {
		sum += d
	}
	if len(s.delays) > 0 {
		snap.AvgDelayMS = float64(sum) / float64(len(s.delays))
	}

	if reset {
		s.calls, s.errors, s.retries, s.throttled, s.cacheHits = 0, 0, 0, 0, 0
		s.latencies = nil
		s.delays = nil
	}
	return snap
}
