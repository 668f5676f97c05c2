package metrics

import "sync"

// Hub counters. Names are intentionally simple; a follow-up metrics task can
// standardize and export these via Prometheus/OTel.
const (
	SignalForwarded     = "signal_forwarded"
	SignalUnknownTarget = "signal_unknown_target"
	SignalMalformed     = "signal_malformed"
	SignalRateLimited   = "signal_rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A production hub deployment is expected to plug into a real metrics
// backend; this type exists to keep the forwarding logic testable while still
// exposing drop counters for scraping.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		snap[k] = v
	}
	return snap
}
