package metrics

import "sync"

// Counter names. ConnectionsOpen is a gauge tracked alongside the monotonic
// counters and exported through the same handler.
const (
	ConnectionsOpen     = "connections_open"
	ConnectionsTotal    = "connections_total"
	HandshakeRejected   = "handshake_rejected"
	MalformedCommand    = "malformed_command"
	SpoofingAttempt     = "spoofing_attempt"
	Joins               = "joins"
	Leaves              = "leaves"
	SignalsRelayed      = "signals_relayed"
	SignalTargetMissing = "signal_target_missing"
	RateLimited         = "rate_limited"
	SlowConsumerDropped = "slow_consumer_dropped"
	EventPublishFailed  = "event_publish_failed"
)

// Metrics is a minimal, concurrency-safe counter registry. The zero value is
// ready to use.
type Metrics struct {
	mu sync.Mutex
	m  map[string]int64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]int64)}
}

func (m *Metrics) Inc(name string) { m.add(name, 1) }

func (m *Metrics) Dec(name string) { m.add(name, -1) }

func (m *Metrics) add(name string, delta int64) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]int64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[string]int64, len(m.m))
	for k, v := range m.m {
		snap[k] = v
	}
	return snap
}
