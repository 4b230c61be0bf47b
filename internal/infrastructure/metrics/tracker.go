package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// ActiveSessionTracker counts live delivery sessions per dataset. The
// counters are lazily created atomics, safe under unbounded concurrent
// start/stop calls from many sessions, and mirrored to the
// streamhub_active_sessions gauge. Observability only.
type ActiveSessionTracker struct {
	mu       sync.Mutex
	counters map[string]*atomic.Int64
	gauge    *prometheus.GaugeVec
}

// NewActiveSessionTracker returns a tracker feeding the given gauge.
// The gauge may be nil in tests.
func NewActiveSessionTracker(gauge *prometheus.GaugeVec) *ActiveSessionTracker {
	return &ActiveSessionTracker{
		counters: make(map[string]*atomic.Int64),
		gauge:    gauge,
	}
}

func (t *ActiveSessionTracker) counter(dataset string) *atomic.Int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.counters[dataset]
	if !ok {
		c = &atomic.Int64{}
		t.counters[dataset] = c
	}
	return c
}

// SessionStarted records a session starting to stream the dataset.
func (t *ActiveSessionTracker) SessionStarted(dataset string) {
	n := t.counter(dataset).Add(1)
	if t.gauge != nil {
		t.gauge.WithLabelValues(dataset).Set(float64(n))
	}
}

// SessionStopped records a session no longer streaming the dataset.
func (t *ActiveSessionTracker) SessionStopped(dataset string) {
	n := t.counter(dataset).Add(-1)
	if t.gauge != nil {
		t.gauge.WithLabelValues(dataset).Set(float64(n))
	}
}

// Active returns the current session count for the dataset.
func (t *ActiveSessionTracker) Active(dataset string) int64 {
	return t.counter(dataset).Load()
}
