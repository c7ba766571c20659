package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a prometheus.Collector tracking broadcaster health, grounded
// on runZeroInc-sockstats/pkg/exporter.TCPInfoCollector's shape: a small
// set of Desc values built once, with Collect emitting const metrics
// from internally-held counters rather than registering gauges/counters
// directly (so the broadcaster owns its own state without a global
// registry dependency).
type Metrics struct {
	mu               sync.Mutex
	tickCount        uint64
	lastJitter       time.Duration
	subscriberCount  int
	droppedBySub     map[uuid.UUID]uint64

	tickDesc       *prometheus.Desc
	jitterDesc     *prometheus.Desc
	subscriberDesc *prometheus.Desc
	droppedDesc    *prometheus.Desc
}

// NewMetrics constructs an unregistered Metrics collector. The caller
// registers it with a prometheus.Registerer if metrics export is wanted.
func NewMetrics() *Metrics {
	return &Metrics{
		droppedBySub: make(map[uuid.UUID]uint64),
		tickDesc: prometheus.NewDesc(
			"groundstation_telemetry_ticks_total",
			"Total number of telemetry snapshots assembled.",
			nil, nil,
		),
		jitterDesc: prometheus.NewDesc(
			"groundstation_telemetry_tick_jitter_seconds",
			"Signed deviation of the last tick interval from the configured period.",
			nil, nil,
		),
		subscriberDesc: prometheus.NewDesc(
			"groundstation_telemetry_subscribers",
			"Current number of telemetry subscribers.",
			nil, nil,
		),
		droppedDesc: prometheus.NewDesc(
			"groundstation_telemetry_dropped_snapshots_total",
			"Total snapshots dropped for a slow subscriber.",
			[]string{"subscriber"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(descs chan<- *prometheus.Desc) {
	descs <- m.tickDesc
	descs <- m.jitterDesc
	descs <- m.subscriberDesc
	descs <- m.droppedDesc
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(metrics chan<- prometheus.Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics <- prometheus.MustNewConstMetric(m.tickDesc, prometheus.CounterValue, float64(m.tickCount))
	metrics <- prometheus.MustNewConstMetric(m.jitterDesc, prometheus.GaugeValue, m.lastJitter.Seconds())
	metrics <- prometheus.MustNewConstMetric(m.subscriberDesc, prometheus.GaugeValue, float64(m.subscriberCount))
	for id, n := range m.droppedBySub {
		metrics <- prometheus.MustNewConstMetric(m.droppedDesc, prometheus.CounterValue, float64(n), id.String())
	}
}

func (m *Metrics) observeTick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickCount++
}

func (m *Metrics) observeTickJitter(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastJitter = d
}

func (m *Metrics) setSubscriberCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriberCount = n
}

func (m *Metrics) incDropped(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.droppedBySub[id]++
}

var _ prometheus.Collector = (*Metrics)(nil)
