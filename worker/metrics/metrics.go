// Package metrics exposes a worker's Prometheus metrics: superstep timing,
// active vertex counts, RPC request volume, partition eviction counts and
// checkpoint writes. Grounded on Chapter13/prom_http/main.go's
// promauto/promhttp pairing, generalized from one global counter registered
// against the default registry to a per-worker set registered against its
// own registry so more than one worker can run in the same test process
// without a duplicate-registration panic.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge/histogram a worker reports.
type Metrics struct {
	registry *prometheus.Registry

	SuperstepDuration  prometheus.Histogram
	ActiveVertices     prometheus.Gauge
	RequestsSent       prometheus.Counter
	RequestsReceived   prometheus.Counter
	PartitionEvictions prometheus.Counter
	CheckpointWrites   prometheus.Counter
}

// New builds the metrics set for a single worker, labeling every metric
// with its worker id so a shared scrape target can tell workers apart.
func New(workerID uint32) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	constLabels := prometheus.Labels{"worker_id": fmt.Sprintf("%d", workerID)}

	return &Metrics{
		registry: reg,
		SuperstepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "bspworker_superstep_duration_seconds",
			Help:        "Wall-clock duration of a completed superstep.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
		ActiveVertices: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "bspworker_active_vertices",
			Help:        "Number of vertices that voted to continue at the end of the last superstep.",
			ConstLabels: constLabels,
		}),
		RequestsSent: factory.NewCounter(prometheus.CounterOpts{
			Name:        "bspworker_requests_sent_total",
			Help:        "Total number of RPC requests this worker has sent to its peers.",
			ConstLabels: constLabels,
		}),
		RequestsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name:        "bspworker_requests_received_total",
			Help:        "Total number of RPC requests this worker has received from its peers.",
			ConstLabels: constLabels,
		}),
		PartitionEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name:        "bspworker_partition_evictions_total",
			Help:        "Total number of partitions evicted from memory under the resident cap.",
			ConstLabels: constLabels,
		}),
		CheckpointWrites: factory.NewCounter(prometheus.CounterOpts{
			Name:        "bspworker_checkpoint_writes_total",
			Help:        "Total number of checkpoint files this worker has written.",
			ConstLabels: constLabels,
		}),
	}
}

// Handler serves this worker's metrics in the Prometheus text exposition
// format, the same /metrics route Chapter13/prom_http/main.go registers.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSuperstep records how long a completed superstep took.
func (m *Metrics) ObserveSuperstep(d time.Duration) {
	m.SuperstepDuration.Observe(d.Seconds())
}
