package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for one queue.
//
// A nil *Metrics is valid and records nothing, so the queue never has to
// check whether metrics were configured.
type Metrics struct {
	backlog        prometheus.Gauge
	added          prometheus.Counter
	optimizedAway  prometheus.Counter
	processed      prometheus.Counter
	failures       *prometheus.CounterVec
	actionDuration prometheus.Histogram
}

// NewMetrics creates the queue collectors and registers them on reg.
// Pass prometheus.NewRegistry() in tests to avoid clashing with the
// default registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventq",
			Name:      "backlog_batches",
			Help:      "Number of batches waiting in the queue, including the one processing.",
		}),
		added: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventq",
			Name:      "batches_added_total",
			Help:      "Batches inserted into the backlog.",
		}),
		optimizedAway: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventq",
			Name:      "batches_optimized_away_total",
			Help:      "Batches dropped at insertion because every event was merged away.",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventq",
			Name:      "batches_processed_total",
			Help:      "Batches whose queue action completed successfully.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventq",
			Name:      "action_failures_total",
			Help:      "Queue action failures by kind.",
		}, []string{"kind"}),
		actionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eventq",
			Name:      "action_duration_seconds",
			Help:      "Duration of queue action invocations.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{
		m.backlog, m.added, m.optimizedAway, m.processed, m.failures, m.actionDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) setBacklog(n int) {
	if m == nil {
		return
	}
	m.backlog.Set(float64(n))
}

func (m *Metrics) batchAdded() {
	if m == nil {
		return
	}
	m.added.Inc()
}

func (m *Metrics) batchOptimizedAway() {
	if m == nil {
		return
	}
	m.optimizedAway.Inc()
}

func (m *Metrics) batchProcessed() {
	if m == nil {
		return
	}
	m.processed.Inc()
}

func (m *Metrics) actionFailed(err error) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(FailureKind(err)).Inc()
}

func (m *Metrics) observeAction(d time.Duration) {
	if m == nil {
		return
	}
	m.actionDuration.Observe(d.Seconds())
}
