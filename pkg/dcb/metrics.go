package dcb

import "github.com/prometheus/client_golang/prometheus"

// Metrics is an optional bundle of Prometheus collectors wired into
// Append/Read/lock-acquisition and the index self-healing path. A nil
// *Metrics (the Config default) disables instrumentation entirely; every
// observing method is a no-op on a nil receiver.
type Metrics struct {
	appendDuration prometheus.Histogram
	readDuration   prometheus.Histogram
	lockWait       prometheus.Histogram

	indexSelfHeals  prometheus.Counter
	ledgerCorrupted prometheus.Counter
}

// NewMetrics builds a Metrics bundle and registers its collectors against
// reg. Pass prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer to expose via the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		appendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dcb",
			Name:      "append_duration_seconds",
			Help:      "Duration of Append calls, from lock acquisition attempt to return.",
			Buckets:   prometheus.DefBuckets,
		}),
		readDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dcb",
			Name:      "read_duration_seconds",
			Help:      "Duration of Read calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dcb",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting to acquire the cross-process store lock.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		indexSelfHeals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dcb",
			Name:      "index_self_heals_total",
			Help:      "Number of times a malformed index file was rebuilt from empty.",
		}),
		ledgerCorrupted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dcb",
			Name:      "ledger_corrupted_total",
			Help:      "Number of times the ledger file was found malformed and treated as zero.",
		}),
	}

	collectors := []prometheus.Collector{
		m.appendDuration, m.readDuration, m.lockWait,
		m.indexSelfHeals, m.ledgerCorrupted,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, &EventStoreError{Op: "NewMetrics", Err: err}
		}
	}
	return m, nil
}

func (m *Metrics) observeAppend(seconds float64) {
	if m == nil {
		return
	}
	m.appendDuration.Observe(seconds)
}

func (m *Metrics) observeRead(seconds float64) {
	if m == nil {
		return
	}
	m.readDuration.Observe(seconds)
}

func (m *Metrics) observeLockWait(seconds float64) {
	if m == nil {
		return
	}
	m.lockWait.Observe(seconds)
}

func (m *Metrics) incIndexSelfHeal() {
	if m == nil {
		return
	}
	m.indexSelfHeals.Inc()
}

func (m *Metrics) incLedgerCorrupted() {
	if m == nil {
		return
	}
	m.ledgerCorrupted.Inc()
}
