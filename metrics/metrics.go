// Package metrics records Prometheus metrics for wrapped database operations.
//
// A nil *Metrics is valid and records nothing, so callers never need to check
// whether metrics are enabled.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CaliLuke/go-sqlwrap/pool"
	"github.com/CaliLuke/go-sqlwrap/sqlerr"
)

const namespace = "sqlwrap"

// Metrics holds the collectors for one DataSource.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	errors     *prometheus.CounterVec
	stale      prometheus.Counter
	leaks      prometheus.Counter
	stmtCache  *prometheus.CounterVec

	reg    prometheus.Registerer
	labels prometheus.Labels

	mu     sync.Mutex
	gauges []prometheus.Collector
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default Prometheus registerer. A non-empty dataSource is attached to
// every series as the data_source label, so several data sources can share
// one registerer. On error nothing stays registered.
func New(reg prometheus.Registerer, dataSource string) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var labels prometheus.Labels
	if dataSource != "" {
		labels = prometheus.Labels{"data_source": dataSource}
	}
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "operations_total",
				Help:        "Wrapped database operations by resource, operation and outcome",
				ConstLabels: labels,
			},
			[]string{"resource", "op", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "operation_duration_seconds",
				Help:        "Duration of wrapped database operations",
				Buckets:     prometheus.ExponentialBuckets(0.0005, 4, 8),
				ConstLabels: labels,
			},
			[]string{"resource", "op"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "errors_total",
				Help:        "Translated errors by SQLSTATE class and category",
				ConstLabels: labels,
			},
			[]string{"resource", "class", "category"},
		),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "stale_connections_total",
			Help:        "Physical connections marked stale after a connection error",
			ConstLabels: labels,
		}),
		leaks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "leaked_connections_total",
			Help:        "Connection handles garbage collected without Close",
			ConstLabels: labels,
		}),
		stmtCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "statement_cache_total",
				Help:        "Prepared statement cache lookups by result",
				ConstLabels: labels,
			},
			[]string{"result"},
		),
		reg:    reg,
		labels: labels,
	}

	if err := register(reg, m.collectors()); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.operations, m.duration, m.errors, m.stale, m.leaks, m.stmtCache}
}

// register registers every collector or, on the first failure, none.
func register(reg prometheus.Registerer, cs []prometheus.Collector) error {
	for i, c := range cs {
		if err := reg.Register(c); err != nil {
			for _, done := range cs[:i] {
				reg.Unregister(done)
			}
			return err
		}
	}
	return nil
}

// Unregister removes every collector, pool gauges included, from the
// registerer.
func (m *Metrics) Unregister() {
	if m == nil {
		return
	}
	m.UnregisterPool()
	for _, c := range m.collectors() {
		m.reg.Unregister(c)
	}
}

// Observe records one completed operation.
func (m *Metrics) Observe(resource, op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if !sqlerr.IsSentinel(err) {
			state := sqlerr.State(err)
			category := sqlerr.Classify(state)
			if e, ok := sqlerr.As(err); ok {
				category = e.Category()
			}
			m.errors.WithLabelValues(resource, sqlerr.Class(state), string(category)).Inc()
		}
	}
	m.operations.WithLabelValues(resource, op, outcome).Inc()
	m.duration.WithLabelValues(resource, op).Observe(elapsed.Seconds())
}

// StaleConnection counts a connection error event.
func (m *Metrics) StaleConnection() {
	if m == nil {
		return
	}
	m.stale.Inc()
}

// Leak counts a connection handle that was never closed.
func (m *Metrics) Leak() {
	if m == nil {
		return
	}
	m.leaks.Inc()
}

// CacheLookup counts a statement cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.stmtCache.WithLabelValues(result).Inc()
}

// RegisterPool exports gauges that read the pool statistics on scrape.
func (m *Metrics) RegisterPool(stats func() pool.Stats) error {
	if m == nil {
		return nil
	}
	gauges := map[string]func(pool.Stats) float64{
		"available": func(s pool.Stats) float64 { return float64(s.Available) },
		"in_use":    func(s pool.Stats) float64 { return float64(s.InUse) },
		"total":     func(s pool.Stats) float64 { return float64(s.Total) },
		"waiting":   func(s pool.Stats) float64 { return float64(s.Waiting) },
	}
	cs := make([]prometheus.Collector, 0, len(gauges))
	for name, read := range gauges {
		read := read
		cs = append(cs, prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "pool",
				Name:        name + "_connections",
				Help:        "Pool connections: " + name,
				ConstLabels: m.labels,
			},
			func() float64 { return read(stats()) },
		))
	}
	if err := register(m.reg, cs); err != nil {
		return err
	}
	m.mu.Lock()
	m.gauges = append(m.gauges, cs...)
	m.mu.Unlock()
	return nil
}

// UnregisterPool removes the gauges added by RegisterPool.
func (m *Metrics) UnregisterPool() {
	if m == nil {
		return
	}
	m.mu.Lock()
	gauges := m.gauges
	m.gauges = nil
	m.mu.Unlock()
	for _, g := range gauges {
		m.reg.Unregister(g)
	}
}
