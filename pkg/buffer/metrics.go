package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NodLabs/xviz/errors"
	"github.com/NodLabs/xviz/metric"
)

// Metrics holds Prometheus metrics for a family of buffers. Register it once
// with NewMetrics and pass it to every buffer of the family with WithMetrics.
type Metrics struct {
	writes    prometheus.Counter
	reads     prometheus.Counter
	overflows prometheus.Counter
	queued    prometheus.Gauge
}

// NewMetrics creates and registers buffer metrics labelled component=prefix.
func NewMetrics(registry *metric.MetricsRegistry, prefix string) (*Metrics, error) {
	if registry == nil || prefix == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "buffer", "NewMetrics", "registry and prefix are required")
	}

	labels := prometheus.Labels{"component": prefix}
	m := &Metrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "writes_total",
			ConstLabels: labels,
			Help:        "Total number of buffer write operations",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "reads_total",
			ConstLabels: labels,
			Help:        "Total number of buffer read operations",
		}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "overflows_total",
			ConstLabels: labels,
			Help:        "Total number of writes that found the buffer full and waited",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "queued",
			ConstLabels: labels,
			Help:        "Items currently held across all open buffers",
		}),
	}

	if err := registry.RegisterCounter(prefix, "buffer_writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_reads", m.reads); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_overflows", m.overflows); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_queued", m.queued); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) recordWrite() {
	m.writes.Inc()
	m.queued.Inc()
}

func (m *Metrics) recordRead(open bool) {
	m.reads.Inc()
	if open {
		m.queued.Dec()
	}
}

func (m *Metrics) recordOverflow() {
	m.overflows.Inc()
}

// release removes a closed buffer's remaining items from the gauge.
func (m *Metrics) release(n int) {
	if n > 0 {
		m.queued.Sub(float64(n))
	}
}
