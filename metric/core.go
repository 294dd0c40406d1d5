package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the server-level metrics shared by every session
type Metrics struct {
	SessionsActive     prometheus.Gauge
	SessionsTotal      *prometheus.CounterVec
	FramesSent         *prometheus.CounterVec
	BytesSent          *prometheus.CounterVec
	ReconnectAttempts  prometheus.Counter
	Reattached         prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
	ResolutionFailures prometheus.Counter
	ProvidersLeased    prometheus.Gauge
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "sessions",
				Name:      "active",
				Help:      "Number of sessions not yet closed",
			},
		),

		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "sessions",
				Name:      "total",
				Help:      "Total number of sessions accepted",
			},
			[]string{"provider", "format"},
		),

		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "frames",
				Name:      "sent_total",
				Help:      "Total number of messages delivered to clients",
			},
			[]string{"format"},
		),

		BytesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "frames",
				Name:      "sent_bytes_total",
				Help:      "Total number of encoded bytes delivered to clients",
			},
			[]string{"format"},
		),

		ReconnectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "sessions",
				Name:      "reconnect_attempts_total",
				Help:      "Total number of reconnect waits performed by live sessions",
			},
		),

		Reattached: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "sessions",
				Name:      "reattached_total",
				Help:      "Total number of transports attached to an existing live session",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of session errors by kind",
			},
			[]string{"kind"},
		),

		ResolutionFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "providers",
				Name:      "resolution_failures_total",
				Help:      "Total number of requests no registered provider matched",
			},
		),

		ProvidersLeased: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "providers",
				Name:      "leased",
				Help:      "Number of provider instances currently held by sessions",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.SessionsActive,
		c.SessionsTotal,
		c.FramesSent,
		c.BytesSent,
		c.ReconnectAttempts,
		c.Reattached,
		c.ErrorsTotal,
		c.ResolutionFailures,
		c.ProvidersLeased,
	}
}

// RecordSessionOpened counts a new session and marks it active
func (c *Metrics) RecordSessionOpened(provider, format string) {
	c.SessionsTotal.WithLabelValues(provider, format).Inc()
	c.SessionsActive.Inc()
}

// RecordSessionClosed marks a session inactive
func (c *Metrics) RecordSessionClosed() {
	c.SessionsActive.Dec()
}

// RecordFrameSent counts one delivered message and its size
func (c *Metrics) RecordFrameSent(format string, bytes int) {
	c.FramesSent.WithLabelValues(format).Inc()
	c.BytesSent.WithLabelValues(format).Add(float64(bytes))
}

// RecordReconnectAttempt increments the reconnect counter
func (c *Metrics) RecordReconnectAttempt() {
	c.ReconnectAttempts.Inc()
}

// RecordReattach increments the reattach counter
func (c *Metrics) RecordReattach() {
	c.Reattached.Inc()
}

// RecordError increments the error counter for kind
func (c *Metrics) RecordError(kind string) {
	c.ErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordResolutionFailure increments the resolution failure counter
func (c *Metrics) RecordResolutionFailure() {
	c.ResolutionFailures.Inc()
}

// RecordLeases sets the number of live provider instances
func (c *Metrics) RecordLeases(n int) {
	c.ProvidersLeased.Set(float64(n))
}
