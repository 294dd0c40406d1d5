// Package metric provides the Prometheus registry shared by the XVIZ server.
//
// NewMetricsRegistry registers the core server metrics (sessions, frames and
// bytes sent per format, reconnect attempts, errors by kind, provider
// resolution failures) plus the Go runtime and process collectors. Components
// with their own metrics, such as the outbound queue, register them through
// MetricsRegistrar keyed by component name:
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordSessionOpened("archive", "JSON_STRING")
//
//	mux.Handle(metric.DefaultPath, metric.Handler(registry))
//
// All metric names share the "xviz" namespace.
package metric
