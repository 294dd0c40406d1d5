package buffer

// Option configures buffer behavior using the functional options pattern.
type Option[T any] func(*bufferOptions[T])

// bufferOptions holds internal configuration for buffer instances.
type bufferOptions[T any] struct {
	// metrics is optional and may be shared by many buffers
	metrics *Metrics
}

// WithMetrics records buffer activity in m. Buffers sharing m report
// aggregate totals. A nil m is ignored.
func WithMetrics[T any](m *Metrics) Option[T] {
	return func(opts *bufferOptions[T]) {
		if m != nil {
			opts.metrics = m
		}
	}
}

func applyOptions[T any](options ...Option[T]) *bufferOptions[T] {
	opts := &bufferOptions[T]{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
