// Package worker provides a generic, bounded worker pool.
//
// A Pool runs a fixed number of goroutines that call one processor function
// for each submitted item. Submit never blocks: when the queue is full the
// item is dropped and ErrQueueFull returned, which suits best-effort work
// such as the archive read-ahead that warms the frame cache.
//
//	pool := worker.NewPool(2, 64, func(ctx context.Context, f frameFile) error {
//		_, err := decode(f)
//		return err
//	})
//	if err := pool.Start(ctx); err != nil {
//		return err
//	}
//	defer pool.Stop(time.Second)
//
//	_ = pool.Submit(next) // dropped when busy
//
// Statistics are always tracked; Prometheus metrics are registered when
// WithMetricsRegistry is given a registry and a component name.
//
// Stop closes the queue, lets workers finish what is already queued, and
// waits up to the given timeout. Cancelling the Start context makes workers
// exit without draining.
package worker
