// Package worker provides a generic, thread-safe worker pool with a bounded
// queue and non-blocking submission.
//
// A fixed number of goroutines process items from a buffered channel. Submit
// never blocks: when the queue is full the item is dropped, counted, and
// ErrQueueFull is returned. This keeps a slow consumer (a NATS server under
// load, for example) from stalling the producer.
//
//	pool := worker.NewPool[record.Record](2, 1024,
//	    func(ctx context.Context, rec record.Record) error {
//	        return publish(ctx, rec)
//	    },
//	    worker.WithMetricsRegistry[record.Record](registry, "natsout"),
//	)
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
// Stop closes the queue and waits for workers to drain what is already
// queued. Cancelling the context passed to Start makes workers exit without
// draining.
//
// Statistics from Stats are always tracked. Prometheus metrics are registered
// only when WithMetricsRegistry is given a non-nil registry.
package worker
