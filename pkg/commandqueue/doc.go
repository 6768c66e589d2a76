// Package commandqueue serializes work per lane. A call session uses one lane
// so its tool executions run strictly one after another in arrival order.
//
// Invariants:
// - Tasks in the same lane execute in FIFO order, one at a time by default.
// - Tasks in different lanes may execute concurrently.
// - After Close no task is accepted and running tasks see a cancelled context.
//
// Usage:
//
//	queue := commandqueue.New(logger)
//	defer queue.Close()
//	result, err := queue.Enqueue(ctx, "CA123", func(ctx context.Context) (any, error) {
//		return "ok", nil
//	})
package commandqueue
