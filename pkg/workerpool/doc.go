// Package workerpool runs submitted work on a fixed set of workers and
// cancels work that runs past a deadline.
//
// A monitor goroutine checks every running task on a fixed interval. Tasks
// running longer than half the timeout are logged as warnings; tasks past
// the timeout are cancelled. Cancellation cancels the task's context and
// releases the worker slot at once. The function itself keeps running in an
// abandoned goroutine if it does not observe its context, so resources it
// holds are not reclaimed by the pool. Preemption is best effort.
//
// The queue is bounded. Submit never blocks: when the queue is full the
// returned task is already finished with ErrQueueFull.
//
//	pool := workerpool.New(workerpool.Config{Workers: 8, TaskTimeout: time.Minute})
//	defer pool.Close(context.Background())
//
//	task, err := pool.Submit("resize", func(ctx context.Context) (any, error) {
//	    return resize(ctx, img)
//	})
//	if err != nil {
//	    return err
//	}
//	result, err := task.Wait(ctx)
package workerpool
