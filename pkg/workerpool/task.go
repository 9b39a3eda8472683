package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a task.
type Status int32

const (
	StatusQueued Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusCancelled
	StatusRejected
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Finished reports whether s is a terminal state.
func (s Status) Finished() bool {
	return s >= StatusSucceeded
}

// Pool errors.
var (
	ErrQueueFull   = errors.New("workerpool: queue full")
	ErrClosed      = errors.New("workerpool: pool closed")
	ErrTaskTimeout = errors.New("workerpool: task exceeded timeout")
	ErrCancelled   = errors.New("workerpool: task cancelled")
	ErrPanic       = errors.New("workerpool: task panicked")
)

// PanicError is returned by a task whose function panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("workerpool: task panicked: %v", e.Value)
}

// Unwrap lets errors.Is(err, ErrPanic) match.
func (e *PanicError) Unwrap() error {
	return ErrPanic
}

// Func is a unit of work. ctx is cancelled when the pool gives up on it.
type Func func(ctx context.Context) (any, error)

// Task is the handle to submitted work.
type Task struct {
	id          string
	name        string
	fn          Func
	submittedAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu        sync.Mutex
	status    Status
	startedAt time.Time
	result    any
	err       error
	warned    bool

	done chan struct{}
}

func newTask(parent context.Context, name string, fn Func, now time.Time) *Task {
	ctx, cancel := context.WithCancelCause(parent)
	return &Task{
		id:          uuid.NewString(),
		name:        name,
		fn:          fn,
		submittedAt: now,
		ctx:         ctx,
		cancel:      cancel,
		status:      StatusQueued,
		done:        make(chan struct{}),
	}
}

// ID returns the unique task identifier.
func (t *Task) ID() string { return t.id }

// Name returns the name given at submit time.
func (t *Task) Name() string { return t.name }

// SubmittedAt returns when the task was submitted.
func (t *Task) SubmittedAt() time.Time { return t.submittedAt }

// StartedAt returns when a worker picked the task up, or the zero time.
func (t *Task) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt
}

// Status returns the current lifecycle state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Result returns the outcome of a finished task. Before the task finishes
// it returns (nil, nil).
func (t *Task) Result() (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// Err returns the task error, if finished with one.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		return t.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel cancels the task. A queued task never runs; a running task has its
// context cancelled and is reported as cancelled immediately.
func (t *Task) Cancel() bool {
	return t.cancelWith(ErrCancelled)
}

func (t *Task) cancelWith(cause error) bool {
	if !t.finish(StatusCancelled, nil, cause) {
		return false
	}
	t.cancel(cause)
	return true
}

// start moves a queued task to running. It fails when the task was
// cancelled while waiting in the queue.
func (t *Task) start(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusQueued {
		return false
	}
	if t.ctx.Err() != nil {
		return false
	}
	t.status = StatusRunning
	t.startedAt = now
	return true
}

// finish records a terminal state. Only the first call wins.
func (t *Task) finish(status Status, result any, err error) bool {
	t.mu.Lock()
	if t.status.Finished() {
		t.mu.Unlock()
		return false
	}
	t.status = status
	t.result = result
	t.err = err
	t.mu.Unlock()

	close(t.done)
	return true
}

// elapsed returns how long the task has been running, or 0 when it is not
// running.
func (t *Task) elapsed(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusRunning {
		return 0
	}
	return now.Sub(t.startedAt)
}

// markWarned reports whether this is the first near-deadline warning.
func (t *Task) markWarned() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.warned {
		return false
	}
	t.warned = true
	return true
}

func (t *Task) runDuration(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startedAt.IsZero() {
		return 0
	}
	return now.Sub(t.startedAt)
}
