package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestPool(t *testing.T, config Config) (*Pool, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	config.Clock = clock
	if config.MonitorInterval == 0 {
		// Keep the background monitor out of the way; tests call tick().
		config.MonitorInterval = 24 * time.Hour
	}
	p := New(config)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_ = p.Close(ctx)
	})
	return p, clock
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPool_SubmitAndWait(t *testing.T) {
	p, _ := newTestPool(t, Config{Workers: 2})

	task, err := p.Submit("double", func(ctx context.Context) (any, error) {
		return 21 * 2, nil
	})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if task.ID() == "" || task.Name() != "double" {
		t.Fatalf("task id/name = %q/%q", task.ID(), task.Name())
	}

	v, err := task.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if v != 42 {
		t.Fatalf("Wait() = %v, want 42", v)
	}
	if task.Status() != StatusSucceeded {
		t.Fatalf("Status() = %v, want succeeded", task.Status())
	}
}

func TestPool_RunsOffCallerGoroutine(t *testing.T) {
	p, _ := newTestPool(t, Config{Workers: 1})

	release := make(chan struct{})
	task, err := p.Submit("block", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	// Submit returned while the function is still blocked.
	select {
	case <-task.Done():
		t.Fatal("task finished before release")
	default:
	}
	close(release)
	if _, err := task.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
}

func TestPool_FailedAndPanicked(t *testing.T) {
	p, _ := newTestPool(t, Config{Workers: 2})
	boom := errors.New("boom")

	failed, _ := p.Submit("fail", func(ctx context.Context) (any, error) {
		return nil, boom
	})
	if _, err := failed.Wait(waitCtx(t)); !errors.Is(err, boom) {
		t.Fatalf("Wait() error = %v, want boom", err)
	}
	if failed.Status() != StatusFailed {
		t.Fatalf("Status() = %v, want failed", failed.Status())
	}

	panicked, _ := p.Submit("panic", func(ctx context.Context) (any, error) {
		panic("kaboom")
	})
	_, err := panicked.Wait(waitCtx(t))
	if !errors.Is(err, ErrPanic) {
		t.Fatalf("Wait() error = %v, want ErrPanic", err)
	}
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Value != "kaboom" || len(pe.Stack) == 0 {
		t.Fatalf("PanicError = %+v", pe)
	}

	// The pool keeps serving after a panic.
	ok, _ := p.Submit("ok", func(ctx context.Context) (any, error) { return "fine", nil })
	if v, err := ok.Wait(waitCtx(t)); err != nil || v != "fine" {
		t.Fatalf("Wait() = %v, %v", v, err)
	}
}

func TestPool_TimeoutCancelsAndPrunes(t *testing.T) {
	p, clock := newTestPool(t, Config{Workers: 1, TaskTimeout: 10 * time.Second})

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var sawCancel atomic.Bool
	stuck, err := p.Submit("stuck", func(ctx context.Context) (any, error) {
		select {
		case <-ctx.Done():
			sawCancel.Store(true)
		case <-release:
		}
		<-release
		return "late", nil
	})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	waitFor(t, "task running", func() bool { return stuck.Status() == StatusRunning })

	clock.Advance(11 * time.Second)
	p.tick()

	if stuck.Status() != StatusCancelled {
		t.Fatalf("Status() = %v, want cancelled", stuck.Status())
	}
	if _, err := stuck.Wait(waitCtx(t)); !errors.Is(err, ErrTaskTimeout) {
		t.Fatalf("Wait() error = %v, want ErrTaskTimeout", err)
	}
	if got := p.Stats().Tracked; got != 0 {
		t.Fatalf("Stats().Tracked = %d, want 0 after tick", got)
	}
	if got := p.Stats().Cancelled; got != 1 {
		t.Fatalf("Stats().Cancelled = %d, want 1", got)
	}
	waitFor(t, "context cancellation observed", sawCancel.Load)

	// The single worker slot is free again even though the function is
	// still blocked.
	next, _ := p.Submit("next", func(ctx context.Context) (any, error) { return 1, nil })
	if v, err := next.Wait(waitCtx(t)); err != nil || v != 1 {
		t.Fatalf("next Wait() = %v, %v", v, err)
	}
}

func TestPool_WarnBandDoesNotCancel(t *testing.T) {
	p, clock := newTestPool(t, Config{Workers: 1, TaskTimeout: 10 * time.Second})

	release := make(chan struct{})
	task, _ := p.Submit("slow", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	waitFor(t, "task running", func() bool { return task.Status() == StatusRunning })

	clock.Advance(6 * time.Second)
	p.tick()

	if task.Status() != StatusRunning {
		t.Fatalf("Status() = %v, want running", task.Status())
	}
	if task.markWarned() {
		t.Fatal("tick did not record the near-deadline warning")
	}
	if got := p.Stats().Tracked; got != 1 {
		t.Fatalf("Stats().Tracked = %d, want 1", got)
	}

	close(release)
	if _, err := task.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	p.tick()
	if got := p.Stats().Tracked; got != 0 {
		t.Fatalf("Stats().Tracked = %d, want 0 after completion", got)
	}
}

func TestPool_QueueFullRejects(t *testing.T) {
	p, _ := newTestPool(t, Config{Workers: 1, QueueSize: 1})

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	block := func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	}

	running, _ := p.Submit("running", block)
	waitFor(t, "task running", func() bool { return running.Status() == StatusRunning })

	if _, err := p.Submit("queued", block); err != nil {
		t.Fatalf("Submit(queued) error: %v", err)
	}

	rejected, err := p.Submit("rejected", block)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit() error = %v, want ErrQueueFull", err)
	}
	if rejected == nil || rejected.Status() != StatusRejected {
		t.Fatalf("rejected task status = %v", rejected.Status())
	}
	select {
	case <-rejected.Done():
	default:
		t.Fatal("rejected task Done() not closed")
	}
	if p.Stats().Rejected != 1 {
		t.Fatalf("Stats().Rejected = %d, want 1", p.Stats().Rejected)
	}
}

func TestPool_CancelQueuedTaskNeverRuns(t *testing.T) {
	p, _ := newTestPool(t, Config{Workers: 1})

	release := make(chan struct{})
	first, _ := p.Submit("first", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	waitFor(t, "task running", func() bool { return first.Status() == StatusRunning })

	var ran atomic.Bool
	second, _ := p.Submit("second", func(ctx context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})
	if !second.Cancel() {
		t.Fatal("Cancel() = false for queued task")
	}
	if second.Cancel() {
		t.Fatal("second Cancel() = true")
	}

	close(release)
	if _, err := first.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if _, err := second.Wait(waitCtx(t)); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Wait() error = %v, want ErrCancelled", err)
	}

	// Let the worker pick up and discard the cancelled task.
	third, _ := p.Submit("third", func(ctx context.Context) (any, error) { return nil, nil })
	if _, err := third.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if ran.Load() {
		t.Fatal("cancelled queued task ran")
	}
}

func TestPool_Utilization(t *testing.T) {
	p, _ := newTestPool(t, Config{Workers: 4})

	release := make(chan struct{})
	defer close(release)
	for i := 0; i < 2; i++ {
		p.Submit("busy", func(ctx context.Context) (any, error) {
			<-release
			return nil, nil
		})
	}
	waitFor(t, "two active workers", func() bool { return p.Stats().Active == 2 })

	if got := p.Stats().Utilization; got != 0.5 {
		t.Fatalf("Utilization = %v, want 0.5", got)
	}
}

func TestPool_CloseRejectsAndCancels(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := New(Config{Workers: 1, Clock: clock, MonitorInterval: time.Hour})

	release := make(chan struct{})
	defer close(release)
	stuck, _ := p.Submit("stuck", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	waitFor(t, "task running", func() bool { return stuck.Status() == StatusRunning })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close() error = %v, want deadline exceeded", err)
	}
	if stuck.Status() != StatusCancelled {
		t.Fatalf("Status() = %v, want cancelled", stuck.Status())
	}
	if !errors.Is(stuck.Err(), ErrClosed) {
		t.Fatalf("Err() = %v, want ErrClosed", stuck.Err())
	}

	task, err := p.Submit("late", func(ctx context.Context) (any, error) { return nil, nil })
	if !errors.Is(err, ErrClosed) || task.Status() != StatusRejected {
		t.Fatalf("Submit() after Close = %v, %v", task.Status(), err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
}

func TestPool_NilFunc(t *testing.T) {
	p, _ := newTestPool(t, Config{Workers: 1})
	if _, err := p.Submit("nil", nil); err == nil {
		t.Fatal("Submit(nil) error = nil")
	}
}

func TestConfig_Defaults(t *testing.T) {
	c := Config{WarnRatio: 0.99}.withDefaults()
	if c.Workers != 80 || c.QueueSize != 4096 || c.TaskTimeout != 180*time.Second {
		t.Fatalf("defaults = %+v", c)
	}
	if c.WarnRatio != 0.98 {
		t.Fatalf("WarnRatio = %v, want clamped to 0.98", c.WarnRatio)
	}
}
