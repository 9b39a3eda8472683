package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/vango-dev/eventbroker/pkg/metrics"
)

// Config configures a Pool.
type Config struct {
	// Name labels log lines from this pool.
	Name string

	// Workers is the fixed number of worker goroutines.
	// Default: 80.
	Workers int

	// QueueSize bounds tasks waiting for a worker.
	// Default: 4096.
	QueueSize int

	// TaskTimeout is how long a task may run before it is cancelled.
	// Default: 180 seconds.
	TaskTimeout time.Duration

	// MonitorInterval is the period of the timeout monitor.
	// Default: 1 second.
	MonitorInterval time.Duration

	// WarnRatio is the fraction of TaskTimeout after which a running task is
	// logged as close to cancellation. Clamped to [0.5, 0.98].
	// Default: 0.5.
	WarnRatio float64

	// UtilizationWarn is the busy-worker ratio above which the monitor logs
	// utilization as a warning. Advisory only.
	// Default: 0.5.
	UtilizationWarn float64

	// Clock drives the monitor and task timing. Default: the real clock.
	Clock clockwork.Clock

	// Logger receives pool logs. Default: slog.Default().
	Logger *slog.Logger

	// Metrics receives pool statistics. Optional.
	Metrics *metrics.Metrics
}

// DefaultConfig returns a Config with the defaults used by the broker.
func DefaultConfig() Config {
	return Config{
		Name:            "default",
		Workers:         80,
		QueueSize:       4096,
		TaskTimeout:     180 * time.Second,
		MonitorInterval: time.Second,
		WarnRatio:       0.5,
		UtilizationWarn: 0.5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = d.TaskTimeout
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = d.MonitorInterval
	}
	if c.WarnRatio <= 0 {
		c.WarnRatio = d.WarnRatio
	}
	c.WarnRatio = min(max(c.WarnRatio, 0.5), 0.98)
	if c.UtilizationWarn <= 0 {
		c.UtilizationWarn = d.UtilizationWarn
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Pool is a fixed-size worker pool with a timeout monitor.
type Pool struct {
	config Config
	clock  clockwork.Clock
	logger *slog.Logger

	queue chan *Task

	// Tracked tasks (queued or running) protected by mu
	mu      sync.Mutex
	tracked map[string]*Task
	closed  bool

	active    atomic.Int64
	submitted atomic.Uint64
	cancelled atomic.Uint64
	rejected  atomic.Uint64

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc

	workers     sync.WaitGroup
	stopMonitor chan struct{}
	monitorDone chan struct{}
}

// New creates a Pool and starts its workers and monitor.
func New(config Config) *Pool {
	config = config.withDefaults()

	baseCtx, baseCancel := context.WithCancelCause(context.Background())
	p := &Pool{
		config:      config,
		clock:       config.Clock,
		logger:      config.Logger.With("component", "worker_pool", "pool", config.Name),
		queue:       make(chan *Task, config.QueueSize),
		tracked:     make(map[string]*Task),
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		stopMonitor: make(chan struct{}),
		monitorDone: make(chan struct{}),
	}

	p.workers.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go p.worker()
	}
	go p.monitorLoop()

	return p
}

// Config returns the effective configuration.
func (p *Pool) Config() Config {
	return p.config
}

// Submit queues fn and returns its handle without blocking. When the pool
// is closed or the queue is full the task is returned already rejected,
// together with ErrClosed or ErrQueueFull.
func (p *Pool) Submit(name string, fn Func) (*Task, error) {
	if fn == nil {
		return nil, fmt.Errorf("workerpool: nil func for %q", name)
	}
	t := newTask(p.baseCtx, name, fn, p.clock.Now())

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.reject(t, ErrClosed)
		return t, ErrClosed
	}
	select {
	case p.queue <- t:
		p.tracked[t.id] = t
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		p.reject(t, ErrQueueFull)
		return t, ErrQueueFull
	}

	p.submitted.Add(1)
	p.logger.Debug("task submitted", "task", name, "task_id", t.id)
	return t, nil
}

func (p *Pool) reject(t *Task, err error) {
	t.finish(StatusRejected, nil, err)
	t.cancel(err)
	p.rejected.Add(1)
	p.config.Metrics.ObserveTask(StatusRejected.String(), 0)
	p.logger.Warn("task rejected", "task", t.name, "error", err)
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for t := range p.queue {
		p.run(t)
	}
}

type outcome struct {
	value any
	err   error
}

// run executes t and returns once it finishes or is cancelled. A cancelled
// function keeps running in its own goroutine; its late result is dropped.
func (p *Pool) run(t *Task) {
	if !t.start(p.clock.Now()) {
		t.finish(StatusCancelled, nil, taskCause(t))
		return
	}

	p.active.Add(1)
	defer p.active.Add(-1)

	results := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- outcome{err: &PanicError{Value: r, Stack: debug.Stack()}}
			}
		}()
		v, err := t.fn(t.ctx)
		results <- outcome{value: v, err: err}
	}()

	select {
	case out := <-results:
		status := StatusSucceeded
		if out.err != nil {
			status = StatusFailed
		}
		if !t.finish(status, out.value, out.err) {
			return
		}
		t.cancel(nil)
		d := t.runDuration(p.clock.Now())
		p.config.Metrics.ObserveTask(status.String(), d)

		var pe *PanicError
		switch {
		case errors.As(out.err, &pe):
			p.logger.Error("task panicked",
				"task", t.name,
				"task_id", t.id,
				"panic", pe.Value,
				"stack", string(pe.Stack))
		case out.err != nil:
			p.logger.Debug("task failed", "task", t.name, "task_id", t.id, "error", out.err)
		default:
			p.logger.Debug("task completed", "task", t.name, "task_id", t.id, "duration", d)
		}

	case <-t.ctx.Done():
		t.finish(StatusCancelled, nil, taskCause(t))
		p.config.Metrics.ObserveTask(StatusCancelled.String(), t.runDuration(p.clock.Now()))
	}
}

func taskCause(t *Task) error {
	if cause := context.Cause(t.ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return ErrCancelled
}

func (p *Pool) monitorLoop() {
	defer close(p.monitorDone)

	ticker := p.clock.NewTicker(p.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			p.tick()
		case <-p.stopMonitor:
			return
		}
	}
}

// tick runs one monitor pass: publish utilization, warn about and cancel
// long-running tasks, and prune finished tasks.
func (p *Pool) tick() {
	stats := p.Stats()
	p.config.Metrics.SetPoolStats(stats.Active, stats.Queued, stats.Utilization)
	if stats.Utilization > p.config.UtilizationWarn {
		p.logger.Warn("pool utilization high",
			"utilization", fmt.Sprintf("%.2f%%", stats.Utilization*100),
			"active", stats.Active,
			"queued", stats.Queued)
	} else {
		p.logger.Debug("pool utilization",
			"utilization", fmt.Sprintf("%.2f%%", stats.Utilization*100),
			"active", stats.Active)
	}

	now := p.clock.Now()
	timeout := p.config.TaskTimeout
	warnAfter := time.Duration(float64(timeout) * p.config.WarnRatio)

	p.mu.Lock()
	defer p.mu.Unlock()

	for id, t := range p.tracked {
		elapsed := t.elapsed(now)
		switch {
		case elapsed > timeout:
			if t.cancelWith(ErrTaskTimeout) {
				p.cancelled.Add(1)
				p.logger.Error("task exceeded timeout and was cancelled",
					"task", t.name,
					"task_id", t.id,
					"elapsed", elapsed,
					"timeout", timeout)
			}
		case elapsed > warnAfter:
			if t.markWarned() {
				p.logger.Warn("task close to timeout",
					"task", t.name,
					"task_id", t.id,
					"elapsed", elapsed,
					"ratio", fmt.Sprintf("%.2f%%", float64(elapsed)/float64(timeout)*100))
			}
		}

		if t.Status().Finished() {
			delete(p.tracked, id)
		}
	}
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers     int     `json:"workers"`
	Active      int     `json:"active"`
	Queued      int     `json:"queued"`
	Tracked     int     `json:"tracked"`
	Submitted   uint64  `json:"submitted"`
	Cancelled   uint64  `json:"cancelled"`
	Rejected    uint64  `json:"rejected"`
	Utilization float64 `json:"utilization"`
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	tracked := len(p.tracked)
	p.mu.Unlock()

	active := int(p.active.Load())
	return Stats{
		Workers:     p.config.Workers,
		Active:      active,
		Queued:      len(p.queue),
		Tracked:     tracked,
		Submitted:   p.submitted.Load(),
		Cancelled:   p.cancelled.Load(),
		Rejected:    p.rejected.Load(),
		Utilization: float64(active) / float64(p.config.Workers),
	}
}

// Close stops accepting work and waits for queued and running tasks until
// ctx is done, then cancels whatever is left.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		p.baseCancel(ErrClosed)
		<-drained
	}

	p.baseCancel(ErrClosed)
	close(p.stopMonitor)
	<-p.monitorDone

	p.logger.Info("pool closed", "submitted", p.submitted.Load(), "cancelled", p.cancelled.Load())
	return err
}
