package elan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Job states reported through Stats and MetricsReporter.
const (
	JobPending  = "pending"
	JobRunning  = "running"
	JobRetrying = "retrying"
	JobFailed   = "failed"
	JobDone     = "done"
)

// Dispatcher defaults.
const (
	DefaultMaxRetries     = 5
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
)

// ErrDispatcherClosed indicates a Submit after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// JobFunc is one unit of work. A returned error is retried with backoff
// until the retry budget is spent; wrap it with backoff.Permanent to stop
// early.
type JobFunc func(ctx context.Context) error

type job struct {
	key  JobKey
	name string
	fn   JobFunc
	done chan<- error
}

// DispatcherStats is a snapshot of job states. Pending, Running and
// Retrying are current counts; Failed and Done are totals.
type DispatcherStats struct {
	Keys     int
	Pending  int
	Running  int
	Retrying int
	Failed   uint64
	Done     uint64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxRetries sets how many times a failing job is retried.
func WithMaxRetries(n uint64) DispatcherOption {
	return func(d *Dispatcher) { d.maxRetries = n }
}

// WithBackoff sets the initial and maximum retry interval.
func WithBackoff(initial, maxInterval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if initial > 0 {
			d.initial = initial
		}
		if maxInterval > 0 {
			d.maxInterval = maxInterval
		}
	}
}

// WithDispatcherMetrics sets the metrics reporter.
func WithDispatcherMetrics(m MetricsReporter) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// Dispatcher runs jobs serialized per JobKey. Each key has its own FIFO
// drained by one goroutine while the key has work; different keys run
// concurrently.
type Dispatcher struct {
	maxRetries  uint64
	initial     time.Duration
	maxInterval time.Duration
	metrics     MetricsReporter
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	queues   map[JobKey][]job
	closed   bool
	inflight int
	idle     chan struct{}
	stats    DispatcherStats
}

// NewDispatcher creates a Dispatcher. Call Close to stop it.
func NewDispatcher(logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	d := &Dispatcher{
		maxRetries:  DefaultMaxRetries,
		initial:     DefaultInitialBackoff,
		maxInterval: DefaultMaxBackoff,
		metrics:     noopMetrics{},
		logger:      logger.With(slog.String("component", "elan.dispatcher")),
		ctx:         ctx,
		cancel:      cancel,
		queues:      make(map[JobKey][]job),
		idle:        idle,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit enqueues fn behind every job already queued for key.
func (d *Dispatcher) Submit(key JobKey, name string, fn JobFunc) error {
	return d.enqueue(job{key: key, name: name, fn: fn})
}

// Do enqueues fn like Submit and waits for its final outcome, retries
// included. A done ctx stops the wait, not the job.
func (d *Dispatcher) Do(ctx context.Context, key JobKey, name string, fn JobFunc) error {
	done := make(chan error, 1)
	if err := d.enqueue(job{key: key, name: name, fn: fn, done: done}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("wait %s on %s: %w", name, key, ctx.Err())
	}
}

func (d *Dispatcher) enqueue(j job) error {
	key, name := j.key, j.name

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("submit %s on %s: %w", name, key, ErrDispatcherClosed)
	}

	if d.inflight == 0 {
		d.idle = make(chan struct{})
	}
	d.inflight++

	q, active := d.queues[key]
	d.queues[key] = append(q, j)
	d.stats.Pending++
	d.reportGaugesLocked()

	if !active {
		d.wg.Add(1)
		go d.drain(key)
	}
	return nil
}

// Wait blocks until no job is pending or running, or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher wait: %w", ctx.Err())
	}
}

// Stats returns a snapshot of job states.
func (d *Dispatcher) Stats() DispatcherStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Keys = len(d.queues)
	return s
}

// Close stops accepting jobs, cancels running ones, discards queued ones
// and waits for the key goroutines to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

// drain runs the jobs of key in order until its queue is empty.
func (d *Dispatcher) drain(key JobKey) {
	defer d.wg.Done()

	for {
		j, ok := d.next(key)
		if !ok {
			return
		}
		err := d.run(j)
		d.finish(j, err)
	}
}

// next pops the head of key's queue, removing the queue once empty.
func (d *Dispatcher) next(key JobKey) (job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[key]
	if len(q) == 0 {
		delete(d.queues, key)
		return job{}, false
	}

	j := q[0]
	d.queues[key] = q[1:]
	d.stats.Pending--
	d.stats.Running++
	d.reportGaugesLocked()
	return j, true
}

// run executes j with bounded exponential backoff.
func (d *Dispatcher) run(j job) error {
	if err := d.ctx.Err(); err != nil {
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.initial
	eb.MaxInterval = d.maxInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, d.maxRetries), d.ctx)

	retrying := false
	notify := func(err error, next time.Duration) {
		if !retrying {
			retrying = true
			d.setRetrying(1)
		}
		d.metrics.IncJobs(JobRetrying)
		d.logger.Warn("job failed, retrying",
			slog.String("key", j.key.String()),
			slog.String("job", j.name),
			slog.Duration("backoff", next),
			slog.String("error", err.Error()),
		)
	}

	err := backoff.RetryNotify(func() error { return j.fn(d.ctx) }, policy, notify)
	if retrying {
		d.setRetrying(-1)
	}
	return err
}

func (d *Dispatcher) setRetrying(delta int) {
	d.mu.Lock()
	d.stats.Retrying += delta
	d.reportGaugesLocked()
	d.mu.Unlock()
}

// finish records the outcome of j and signals idleness.
func (d *Dispatcher) finish(j job, err error) {
	d.mu.Lock()
	d.stats.Running--
	state := JobDone
	if err != nil {
		state = JobFailed
		d.stats.Failed++
	} else {
		d.stats.Done++
	}
	d.inflight--
	if d.inflight == 0 {
		close(d.idle)
	}
	d.reportGaugesLocked()
	d.mu.Unlock()

	if j.done != nil {
		j.done <- err
	}

	d.metrics.IncJobs(state)
	if err != nil {
		d.logger.Error("job failed",
			slog.String("key", j.key.String()),
			slog.String("job", j.name),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) reportGaugesLocked() {
	d.metrics.SetJobsInFlight(JobPending, d.stats.Pending)
	d.metrics.SetJobsInFlight(JobRunning, d.stats.Running)
	d.metrics.SetJobsInFlight(JobRetrying, d.stats.Retrying)
}
