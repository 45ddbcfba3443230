// Package queue runs jobs one at a time in FIFO order on a single worker.
// Every catalog read-modify-write goes through it so no two verifications
// commit over each other.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrClosed = errors.New("queue: closed")

// Job is a unit of work. ctx is the worker's context; it is cancelled only
// when the queue is force-closed.
type Job func(ctx context.Context) error

// Future resolves when its job has run.
type Future struct {
	done chan struct{}
	err  error
}

// Done is closed once the job has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the job finishes or ctx is done. A ctx error does not
// cancel the job; it still runs to completion on the worker.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Stats struct {
	Pending   int   `json:"pending"`
	Running   bool  `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

type entry struct {
	job    Job
	future *Future
}

type Queue struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending []entry
	signal  chan struct{}
	closed  bool
	running bool
	stats   Stats

	cancel  context.CancelFunc
	stopped chan struct{}
}

func New(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		logger:  logger.With("component", "queue"),
		signal:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Start launches the worker. It must be called exactly once.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()
	go q.run(ctx)
}

// Enqueue appends job to the queue. The returned future resolves with the
// job's error, or with ErrClosed if the queue no longer accepts work.
func (q *Queue) Enqueue(job Job) *Future {
	f := &Future{done: make(chan struct{})}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		f.err = ErrClosed
		close(f.done)
		return f
	}
	q.pending = append(q.pending, entry{job: job, future: f})
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return f
}

// Do enqueues job and waits for it.
func (q *Queue) Do(ctx context.Context, job Job) error {
	return q.Enqueue(job).Wait(ctx)
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	s.Running = q.running
	return s
}

func (q *Queue) next() (entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return entry{}, false
	}
	e := q.pending[0]
	q.pending[0] = entry{}
	q.pending = q.pending[1:]
	q.running = true
	return e, true
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.stopped)
	for {
		if ctx.Err() != nil {
			q.drain(ctx.Err())
			return
		}
		e, ok := q.next()
		if !ok {
			q.mu.Lock()
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.signal:
			case <-ctx.Done():
				q.drain(ctx.Err())
				return
			}
			continue
		}
		err := q.execute(ctx, e.job)
		q.mu.Lock()
		q.running = false
		if err != nil {
			q.stats.Failed++
		} else {
			q.stats.Completed++
		}
		q.mu.Unlock()
		e.future.err = err
		close(e.future.done)
	}
}

func (q *Queue) execute(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job panicked", "panic", r)
			err = errors.New("queue: job panicked")
		}
	}()
	return job(ctx)
}

// drain resolves every job still pending with err.
func (q *Queue) drain(err error) {
	q.mu.Lock()
	rest := q.pending
	q.pending = nil
	q.closed = true
	q.mu.Unlock()
	for _, e := range rest {
		e.future.err = err
		close(e.future.done)
	}
	if len(rest) > 0 {
		q.logger.Warn("dropped pending jobs", "count", len(rest))
	}
}

// Close stops accepting jobs and waits for the pending ones to finish. If
// ctx ends first the worker is cancelled and the rest are dropped.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	cancel := q.cancel
	q.mu.Unlock()
	if cancel == nil {
		q.drain(ErrClosed)
		return nil
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}

	select {
	case <-q.stopped:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		<-q.stopped
		return ctx.Err()
	}
}
