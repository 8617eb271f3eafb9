package jobs

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// MemoryQueue is a bounded channel drained by a fixed set of goroutines.
// Dispatch never blocks: a full buffer is reported as ErrQueueFull.
type MemoryQueue struct {
	*registry
	workers int
	ch      chan Job

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

func NewMemoryQueue(opts Options, logger zerolog.Logger) *MemoryQueue {
	opts = opts.withDefaults()
	return &MemoryQueue{
		registry: newRegistry(opts.JobTimeout, logger.With().Str("component", "jobs").Str("backend", "memory").Logger()),
		workers:  opts.Workers,
		ch:       make(chan Job, opts.QueueSize),
	}
}

func (q *MemoryQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for job := range q.ch {
				_ = q.run(job)
			}
		}()
	}
}

func (q *MemoryQueue) Dispatch(_ context.Context, job Job) error {
	job = stamp(job)

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return ErrStopped
	}
	select {
	case q.ch <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new jobs and waits for queued and running ones to finish, or
// for ctx to expire.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.ch)
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
