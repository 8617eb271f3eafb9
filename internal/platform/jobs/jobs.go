// Package jobs runs background work outside the request lifecycle. Two
// backends share the same handler registry: an in-process bounded pool and a
// Redis list consumed with BRPOP.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Kind string

const KindApprovalScore Kind = "approval_score"

var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrStopped     = errors.New("job queue is stopped")
	ErrUnknownKind = errors.New("no handler registered for job kind")
)

// Job is the unit of background work. It is serialized as JSON by the Redis
// backend.
type Job struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	PatientID   string    `json:"patient_id"`
	RequestedBy string    `json:"requested_by,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Handler processes one job. ctx is owned by the queue and carries the
// per-job timeout.
type Handler func(ctx context.Context, job Job) error

// Dispatcher accepts jobs without waiting for them to run.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Queue is a Dispatcher that can be started and stopped.
type Queue interface {
	Dispatcher
	Handle(kind Kind, h Handler)
	Start()
	Stop(ctx context.Context) error
}

type Options struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 2 * time.Minute
	}
	return o
}

// registry holds handlers and executes jobs. Both backends embed it.
type registry struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
	timeout  time.Duration
	logger   zerolog.Logger
}

func newRegistry(timeout time.Duration, logger zerolog.Logger) *registry {
	return &registry{
		handlers: make(map[Kind]Handler),
		timeout:  timeout,
		logger:   logger,
	}
}

func (r *registry) Handle(kind Kind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

func (r *registry) handler(kind Kind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// run executes job under a fresh context so request cancellation never
// reaches it. Panics are logged and swallowed.
func (r *registry) run(job Job) (err error) {
	h, ok := r.handler(job.Kind)
	if !ok {
		r.logger.Error().Str("job_id", job.ID).Str("kind", string(job.Kind)).Msg("no handler for job")
		return fmt.Errorf("%w: %s", ErrUnknownKind, job.Kind)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			var stack [4096]byte
			n := runtime.Stack(stack[:], false)
			r.logger.Error().
				Str("job_id", job.ID).
				Str("panic", fmt.Sprintf("%v", p)).
				Str("stack", string(stack[:n])).
				Msg("job panicked")
			err = fmt.Errorf("job %s panicked: %v", job.ID, p)
		}
	}()

	err = h(ctx, job)
	evt := r.logger.Info()
	if err != nil {
		evt = r.logger.Error().Err(err)
	}
	evt.Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("patient_id", job.PatientID).
		Dur("queued", start.Sub(job.EnqueuedAt)).
		Dur("elapsed", time.Since(start)).
		Msg("job finished")
	return err
}

func stamp(job Job) Job {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	return job
}
