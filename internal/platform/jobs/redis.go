package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisQueue pushes jobs onto a Redis list with LPUSH and pops them with
// BRPOP, so queued work survives a restart of the server.
type RedisQueue struct {
	*registry
	client  *redis.Client
	key     string
	workers int
	poll    time.Duration

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewRedisQueue(client *redis.Client, key string, opts Options, logger zerolog.Logger) *RedisQueue {
	opts = opts.withDefaults()
	return &RedisQueue{
		registry: newRegistry(opts.JobTimeout, logger.With().Str("component", "jobs").Str("backend", "redis").Str("key", key).Logger()),
		client:   client,
		key:      key,
		workers:  opts.Workers,
		poll:     time.Second,
	}
}

func encodeJob(job Job) (string, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	return string(b), nil
}

func decodeJob(payload string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if job.Kind == "" {
		return Job{}, fmt.Errorf("decode job: missing kind")
	}
	return job, nil
}

func (q *RedisQueue) Dispatch(ctx context.Context, job Job) error {
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	payload, err := encodeJob(stamp(job))
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.key, err)
	}
	return nil
}

func (q *RedisQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.consume(ctx)
	}
}

func (q *RedisQueue) consume(ctx context.Context) {
	defer q.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := q.client.BRPop(ctx, q.poll, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			q.logger.Warn().Err(err).Msg("brpop failed")
			select {
			case <-time.After(q.poll):
			case <-ctx.Done():
			}
			continue
		}
		// res is [key, value]
		if len(res) != 2 {
			continue
		}
		job, err := decodeJob(res[1])
		if err != nil {
			q.logger.Error().Err(err).Str("payload", res[1]).Msg("dropping malformed job")
			continue
		}
		_ = q.run(job)
	}
}

// Stop ends the consumers after their current job. Jobs still in the list
// stay there for the next start.
func (q *RedisQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()

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
