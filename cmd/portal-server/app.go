package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/medsupply/portal/internal/config"
	"github.com/medsupply/portal/internal/domain/approval"
	"github.com/medsupply/portal/internal/domain/order"
	"github.com/medsupply/portal/internal/domain/patient"
	"github.com/medsupply/portal/internal/platform/db"
	"github.com/medsupply/portal/internal/platform/jobs"
	"github.com/medsupply/portal/internal/platform/llm"
	"github.com/medsupply/portal/internal/platform/notification"
)

// app holds the long-lived dependencies shared by serve and rescore.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client
	queue  jobs.Queue

	notifier  *notification.Manager
	orders    *order.Service
	approvals *approval.Service
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func newQueue(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (jobs.Queue, *redis.Client, error) {
	opts := jobs.Options{Workers: cfg.JobWorkers, QueueSize: cfg.JobQueueSize, JobTimeout: cfg.JobTimeout}
	switch cfg.JobBackend {
	case "redis":
		client, err := jobs.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return jobs.NewRedisQueue(client, cfg.JobQueueKey, opts, logger), client, nil
	case "memory", "":
		return jobs.NewMemoryQueue(opts, logger), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown job backend %q", cfg.JobBackend)
}

// newApp connects to the database and builds the services. withQueue also
// starts the background job queue.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, withQueue bool) (*app, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	a := &app{cfg: cfg, logger: logger, pool: pool}

	llmClient := llm.New(llm.Config{
		APIKey:    cfg.AnthropicAPIKey,
		BaseURL:   cfg.AnthropicBaseURL,
		Model:     cfg.ScoringModel,
		MaxTokens: cfg.ScoringMaxTokens,
		Timeout:   cfg.ScoringTimeout,
		Retries:   cfg.ScoringRetries,
	}, logger)
	if !llmClient.Enabled() {
		logger.Warn().Msg("ANTHROPIC_API_KEY not set; scoring and suggestions will report unavailable")
	}

	a.notifier = notification.NewManager(notification.LogSender{Logger: logger}, nil)

	patients := patient.NewRepoPG(pool)
	a.approvals = approval.NewService(
		patients,
		approval.NewScoreRepoPG(pool),
		approval.NewColorCachePG(pool),
		approval.NewScorer(llmClient, cfg.ScoringMaxTokens, logger),
		logger,
	)
	a.approvals.SetStaleAfter(cfg.RescoreStaleAfter)
	a.approvals.SetNotifier(a.notifier, cfg.ReviewNotifyEmail)

	a.orders = order.NewService(order.NewOrderRepoPG(pool), order.NewRevisionRepoPG(pool), db.NewTxManager(pool), logger)
	a.orders.SetPatients(patients)
	a.orders.SetScoring(a.approvals)
	a.orders.SetNotifier(a.notifier, cfg.ReviewNotifyEmail)
	a.orders.SetAdvisor(llmClient, cfg.ScoringMaxTokens)

	if withQueue {
		q, client, err := newQueue(ctx, cfg, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		q.Handle(jobs.KindApprovalScore, a.approvals.HandleJob)
		q.Start()
		a.queue, a.redis = q, client
		a.approvals.SetDispatcher(q)
		logger.Info().Str("backend", cfg.JobBackend).Int("workers", cfg.JobWorkers).Msg("job queue started")
	}
	return a, nil
}

// Close drains the job queue before releasing connections.
func (a *app) Close(ctx context.Context) {
	if a.queue != nil {
		stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := a.queue.Stop(stopCtx); err != nil {
			a.logger.Warn().Err(err).Msg("job queue did not drain cleanly")
		}
		cancel()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.pool.Close()
}
