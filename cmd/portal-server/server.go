package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medsupply/portal/internal/config"
	"github.com/medsupply/portal/internal/domain/approval"
	"github.com/medsupply/portal/internal/domain/order"
	"github.com/medsupply/portal/internal/platform/auth"
	"github.com/medsupply/portal/internal/platform/db"
	"github.com/medsupply/portal/internal/platform/middleware"
)

// modelRoutes call the language model and run under the scoring timeout
// instead of the request timeout.
var modelRoutes = map[string]bool{
	"/api/v1/orders/:id/suggestions":      true,
	"/api/v1/patients/:id/approval-score": true,
}

func isModelRoute(c echo.Context) bool {
	return c.Request().Method == http.MethodPost && modelRoutes[c.Path()]
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}

	e := newRouter(cfg, logger, a.orders, a.approvals)
	e.GET("/health/db", db.HealthHandler(a.pool, func() *db.PoolStats { return db.GetPoolStats(a.pool) }))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	a.Close(context.Background())
	logger.Info().Msg("server stopped")
	return nil
}

func newRouter(cfg *config.Config, logger zerolog.Logger, orders *order.Service, approvals *approval.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.RequestTimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: cfg.RequestTimeout,
		Skipper: isModelRoute,
	}))

	jwt := auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	})
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwt))
	} else {
		e.Use(jwt)
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	modelMW := []echo.MiddlewareFunc{
		middleware.RateLimit(rateLimitCfg),
		middleware.RequestTimeout(cfg.ScoringTimeout),
	}

	apiV1 := e.Group("/api/v1", auth.RequireActor())
	order.NewHandler(orders).RegisterRoutes(apiV1, modelMW...)
	approval.NewHandler(approvals).RegisterRoutes(apiV1, modelMW...)

	return e
}
