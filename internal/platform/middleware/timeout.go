package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

type TimeoutConfig struct {
	Timeout time.Duration
	// Skipper exempts routes that carry their own timeout.
	Skipper echomw.Skipper
}

// RequestTimeout puts a deadline on the request context. The handler runs on
// the request goroutine; when it gives up with context.DeadlineExceeded the
// client gets a 504. Routes that call the scoring model are registered with
// their own, longer, timeout.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return RequestTimeoutWithConfig(TimeoutConfig{Timeout: timeout})
}

func RequestTimeoutWithConfig(cfg TimeoutConfig) echo.MiddlewareFunc {
	if cfg.Timeout <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return echomw.ContextTimeoutWithConfig(echomw.ContextTimeoutConfig{
		Skipper:      cfg.Skipper,
		Timeout:      cfg.Timeout,
		ErrorHandler: timeoutErrorHandler,
	})
}

func timeoutErrorHandler(err error, c echo.Context) error {
	if !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if c.Response().Committed {
		return nil
	}
	return c.JSON(http.StatusGatewayTimeout, map[string]interface{}{
		"ok":    false,
		"error": "request timed out",
	})
}
