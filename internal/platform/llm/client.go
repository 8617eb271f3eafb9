// Package llm is a thin client for the Anthropic Messages API. Every failure
// to obtain a reply, whatever the cause, matches ErrUnavailable.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com"
	DefaultModel      = "claude-3-5-sonnet-20240620"
	DefaultMaxTokens  = 2048
	anthropicVersion  = "2023-06-01"
	messagesPath      = "/v1/messages"
	maxErrorBodyBytes = 512
)

// ErrUnavailable means no usable reply was obtained.
var ErrUnavailable = errors.New("language model unavailable")

// StatusError is a non-2xx reply from the API.
type StatusError struct {
	Code    int
	Type    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("llm api returned %d (%s): %s", e.Code, e.Type, e.Message)
	}
	return fmt.Sprintf("llm api returned %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error { return ErrUnavailable }

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Retries   int
	RetryWait time.Duration
}

// Client calls the Messages endpoint.
type Client struct {
	http   *resty.Client
	cfg    Config
	logger zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(4*cfg.RetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return (&StatusError{Code: r.StatusCode()}).Retryable()
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("anthropic-version", anthropicVersion)

	return &Client{
		http:   httpClient,
		cfg:    cfg,
		logger: logger.With().Str("component", "llm").Logger(),
	}
}

// Enabled is false when no API key is configured.
func (c *Client) Enabled() bool { return c.cfg.APIKey != "" }

func (c *Client) Model() string { return c.cfg.Model }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends prompt as a single user message and returns the text of the
// first content block. maxTokens <= 0 uses the configured default.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("%w: no api key configured", ErrUnavailable)
	}
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	start := time.Now()
	var out messagesResponse
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("x-api-key", c.cfg.APIKey).
		SetBody(messagesRequest{
			Model:     c.cfg.Model,
			MaxTokens: maxTokens,
			Messages:  []message{{Role: "user", Content: prompt}},
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post(messagesPath)
	if err != nil {
		c.logger.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("llm request failed")
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.IsError() {
		se := &StatusError{Code: resp.StatusCode(), Type: apiErr.Error.Type, Message: apiErr.Error.Message}
		if se.Message == "" {
			se.Message = truncate(resp.String(), maxErrorBodyBytes)
		}
		c.logger.Warn().Int("status", se.Code).Str("type", se.Type).Dur("elapsed", time.Since(start)).Msg("llm api error")
		return "", se
	}

	if len(out.Content) == 0 || out.Content[0].Text == "" {
		return "", fmt.Errorf("%w: reply had no text content", ErrUnavailable)
	}

	c.logger.Debug().Str("message_id", out.ID).Str("stop_reason", out.StopReason).Dur("elapsed", time.Since(start)).Msg("llm reply")
	return out.Content[0].Text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
