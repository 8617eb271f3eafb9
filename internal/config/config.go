package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema          string        `mapstructure:"DB_SCHEMA"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL       string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	AnthropicAPIKey   string        `mapstructure:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL  string        `mapstructure:"ANTHROPIC_BASE_URL"`
	ScoringModel      string        `mapstructure:"SCORING_MODEL"`
	ScoringMaxTokens  int           `mapstructure:"SCORING_MAX_TOKENS"`
	ScoringTimeout    time.Duration `mapstructure:"SCORING_TIMEOUT"`
	ScoringRetries    int           `mapstructure:"SCORING_RETRIES"`
	JobBackend        string        `mapstructure:"JOB_BACKEND"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	JobQueueKey       string        `mapstructure:"JOB_QUEUE_KEY"`
	JobWorkers        int           `mapstructure:"JOB_WORKERS"`
	JobQueueSize      int           `mapstructure:"JOB_QUEUE_SIZE"`
	JobTimeout        time.Duration `mapstructure:"JOB_TIMEOUT"`
	RescoreStaleAfter time.Duration `mapstructure:"RESCORE_STALE_AFTER"`
	ReviewNotifyEmail string        `mapstructure:"REVIEW_NOTIFY_EMAIL"`
}

var envKeys = []string{
	"PORT", "ENV", "REQUEST_TIMEOUT",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL",
	"SCORING_MODEL", "SCORING_MAX_TOKENS", "SCORING_TIMEOUT", "SCORING_RETRIES",
	"JOB_BACKEND", "REDIS_URL", "JOB_QUEUE_KEY", "JOB_WORKERS", "JOB_QUEUE_SIZE", "JOB_TIMEOUT",
	"RESCORE_STALE_AFTER", "REVIEW_NOTIFY_EMAIL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 1)
	v.SetDefault("RATE_LIMIT_BURST", 5)
	v.SetDefault("ANTHROPIC_BASE_URL", "https://api.anthropic.com")
	v.SetDefault("SCORING_MODEL", "claude-3-5-sonnet-20240620")
	v.SetDefault("SCORING_MAX_TOKENS", 2048)
	v.SetDefault("SCORING_TIMEOUT", "90s")
	v.SetDefault("SCORING_RETRIES", 1)
	v.SetDefault("JOB_BACKEND", "memory")
	v.SetDefault("JOB_QUEUE_KEY", "portal:jobs:scoring")
	v.SetDefault("JOB_WORKERS", 2)
	v.SetDefault("JOB_QUEUE_SIZE", 64)
	v.SetDefault("JOB_TIMEOUT", "2m")
	v.SetDefault("RESCORE_STALE_AFTER", "168h")

	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development); unauthenticated requests act as dev superadmin")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set outside development (current ENV=%q)", c.Env)
	}

	switch c.JobBackend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when JOB_BACKEND is \"redis\"")
		}
	default:
		return fmt.Errorf("JOB_BACKEND must be \"memory\" or \"redis\", got %q", c.JobBackend)
	}

	if c.JobWorkers <= 0 {
		return fmt.Errorf("JOB_WORKERS must be positive, got %d", c.JobWorkers)
	}
	if c.JobQueueSize <= 0 {
		return fmt.Errorf("JOB_QUEUE_SIZE must be positive, got %d", c.JobQueueSize)
	}
	if c.ScoringTimeout <= 0 {
		return fmt.Errorf("SCORING_TIMEOUT must be positive")
	}
	return nil
}

// ScoringEnabled reports whether an LLM key is configured. Without one every
// scoring call fails as unavailable.
func (c *Config) ScoringEnabled() bool {
	return c.AnthropicAPIKey != ""
}
