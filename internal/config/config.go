// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/hitoshi/leetsync/internal/worker/daily"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort        string `env:"SERVER_PORT" env-default:"8080"`
	AppEnv            string `env:"APP_ENV" env-default:"development"`
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" env-default:"http://localhost:3000"`
	RateLimitPerMin   int    `env:"RATE_LIMIT_PER_MIN" env-default:"120"`

	// Database
	DatabaseURL string `env:"DATABASE_URL" env-required:"true"`

	// Auth
	JWTSecret string `env:"JWT_SECRET" env-required:"true"`
	JWTIssuer string `env:"JWT_ISSUER"`

	// LeetCode
	LeetCodeGraphQLURL   string        `env:"LEETCODE_GRAPHQL_URL" env-default:"https://leetcode.com/graphql"`
	LeetCodeSession      string        `env:"LEETCODE_SESSION"`
	LeetCodeCSRFToken    string        `env:"LEETCODE_CSRF_TOKEN"`
	LeetCodeTimeout      time.Duration `env:"LEETCODE_TIMEOUT" env-default:"10s"`
	LeetCodeMaxRetries   int           `env:"LEETCODE_MAX_RETRIES" env-default:"2"`
	LeetCodeMaxRetryWait time.Duration `env:"LEETCODE_MAX_RETRY_WAIT" env-default:"30s"`
	LeetCodeRatePerSec   float64       `env:"LEETCODE_RATE_PER_SEC" env-default:"2"`

	// Sync
	SyncItemDelay       time.Duration `env:"SYNC_ITEM_DELAY" env-default:"2s"`
	SyncProblemDelay    time.Duration `env:"SYNC_PROBLEM_DELAY" env-default:"500ms"`
	SyncProfileDelay    time.Duration `env:"SYNC_PROFILE_DELAY" env-default:"5s"`
	SyncStaleAfter      time.Duration `env:"SYNC_STALE_AFTER" env-default:"23h"`
	SyncSubmissionLimit int           `env:"SYNC_SUBMISSION_LIMIT" env-default:"20"`
	SyncDailyAt         string        `env:"SYNC_DAILY_AT" env-default:"02:00"`

	// Cleanup
	CleanupDailyAt       string `env:"CLEANUP_DAILY_AT" env-default:"03:30"`
	CleanupRetentionDays int    `env:"CLEANUP_RETENTION_DAYS" env-default:"30"`

	// Redis（未設定の場合は利用しない）
	RedisURL        string        `env:"REDIS_URL"`
	ProblemCacheTTL time.Duration `env:"PROBLEM_CACHE_TTL" env-default:"168h"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"LOG_FORMAT" env-default:"json"`
}

var appEnvs = []string{"development", "staging", "production"}

// Load は .env（存在する場合）と環境変数からConfigを読み込み、検証する。
// 既に設定されている環境変数は .env で上書きしない。
func Load() (*Config, error) {
	// .env はローカル開発用。存在しなくてもよい
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if !slices.Contains(appEnvs, c.AppEnv) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of %v, got %q", appEnvs, c.AppEnv))
	}
	if _, err := daily.Parse(c.SyncDailyAt); err != nil {
		errs = append(errs, fmt.Errorf("SYNC_DAILY_AT: %w", err))
	}
	if _, err := daily.Parse(c.CleanupDailyAt); err != nil {
		errs = append(errs, fmt.Errorf("CLEANUP_DAILY_AT: %w", err))
	}

	positive := []struct {
		name string
		ok   bool
	}{
		{"LEETCODE_TIMEOUT", c.LeetCodeTimeout > 0},
		{"LEETCODE_MAX_RETRY_WAIT", c.LeetCodeMaxRetryWait > 0},
		{"LEETCODE_RATE_PER_SEC", c.LeetCodeRatePerSec > 0},
		{"SYNC_ITEM_DELAY", c.SyncItemDelay > 0},
		{"SYNC_PROBLEM_DELAY", c.SyncProblemDelay > 0},
		{"SYNC_PROFILE_DELAY", c.SyncProfileDelay > 0},
		{"SYNC_STALE_AFTER", c.SyncStaleAfter > 0},
		{"SYNC_SUBMISSION_LIMIT", c.SyncSubmissionLimit > 0},
		{"CLEANUP_RETENTION_DAYS", c.CleanupRetentionDays > 0},
		{"RATE_LIMIT_PER_MIN", c.RateLimitPerMin > 0},
	}
	for _, p := range positive {
		if !p.ok {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}
	if c.LeetCodeMaxRetries < 0 {
		errs = append(errs, errors.New("LEETCODE_MAX_RETRIES must not be negative"))
	}

	return errors.Join(errs...)
}

// IsProduction は本番環境かを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// SyncTime はバッチ同期の実行時刻を返す。Validate済みであることを前提とする。
func (c *Config) SyncTime() daily.TimeOfDay {
	t, _ := daily.Parse(c.SyncDailyAt)
	return t
}

// CleanupTime はクリーンアップの実行時刻を返す。Validate済みであることを前提とする。
func (c *Config) CleanupTime() daily.TimeOfDay {
	t, _ := daily.Parse(c.CleanupDailyAt)
	return t
}
