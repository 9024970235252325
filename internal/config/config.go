// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	JWTSecret      string        `yaml:"jwt_secret"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type PlanConfig struct {
	Price          string `yaml:"price"` // decimal, major units
	IntervalMonths int    `yaml:"interval_months"`
	Role           string `yaml:"role"`
}

type BillingConfig struct {
	Currency             string                `yaml:"currency"`
	MaxRetries           int                   `yaml:"max_retries"`
	GracePeriodDays      int                   `yaml:"grace_period_days"`
	RetryScheduleDays    []int                 `yaml:"retry_schedule_days"`
	GatewayTimeout       time.Duration         `yaml:"gateway_timeout"`
	DefaultPaymentMethod string                `yaml:"default_payment_method"`
	BaseRole             string                `yaml:"base_role"`
	BatchLimit           int                   `yaml:"batch_limit"`
	ReconcileAfter       time.Duration         `yaml:"reconcile_after"` // age of a PENDING record before reconciliation
	Plans                map[string]PlanConfig `yaml:"plans"` // keyed by MONTHLY|YEARLY|PREMIUM
}

type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

type GatewayConfig struct {
	Provider string        `yaml:"provider"` // mock
	Breaker  BreakerConfig `yaml:"breaker"`
}

type SchedulerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DueCron       string        `yaml:"due_cron"`
	RetryCron     string        `yaml:"retry_cron"`
	GraceCron     string        `yaml:"grace_cron"`
	ReconcileCron string        `yaml:"reconcile_cron"`
	JobTimeout    time.Duration `yaml:"job_timeout"`
}

type NotifyConfig struct {
	TelegramToken string  `yaml:"telegram_token"`
	ChatIDs       []int64 `yaml:"chat_ids"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Billing   BillingConfig   `yaml:"billing"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies environment overrides
// (after loading an optional .env next to the process) and fills defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes raw YAML, applies environment overrides and defaults, and
// validates the result.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&cfg.Database.URL, "DATABASE_URL")
	override(&cfg.Redis.URL, "REDIS_URL")
	override(&cfg.Redis.Password, "REDIS_PASSWORD")
	override(&cfg.HTTP.JWTSecret, "API_JWT_SECRET")
	override(&cfg.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN")
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Redis.LockTTL <= 0 {
		cfg.Redis.LockTTL = time.Minute
	}

	b := &cfg.Billing
	if b.Currency == "" {
		b.Currency = "USD"
	}
	if b.MaxRetries == 0 {
		b.MaxRetries = 3
	}
	if b.GracePeriodDays == 0 {
		b.GracePeriodDays = 3
	}
	if len(b.RetryScheduleDays) == 0 {
		b.RetryScheduleDays = []int{1, 3, 7}
	}
	if b.GatewayTimeout <= 0 {
		b.GatewayTimeout = 15 * time.Second
	}
	if b.DefaultPaymentMethod == "" {
		b.DefaultPaymentMethod = "pm_card_visa"
	}
	if b.BaseRole == "" {
		b.BaseRole = "USER"
	}
	if b.BatchLimit <= 0 {
		b.BatchLimit = 500
	}
	if b.ReconcileAfter <= 0 {
		b.ReconcileAfter = 10 * time.Minute
	}
	if len(b.Plans) == 0 {
		b.Plans = map[string]PlanConfig{
			"MONTHLY": {Price: "29.00", IntervalMonths: 1, Role: "SIGNALS"},
			"YEARLY":  {Price: "290.00", IntervalMonths: 12, Role: "SIGNALS"},
			"PREMIUM": {Price: "79.00", IntervalMonths: 1, Role: "PREMIUM"},
		}
	}

	if cfg.Gateway.Provider == "" {
		cfg.Gateway.Provider = "mock"
	}
	br := &cfg.Gateway.Breaker
	if br.MaxRequests == 0 {
		br.MaxRequests = 1
	}
	if br.Interval <= 0 {
		br.Interval = time.Minute
	}
	if br.Timeout <= 0 {
		br.Timeout = 30 * time.Second
	}
	if br.FailureThreshold == 0 {
		br.FailureThreshold = 5
	}

	s := &cfg.Scheduler
	if s.DueCron == "" {
		s.DueCron = "*/15 * * * *"
	}
	if s.RetryCron == "" {
		s.RetryCron = "5 * * * *"
	}
	if s.GraceCron == "" {
		s.GraceCron = "35 * * * *"
	}
	if s.ReconcileCron == "" {
		s.ReconcileCron = "*/10 * * * *"
	}
	if s.JobTimeout <= 0 {
		s.JobTimeout = 10 * time.Minute
	}
}

// Validate performs minimal sanity checks.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Billing.MaxRetries < 1 {
		return errors.New("billing.max_retries must be >= 1")
	}
	if c.Billing.GracePeriodDays < 0 {
		return errors.New("billing.grace_period_days must be >= 0")
	}
	for _, d := range c.Billing.RetryScheduleDays {
		if d <= 0 {
			return fmt.Errorf("billing.retry_schedule_days: %d is not a positive day count", d)
		}
	}
	for code, p := range c.Billing.Plans {
		if strings.TrimSpace(p.Price) == "" {
			return fmt.Errorf("billing.plans.%s.price is required", code)
		}
	}
	return nil
}
