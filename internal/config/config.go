// Package config loads eventpipe's YAML configuration, the way the
// teacher's service config loads: read the file, apply defaults, overlay
// environment variables, then validate.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// QueueConfig configures the event queue backend.
type QueueConfig struct {
	Dir         string        `yaml:"dir"`
	MaxRetries  uint32        `yaml:"max_retries" validate:"min=1"`
	DedupWindow time.Duration `yaml:"dedup_window"`
	Backend     string        `yaml:"backend" validate:"oneof=file redis"`
	RedisAddr   string        `yaml:"redis_addr"`
}

// LogWatcherConfig configures the log-watcher.
type LogWatcherConfig struct {
	LogDir             string        `yaml:"log_dir"`
	StateDir           string        `yaml:"state_dir"`
	DedupWindow        time.Duration `yaml:"dedup_window"`
	StateRetentionDays int           `yaml:"state_retention_days" validate:"min=1"`
}

// TriggerConfig configures the trigger filter.
type TriggerConfig struct {
	Active            bool     `yaml:"active"`
	EnabledEvents     []string `yaml:"enabled_events"`
	AllowedUsers      []string `yaml:"allowed_users"`
	IgnoredErrorCodes []string `yaml:"ignored_error_codes"`
	MinSeverity       string   `yaml:"min_severity" validate:"oneof=info warning critical"`
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	Backend                string `yaml:"backend" validate:"oneof=memory redis"`
	ApiCallsPerMinute      uint32 `yaml:"api_calls_per_minute"`
	BranchCreationsPerHour uint32 `yaml:"branch_creations_per_hour"`
	PrCreationsPerHour     uint32 `yaml:"pr_creations_per_hour"`
}

// DispatcherConfig configures the dispatcher loop.
type DispatcherConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=1"`
	AlertTimeout time.Duration `yaml:"alert_timeout" validate:"min=1"`
}

// AlertConfig configures the outbound alert sink.
type AlertConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// WebhookConfig configures the webhook receiver HTTP server.
type WebhookConfig struct {
	Port string `yaml:"port"`
	Path string `yaml:"path"`
}

// Config is the root eventpipe configuration.
type Config struct {
	Queue      QueueConfig      `yaml:"queue"`
	LogWatcher LogWatcherConfig `yaml:"logwatcher"`
	Trigger    TriggerConfig    `yaml:"trigger"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Alert      AlertConfig      `yaml:"alert"`
	Logging    LoggingConfig    `yaml:"logging"`
	Webhook    WebhookConfig    `yaml:"webhook"`
}

// defaults mirrors the table in SPEC_FULL.md §2.3.
func defaults() *Config {
	return &Config{
		Queue: QueueConfig{
			Dir:         "./data/queue",
			MaxRetries:  3,
			DedupWindow: 5 * time.Minute,
			Backend:     "file",
		},
		LogWatcher: LogWatcherConfig{
			LogDir:             "./logs",
			StateDir:           "./logs/.state",
			DedupWindow:        5 * time.Minute,
			StateRetentionDays: 14,
		},
		Trigger: TriggerConfig{
			Active:      true,
			MinSeverity: "warning",
		},
		RateLimit: RateLimitConfig{
			Backend:                "memory",
			ApiCallsPerMinute:      10,
			BranchCreationsPerHour: 20,
			PrCreationsPerHour:     10,
		},
		Dispatcher: DispatcherConfig{
			PollInterval: 1 * time.Second,
			AlertTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Webhook: WebhookConfig{
			Port: "8080",
			Path: "/webhooks",
		},
	}
}

// Load reads path, applies defaults for anything the file leaves zero,
// overlays environment variables, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaults()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// loadFromEnv overlays a handful of operational knobs from the
// environment, matching the teacher's loadFromEnv shape.
func loadFromEnv(config *Config) error {
	if v, ok := os.LookupEnv("QUEUE_DIR"); ok {
		config.Queue.Dir = v
	}
	if v, ok := os.LookupEnv("QUEUE_BACKEND"); ok {
		config.Queue.Backend = v
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		config.Logging.Level = v
	}
	if v, ok := os.LookupEnv("LOG_FORMAT"); ok {
		config.Logging.Format = v
	}
	if v, ok := os.LookupEnv("WEBHOOK_PORT"); ok {
		config.Webhook.Port = v
	}
	if v, ok := os.LookupEnv("SLACK_WEBHOOK_URL"); ok {
		config.Alert.SlackWebhookURL = v
	}
	if v, ok := os.LookupEnv("TRIGGER_ACTIVE"); ok {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid TRIGGER_ACTIVE value %q: %w", v, err)
		}
		config.Trigger.Active = active
	}
	return nil
}

var validatorInstance = validator.New()

// validate runs struct-tag validation plus the cross-field checks tags
// alone can't express.
func validate(config *Config) error {
	if err := validatorInstance.Struct(config); err != nil {
		return err
	}

	if config.Queue.Backend == "redis" && config.Queue.RedisAddr == "" {
		return fmt.Errorf("queue.redis_addr is required when queue.backend is \"redis\"")
	}
	if config.RateLimit.Backend == "redis" && config.Queue.RedisAddr == "" {
		return fmt.Errorf("rate_limit.backend \"redis\" requires queue.redis_addr to be configured")
	}

	// An empty Slack webhook URL is legal: slacksink.New treats it as a
	// disabled sink that drops alerts instead of returning an error.

	return nil
}
