package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	// RedisURL is optional; without it rate limiting is per process.
	RedisURL          string `env:"REDIS_URL"`
	RabbitMQURL       string `env:"RABBITMQ_URL"`
	EventQueueEnabled bool   `env:"EVENT_QUEUE_ENABLED,default=false"`

	AWSRegion      string `env:"AWS_REGION,default=us-east-1"`
	SESFromEmail   string `env:"SES_FROM_EMAIL"`
	EmailSubject   string `env:"EMAIL_SUBJECT,default=Notification"`
	SMSEnabled     bool   `env:"SMS_ENABLED,default=true"`
	PushWebhookURL string `env:"PUSH_WEBHOOK_URL"`

	MaxAttempts          int `env:"MAX_ATTEMPTS,default=3"`
	RetryBaseDelaySec    int `env:"RETRY_BASE_DELAY_SEC,default=60"`
	RetryMaxDelaySec     int `env:"RETRY_MAX_DELAY_SEC,default=1800"`
	RetryPollIntervalSec int `env:"RETRY_POLL_INTERVAL_SEC,default=15"`
	RetryDrainBatch      int `env:"RETRY_DRAIN_BATCH,default=100"`
	RetryConcurrency     int `env:"RETRY_CONCURRENCY,default=8"`
	RetryLeaseSec        int `env:"RETRY_LEASE_SEC,default=300"`
	TransportTimeoutSec  int `env:"TRANSPORT_TIMEOUT_SEC,default=10"`

	RateLimitPerSec         int `env:"RATE_LIMIT_PER_SEC,default=100"`
	EmailRateLimitPerSec    int `env:"EMAIL_RATE_LIMIT_PER_SEC,default=0"`
	SMSRateLimitPerSec      int `env:"SMS_RATE_LIMIT_PER_SEC,default=0"`
	PushRateLimitPerSec     int `env:"PUSH_RATE_LIMIT_PER_SEC,default=0"`
	BreakerFailureThreshold int `env:"BREAKER_FAILURE_THRESHOLD,default=5"`
	BreakerOpenTimeoutSec   int `env:"BREAKER_OPEN_TIMEOUT_SEC,default=30"`

	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=16"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
	DefaultTimezone   string `env:"DEFAULT_TIMEZONE,default=UTC"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.DatabaseDSN) == "" {
		problems = append(problems, "DATABASE_DSN must not be empty")
	}
	if c.MaxAttempts < 1 {
		problems = append(problems, "MAX_ATTEMPTS must be >= 1")
	}
	if c.RetryBaseDelaySec < 1 {
		problems = append(problems, "RETRY_BASE_DELAY_SEC must be >= 1")
	}
	if c.RetryMaxDelaySec < c.RetryBaseDelaySec {
		problems = append(problems, "RETRY_MAX_DELAY_SEC must be >= RETRY_BASE_DELAY_SEC")
	}
	if c.RetryPollIntervalSec < 1 {
		problems = append(problems, "RETRY_POLL_INTERVAL_SEC must be >= 1")
	}
	if c.RetryDrainBatch < 1 {
		problems = append(problems, "RETRY_DRAIN_BATCH must be >= 1")
	}
	if c.RetryConcurrency < 1 {
		problems = append(problems, "RETRY_CONCURRENCY must be >= 1")
	}
	if c.TransportTimeoutSec < 1 {
		problems = append(problems, "TRANSPORT_TIMEOUT_SEC must be >= 1")
	}
	if c.APIPort < 1 || c.APIPort > 65535 {
		problems = append(problems, "API_PORT must be between 1 and 65535")
	}
	if c.EventQueueEnabled && strings.TrimSpace(c.RabbitMQURL) == "" {
		problems = append(problems, "RABBITMQ_URL is required when EVENT_QUEUE_ENABLED is true")
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		problems = append(problems, fmt.Sprintf("DEFAULT_TIMEZONE %q is not a valid IANA zone", c.DefaultTimezone))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelaySec) * time.Second
}

func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelaySec) * time.Second
}

func (c *Config) RetryPollInterval() time.Duration {
	return time.Duration(c.RetryPollIntervalSec) * time.Second
}

func (c *Config) RetryLease() time.Duration {
	return time.Duration(c.RetryLeaseSec) * time.Second
}

func (c *Config) TransportTimeout() time.Duration {
	return time.Duration(c.TransportTimeoutSec) * time.Second
}

func (c *Config) BreakerOpenTimeout() time.Duration {
	return time.Duration(c.BreakerOpenTimeoutSec) * time.Second
}

// ChannelRateLimits returns the per-channel overrides that are set.
func (c *Config) ChannelRateLimits() map[string]int {
	limits := make(map[string]int, 3)
	for channel, limit := range map[string]int{
		"email": c.EmailRateLimitPerSec,
		"sms":   c.SMSRateLimitPerSec,
		"push":  c.PushRateLimitPerSec,
	} {
		if limit > 0 {
			limits[channel] = limit
		}
	}
	return limits
}
