package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN     string `env:"DATABASE_DSN,required=true"`
	RedisURL        string `env:"REDIS_URL,required=true"`
	RabbitMQURL     string `env:"RABBITMQ_URL"`
	PushEndpoint    string `env:"PUSH_ENDPOINT,required=true"`
	PushAccessToken string `env:"PUSH_ACCESS_TOKEN"`
	MediaURL        string `env:"MEDIA_URL"`
	MediaAPIKey     string `env:"MEDIA_API_KEY"`
	MediaAPISecret  string `env:"MEDIA_API_SECRET"`

	PushRateLimitPerSec  int           `env:"PUSH_RATE_LIMIT_PER_SEC,default=100"`
	DispatchTickInterval time.Duration `env:"DISPATCH_TICK_INTERVAL,default=17m"`
	SweepTickInterval    time.Duration `env:"SWEEP_TICK_INTERVAL,default=1m"`
	BatchSize            int           `env:"BATCH_SIZE,default=10"`
	SweepLimit           int           `env:"SWEEP_LIMIT,default=50"`
	CallTimeout          time.Duration `env:"CALL_TIMEOUT,default=10m"`
	AckWorkerConcurrency int           `env:"ACK_WORKER_CONCURRENCY,default=4"`
	SchedulerEnabled     bool          `env:"SCHEDULER_ENABLED,default=true"`

	APIPort    int    `env:"API_PORT,default=8080"`
	LogLevel   string `env:"LOG_LEVEL,default=info"`
	AppVersion string `env:"APP_VERSION,default=1.0.0"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	for name, v := range map[string]string{
		"DATABASE_DSN":  c.DatabaseDSN,
		"REDIS_URL":     c.RedisURL,
		"PUSH_ENDPOINT": c.PushEndpoint,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s must not be blank", name)
		}
	}
	if c.DispatchTickInterval <= 0 || c.SweepTickInterval <= 0 {
		return fmt.Errorf("tick intervals must be positive")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive")
	}
	if c.BatchSize < 1 || c.SweepLimit < 1 {
		return fmt.Errorf("batch size and sweep limit must be at least 1")
	}

	mediaFields := 0
	for _, v := range []string{c.MediaURL, c.MediaAPIKey, c.MediaAPISecret} {
		if strings.TrimSpace(v) != "" {
			mediaFields++
		}
	}
	if mediaFields != 0 && mediaFields != 3 {
		return fmt.Errorf("MEDIA_URL, MEDIA_API_KEY and MEDIA_API_SECRET must be set together")
	}
	return nil
}

func (c *Config) MediaEnabled() bool {
	return strings.TrimSpace(c.MediaURL) != ""
}

func (c *Config) QueueEnabled() bool {
	return strings.TrimSpace(c.RabbitMQURL) != ""
}
