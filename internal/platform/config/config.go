package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	LogFile   string `env:"LOG_FILE"`

	// RedisURL enables the cross-instance trigger bus when set.
	RedisURL string `env:"REDIS_URL"`

	TimeBroadcastInterval   time.Duration `env:"TIME_BROADCAST_INTERVAL" default:"10s"`
	StatusBroadcastInterval time.Duration `env:"STATUS_BROADCAST_INTERVAL" default:"5s"`
	CollectionTimeout       time.Duration `env:"COLLECTION_TIMEOUT" default:"2s"`

	SubscriberQueueCapacity   int `env:"SUBSCRIBER_QUEUE_CAPACITY" default:"16"`
	OverflowEvictionThreshold int `env:"OVERFLOW_EVICTION_THRESHOLD" default:"3"`
	MaxSubscribers            int `env:"MAX_SUBSCRIBERS" default:"10000"`

	TriggerRatePerSecond float64 `env:"TRIGGER_RATE_PER_SECOND" default:"1"`
	TriggerBurst         int     `env:"TRIGGER_BURST" default:"3"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	positiveDurations := map[string]time.Duration{
		"TIME_BROADCAST_INTERVAL":   cfg.TimeBroadcastInterval,
		"STATUS_BROADCAST_INTERVAL": cfg.StatusBroadcastInterval,
		"COLLECTION_TIMEOUT":        cfg.CollectionTimeout,
	}
	for name, value := range positiveDurations {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	positiveInts := map[string]int{
		"SUBSCRIBER_QUEUE_CAPACITY":   cfg.SubscriberQueueCapacity,
		"OVERFLOW_EVICTION_THRESHOLD": cfg.OverflowEvictionThreshold,
		"MAX_SUBSCRIBERS":             cfg.MaxSubscribers,
		"TRIGGER_BURST":               cfg.TriggerBurst,
	}
	for name, value := range positiveInts {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if cfg.TriggerRatePerSecond <= 0 {
		return fmt.Errorf("TRIGGER_RATE_PER_SECOND must be positive")
	}

	if cfg.CollectionTimeout >= cfg.StatusBroadcastInterval {
		return fmt.Errorf("COLLECTION_TIMEOUT must be shorter than STATUS_BROADCAST_INTERVAL")
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	return nil
}
