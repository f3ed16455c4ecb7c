// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported event bus backends.
const (
	EventBusMemory = "memory"
	EventBusRedis  = "redis"
	EventBusNATS   = "nats"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Env            string `mapstructure:"APP_ENV"`
	Port           string `mapstructure:"PORT"`
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	InternalToken  string `mapstructure:"INTERNAL_TOKEN"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	DBDriver      string `mapstructure:"DB_DRIVER"`
	DBHost        string `mapstructure:"DB_HOST"`
	DBPort        string `mapstructure:"DB_PORT"`
	DBUser        string `mapstructure:"DB_USER"`
	DBPassword    string `mapstructure:"DB_PASSWORD"`
	DBName        string `mapstructure:"DB_NAME"`
	DBSSLMode     string `mapstructure:"DB_SSLMODE"`
	SQLitePath    string `mapstructure:"SQLITE_PATH"`
	RedisURL      string `mapstructure:"REDIS_URL"`
	EventBus      string `mapstructure:"EVENT_BUS"`
	NATSURL       string `mapstructure:"NATS_URL"`
	MediaDir      string `mapstructure:"MEDIA_DIR"`
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`
	MaxImageBytes int64  `mapstructure:"MAX_IMAGE_BYTES"`

	DefaultWebhookURL       string        `mapstructure:"DEFAULT_WEBHOOK_URL"`
	WebhookMaxAttempts      int           `mapstructure:"WEBHOOK_MAX_ATTEMPTS"`
	WebhookBaseDelay        time.Duration `mapstructure:"WEBHOOK_BASE_DELAY"`
	WebhookTimeout          time.Duration `mapstructure:"WEBHOOK_TIMEOUT"`
	WebhookDeliveryDeadline time.Duration `mapstructure:"WEBHOOK_DELIVERY_DEADLINE"`
	WebhookAuthToken        string        `mapstructure:"WEBHOOK_AUTH_TOKEN"`

	SweepSchedule   string `mapstructure:"SWEEP_SCHEDULE"`
	SweepBatchLimit int    `mapstructure:"SWEEP_BATCH_LIMIT"`

	TracingEnabled  bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSampler  float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("..")
		viper.AddConfigPath("../..")
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
	}
	viper.AutomaticEnv()

	// The config file is optional; environment variables cover every key.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("INTERNAL_TOKEN", "")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")
	viper.SetDefault("DB_DRIVER", "postgres")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "engage")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("SQLITE_PATH", "engage.db")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("EVENT_BUS", EventBusMemory)
	viper.SetDefault("NATS_URL", "nats://127.0.0.1:4222")
	viper.SetDefault("MEDIA_DIR", "./media")
	viper.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080/media")
	viper.SetDefault("MAX_IMAGE_BYTES", 10*1024*1024)
	viper.SetDefault("DEFAULT_WEBHOOK_URL", "")
	viper.SetDefault("WEBHOOK_MAX_ATTEMPTS", 3)
	viper.SetDefault("WEBHOOK_BASE_DELAY", "2s")
	viper.SetDefault("WEBHOOK_TIMEOUT", "15s")
	viper.SetDefault("WEBHOOK_DELIVERY_DEADLINE", "2m")
	viper.SetDefault("WEBHOOK_AUTH_TOKEN", "")
	viper.SetDefault("SWEEP_SCHEDULE", "@every 1m")
	viper.SetDefault("SWEEP_BATCH_LIMIT", 500)
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.EventBus = strings.ToLower(strings.TrimSpace(c.EventBus))
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
	c.DefaultWebhookURL = strings.TrimSpace(c.DefaultWebhookURL)
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	switch c.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return fmt.Errorf("EVENT_BUS must be one of memory, redis, nats (got %q)", c.EventBus)
	}

	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite (got %q)", c.DBDriver)
	}

	if c.WebhookMaxAttempts < 1 {
		return errors.New("WEBHOOK_MAX_ATTEMPTS must be at least 1")
	}
	if c.WebhookBaseDelay <= 0 {
		return errors.New("WEBHOOK_BASE_DELAY must be positive")
	}
	if c.WebhookTimeout <= 0 {
		return errors.New("WEBHOOK_TIMEOUT must be positive")
	}
	if c.SweepBatchLimit < 1 {
		return errors.New("SWEEP_BATCH_LIMIT must be at least 1")
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBDriver == "postgres" && (c.DBPassword == "password" || c.DBPassword == "") {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.InternalToken == "" {
			return errors.New("INTERNAL_TOKEN is required in production")
		}
		if c.DBDriver == "postgres" && (c.DBSSLMode == "disable" || c.DBSSLMode == "") {
			return errors.New("DB_SSLMODE must enable SSL in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
