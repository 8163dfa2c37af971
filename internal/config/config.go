package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Retention RetentionConfig `mapstructure:"retention"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port         string `mapstructure:"port"`
	Mode         string `mapstructure:"mode"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory". The memory store lives inside one
	// process, so it only works when the API evaluates alerts itself.
	Driver         string `mapstructure:"driver"`
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdleConns   int    `mapstructure:"max_idle_conns"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type AlertsConfig struct {
	// Queue selects where detached evaluation jobs go: "memory" or "redis".
	Queue               string        `mapstructure:"queue"`
	Workers             int           `mapstructure:"workers"`
	QueueSize           int           `mapstructure:"queue_size"`
	JobTimeout          time.Duration `mapstructure:"job_timeout"`
	WebhookTimeout      time.Duration `mapstructure:"webhook_timeout"`
	SigningSecret       string        `mapstructure:"signing_secret"`
	ResolveWebhookHosts bool          `mapstructure:"resolve_webhook_hosts"`
	Nameserver          string        `mapstructure:"nameserver"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type RetentionConfig struct {
	Schedule      string `mapstructure:"schedule"`
	AggregateDays int    `mapstructure:"aggregate_days"`
}

type RateLimitConfig struct {
	RegisterPerHour int `mapstructure:"register_per_hour"`
}

type MetricsConfig struct {
	RemoteWriteURL string        `mapstructure:"remote_write_url"`
	TenantHeader   string        `mapstructure:"tenant_header"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("AGENTPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if pw := os.Getenv("SMTP_PASSWORD"); pw != "" {
		cfg.SMTP.Password = pw
	}
	if secret := os.Getenv("WEBHOOK_SIGNING_SECRET"); secret != "" {
		cfg.Alerts.SigningSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key. Keys without a useful default get their
// zero value so AutomaticEnv can still fill them (AGENTPULSE_SMTP_HOST).
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8787")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_body_bytes", 256*1024)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.url", "")

	v.SetDefault("alerts.queue", "memory")
	v.SetDefault("alerts.workers", 4)
	v.SetDefault("alerts.queue_size", 1000)
	v.SetDefault("alerts.job_timeout", "30s")
	v.SetDefault("alerts.webhook_timeout", "10s")
	v.SetDefault("alerts.signing_secret", "")
	v.SetDefault("alerts.resolve_webhook_hosts", false)
	v.SetDefault("alerts.nameserver", "1.1.1.1:53")

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "alerts@agentpulse.dev")

	v.SetDefault("retention.schedule", "@hourly")
	v.SetDefault("retention.aggregate_days", 90)

	v.SetDefault("ratelimit.register_per_hour", 5)

	v.SetDefault("metrics.remote_write_url", "")
	v.SetDefault("metrics.tenant_header", "X-Scope-OrgID")
	v.SetDefault("metrics.flush_interval", "30s")
	v.SetDefault("metrics.batch_size", 1000)
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database url is required for the postgres driver")
		}
	case "memory":
	default:
		return errors.New("database driver must be postgres or memory")
	}
	switch c.Alerts.Queue {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("redis url is required when alerts.queue is redis")
		}
		if c.Database.Driver == "memory" {
			return errors.New("alerts.queue redis needs a shared database; the memory driver is per process")
		}
	default:
		return errors.New("alerts queue must be memory or redis")
	}
	if c.Alerts.Workers < 1 {
		return errors.New("alerts workers must be at least 1")
	}
	if c.Retention.AggregateDays < 1 {
		return errors.New("retention aggregate days must be at least 1")
	}
	return nil
}

// RequireSharedStore rejects the memory driver for binaries that work on
// data written by the API process.
func (c *Config) RequireSharedStore(binary string) error {
	if c.Database.Driver == "memory" {
		return fmt.Errorf("%s needs the postgres driver; the memory store is not shared with the api", binary)
	}
	return nil
}

// Debug reports whether the server runs in gin debug mode.
func (c *Config) Debug() bool {
	return c.Server.Mode == "debug"
}
