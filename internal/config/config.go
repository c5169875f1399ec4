package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
)

// Config holds all configuration for the outreach services
type Config struct {
	Server   ServerConfig       `yaml:"server"`
	Database DatabaseConfig     `yaml:"database"`
	Redis    RedisConfig        `yaml:"redis"`
	Queue    QueueConfig        `yaml:"queue"`
	Engine   EngineConfig       `yaml:"engine"`
	Retry    RetryConfig        `yaml:"retry"`
	SMTP     model.SMTPSettings `yaml:"smtp"`
	Secrets  SecretsConfig      `yaml:"secrets"`
	Logging  LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds the Postgres connection settings
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// RedisConfig holds the Redis settings used for campaign leases.
// An empty URL selects Postgres advisory locks instead.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// QueueConfig selects the chunk task queue backend
type QueueConfig struct {
	Driver     string `yaml:"driver"` // "memory" or "amqp"
	AMQPURL    string `yaml:"amqp_url"`
	Name       string `yaml:"name"`
	MaxRetries int    `yaml:"max_retries"`
	Prefetch   int    `yaml:"prefetch"`
}

// EngineConfig tunes the campaign execution engine
type EngineConfig struct {
	ChunkSize             int    `yaml:"chunk_size"`
	PacingMillis          int    `yaml:"pacing_ms"`
	StallThresholdMinutes int    `yaml:"stall_threshold_minutes"`
	SweepSchedule         string `yaml:"sweep_schedule"`
	LeaseTTLMinutes       int    `yaml:"lease_ttl_minutes"`
	Workers               int    `yaml:"workers"`
}

// Pacing returns the delay enforced between two recipients.
func (c EngineConfig) Pacing() time.Duration {
	return time.Duration(c.PacingMillis) * time.Millisecond
}

// StallThreshold returns the inactivity window after which a sending campaign counts as stalled.
func (c EngineConfig) StallThreshold() time.Duration {
	return time.Duration(c.StallThresholdMinutes) * time.Minute
}

// LeaseTTL returns how long a campaign lease survives without renewal.
func (c EngineConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLMinutes) * time.Minute
}

// RetryConfig holds the per-recipient send retry budget
type RetryConfig struct {
	MaxAttempts          int `yaml:"max_attempts"`
	TransientDelayMillis int `yaml:"transient_delay_ms"`
	TimeoutDelayMillis   int `yaml:"timeout_delay_ms"`
	SendTimeoutSeconds   int `yaml:"send_timeout_seconds"`
}

// TransientDelay returns the base backoff after a transient failure.
func (c RetryConfig) TransientDelay() time.Duration {
	return time.Duration(c.TransientDelayMillis) * time.Millisecond
}

// TimeoutDelay returns the fixed delay before retrying a timed out send.
func (c RetryConfig) TimeoutDelay() time.Duration {
	return time.Duration(c.TimeoutDelayMillis) * time.Millisecond
}

// SendTimeout returns the wall-clock budget of one send attempt.
func (c RetryConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// SecretsConfig configures where the relay password is looked up
type SecretsConfig struct {
	KeyringService string `yaml:"keyring_service"`
	PasswordEnv    string `yaml:"password_env"`
}

// LoggingConfig controls the slog handler
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads configuration from a YAML file. A missing path yields defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadFromEnv loads .env (if present), the YAML file, then applies environment overrides.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.Queue.AMQPURL = v
		cfg.Queue.Driver = "amqp"
	}
	if v := os.Getenv("QUEUE_DRIVER"); v != "" {
		cfg.Queue.Driver = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.SMTP.Port = p
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_FROM_EMAIL"); v != "" {
		cfg.SMTP.FromEmail = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Queue.Driver == "" {
		cfg.Queue.Driver = "memory"
	}
	if cfg.Queue.Name == "" {
		cfg.Queue.Name = "campaign_chunks"
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 3
	}
	if cfg.Queue.Prefetch == 0 {
		cfg.Queue.Prefetch = 1
	}
	if cfg.Engine.ChunkSize == 0 {
		cfg.Engine.ChunkSize = 20
	}
	if cfg.Engine.PacingMillis == 0 {
		cfg.Engine.PacingMillis = 1000
	}
	if cfg.Engine.StallThresholdMinutes == 0 {
		cfg.Engine.StallThresholdMinutes = 10
	}
	if cfg.Engine.SweepSchedule == "" {
		cfg.Engine.SweepSchedule = "@every 2m"
	}
	if cfg.Engine.LeaseTTLMinutes == 0 {
		cfg.Engine.LeaseTTLMinutes = 15
	}
	if cfg.Engine.Workers == 0 {
		cfg.Engine.Workers = 4
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 2
	}
	if cfg.Retry.TransientDelayMillis == 0 {
		cfg.Retry.TransientDelayMillis = 2000
	}
	if cfg.Retry.TimeoutDelayMillis == 0 {
		cfg.Retry.TimeoutDelayMillis = 1000
	}
	if cfg.Retry.SendTimeoutSeconds == 0 {
		cfg.Retry.SendTimeoutSeconds = 120
	}
	if cfg.SMTP.Security == "" {
		cfg.SMTP.Security = model.SecurityStartTLS
	}
	if cfg.Secrets.KeyringService == "" {
		cfg.Secrets.KeyringService = "vishi-outreach-smtp"
	}
	if cfg.Secrets.PasswordEnv == "" {
		cfg.Secrets.PasswordEnv = "SMTP_PASSWORD"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
