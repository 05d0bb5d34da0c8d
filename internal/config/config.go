package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Imports  ImportsConfig  `yaml:"imports"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// MetricsPort is where the worker exposes /metrics.
	MetricsPort int `yaml:"metrics_port"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// MetricsAddr returns host:metrics_port for the worker's metrics listener.
func (c ServerConfig) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.MetricsPort)
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the lock service connection. An empty URL disables
// locking and the consumer runs its critical section unlocked.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// RabbitMQConfig holds broker settings
type RabbitMQConfig struct {
	URL         string `yaml:"url"`
	Host        string `yaml:"host"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Prefetch    int    `yaml:"prefetch"`
	Concurrency int    `yaml:"concurrency"`
}

var amqpScheme = regexp.MustCompile(`(?i)^amqps?://`)

// ConnectionURL returns URL when set. Otherwise it builds one from host and
// credentials, defaulting to amqps when host carries no scheme. An empty
// result means no broker is configured.
func (c RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	if c.Host == "" || c.Password == "" {
		return ""
	}
	base := c.Host
	if !amqpScheme.MatchString(base) {
		base = "amqps://" + base
	}
	loc := amqpScheme.FindStringIndex(base)
	creds := url.QueryEscape(c.User) + ":" + url.QueryEscape(c.Password) + "@"
	return base[:loc[1]] + creds + base[loc[1]:]
}

// ImportsConfig tunes the ingestion pipeline
type ImportsConfig struct {
	BatchSize        int    `yaml:"batch_size"`
	MaxRetries       int    `yaml:"max_retries"`
	LockTTLMs        int    `yaml:"lock_ttl_ms"`
	LockRetryDelayMs int    `yaml:"lock_retry_delay_ms"`
	LockMaxRetries   int    `yaml:"lock_max_retries"`
	SpoolDir         string `yaml:"spool_dir"`
}

// LockTTL returns the lock expiry as a duration
func (c ImportsConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMs) * time.Millisecond
}

// LockRetryDelay returns the pause between lock attempts as a duration
func (c ImportsConfig) LockRetryDelay() time.Duration {
	return time.Duration(c.LockRetryDelayMs) * time.Millisecond
}

// LogConfig holds logger settings
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.RabbitMQ.User == "" {
		cfg.RabbitMQ.User = "admin"
	}
	if cfg.RabbitMQ.Prefetch == 0 {
		cfg.RabbitMQ.Prefetch = 1
	}
	if cfg.RabbitMQ.Concurrency == 0 {
		cfg.RabbitMQ.Concurrency = 1
	}
	if cfg.Imports.BatchSize == 0 {
		cfg.Imports.BatchSize = 100
	}
	if cfg.Imports.MaxRetries == 0 {
		cfg.Imports.MaxRetries = 5
	}
	if cfg.Imports.LockTTLMs == 0 {
		cfg.Imports.LockTTLMs = 10000
	}
	if cfg.Imports.LockRetryDelayMs == 0 {
		cfg.Imports.LockRetryDelayMs = 50
	}
	if cfg.Imports.LockMaxRetries == 0 {
		cfg.Imports.LockMaxRetries = 50
	}
	if cfg.Imports.SpoolDir == "" {
		cfg.Imports.SpoolDir = os.TempDir()
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
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
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		cfg.RabbitMQ.URL = v
	}
	if v := os.Getenv("RABBITMQ_HOST"); v != "" {
		cfg.RabbitMQ.Host = v
	}
	if v := os.Getenv("RABBITMQ_USER"); v != "" {
		cfg.RabbitMQ.User = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		cfg.RabbitMQ.Password = v
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RabbitMQ.Concurrency = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}

	return cfg, nil
}
