// Package config loads and validates application configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// the server, engine, storage backends, commit sink, and observability.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Sink     SinkConfig     `yaml:"sink"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// EngineConfig describes the indexed schema and evaluation defaults.
// PageSize is advisory and handed through to the commit sink; it never
// affects query results.
type EngineConfig struct {
	Columns     []string `yaml:"columns"`
	Tokenizer   string   `yaml:"tokenizer"`
	DefaultSlop int      `yaml:"defaultSlop"`
	PageSize    int      `yaml:"pageSize"`
}

// StorageConfig selects the document store backend: memory, redis, or
// postgres.
type StorageConfig struct {
	Backend string `yaml:"backend"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings for the commit sink.
type KafkaConfig struct {
	Brokers        []string      `yaml:"brokers"`
	CommitTopic    string        `yaml:"commitTopic"`
	ConsumerGroup  string        `yaml:"consumerGroup"`
	PublishTimeout time.Duration `yaml:"publishTimeout"`
}

// SinkConfig selects where committed posting mutations are published:
// none, file, or kafka.
type SinkConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Engine: EngineConfig{
			Columns:     []string{"a", "b", "c"},
			Tokenizer:   "simple",
			DefaultSlop: 10,
			PageSize:    4096,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "searchlite",
			User:            "searchlite",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:        []string{"localhost:9092"},
			CommitTopic:    "index-commits",
			ConsumerGroup:  "searchlite-committail",
			PublishTimeout: 5 * time.Second,
		},
		Sink: SinkConfig{
			Backend: "none",
			Dir:     "data/commitlog",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

func (c *Config) validate() error {
	if len(c.Engine.Columns) == 0 {
		return fmt.Errorf("engine.columns must name at least one column")
	}
	seen := make(map[string]struct{}, len(c.Engine.Columns))
	for _, col := range c.Engine.Columns {
		if col == "" {
			return fmt.Errorf("engine.columns must not contain empty names")
		}
		if _, dup := seen[col]; dup {
			return fmt.Errorf("engine.columns contains duplicate column %q", col)
		}
		seen[col] = struct{}{}
	}
	if c.Engine.Tokenizer != "simple" {
		return fmt.Errorf("unsupported tokenizer %q", c.Engine.Tokenizer)
	}
	if c.Engine.DefaultSlop < 0 {
		return fmt.Errorf("engine.defaultSlop must be >= 0")
	}
	switch c.Storage.Backend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}
	switch c.Sink.Backend {
	case "none", "file", "kafka":
	default:
		return fmt.Errorf("unsupported sink backend %q", c.Sink.Backend)
	}
	return nil
}

// applyEnvOverrides reads SL_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SL_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("SL_SINK_BACKEND"); v != "" {
		cfg.Sink.Backend = v
	}
	if v := os.Getenv("SL_SINK_DIR"); v != "" {
		cfg.Sink.Dir = v
	}
	if v := os.Getenv("SL_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SL_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SL_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SL_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SL_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SL_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SL_KAFKA_COMMIT_TOPIC"); v != "" {
		cfg.Kafka.CommitTopic = v
	}
	if v := os.Getenv("SL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SL_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SL_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
