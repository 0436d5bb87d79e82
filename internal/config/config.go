package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Harsh-BH/crmjobs/internal/poller"
	"github.com/Harsh-BH/crmjobs/internal/rowcodec"
)

// Config holds all configuration for the crmjobs CLI and server.
type Config struct {
	CRM         CRMConfig
	Poll        PollConfig
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	RabbitMQ    RabbitMQConfig
	ObjectStore ObjectStoreConfig
	Server      ServerConfig
	Worker      WorkerConfig
	Log         LogConfig
}

type CRMConfig struct {
	InstanceURL     string `mapstructure:"CRM_INSTANCE_URL"`
	AccessToken     string `mapstructure:"CRM_ACCESS_TOKEN"`
	APIVersion      string `mapstructure:"CRM_API_VERSION"`
	ColumnDelimiter string `mapstructure:"CRM_COLUMN_DELIMITER"`
	LineEnding      string `mapstructure:"CRM_LINE_ENDING"`
	QueryPageSize   int    `mapstructure:"CRM_QUERY_PAGE_SIZE"`
}

type PollConfig struct {
	InitialDelay  time.Duration `mapstructure:"POLL_INITIAL_DELAY"`
	BackoffFactor float64       `mapstructure:"POLL_BACKOFF_FACTOR"`
	MaxDelay      time.Duration `mapstructure:"POLL_MAX_DELAY"`
	Timeout       time.Duration `mapstructure:"POLL_TIMEOUT"`
}

type HTTPConfig struct {
	Timeout        time.Duration `mapstructure:"HTTP_TIMEOUT"`
	MaxRetries     int           `mapstructure:"HTTP_MAX_RETRIES"`
	RetryBaseDelay time.Duration `mapstructure:"HTTP_RETRY_BASE_DELAY"`
	RateLimit      float64       `mapstructure:"HTTP_RATE_LIMIT"`
	RateBurst      int           `mapstructure:"HTTP_RATE_BURST"`
}

// DatabaseConfig points at the outcome ledger. An empty URL disables it.
type DatabaseConfig struct {
	URL string `mapstructure:"DATABASE_URL"`
}

// RedisConfig points at the submission guard. An empty URL disables it.
type RedisConfig struct {
	URL string `mapstructure:"REDIS_URL"`
}

// RabbitMQConfig points at the event exchange. An empty URL disables it.
type RabbitMQConfig struct {
	URL          string `mapstructure:"RABBITMQ_URL"`
	RequestQueue string `mapstructure:"RABBITMQ_REQUEST_QUEUE"`
}

// ObjectStoreConfig selects where retrieved archives are kept: an S3
// compatible bucket when Endpoint is set, else LocalDir when set.
type ObjectStoreConfig struct {
	Endpoint  string `mapstructure:"OBJECT_STORE_ENDPOINT"`
	AccessKey string `mapstructure:"OBJECT_STORE_ACCESS_KEY"`
	SecretKey string `mapstructure:"OBJECT_STORE_SECRET_KEY"`
	Bucket    string `mapstructure:"OBJECT_STORE_BUCKET"`
	Region    string `mapstructure:"OBJECT_STORE_REGION"`
	UseSSL    bool   `mapstructure:"OBJECT_STORE_USE_SSL"`
	LocalDir  string `mapstructure:"ARCHIVE_DIR"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"API_PORT"`
	ReadTimeout  time.Duration `mapstructure:"API_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"API_WRITE_TIMEOUT"`
	GinMode      string        `mapstructure:"GIN_MODE"`
	MaxBodyBytes int64         `mapstructure:"API_MAX_BODY_BYTES"`
	RateLimit    int           `mapstructure:"API_RATE_LIMIT_PER_MIN"`
}

type WorkerConfig struct {
	PoolSize    int `mapstructure:"WORKER_POOL_SIZE"`
	ChunkSize   int `mapstructure:"BULK_CHUNK_SIZE"`
	MetricsPort int `mapstructure:"WORKER_METRICS_PORT"`
}

type LogConfig struct {
	Level string `mapstructure:"LOG_LEVEL"`
}

// Load reads configuration from environment variables and an optional .env
// file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path == "" {
		path = ".env"
	}
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("CRM_INSTANCE_URL", "")
	v.SetDefault("CRM_ACCESS_TOKEN", "")
	v.SetDefault("CRM_API_VERSION", "60.0")
	v.SetDefault("CRM_COLUMN_DELIMITER", "COMMA")
	v.SetDefault("CRM_LINE_ENDING", "LF")
	v.SetDefault("CRM_QUERY_PAGE_SIZE", 0)
	v.SetDefault("POLL_INITIAL_DELAY", poller.DefaultInitialDelay)
	v.SetDefault("POLL_BACKOFF_FACTOR", poller.DefaultFactor)
	v.SetDefault("POLL_MAX_DELAY", poller.DefaultMaxDelay)
	v.SetDefault("POLL_TIMEOUT", poller.DefaultTimeout)
	v.SetDefault("HTTP_TIMEOUT", 120*time.Second)
	v.SetDefault("HTTP_MAX_RETRIES", 3)
	v.SetDefault("HTTP_RETRY_BASE_DELAY", 200*time.Millisecond)
	v.SetDefault("HTTP_RATE_LIMIT", 10.0)
	v.SetDefault("HTTP_RATE_BURST", 5)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("RABBITMQ_REQUEST_QUEUE", "crmjobs.requests")
	v.SetDefault("OBJECT_STORE_ENDPOINT", "")
	v.SetDefault("OBJECT_STORE_ACCESS_KEY", "")
	v.SetDefault("OBJECT_STORE_SECRET_KEY", "")
	v.SetDefault("OBJECT_STORE_BUCKET", "crmjobs-archives")
	v.SetDefault("OBJECT_STORE_REGION", "")
	v.SetDefault("OBJECT_STORE_USE_SSL", true)
	v.SetDefault("ARCHIVE_DIR", "")
	v.SetDefault("API_PORT", 8080)
	v.SetDefault("API_READ_TIMEOUT", 10*time.Second)
	v.SetDefault("API_WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("API_MAX_BODY_BYTES", 32<<20)
	v.SetDefault("API_RATE_LIMIT_PER_MIN", 60)
	v.SetDefault("WORKER_POOL_SIZE", 4)
	v.SetDefault("BULK_CHUNK_SIZE", 10000)
	v.SetDefault("WORKER_METRICS_PORT", 9091)
	v.SetDefault("LOG_LEVEL", "info")

	_ = v.ReadInConfig()

	cfg := &Config{}
	cfg.CRM.InstanceURL = strings.TrimRight(v.GetString("CRM_INSTANCE_URL"), "/")
	cfg.CRM.AccessToken = v.GetString("CRM_ACCESS_TOKEN")
	cfg.CRM.APIVersion = v.GetString("CRM_API_VERSION")
	cfg.CRM.ColumnDelimiter = strings.ToUpper(v.GetString("CRM_COLUMN_DELIMITER"))
	cfg.CRM.LineEnding = strings.ToUpper(v.GetString("CRM_LINE_ENDING"))
	cfg.CRM.QueryPageSize = v.GetInt("CRM_QUERY_PAGE_SIZE")
	cfg.Poll.InitialDelay = v.GetDuration("POLL_INITIAL_DELAY")
	cfg.Poll.BackoffFactor = v.GetFloat64("POLL_BACKOFF_FACTOR")
	cfg.Poll.MaxDelay = v.GetDuration("POLL_MAX_DELAY")
	cfg.Poll.Timeout = v.GetDuration("POLL_TIMEOUT")
	cfg.HTTP.Timeout = v.GetDuration("HTTP_TIMEOUT")
	cfg.HTTP.MaxRetries = v.GetInt("HTTP_MAX_RETRIES")
	cfg.HTTP.RetryBaseDelay = v.GetDuration("HTTP_RETRY_BASE_DELAY")
	cfg.HTTP.RateLimit = v.GetFloat64("HTTP_RATE_LIMIT")
	cfg.HTTP.RateBurst = v.GetInt("HTTP_RATE_BURST")
	cfg.Database.URL = v.GetString("DATABASE_URL")
	cfg.Redis.URL = v.GetString("REDIS_URL")
	cfg.RabbitMQ.URL = v.GetString("RABBITMQ_URL")
	cfg.RabbitMQ.RequestQueue = v.GetString("RABBITMQ_REQUEST_QUEUE")
	cfg.ObjectStore.Endpoint = v.GetString("OBJECT_STORE_ENDPOINT")
	cfg.ObjectStore.AccessKey = v.GetString("OBJECT_STORE_ACCESS_KEY")
	cfg.ObjectStore.SecretKey = v.GetString("OBJECT_STORE_SECRET_KEY")
	cfg.ObjectStore.Bucket = v.GetString("OBJECT_STORE_BUCKET")
	cfg.ObjectStore.Region = v.GetString("OBJECT_STORE_REGION")
	cfg.ObjectStore.UseSSL = v.GetBool("OBJECT_STORE_USE_SSL")
	cfg.ObjectStore.LocalDir = v.GetString("ARCHIVE_DIR")
	cfg.Server.Port = v.GetInt("API_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("API_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("API_WRITE_TIMEOUT")
	cfg.Server.GinMode = v.GetString("GIN_MODE")
	cfg.Server.MaxBodyBytes = v.GetInt64("API_MAX_BODY_BYTES")
	cfg.Server.RateLimit = v.GetInt("API_RATE_LIMIT_PER_MIN")
	cfg.Worker.PoolSize = v.GetInt("WORKER_POOL_SIZE")
	cfg.Worker.ChunkSize = v.GetInt("BULK_CHUNK_SIZE")
	cfg.Worker.MetricsPort = v.GetInt("WORKER_METRICS_PORT")
	cfg.Log.Level = v.GetString("LOG_LEVEL")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would fail later at first use.
func (c *Config) Validate() error {
	if _, err := rowcodec.ParseDelimiter(c.CRM.ColumnDelimiter); err != nil {
		return fmt.Errorf("config: CRM_COLUMN_DELIMITER: %w", err)
	}
	if c.CRM.LineEnding != "LF" && c.CRM.LineEnding != "CRLF" {
		return fmt.Errorf("config: CRM_LINE_ENDING must be LF or CRLF, got %q", c.CRM.LineEnding)
	}
	if err := c.PollPolicy().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Worker.PoolSize < 1 {
		return fmt.Errorf("config: WORKER_POOL_SIZE must be at least 1")
	}
	if c.Worker.ChunkSize < 1 {
		return fmt.Errorf("config: BULK_CHUNK_SIZE must be at least 1")
	}
	return nil
}

// RequireCRM checks the settings needed to reach the remote system. Commands
// that never call it can run without credentials.
func (c *Config) RequireCRM() error {
	if c.CRM.InstanceURL == "" {
		return fmt.Errorf("config: CRM_INSTANCE_URL is required")
	}
	if c.CRM.AccessToken == "" {
		return fmt.Errorf("config: CRM_ACCESS_TOKEN is required")
	}
	return nil
}

// PollPolicy returns the configured backoff policy.
func (c *Config) PollPolicy() poller.Policy {
	return poller.Policy{
		InitialDelay: c.Poll.InitialDelay,
		Factor:       c.Poll.BackoffFactor,
		MaxDelay:     c.Poll.MaxDelay,
		Timeout:      c.Poll.Timeout,
	}
}

// Delimiter returns the parsed column delimiter.
func (c *Config) Delimiter() rowcodec.Delimiter {
	d, _ := rowcodec.ParseDelimiter(c.CRM.ColumnDelimiter)
	return d
}
