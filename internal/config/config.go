package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Batch    BatchConfig    `yaml:"batch"`
	Notifier NotifierConfig `yaml:"notifier"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	// AutoMigrate applies the embedded migrations on startup.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name        string `yaml:"name"`
	Durable     bool   `yaml:"durable"`
	AutoDelete  bool   `yaml:"auto_delete"`
	Exclusive   bool   `yaml:"exclusive"`
	MaxPriority uint8  `yaml:"max_priority"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds the notification bus connection
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig selects where photos are uploaded
type StorageConfig struct {
	Driver          string `yaml:"driver"` // s3 or local
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	BaseDir         string `yaml:"base_dir"`
	PublicBaseURL   string `yaml:"public_base_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// BatchConfig bounds batch submissions
type BatchConfig struct {
	MaxAlbums    int   `yaml:"max_albums"`
	MaxFileBytes int64 `yaml:"max_file_bytes"`
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// NotifierConfig holds push stream timings
type NotifierConfig struct {
	StatsInterval     time.Duration `yaml:"stats_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                string        `yaml:"id"`
	Concurrency       int           `yaml:"concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// MaxAttempts of 1 disables retries.
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
	Retention       time.Duration `yaml:"retention"`
	StaleAfter      time.Duration `yaml:"stale_after"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing, so secrets can live in .env.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.RabbitMQ.Queue.MaxPriority == 0 {
		c.RabbitMQ.Queue.MaxPriority = 10
	}
	if c.RabbitMQ.Consumer.PrefetchCount <= 0 {
		c.RabbitMQ.Consumer.PrefetchCount = 1
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "local"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Batch.MaxAlbums <= 0 {
		c.Batch.MaxAlbums = 50
	}
	if c.Batch.MaxFileBytes <= 0 {
		c.Batch.MaxFileBytes = 20 << 20
	}
	if c.Batch.MaxBodyBytes <= 0 {
		c.Batch.MaxBodyBytes = 256 << 20
	}
	if c.Notifier.StatsInterval <= 0 {
		c.Notifier.StatsInterval = 5 * time.Second
	}
	if c.Notifier.HeartbeatInterval <= 0 {
		c.Notifier.HeartbeatInterval = 30 * time.Second
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 3
	}
	if c.Worker.JobTimeout <= 0 {
		c.Worker.JobTimeout = 10 * time.Minute
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = 5 * time.Second
	}
	if c.Worker.HeartbeatInterval <= 0 {
		c.Worker.HeartbeatInterval = 30 * time.Second
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.Worker.MaxAttempts <= 0 {
		c.Worker.MaxAttempts = 1
	}
	if c.Worker.RetryBaseDelay <= 0 {
		c.Worker.RetryBaseDelay = 5 * time.Second
	}
	if c.Worker.CleanupSchedule == "" {
		c.Worker.CleanupSchedule = "@every 10m"
	}
	if c.Worker.Retention <= 0 {
		c.Worker.Retention = 24 * time.Hour
	}
	if c.Worker.StaleAfter <= 0 {
		c.Worker.StaleAfter = 15 * time.Minute
	}
}

// Validate checks the settings both services share
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	switch c.Storage.Driver {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("invalid storage driver: %q (must be s3 or local)", c.Storage.Driver)
	}

	return nil
}

// ValidateAPIConfig checks what the API service needs
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Batch.MaxFileBytes > c.Batch.MaxBodyBytes {
		return fmt.Errorf("batch max_file_bytes (%d) exceeds max_body_bytes (%d)", c.Batch.MaxFileBytes, c.Batch.MaxBodyBytes)
	}

	return nil
}

// ValidateWorkerConfig checks what the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval >= c.Worker.StaleAfter {
		return fmt.Errorf("worker heartbeat_interval (%s) must be shorter than stale_after (%s)", c.Worker.HeartbeatInterval, c.Worker.StaleAfter)
	}

	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker max_attempts must be at least 1")
	}

	return nil
}
