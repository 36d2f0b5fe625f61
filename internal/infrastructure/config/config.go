package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	NATS          NATSConfig          `mapstructure:"nats"`
	Outbox        OutboxConfig        `mapstructure:"outbox"`
	Relay         RelayConfig         `mapstructure:"relay"`
	Printer       PrinterConfig       `mapstructure:"printer"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Agent         AgentConfig         `mapstructure:"agent"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port               int           `mapstructure:"port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	IdempotencyTTL     time.Duration `mapstructure:"idempotency_ttl"`
	CORS               CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`

	// Verified printer keys skip bcrypt for this long. 0 disables the cache.
	PrinterKeyCacheTTL time.Duration `mapstructure:"printer_key_cache_ttl"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
}

// OutboxConfig controls where outbox rows live and how long they are kept.
type OutboxConfig struct {
	Table               string        `mapstructure:"table"`
	Retention           time.Duration `mapstructure:"retention"`
	MaxTransactionItems int           `mapstructure:"max_transaction_items"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize      int           `mapstructure:"sweep_batch_size"`
}

// RelayConfig controls the change feed relay.
type RelayConfig struct {
	BatchSize               int           `mapstructure:"batch_size"`
	PollInterval            time.Duration `mapstructure:"poll_interval"`
	PublishConcurrency      int           `mapstructure:"publish_concurrency"`
	MaxAttempts             int           `mapstructure:"max_attempts"`
	ConsumerName            string        `mapstructure:"consumer_name"`
	LockTTL                 time.Duration `mapstructure:"lock_ttl"`
	EventSource             string        `mapstructure:"event_source"`
	SubjectPrefix           string        `mapstructure:"subject_prefix"`
	StreamName              string        `mapstructure:"stream_name"`
	DuplicateWindow         time.Duration `mapstructure:"duplicate_window"`
	PublishTimeout          time.Duration `mapstructure:"publish_timeout"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
}

type PrinterConfig struct {
	OnlineWindow   time.Duration `mapstructure:"online_window"`
	DefaultMaxJobs int           `mapstructure:"default_max_jobs"`
}

// AgentConfig is read by the printer agent only.
type AgentConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	PrinterKey     string        `mapstructure:"printer_key"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxJobs        int           `mapstructure:"max_jobs"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  uint          `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadAgent reads only the agent section. Devices running the agent have no
// database or broker settings to validate.
func LoadAgent() (*AgentConfig, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	// Unmarshal everything: UnmarshalKey skips environment overrides.
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg.Agent, nil
}

// Validate checks the settings the agent cannot run without.
func (c *AgentConfig) Validate() error {
	var errs []error
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("agent.base_url must be an absolute URL"))
	}
	if c.PrinterKey == "" {
		errs = append(errs, fmt.Errorf("agent.printer_key is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("agent.poll_interval must be positive"))
	}
	if c.MaxJobs < 1 || c.MaxJobs > 50 {
		errs = append(errs, fmt.Errorf("agent.max_jobs must be between 1 and 50, got %d", c.MaxJobs))
	}
	return errors.Join(errs...)
}

func newViper() (*viper.Viper, error) {
	// Variables from .env never override ones already in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()

	setDefaults(v)

	// PRINTQUEUE_RELAY_BATCH_SIZE overrides relay.batch_size.
	v.SetEnvPrefix("PRINTQUEUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/printqueue")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Outbox.Table == "" {
		errs = append(errs, fmt.Errorf("outbox.table is required"))
	}
	if c.Outbox.Retention <= 0 {
		errs = append(errs, fmt.Errorf("outbox.retention must be positive"))
	}
	if c.Outbox.MaxTransactionItems < 2 || c.Outbox.MaxTransactionItems > 100 {
		errs = append(errs, fmt.Errorf("outbox.max_transaction_items must be between 2 and 100, got %d", c.Outbox.MaxTransactionItems))
	}
	if c.Relay.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("relay.batch_size must be positive"))
	}
	if c.Relay.PublishConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("relay.publish_concurrency must be positive"))
	}
	if c.Relay.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("relay.max_attempts must be positive"))
	}
	if c.Relay.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("relay.lock_ttl must be positive"))
	}
	if c.Relay.ConsumerName == "" {
		errs = append(errs, fmt.Errorf("relay.consumer_name is required"))
	}
	if c.Printer.OnlineWindow <= 0 {
		errs = append(errs, fmt.Errorf("printer.online_window must be positive"))
	}
	if c.Printer.DefaultMaxJobs < 1 || c.Printer.DefaultMaxJobs > 50 {
		errs = append(errs, fmt.Errorf("printer.default_max_jobs must be between 1 and 50, got %d", c.Printer.DefaultMaxJobs))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit_per_minute", 600)
	v.SetDefault("server.idempotency_ttl", "24h")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "printqueue")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "printqueue")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.connect_timeout", "5s")
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.max_reconnects", 60)

	// Outbox defaults
	v.SetDefault("outbox.table", "printqueue")
	v.SetDefault("outbox.retention", "168h")
	v.SetDefault("outbox.max_transaction_items", 100)
	v.SetDefault("outbox.sweep_interval", "10m")
	v.SetDefault("outbox.sweep_batch_size", 100)

	// Relay defaults
	v.SetDefault("relay.batch_size", 100)
	v.SetDefault("relay.poll_interval", "500ms")
	v.SetDefault("relay.publish_concurrency", 8)
	v.SetDefault("relay.max_attempts", 5)
	v.SetDefault("relay.consumer_name", "outbox-relay")
	v.SetDefault("relay.lock_ttl", "30s")
	v.SetDefault("relay.event_source", "printqueue")
	v.SetDefault("relay.subject_prefix", "printqueue.events")
	v.SetDefault("relay.stream_name", "PRINTQUEUE_EVENTS")
	v.SetDefault("relay.duplicate_window", "2h")
	v.SetDefault("relay.publish_timeout", "5s")
	v.SetDefault("relay.circuit_breaker_threshold", 10)
	v.SetDefault("relay.circuit_breaker_timeout", "30s")

	// Printer defaults
	v.SetDefault("printer.online_window", "2m")
	v.SetDefault("printer.default_max_jobs", 10)

	// Agent defaults
	v.SetDefault("agent.base_url", "http://localhost:8080")
	v.SetDefault("agent.printer_key", "")
	v.SetDefault("agent.poll_interval", "5s")
	v.SetDefault("agent.max_jobs", 10)
	v.SetDefault("agent.request_timeout", "10s")
	v.SetDefault("agent.retry_attempts", 5)
	v.SetDefault("agent.retry_delay", "500ms")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", true)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiry", "24h")
	v.SetDefault("auth.printer_key_cache_ttl", "5m")

	// Instance ID
	v.SetDefault("instance_id", "printqueue-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL renders the connection in URL form, as the migrator expects.
func (c *DatabaseConfig) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
