package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Delivery  DeliveryConfig
	Vault     VaultConfig
	Kafka     KafkaConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	Path            string // sqlite file path, ":memory:" allowed
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	LogLevel        string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration // per-request deadline handed to handlers
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
	AllowOrigins   []string
	RateLimit      float64 // inbound requests per second per client IP, 0 = unlimited
	RateBurst      int
}

// DeliveryConfig holds carrier dispatch settings
type DeliveryConfig struct {
	AdapterTimeout   time.Duration
	MaxResponseBytes int64
	LockTTL          time.Duration
	LockBackend      string // redis or memory
	RequireRedisLock bool
	RateLimit        float64 // outbound requests per second per adapter, 0 = unlimited
	RateBurst        int
	JSONRPCMethod    string
	SOAPNamespace    string
	SOAPAction       string
	GraphQLMutation  string
}

// VaultConfig holds credential encryption settings
type VaultConfig struct {
	// MasterKey is base64 of at least 32 bytes, or a raw string of at least 32 characters
	MasterKey string
}

// KafkaConfig holds attempt event publishing settings
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration
	DBTraceEnabled    bool // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool // Record full SQL statements in spans (dev only)
	DBSlowQueryThresh time.Duration
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with STOREFRONT_ prefix (e.g., STOREFRONT_VAULT_MASTER_KEY)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			Path:            v.GetString("database.path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			LogLevel:        v.GetString("database.log_level"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			RequestTimeout: v.GetDuration("http.request_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: splitList(v.GetStringSlice("http.trusted_proxies")),
			AllowOrigins:   splitList(v.GetStringSlice("http.allow_origins")),
			RateLimit:      v.GetFloat64("http.rate_limit"),
			RateBurst:      v.GetInt("http.rate_burst"),
		},
		Delivery: DeliveryConfig{
			AdapterTimeout:   v.GetDuration("delivery.adapter_timeout"),
			MaxResponseBytes: v.GetInt64("delivery.max_response_bytes"),
			LockTTL:          v.GetDuration("delivery.lock_ttl"),
			LockBackend:      v.GetString("delivery.lock_backend"),
			RequireRedisLock: v.GetBool("delivery.require_redis_lock"),
			RateLimit:        v.GetFloat64("delivery.rate_limit"),
			RateBurst:        v.GetInt("delivery.rate_burst"),
			JSONRPCMethod:    v.GetString("delivery.jsonrpc_method"),
			SOAPNamespace:    v.GetString("delivery.soap_namespace"),
			SOAPAction:       v.GetString("delivery.soap_action"),
			GraphQLMutation:  v.GetString("delivery.graphql_mutation"),
		},
		Vault: VaultConfig{
			MasterKey: v.GetString("vault.master_key"),
		},
		Kafka: KafkaConfig{
			Enabled:      v.GetBool("kafka.enabled"),
			Brokers:      splitList(v.GetStringSlice("kafka.brokers")),
			Topic:        v.GetString("kafka.topic"),
			WriteTimeout: v.GetDuration("kafka.write_timeout"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "storefront-delivery"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPostgres
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		switch cfg.Database.Driver {
		case DriverMySQL:
			cfg.Database.Port = 3306
		default:
			cfg.Database.Port = 5432
		}
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
		if cfg.Database.Driver == DriverMySQL {
			cfg.Database.User = "root"
		}
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "storefront"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "storefront.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.RequestTimeout == 0 {
		cfg.HTTP.RequestTimeout = 45 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 2 << 20 // 2MB
	}
	if cfg.HTTP.RateBurst == 0 {
		cfg.HTTP.RateBurst = 20
	}

	if cfg.Delivery.AdapterTimeout == 0 {
		cfg.Delivery.AdapterTimeout = 30 * time.Second
	}
	if cfg.Delivery.MaxResponseBytes == 0 {
		cfg.Delivery.MaxResponseBytes = 10 << 20 // 10MB
	}
	if cfg.Delivery.LockTTL == 0 {
		// must outlive the adapter call plus persistence
		cfg.Delivery.LockTTL = cfg.Delivery.AdapterTimeout + 30*time.Second
	}
	if cfg.Delivery.LockBackend == "" {
		cfg.Delivery.LockBackend = "redis"
	}
	if cfg.Delivery.RateBurst == 0 {
		cfg.Delivery.RateBurst = 1
	}
	if cfg.Delivery.JSONRPCMethod == "" {
		cfg.Delivery.JSONRPCMethod = "create_order"
	}
	if cfg.Delivery.SOAPNamespace == "" {
		cfg.Delivery.SOAPNamespace = "http://delivery.storefront.local/v1"
	}
	if cfg.Delivery.SOAPAction == "" {
		cfg.Delivery.SOAPAction = "CreateOrder"
	}

	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "delivery.attempts"
	}
	if cfg.Kafka.WriteTimeout == 0 {
		cfg.Kafka.WriteTimeout = 10 * time.Second
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be one of postgres, mysql, sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Delivery.AdapterTimeout < time.Second || c.Delivery.AdapterTimeout > 5*time.Minute {
		return fmt.Errorf("delivery.adapter_timeout must be between 1s and 5m, got %s", c.Delivery.AdapterTimeout)
	}
	if c.Delivery.LockTTL <= c.Delivery.AdapterTimeout {
		return fmt.Errorf("delivery.lock_ttl (%s) must exceed delivery.adapter_timeout (%s)",
			c.Delivery.LockTTL, c.Delivery.AdapterTimeout)
	}
	if c.Delivery.MaxResponseBytes < 0 {
		return fmt.Errorf("delivery.max_response_bytes cannot be negative")
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit cannot be negative")
	}
	if c.Delivery.RateLimit < 0 {
		return fmt.Errorf("delivery.rate_limit cannot be negative")
	}
	switch c.Delivery.LockBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("delivery.lock_backend must be redis or memory, got %q", c.Delivery.LockBackend)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka.enabled is true")
	}

	if c.App.Env == "production" {
		if c.Vault.MasterKey == "" {
			return fmt.Errorf("vault.master_key is required in production")
		}
		if c.Database.Driver == DriverSQLite {
			return fmt.Errorf("database.driver sqlite is not allowed in production")
		}
		if c.Database.Driver == DriverPostgres && c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Delivery.LockBackend == "memory" {
			return fmt.Errorf("delivery.lock_backend memory does not serialise dispatches across instances, use redis in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the driver-specific connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case DriverMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.DBName)
	case DriverSQLite:
		return d.Path
	default:
		return d.PostgresURL()
	}
}

// PostgresURL returns the postgres:// URL used by gorm and golang-migrate
func (d *DatabaseConfig) PostgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// splitList flattens comma separated entries, as env vars arrive as one string
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
