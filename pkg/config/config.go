package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/sso"
	"github.com/platinummonkey/warden/pkg/storage"
)

// MinSessionSecretLength is the shortest accepted HMAC secret.
const MinSessionSecretLength = 32

// Email providers.
const (
	EmailProviderLog = "log"
	EmailProviderSES = "ses"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Session       SessionConfig       `yaml:"session"`
	Cache         CacheConfig         `yaml:"cache"`
	Email         EmailConfig         `yaml:"email"`
	OAuth         OAuthConfig         `yaml:"oauth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// BaseURL is the public origin used in emailed links and OAuth redirects.
	BaseURL     string `yaml:"base_url"`
	Environment string `yaml:"environment"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsProduction reports whether cookies should be marked Secure.
func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}

// DatabaseConfig holds SQL connection settings
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// StorageConfig converts to the storage package's config.
func (d DatabaseConfig) StorageConfig() storage.Config {
	return storage.Config{
		Driver:          d.Driver,
		URL:             d.URL,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnectTimeout:  d.ConnectTimeout,
	}
}

// RedisConfig holds optional Redis settings. An empty URL disables Redis.
type RedisConfig struct {
	URL        string `yaml:"url"`
	PoolSize   int    `yaml:"pool_size"`
	MaxRetries int    `yaml:"max_retries"`
}

// Enabled reports whether a Redis URL is configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// StorageConfig converts to the storage package's config.
func (r RedisConfig) StorageConfig() storage.RedisConfig {
	return storage.RedisConfig{URL: r.URL, PoolSize: r.PoolSize, MaxRetries: r.MaxRetries}
}

// SessionConfig holds session token settings
type SessionConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
	Issuer string        `yaml:"issuer"`
}

// CacheConfig sizes the permission cache
type CacheConfig struct {
	PermissionTTL time.Duration `yaml:"permission_ttl"`
	Size          int           `yaml:"size"`
}

// EmailConfig selects and configures the outbound email provider
type EmailConfig struct {
	Provider    string `yaml:"provider"`
	From        string `yaml:"from"`
	Region      string `yaml:"region"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Endpoint    string `yaml:"endpoint"`
	Concurrency int64  `yaml:"concurrency"`
	AppName     string `yaml:"app_name"`
}

// OAuthConfig holds social login provider credentials
type OAuthConfig struct {
	GitHub sso.Config `yaml:"github"`
	Google sso.Config `yaml:"google"`

	// RedirectBase defaults to the server base URL.
	RedirectBase string `yaml:"redirect_base"`
}

// ProviderConfig returns the provider config with its callback URL filled in.
func (o OAuthConfig) ProviderConfig(name string) sso.Config {
	var cfg sso.Config
	switch name {
	case sso.ProviderGitHub:
		cfg = o.GitHub
	case sso.ProviderGoogle:
		cfg = o.Google
	default:
		return cfg
	}
	if cfg.RedirectURL == "" && o.RedirectBase != "" {
		cfg.RedirectURL = strings.TrimRight(o.RedirectBase, "/") + "/api/auth/" + name + "/callback"
	}
	return cfg
}

// RateLimitConfig configures the auth endpoint limiter
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// JobsConfig configures background jobs
type JobsConfig struct {
	PurgeSchedule string `yaml:"purge_schedule"`

	// ActivityRetention of zero keeps the activity log forever.
	ActivityRetention time.Duration `yaml:"activity_retention"`
	ActivitySchedule  string        `yaml:"activity_schedule"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level parses the configured log level, falling back to info.
func (o ObservabilityConfig) Level() observability.LogLevel {
	level, err := observability.ParseLogLevel(o.LogLevel)
	if err != nil {
		return observability.InfoLevel
	}
	return level
}

// Format returns the log encoding.
func (o ObservabilityConfig) Format() observability.Format {
	if strings.EqualFold(o.LogFormat, string(observability.FormatText)) {
		return observability.FormatText
	}
	return observability.FormatJSON
}

// OTelConfig converts to the observability package's config.
func (o ObservabilityConfig) OTelConfig() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			BaseURL:         "http://localhost:8080",
			Environment:     "development",
		},
		Database: DatabaseConfig{
			Driver:          storage.DriverPostgres,
			URL:             "postgres://localhost:5432/warden?sslmode=disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  5 * time.Second,
		},
		Redis: RedisConfig{PoolSize: 10, MaxRetries: 3},
		Session: SessionConfig{
			TTL:    24 * time.Hour,
			Issuer: "warden",
		},
		Cache: CacheConfig{
			PermissionTTL: 5 * time.Minute,
			Size:          10000,
		},
		Email: EmailConfig{
			Provider:    EmailProviderLog,
			From:        "no-reply@localhost",
			Region:      "us-east-1",
			Concurrency: 4,
			AppName:     "Warden",
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 10, Burst: 10},
		Jobs: JobsConfig{
			PurgeSchedule:     "@every 15m",
			ActivityRetention: 90 * 24 * time.Hour,
			ActivitySchedule:  "@daily",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          string(observability.FormatJSON),
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "warden",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads configuration from an optional .env file, an optional
// YAML file named by WARDEN_CONFIG_FILE and the environment, in that order
// of increasing precedence.
func LoadConfig() (*Config, error) {
	envFile := getEnv("WARDEN_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg, err := Load(getEnv("WARDEN_CONFIG_FILE", ""))
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Load builds a config from defaults, the YAML file at path (skipped when
// empty) and environment overrides. It does not validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides every field whose WARDEN_ variable is set.
func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("WARDEN_HOST", s.Host)
	s.Port = getEnvInt("WARDEN_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("WARDEN_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("WARDEN_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("WARDEN_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.BaseURL = getEnv("WARDEN_BASE_URL", s.BaseURL)
	s.Environment = getEnv("WARDEN_ENVIRONMENT", s.Environment)

	d := &c.Database
	d.Driver = getEnv("WARDEN_DATABASE_DRIVER", d.Driver)
	d.URL = getEnv("WARDEN_DATABASE_URL", d.URL)
	d.MaxOpenConns = getEnvInt("WARDEN_DATABASE_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("WARDEN_DATABASE_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvDuration("WARDEN_DATABASE_CONN_MAX_LIFETIME", d.ConnMaxLifetime)
	d.ConnectTimeout = getEnvDuration("WARDEN_DATABASE_CONNECT_TIMEOUT", d.ConnectTimeout)

	r := &c.Redis
	r.URL = getEnv("WARDEN_REDIS_URL", r.URL)
	r.PoolSize = getEnvInt("WARDEN_REDIS_POOL_SIZE", r.PoolSize)
	r.MaxRetries = getEnvInt("WARDEN_REDIS_MAX_RETRIES", r.MaxRetries)

	c.Session.Secret = getEnv("WARDEN_SESSION_SECRET", c.Session.Secret)
	c.Session.TTL = getEnvDuration("WARDEN_SESSION_TTL", c.Session.TTL)
	c.Session.Issuer = getEnv("WARDEN_SESSION_ISSUER", c.Session.Issuer)

	c.Cache.PermissionTTL = getEnvDuration("WARDEN_CACHE_PERMISSION_TTL", c.Cache.PermissionTTL)
	c.Cache.Size = getEnvInt("WARDEN_CACHE_SIZE", c.Cache.Size)

	e := &c.Email
	e.Provider = strings.ToLower(getEnv("WARDEN_EMAIL_PROVIDER", e.Provider))
	e.From = getEnv("WARDEN_EMAIL_FROM", e.From)
	e.Region = getEnv("WARDEN_EMAIL_REGION", e.Region)
	e.AccessKey = getEnv("WARDEN_EMAIL_ACCESS_KEY", e.AccessKey)
	e.SecretKey = getEnv("WARDEN_EMAIL_SECRET_KEY", e.SecretKey)
	e.Endpoint = getEnv("WARDEN_EMAIL_ENDPOINT", e.Endpoint)
	e.Concurrency = getEnvInt64("WARDEN_EMAIL_CONCURRENCY", e.Concurrency)
	e.AppName = getEnv("WARDEN_APP_NAME", e.AppName)

	o := &c.OAuth
	o.GitHub.ClientID = getEnv("WARDEN_GITHUB_CLIENT_ID", o.GitHub.ClientID)
	o.GitHub.ClientSecret = getEnv("WARDEN_GITHUB_CLIENT_SECRET", o.GitHub.ClientSecret)
	o.Google.ClientID = getEnv("WARDEN_GOOGLE_CLIENT_ID", o.Google.ClientID)
	o.Google.ClientSecret = getEnv("WARDEN_GOOGLE_CLIENT_SECRET", o.Google.ClientSecret)
	o.RedirectBase = getEnv("WARDEN_OAUTH_REDIRECT_BASE", o.RedirectBase)
	if o.RedirectBase == "" {
		o.RedirectBase = s.BaseURL
	}

	c.RateLimit.RequestsPerMinute = getEnvInt("WARDEN_RATE_LIMIT_PER_MINUTE", c.RateLimit.RequestsPerMinute)
	c.RateLimit.Burst = getEnvInt("WARDEN_RATE_LIMIT_BURST", c.RateLimit.Burst)

	c.Jobs.PurgeSchedule = getEnv("WARDEN_PURGE_SCHEDULE", c.Jobs.PurgeSchedule)
	c.Jobs.ActivityRetention = getEnvDuration("WARDEN_ACTIVITY_RETENTION", c.Jobs.ActivityRetention)
	c.Jobs.ActivitySchedule = getEnv("WARDEN_ACTIVITY_PURGE_SCHEDULE", c.Jobs.ActivitySchedule)

	ob := &c.Observability
	ob.LogLevel = getEnv("WARDEN_LOG_LEVEL", ob.LogLevel)
	ob.LogFormat = getEnv("WARDEN_LOG_FORMAT", ob.LogFormat)
	ob.MetricsEnabled = getEnvBool("WARDEN_METRICS_ENABLED", ob.MetricsEnabled)
	ob.OTelEnabled = getEnvBool("WARDEN_OTEL_ENABLED", ob.OTelEnabled)
	ob.OTelEndpoint = getEnv("WARDEN_OTEL_ENDPOINT", ob.OTelEndpoint)
	ob.OTelServiceName = getEnv("WARDEN_OTEL_SERVICE_NAME", ob.OTelServiceName)
	ob.OTelServiceVersion = getEnv("WARDEN_OTEL_SERVICE_VERSION", ob.OTelServiceVersion)
	ob.OTelInsecure = getEnvBool("WARDEN_OTEL_INSECURE", ob.OTelInsecure)
	ob.OTelSampleRatio = getEnvFloat("WARDEN_OTEL_SAMPLE_RATIO", ob.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case storage.DriverPostgres, storage.DriverSQLite:
	default:
		return fmt.Errorf("invalid database driver: %q (must be %s or %s)", c.Database.Driver, storage.DriverPostgres, storage.DriverSQLite)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Session.Secret == "" {
		return fmt.Errorf("session secret is required")
	}
	if len(c.Session.Secret) < MinSessionSecretLength {
		return fmt.Errorf("session secret must be at least %d bytes", MinSessionSecretLength)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Cache.PermissionTTL <= 0 {
		return fmt.Errorf("permission cache TTL must be positive")
	}

	switch c.Email.Provider {
	case EmailProviderLog:
	case EmailProviderSES:
		if c.Email.Region == "" {
			return fmt.Errorf("email region is required for the ses provider")
		}
	default:
		return fmt.Errorf("invalid email provider: %q (must be %s or %s)", c.Email.Provider, EmailProviderLog, EmailProviderSES)
	}
	if c.Email.Concurrency <= 0 {
		return fmt.Errorf("email concurrency must be positive")
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate limit requests per minute must be positive")
	}

	if c.Jobs.ActivityRetention < 0 {
		return fmt.Errorf("activity retention must not be negative")
	}

	if _, err := observability.ParseLogLevel(c.Observability.LogLevel); err != nil {
		return err
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
