package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/lockout"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/storage/rediscache"
	"github.com/platinummonkey/gatehouse/pkg/storage/sqlstore"
)

// DriverMemory selects the in-process stores used by serve --dev
const DriverMemory = "memory"

// minSecretLength is the shortest accepted HMAC signing secret in bytes
const minSecretLength = 32

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	SSO           SSOConfig           `yaml:"sso"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	// Per-IP limit on login and SSO callbacks; zero disables
	LoginRateLimit  int           `yaml:"login_rate_limit"`
	LoginRateWindow time.Duration `yaml:"login_rate_window"`

	// Hosts an absolute SSO return URL may point at
	ReturnHosts []string `yaml:"return_hosts"`
}

// DatabaseConfig selects the relational store
type DatabaseConfig struct {
	Driver   string        `yaml:"driver"` // postgres, sqlite3 or memory
	URL      string        `yaml:"url"`
	MaxConns int           `yaml:"max_conns"`
	MinConns int           `yaml:"min_conns"`
	Timeout  time.Duration `yaml:"timeout"`

	// SeedFile names a YAML file of organizations, SSO configurations and
	// users applied at startup
	SeedFile string `yaml:"seed_file"`
}

// SQLStore returns the connection settings for sqlstore.Open
func (d DatabaseConfig) SQLStore() sqlstore.Config {
	cfg := sqlstore.DefaultConfig(d.Driver, d.URL)
	if d.MaxConns > 0 {
		cfg.MaxConns = d.MaxConns
	}
	if d.MinConns > 0 {
		cfg.MinConns = d.MinConns
	}
	if d.Timeout > 0 {
		cfg.Timeout = d.Timeout
	}
	return cfg
}

// RedisConfig configures the shared lockout counters and SSO config cache.
// An empty URL keeps both in process.
type RedisConfig struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	MaxRetries int    `yaml:"max_retries"`
	PoolSize   int    `yaml:"pool_size"`
}

// Enabled reports whether a Redis server is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// Client returns the settings for rediscache.NewClient
func (r RedisConfig) Client() rediscache.Config {
	return rediscache.Config{
		URL:        r.URL,
		Password:   r.Password,
		DB:         r.DB,
		MaxRetries: r.MaxRetries,
		PoolSize:   r.PoolSize,
	}
}

// AuthConfig holds password login and session token settings
type AuthConfig struct {
	LockoutThreshold int           `yaml:"lockout_threshold"`
	LockoutWindow    time.Duration `yaml:"lockout_window"`
	LockoutOpTimeout time.Duration `yaml:"lockout_op_timeout"`
	LockoutCacheSize int           `yaml:"lockout_cache_size"` // in-process store only
	AutoProvision    bool          `yaml:"auto_provision"`

	TokenTTL     time.Duration `yaml:"token_ttl"`
	TokenIssuer  string        `yaml:"token_issuer"`
	TokenSecret  string        `yaml:"token_secret"`
	TokenKeyFile string        `yaml:"token_key_file"` // PEM private key; wins over the secret
}

// Lockout returns the tracker settings
func (a AuthConfig) Lockout() lockout.Config {
	return lockout.Config{
		Threshold: a.LockoutThreshold,
		Window:    a.LockoutWindow,
		OpTimeout: a.LockoutOpTimeout,
	}
}

// SSOConfig holds settings shared by every organization's SSO flow
type SSOConfig struct {
	HTTPTimeout             time.Duration `yaml:"http_timeout"`
	MetadataCacheTTL        time.Duration `yaml:"metadata_cache_ttl"`
	MetadataRefreshSchedule string        `yaml:"metadata_refresh_schedule"` // cron spec, empty disables
	ConfigCacheTTL          time.Duration `yaml:"config_cache_ttl"`
	AllowUnsignedSAML       bool          `yaml:"allow_unsigned_saml"`
	AllowUnverifiedOIDC     bool          `yaml:"allow_unverified_oidc"`
	SecretsFile             string        `yaml:"secrets_file"`
	WatchSecrets            bool          `yaml:"watch_secrets"`
}

// AuditConfig selects where security events are written. The log sink is
// always on.
type AuditConfig struct {
	Database    bool   `yaml:"database"`
	FileDir     string `yaml:"file_dir"`
	MaxFileSize int64  `yaml:"max_file_size"`
	MaxFiles    int    `yaml:"max_files"`
	Async       bool   `yaml:"async"`
}

// FileSink returns the rotating file sink settings
func (a AuditConfig) FileSink() audit.FileSinkConfig {
	return audit.FileSinkConfig{Dir: a.FileDir, MaxSize: a.MaxFileSize, MaxFiles: a.MaxFiles}
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"` // Use insecure gRPC connection
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel returns the tracing settings
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
	}
}

// Default returns the built-in defaults
func Default() *Config {
	lockoutDefaults := lockout.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
			LoginRateLimit:  30,
			LoginRateWindow: time.Minute,
		},
		Database: DatabaseConfig{
			Driver:   sqlstore.DriverPostgres,
			MaxConns: 20,
			MinConns: 2,
			Timeout:  10 * time.Second,
		},
		Redis: RedisConfig{DB: -1},
		Auth: AuthConfig{
			LockoutThreshold: lockoutDefaults.Threshold,
			LockoutWindow:    lockoutDefaults.Window,
			LockoutOpTimeout: lockoutDefaults.OpTimeout,
			LockoutCacheSize: 100000,
			TokenTTL:         24 * time.Hour,
			TokenIssuer:      "gatehouse",
		},
		SSO: SSOConfig{
			HTTPTimeout:             10 * time.Second,
			MetadataCacheTTL:        time.Hour,
			MetadataRefreshSchedule: "@every 30m",
			ConfigCacheTTL:          5 * time.Minute,
			WatchSecrets:            true,
		},
		Audit: AuditConfig{
			Database: true,
			Async:    true,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "gatehouse",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// Load builds configuration from defaults, the optional YAML file named by
// GATEHOUSE_CONFIG_FILE and then environment variables, in increasing
// precedence. It does not validate.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("GATEHOUSE_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadConfig loads and validates configuration
func LoadConfig() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyFile overlays keys present in a YAML file
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from GATEHOUSE_* variables
func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("GATEHOUSE_HOST", s.Host)
	s.Port = getEnv("GATEHOUSE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("GATEHOUSE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.HealthPort = getEnv("GATEHOUSE_HEALTH_PORT", s.HealthPort)
	s.LoginRateLimit = getEnvInt("GATEHOUSE_LOGIN_RATE_LIMIT", s.LoginRateLimit)
	s.LoginRateWindow = getEnvDuration("GATEHOUSE_LOGIN_RATE_WINDOW", s.LoginRateWindow)
	s.ReturnHosts = getEnvList("GATEHOUSE_RETURN_HOSTS", s.ReturnHosts)

	d := &c.Database
	d.Driver = getEnv("GATEHOUSE_DATABASE_DRIVER", d.Driver)
	d.URL = getEnv("GATEHOUSE_DATABASE_URL", d.URL)
	d.MaxConns = getEnvInt("GATEHOUSE_DATABASE_MAX_CONNS", d.MaxConns)
	d.MinConns = getEnvInt("GATEHOUSE_DATABASE_MIN_CONNS", d.MinConns)
	d.Timeout = getEnvDuration("GATEHOUSE_DATABASE_TIMEOUT", d.Timeout)
	d.SeedFile = getEnv("GATEHOUSE_SEED_FILE", d.SeedFile)

	r := &c.Redis
	r.URL = getEnv("GATEHOUSE_REDIS_URL", r.URL)
	r.Password = getEnv("GATEHOUSE_REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("GATEHOUSE_REDIS_DB", r.DB)
	r.MaxRetries = getEnvInt("GATEHOUSE_REDIS_MAX_RETRIES", r.MaxRetries)
	r.PoolSize = getEnvInt("GATEHOUSE_REDIS_POOL_SIZE", r.PoolSize)

	a := &c.Auth
	a.LockoutThreshold = getEnvInt("GATEHOUSE_LOCKOUT_THRESHOLD", a.LockoutThreshold)
	a.LockoutWindow = getEnvDuration("GATEHOUSE_LOCKOUT_WINDOW", a.LockoutWindow)
	a.LockoutOpTimeout = getEnvDuration("GATEHOUSE_LOCKOUT_OP_TIMEOUT", a.LockoutOpTimeout)
	a.LockoutCacheSize = getEnvInt("GATEHOUSE_LOCKOUT_CACHE_SIZE", a.LockoutCacheSize)
	a.AutoProvision = getEnvBool("GATEHOUSE_AUTO_PROVISION", a.AutoProvision)
	a.TokenTTL = getEnvDuration("GATEHOUSE_TOKEN_TTL", a.TokenTTL)
	a.TokenIssuer = getEnv("GATEHOUSE_TOKEN_ISSUER", a.TokenIssuer)
	a.TokenSecret = getEnv("GATEHOUSE_TOKEN_SECRET", a.TokenSecret)
	a.TokenKeyFile = getEnv("GATEHOUSE_TOKEN_KEY_FILE", a.TokenKeyFile)

	o := &c.SSO
	o.HTTPTimeout = getEnvDuration("GATEHOUSE_SSO_HTTP_TIMEOUT", o.HTTPTimeout)
	o.MetadataCacheTTL = getEnvDuration("GATEHOUSE_SSO_METADATA_CACHE_TTL", o.MetadataCacheTTL)
	o.MetadataRefreshSchedule = getEnv("GATEHOUSE_SSO_METADATA_REFRESH", o.MetadataRefreshSchedule)
	o.ConfigCacheTTL = getEnvDuration("GATEHOUSE_SSO_CONFIG_CACHE_TTL", o.ConfigCacheTTL)
	o.AllowUnsignedSAML = getEnvBool("GATEHOUSE_SSO_ALLOW_UNSIGNED_SAML", o.AllowUnsignedSAML)
	o.AllowUnverifiedOIDC = getEnvBool("GATEHOUSE_SSO_ALLOW_UNVERIFIED_OIDC", o.AllowUnverifiedOIDC)
	o.SecretsFile = getEnv("GATEHOUSE_SSO_SECRETS_FILE", o.SecretsFile)
	o.WatchSecrets = getEnvBool("GATEHOUSE_SSO_WATCH_SECRETS", o.WatchSecrets)

	au := &c.Audit
	au.Database = getEnvBool("GATEHOUSE_AUDIT_DATABASE", au.Database)
	au.FileDir = getEnv("GATEHOUSE_AUDIT_FILE_DIR", au.FileDir)
	au.MaxFileSize = getEnvInt64("GATEHOUSE_AUDIT_MAX_FILE_SIZE", au.MaxFileSize)
	au.MaxFiles = getEnvInt("GATEHOUSE_AUDIT_MAX_FILES", au.MaxFiles)
	au.Async = getEnvBool("GATEHOUSE_AUDIT_ASYNC", au.Async)

	ob := &c.Observability
	ob.LogLevel = getEnv("GATEHOUSE_LOG_LEVEL", ob.LogLevel)
	ob.MetricsEnabled = getEnvBool("GATEHOUSE_METRICS_ENABLED", ob.MetricsEnabled)
	ob.OTelEnabled = getEnvBool("GATEHOUSE_OTEL_ENABLED", ob.OTelEnabled)
	ob.OTelEndpoint = getEnv("GATEHOUSE_OTEL_ENDPOINT", ob.OTelEndpoint)
	ob.OTelServiceName = getEnv("GATEHOUSE_OTEL_SERVICE_NAME", ob.OTelServiceName)
	ob.OTelServiceVersion = getEnv("GATEHOUSE_OTEL_SERVICE_VERSION", ob.OTelServiceVersion)
	ob.OTelInsecure = getEnvBool("GATEHOUSE_OTEL_INSECURE", ob.OTelInsecure)
}

// ApplyDevDefaults switches to in-process stores, relaxes assertion
// verification and generates a throwaway signing secret when none is set.
func (c *Config) ApplyDevDefaults() {
	c.Database.Driver = DriverMemory
	c.Audit.Database = false
	c.Auth.AutoProvision = true
	c.SSO.AllowUnsignedSAML = true
	c.SSO.AllowUnverifiedOIDC = true
	if c.Auth.TokenSecret == "" && c.Auth.TokenKeyFile == "" {
		buf := make([]byte, minSecretLength)
		_, _ = rand.Read(buf)
		c.Auth.TokenSecret = hex.EncodeToString(buf)
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.LoginRateLimit > 0 && c.Server.LoginRateWindow <= 0 {
		return fmt.Errorf("login rate window must be positive when a rate limit is set")
	}

	switch c.Database.Driver {
	case sqlstore.DriverPostgres, sqlstore.DriverSQLite:
		if c.Database.URL == "" {
			return fmt.Errorf("database URL is required for the %s driver", c.Database.Driver)
		}
	case DriverMemory:
		if c.Audit.Database {
			return fmt.Errorf("database audit sink requires a SQL database driver")
		}
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres, sqlite3, or memory)", c.Database.Driver)
	}

	if c.Auth.LockoutThreshold <= 0 {
		return fmt.Errorf("lockout threshold must be positive")
	}
	if c.Auth.LockoutWindow <= 0 {
		return fmt.Errorf("lockout window must be positive")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}
	if c.Auth.TokenKeyFile == "" {
		if c.Auth.TokenSecret == "" {
			return fmt.Errorf("a token signing secret or key file is required")
		}
		if len(c.Auth.TokenSecret) < minSecretLength {
			return fmt.Errorf("token signing secret must be at least %d bytes", minSecretLength)
		}
	}

	if c.SSO.HTTPTimeout <= 0 {
		return fmt.Errorf("SSO HTTP timeout must be positive")
	}
	if spec := c.SSO.MetadataRefreshSchedule; spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid metadata refresh schedule %q: %w", spec, err)
		}
	}

	// Validate OpenTelemetry config
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
