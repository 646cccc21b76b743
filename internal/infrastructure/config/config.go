package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	HTTP       HTTPConfig
	QuickBooks QuickBooksConfig
	Auth       AuthConfig
	Paths      PathsConfig
	Sync       SyncConfig
	Watcher    WatcherConfig
	Storage    StorageConfig
	Telemetry  TelemetryConfig
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

// DatabaseConfig holds database connection settings.
// Driver "sqlite" uses Path; driver "postgres" uses the network fields.
type DatabaseConfig struct {
	Driver          string
	Path            string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
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
	MaxHeaderBytes int
	MaxUploadSize  int64
	TrustedProxies []string
}

// QuickBooksConfig holds QuickBooks Online OAuth2 and API settings
type QuickBooksConfig struct {
	ClientID        string
	ClientSecret    string
	RedirectURI     string
	Environment     string // sandbox or production
	RealmID         string
	RefreshToken    string
	AccessToken     string
	TokenFile       string
	BaseURL         string // overrides the environment base URL when set
	TokenURL        string
	AuthURL         string
	MinorVersion    int
	Timeout         time.Duration
	IncomeAccountID string
}

// AuthConfig holds settings for the OAuth consent round trip
type AuthConfig struct {
	StateSecret string        // HMAC key for signed OAuth state; random per process when empty
	StateTTL    time.Duration // how long a /login state stays valid
}

// PathsConfig holds the filesystem layout used by the sync pipeline
type PathsConfig struct {
	InputDir     string
	ProcessedDir string
	ErrorDir     string
	MappingsFile string
}

// SyncConfig holds pipeline tuning
type SyncConfig struct {
	LedgerTTL        time.Duration // how long a posted transaction is remembered
	TransactionDelay time.Duration // pause between transactions to stay under API rate limits
	ItemRetryDelay   time.Duration // base delay for duplicate-name item lookups
	ItemRetries      int
}

// WatcherConfig holds input directory polling configuration
type WatcherConfig struct {
	Enabled  bool
	Interval time.Duration
}

// StorageConfig holds S3-compatible archive settings
type StorageConfig struct {
	Enabled      bool
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
	Prefix       string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry tracing
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string
	Insecure          bool // Use insecure (non-TLS) connection (development only)
	DBTraceEnabled    bool
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	LogsEnabled       bool // Export log entries over OTLP next to the local output
}

// Load loads configuration from .env, TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with QBSYNC_ prefix (e.g., QBSYNC_DATABASE_DRIVER)
// 2. Legacy QB_* variables for QuickBooks credentials
// 3. .env file in the working directory
// 4. config.toml
// 5. Built-in defaults
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("QBSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Path:            v.GetString("database.path"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
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
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxUploadSize:  v.GetInt64("http.max_upload_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
		},
		QuickBooks: QuickBooksConfig{
			ClientID:        v.GetString("quickbooks.client_id"),
			ClientSecret:    v.GetString("quickbooks.client_secret"),
			RedirectURI:     v.GetString("quickbooks.redirect_uri"),
			Environment:     v.GetString("quickbooks.environment"),
			RealmID:         v.GetString("quickbooks.realm_id"),
			RefreshToken:    v.GetString("quickbooks.refresh_token"),
			AccessToken:     v.GetString("quickbooks.access_token"),
			TokenFile:       v.GetString("quickbooks.token_file"),
			BaseURL:         v.GetString("quickbooks.base_url"),
			TokenURL:        v.GetString("quickbooks.token_url"),
			AuthURL:         v.GetString("quickbooks.auth_url"),
			MinorVersion:    v.GetInt("quickbooks.minor_version"),
			Timeout:         v.GetDuration("quickbooks.timeout"),
			IncomeAccountID: v.GetString("quickbooks.income_account_id"),
		},
		Auth: AuthConfig{
			StateSecret: v.GetString("auth.state_secret"),
			StateTTL:    v.GetDuration("auth.state_ttl"),
		},
		Paths: PathsConfig{
			InputDir:     v.GetString("paths.input_dir"),
			ProcessedDir: v.GetString("paths.processed_dir"),
			ErrorDir:     v.GetString("paths.error_dir"),
			MappingsFile: v.GetString("paths.mappings_file"),
		},
		Sync: SyncConfig{
			LedgerTTL:        v.GetDuration("sync.ledger_ttl"),
			TransactionDelay: v.GetDuration("sync.transaction_delay"),
			ItemRetryDelay:   v.GetDuration("sync.item_retry_delay"),
			ItemRetries:      v.GetInt("sync.item_retries"),
		},
		Watcher: WatcherConfig{
			Enabled:  v.GetBool("watcher.enabled"),
			Interval: v.GetDuration("watcher.interval"),
		},
		Storage: StorageConfig{
			Enabled:      v.GetBool("storage.enabled"),
			Endpoint:     v.GetString("storage.endpoint"),
			Region:       v.GetString("storage.region"),
			Bucket:       v.GetString("storage.bucket"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UseSSL:       v.GetBool("storage.use_ssl"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
			Prefix:       v.GetString("storage.prefix"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDotEnv loads KEY=VALUE pairs into the process environment.
// Variables already set in the environment win; a missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	return nil
}

// bindLegacyEnv maps the QB_* variables used by existing .env files onto config keys.
// The prefixed QBSYNC_* name is listed first so it takes precedence.
func bindLegacyEnv(v *viper.Viper) {
	legacy := map[string]string{
		"quickbooks.client_id":     "QB_CLIENT_ID",
		"quickbooks.client_secret": "QB_CLIENT_SECRET",
		"quickbooks.redirect_uri":  "QB_REDIRECT_URI",
		"quickbooks.environment":   "QB_ENVIRONMENT",
		"quickbooks.realm_id":      "QB_REALM_ID",
		"quickbooks.refresh_token": "QB_REFRESH_TOKEN",
		"quickbooks.access_token":  "QB_ACCESS_TOKEN",
	}
	for key, env := range legacy {
		prefixed := "QBSYNC_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, env)
	}
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "qbsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8000"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join("data", "qbsync.db")
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "qbsync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
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
		cfg.HTTP.ReadTimeout = 30 * time.Second
	}
	// Uploads are processed synchronously, so the write timeout covers the whole QuickBooks sync.
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 10 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxUploadSize == 0 {
		cfg.HTTP.MaxUploadSize = 10 << 20 // 10MB
	}
	if cfg.QuickBooks.Environment == "" {
		cfg.QuickBooks.Environment = "sandbox"
	}
	cfg.QuickBooks.Environment = strings.ToLower(cfg.QuickBooks.Environment)
	if cfg.QuickBooks.RedirectURI == "" {
		cfg.QuickBooks.RedirectURI = "http://localhost:8000/callback"
	}
	if cfg.QuickBooks.TokenFile == "" {
		cfg.QuickBooks.TokenFile = filepath.Join("config", "qb_tokens.json")
	}
	if cfg.QuickBooks.MinorVersion == 0 {
		cfg.QuickBooks.MinorVersion = 75
	}
	if cfg.QuickBooks.Timeout == 0 {
		cfg.QuickBooks.Timeout = 30 * time.Second
	}
	if cfg.QuickBooks.IncomeAccountID == "" {
		cfg.QuickBooks.IncomeAccountID = "1"
	}
	if cfg.Auth.StateTTL == 0 {
		cfg.Auth.StateTTL = 10 * time.Minute
	}
	if cfg.Paths.InputDir == "" {
		cfg.Paths.InputDir = filepath.Join("data", "input")
	}
	if cfg.Paths.ProcessedDir == "" {
		cfg.Paths.ProcessedDir = filepath.Join("data", "processed")
	}
	if cfg.Paths.ErrorDir == "" {
		cfg.Paths.ErrorDir = filepath.Join("data", "error")
	}
	if cfg.Paths.MappingsFile == "" {
		cfg.Paths.MappingsFile = filepath.Join("config", "mappings.json")
	}
	if cfg.Sync.LedgerTTL == 0 {
		cfg.Sync.LedgerTTL = 30 * 24 * time.Hour
	}
	if cfg.Sync.ItemRetryDelay == 0 {
		cfg.Sync.ItemRetryDelay = 2 * time.Second
	}
	if cfg.Sync.ItemRetries == 0 {
		cfg.Sync.ItemRetries = 3
	}
	if cfg.Watcher.Interval == 0 {
		cfg.Watcher.Interval = time.Minute
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "qbsync"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "qbsync"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be 'sqlite' or 'postgres', got %q", c.Database.Driver)
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

	switch c.QuickBooks.Environment {
	case "sandbox", "production":
	default:
		return fmt.Errorf("quickbooks.environment must be 'sandbox' or 'production', got %q", c.QuickBooks.Environment)
	}
	if c.Sync.ItemRetries < 0 {
		return fmt.Errorf("sync.item_retries cannot be negative")
	}

	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}

	if c.App.Env == "production" {
		if c.Database.Driver == "postgres" && c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if len(c.Auth.StateSecret) < 32 {
			return fmt.Errorf("auth.state_secret must be at least 32 characters in production")
		}
		if c.Telemetry.Enabled && c.Telemetry.Insecure {
			return fmt.Errorf("telemetry.insecure must be false in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the PostgreSQL connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
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

// Addr returns the Redis host:port address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
