package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	TLS     TLSConfig     `mapstructure:"tls"`
	Storage StorageConfig `mapstructure:"storage"`
	Usage   UsageConfig   `mapstructure:"usage"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Model   ModelConfig   `mapstructure:"model"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Client  ClientConfig  `mapstructure:"client"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig defines the classify service listeners
type ServerConfig struct {
	BindAddress     string `mapstructure:"bind_address"`
	APIPort         int    `mapstructure:"api_port"`
	MetricsPort     int    `mapstructure:"metrics_port"` // 0 disables the metrics listener
	ReadTimeout     string `mapstructure:"read_timeout"`
	WriteTimeout    string `mapstructure:"write_timeout"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64  `mapstructure:"max_body_bytes"`
}

// TLSConfig defines how the API listener is secured
type TLSConfig struct {
	Enabled  bool       `mapstructure:"enabled"`
	CertFile string     `mapstructure:"cert_file"`
	KeyFile  string     `mapstructure:"key_file"`
	ACME     ACMEConfig `mapstructure:"acme"`
}

// ACMEConfig defines Let's Encrypt certificate acquisition
type ACMEConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Email       string `mapstructure:"email"`
	Domain      string `mapstructure:"domain"`
	DNSProvider string `mapstructure:"dns_provider"` // lego provider name, credentials come from the environment; empty uses HTTP-01
	HTTPPort    string `mapstructure:"http_port"`
	CADirURL    string `mapstructure:"ca_dir_url"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the Redis connection
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// UsageConfig defines the per-user daily quota
type UsageConfig struct {
	DailyLimit    int    `mapstructure:"daily_limit"` // <= 0 disables the quota
	RetentionDays int    `mapstructure:"retention_days"`
	CleanupTime   string `mapstructure:"cleanup_time"` // HH:MM, UTC
}

// AuthConfig defines bearer token verification
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	TokenTTL  string `mapstructure:"token_ttl"`
}

// ModelConfig defines the generative model backend
type ModelConfig struct {
	Provider string `mapstructure:"provider"` // "openai" or "static"
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Name     string `mapstructure:"name"`
	Timeout  string `mapstructure:"timeout"`
}

// CacheConfig defines the verdict cache
type CacheConfig struct {
	Size int    `mapstructure:"size"` // 0 disables caching
	TTL  string `mapstructure:"ttl"`
}

// ClientConfig defines the watcher daemon and session CLI
type ClientConfig struct {
	APIURL          string `mapstructure:"api_url"`
	Token           string `mapstructure:"token"`
	TokenFile       string `mapstructure:"token_file"`
	ClassifyTimeout string `mapstructure:"classify_timeout"`
	SessionPath     string `mapstructure:"session_path"`
	SessionStore    string `mapstructure:"session_store"` // "bolt" (session_path) or "redis" (storage.redis)
	UserID          string `mapstructure:"user_id"`       // session key owner for the redis session store
	Host            string `mapstructure:"host"` // "cdp" or "native"
	CDPURL          string `mapstructure:"cdp_url"`
	CDPLaunch       bool   `mapstructure:"cdp_launch"`
	CDPHeadless     bool   `mapstructure:"cdp_headless"`
	BlockPageAddr   string `mapstructure:"block_page_addr"`
	BlockPageURL    string `mapstructure:"block_page_url"`
	BypassPolicyDir string `mapstructure:"bypass_policy_dir"`
	MetricsPort     int    `mapstructure:"metrics_port"` // 0 disables the metrics listener
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Secrets usually live in a .env file next to the binary
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("LOCKEDIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// The OpenAI SDK convention wins when no key is configured
	if config.Model.APIKey == "" {
		config.Model.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration built from defaults alone.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Keys returns every configuration key that has a default.
func Keys() []string {
	v := viper.New()
	setDefaults(v)
	return v.AllKeys()
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_bytes", 16384)

	// TLS defaults
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert_file", "/etc/lockedin/tls/server.crt")
	v.SetDefault("tls.key_file", "/etc/lockedin/tls/server.key")
	v.SetDefault("tls.acme.enabled", false)
	v.SetDefault("tls.acme.email", "")
	v.SetDefault("tls.acme.domain", "")
	v.SetDefault("tls.acme.dns_provider", "")
	v.SetDefault("tls.acme.http_port", "80")
	v.SetDefault("tls.acme.ca_dir_url", "https://acme-v02.api.letsencrypt.org/directory")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/lockedin/lockedin.bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Usage defaults
	v.SetDefault("usage.daily_limit", 200)
	v.SetDefault("usage.retention_days", 90)
	v.SetDefault("usage.cleanup_time", "00:00")

	// Auth defaults
	// Secrets are registered so LOCKEDIN_* environment overrides bind
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "lockedin")
	v.SetDefault("auth.token_ttl", "720h")

	// Model defaults
	v.SetDefault("model.provider", "openai")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.name", "gpt-4o-mini")
	v.SetDefault("model.timeout", "20s")

	// Cache defaults
	v.SetDefault("cache.size", 1024)
	v.SetDefault("cache.ttl", "1h")

	// Client defaults
	v.SetDefault("client.api_url", "http://localhost:8080")
	v.SetDefault("client.token", "")
	v.SetDefault("client.token_file", "")
	v.SetDefault("client.classify_timeout", "10s")
	v.SetDefault("client.session_path", defaultSessionPath())
	v.SetDefault("client.session_store", "bolt")
	v.SetDefault("client.user_id", "")
	v.SetDefault("client.host", "cdp")
	v.SetDefault("client.cdp_url", "ws://127.0.0.1:9222")
	v.SetDefault("client.cdp_launch", false)
	v.SetDefault("client.cdp_headless", false)
	v.SetDefault("client.block_page_addr", "127.0.0.1:8089")
	v.SetDefault("client.block_page_url", "")
	v.SetDefault("client.bypass_policy_dir", "")
	v.SetDefault("client.metrics_port", 0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "lockedin-session.bolt"
	}
	return filepath.Join(dir, "lockedin", "session.bolt")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "":
		cfg.Storage.Type = "bolt"
	case "bolt", "redis":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	if cfg.Storage.Type == "bolt" && cfg.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}

	if cfg.Usage.RetentionDays <= 0 {
		return fmt.Errorf("usage retention_days must be positive: %d", cfg.Usage.RetentionDays)
	}
	if _, err := time.Parse("15:04", cfg.Usage.CleanupTime); err != nil {
		return fmt.Errorf("invalid usage cleanup_time %q: %w", cfg.Usage.CleanupTime, err)
	}

	switch cfg.Model.Provider {
	case "openai", "static":
	default:
		return fmt.Errorf("unsupported model provider: %s", cfg.Model.Provider)
	}

	switch cfg.Client.Host {
	case "cdp", "native":
	default:
		return fmt.Errorf("unsupported client host: %s", cfg.Client.Host)
	}
	switch cfg.Client.SessionStore {
	case "":
		cfg.Client.SessionStore = "bolt"
	case "bolt":
	case "redis":
		if cfg.Client.UserID == "" {
			return fmt.Errorf("client.user_id is required for the redis session store")
		}
	default:
		return fmt.Errorf("unsupported client session_store: %s", cfg.Client.SessionStore)
	}
	if _, err := url.ParseRequestURI(cfg.Client.APIURL); err != nil {
		return fmt.Errorf("invalid client api_url: %w", err)
	}

	if cfg.TLS.ACME.Enabled {
		if cfg.TLS.ACME.Email == "" || cfg.TLS.ACME.Domain == "" {
			return fmt.Errorf("acme requires email and domain")
		}
	}

	return nil
}

// ValidateServer checks the settings only the classify service needs.
func (c *Config) ValidateServer() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Model.Provider == "openai" && c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key (or OPENAI_API_KEY) is required for the openai provider")
	}
	return nil
}

// ParseDuration parses a duration setting, falling back when it is empty or invalid.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
