// Package config provides configuration management for the crypto temple service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Chain        ChainConfig
	Explorer     ExplorerConfig
	LLM          LLMConfig
	Cache        CacheConfig
	History      HistoryConfig
	Notification NotificationConfig
	Payment      PaymentConfig
	RateLimit    RateLimitConfig
	Metrics      MetricsConfig
	Logging      LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port         string `validate:"required"`
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string

	// TrustedProxies may set X-Forwarded-For; addresses or CIDR prefixes
	TrustedProxies []string
}

// Address returns host:port for the HTTP listener
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int `validate:"min:1"`
	MigrationsPath string
}

// DSN returns a postgres:// URL suitable for golang-migrate
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		p.User, p.Password, p.Host, p.Port, p.Database)
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MigrationsPath string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int `validate:"min:0"`
	MaxConnections int `validate:"min:1"`
}

// ChainConfig holds Ethereum JSON-RPC configuration
type ChainConfig struct {
	ChainID        int64 `validate:"min:1"`
	RPCPrimary     string
	RPCSecondary   string
	RequestTimeout time.Duration

	// FailBackAfter is how long the secondary RPC serves before the primary is retried
	FailBackAfter time.Duration
}

// ExplorerConfig holds block explorer configuration. The Etherscan key is
// optional: without it the primary explorer is skipped.
type ExplorerConfig struct {
	EtherscanAPIKey   string
	EtherscanURL      string `validate:"required"`
	BlockscoutURL     string `validate:"required"`
	RequestsPerSecond int    `validate:"min:1"`
	Timeout           time.Duration
}

// LLMConfig holds oracle configuration
type LLMConfig struct {
	Provider         string `validate:"required|in:openrouter,gemini,none"`
	OpenRouterAPIKey string
	OpenRouterURL    string
	OpenRouterModel  string
	SiteURL          string
	SiteName         string
	GeminiAPIKey     string
	GeminiModel      string
	Temperature      float64
	Delay            time.Duration
	Timeout          time.Duration
}

// HasCredentials reports whether the selected provider has an API key
func (c LLMConfig) HasCredentials() bool {
	switch c.Provider {
	case "openrouter":
		return c.OpenRouterAPIKey != ""
	case "gemini":
		return c.GeminiAPIKey != ""
	default:
		return false
	}
}

// CacheConfig holds snapshot cache configuration
type CacheConfig struct {
	Backend string `validate:"required|in:memory,redis"`
	TTL     time.Duration
	SizeMB  int `validate:"min:1"`
}

// HistoryConfig holds history store configuration
type HistoryConfig struct {
	Backend string `validate:"required|in:memory,redis,postgres"`
	Key     string `validate:"required"`
}

// NotificationConfig holds verification scanner configuration
type NotificationConfig struct {
	Enabled   bool
	Interval  time.Duration
	Freshness time.Duration
	AMQPURL   string
	Exchange  string
	WebSocket bool
}

// PaymentConfig holds donation configuration
type PaymentConfig struct {
	Receiver            string `validate:"required|regex:^0x[0-9a-fA-F]{40}$"`
	USDTAddress         string `validate:"required|regex:^0x[0-9a-fA-F]{40}$"`
	USDCAddress         string `validate:"required|regex:^0x[0-9a-fA-F]{40}$"`
	TokenDecimals       int    `validate:"min:0"`
	SignerKey           string
	ReceiptPollInterval time.Duration
	ReceiptTimeout      time.Duration
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `validate:"min:1"`
	Burst             int `validate:"min:1"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string `validate:"in:json,text,console"`
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			CORSOrigins:    getEnvAsList("CORS_ORIGINS", []string{"*"}),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES", nil),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "crypto_temple"),
				User:           getEnv("POSTGRES_USER", "temple"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
				MigrationsPath: getEnv("POSTGRES_MIGRATIONS_PATH", "migrations/postgres"),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:        getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:           getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:           getEnv("CLICKHOUSE_PORT", "9000"),
				Database:       getEnv("CLICKHOUSE_DB", "crypto_temple"),
				User:           getEnv("CLICKHOUSE_USER", "default"),
				Password:       getEnv("CLICKHOUSE_PASSWORD", ""),
				MigrationsPath: getEnv("CLICKHOUSE_MIGRATIONS_PATH", "migrations/clickhouse"),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Chain: ChainConfig{
			ChainID:        int64(getEnvAsInt("CHAIN_ID", 1)),
			RPCPrimary:     getEnv("ETHEREUM_RPC_PRIMARY", "https://eth.llamarpc.com"),
			RPCSecondary:   getEnv("ETHEREUM_RPC_SECONDARY", "https://ethereum-rpc.publicnode.com"),
			RequestTimeout: getEnvAsDuration("ETHEREUM_RPC_TIMEOUT", 10*time.Second),
			FailBackAfter:  getEnvAsDuration("ETHEREUM_RPC_FAILBACK_AFTER", 5*time.Minute),
		},
		Explorer: ExplorerConfig{
			EtherscanAPIKey:   getEnv("ETHERSCAN_API_KEY", ""),
			EtherscanURL:      getEnv("ETHERSCAN_URL", "https://api.etherscan.io/v2/api"),
			BlockscoutURL:     getEnv("BLOCKSCOUT_URL", "https://eth.blockscout.com/api"),
			RequestsPerSecond: getEnvAsInt("EXPLORER_REQUESTS_PER_SECOND", 3),
			Timeout:           getEnvAsDuration("EXPLORER_TIMEOUT", 10*time.Second),
		},
		LLM: LLMConfig{
			Provider:         getEnv("LLM_PROVIDER", "openrouter"),
			OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
			OpenRouterURL:    getEnv("OPENROUTER_URL", "https://openrouter.ai/api/v1"),
			OpenRouterModel:  getEnv("OPENROUTER_MODEL", "deepseek/deepseek-chat"),
			SiteURL:          getEnv("SITE_URL", "http://localhost:8080"),
			SiteName:         getEnv("SITE_NAME", "Crypto Temple"),
			GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
			GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			Temperature:      getEnvAsFloat("LLM_TEMPERATURE", 0.7),
			Delay:            getEnvAsDuration("DIVINATION_DELAY", 2*time.Second),
			Timeout:          getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
		},
		Cache: CacheConfig{
			Backend: getEnv("CACHE_BACKEND", "memory"),
			TTL:     getEnvAsDuration("CACHE_TTL", 60*time.Second),
			SizeMB:  getEnvAsInt("CACHE_SIZE_MB", 16),
		},
		History: HistoryConfig{
			Backend: getEnv("HISTORY_BACKEND", "memory"),
			Key:     getEnv("HISTORY_KEY", "temple_history"),
		},
		Notification: NotificationConfig{
			Enabled:   getEnvAsBool("NOTIFICATIONS_ENABLED", true),
			Interval:  getEnvAsDuration("NOTIFICATION_INTERVAL", 10*time.Second),
			Freshness: getEnvAsDuration("NOTIFICATION_FRESHNESS", 24*time.Hour),
			AMQPURL:   getEnv("AMQP_URL", ""),
			Exchange:  getEnv("AMQP_EXCHANGE", "temple.notifications"),
			WebSocket: getEnvAsBool("NOTIFICATION_WEBSOCKET", true),
		},
		Payment: PaymentConfig{
			Receiver:            getEnv("DONATION_RECEIVER", "0xe5b8988c90ca60d5f2a913cb3bd35a781ae7f242"),
			USDTAddress:         getEnv("USDT_ADDRESS", "0xdAC17F958D2ee523a2206206994597C13D831ec7"),
			USDCAddress:         getEnv("USDC_ADDRESS", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
			TokenDecimals:       getEnvAsInt("TOKEN_DECIMALS", 6),
			SignerKey:           getEnv("SIGNER_PRIVATE_KEY", ""),
			ReceiptPollInterval: getEnvAsDuration("RECEIPT_POLL_INTERVAL", 4*time.Second),
			ReceiptTimeout:      getEnvAsDuration("RECEIPT_TIMEOUT", 10*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// Validate checks every section against its validation tags and the
// duration invariants tags cannot express.
func (c *Config) Validate() error {
	sections := map[string]interface{}{
		"server":    &c.Server,
		"postgres":  &c.Database.Postgres,
		"redis":     &c.Database.Redis,
		"chain":     &c.Chain,
		"explorer":  &c.Explorer,
		"llm":       &c.LLM,
		"cache":     &c.Cache,
		"history":   &c.History,
		"payment":   &c.Payment,
		"ratelimit": &c.RateLimit,
		"logging":   &c.Logging,
	}
	for name, section := range sections {
		v := validate.Struct(section)
		if !v.Validate() {
			return fmt.Errorf("invalid %s config: %s", name, v.Errors.One())
		}
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("invalid cache config: TTL must be positive")
	}
	if c.Notification.Interval <= 0 {
		return fmt.Errorf("invalid notification config: interval must be positive")
	}
	if c.Notification.Freshness <= 0 {
		return fmt.Errorf("invalid notification config: freshness must be positive")
	}
	if c.LLM.Delay < 0 {
		return fmt.Errorf("invalid llm config: delay must not be negative")
	}
	for _, p := range c.Server.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			return fmt.Errorf("invalid server config: trusted proxy %q is not an address or prefix", p)
		}
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated variable, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
