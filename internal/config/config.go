package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	JWT         JWTConfig         `yaml:"jwt"`
	Log         LogConfig         `yaml:"log"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
}

// ServerConfig contains the HTTP API and gRPC health listener settings
type ServerConfig struct {
	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"http_port"`
	GRPCPort int    `yaml:"grpc_port"`

	// AllowedOrigins is checked on websocket upgrade. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	Database      string `yaml:"database"`
	SSLMode       string `yaml:"ssl_mode"`
	MigrateOnBoot bool   `yaml:"migrate_on_boot"`
}

// JWTConfig contains JWT token settings
type JWTConfig struct {
	Secret            string `yaml:"secret"`
	AccessTokenExpiry int    `yaml:"access_token_expiry_minutes"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// MarketplaceConfig holds the business knobs for orders and rentals
type MarketplaceConfig struct {
	TaxRate                   string `yaml:"tax_rate"`
	ConfirmationWindowHours   int    `yaml:"confirmation_window_hours"`
	LateReturnPenalty         string `yaml:"late_return_penalty"`
	DefaultRFQExpiryDays      int    `yaml:"default_rfq_expiry_days"`
	NumberRetryAttempts       int    `yaml:"number_retry_attempts"`
	NumberRetryBaseDelayMS    int    `yaml:"number_retry_base_delay_ms"`
	TrustScoreCacheTTLSeconds int    `yaml:"trust_score_cache_ttl_seconds"`
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	AutoCompleteOrders string `yaml:"auto_complete_orders"`
	ExpireOffers       string `yaml:"expire_offers"`
	FlagOverdueRentals string `yaml:"flag_overdue_rentals"`
}

// Load reads configuration from a YAML file. A .env file in the working
// directory, if present, is loaded first so its values act as overrides.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		fmt.Sscanf(val, "%d", dst)
	}
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Database
	envString("DB_HOST", &c.Database.Host)
	envInt("DB_PORT", &c.Database.Port)
	envString("DB_USER", &c.Database.User)
	envString("DB_PASSWORD", &c.Database.Password)
	envString("DB_NAME", &c.Database.Database)
	envString("DB_SSL_MODE", &c.Database.SSLMode)

	// JWT
	envString("JWT_SECRET", &c.JWT.Secret)

	// Server
	envString("SERVER_HOST", &c.Server.Host)
	envInt("SERVER_HTTP_PORT", &c.Server.HTTPPort)
	envInt("SERVER_GRPC_PORT", &c.Server.GRPCPort)

	// Log
	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)

	// Marketplace
	envString("MARKETPLACE_TAX_RATE", &c.Marketplace.TaxRate)
	envString("MARKETPLACE_LATE_RETURN_PENALTY", &c.Marketplace.LateReturnPenalty)
	envInt("MARKETPLACE_CONFIRMATION_WINDOW_HOURS", &c.Marketplace.ConfirmationWindowHours)

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid and fills in defaults
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port: %d", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc port: %d", c.Server.GRPCPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.JWT.AccessTokenExpiry == 0 {
		c.JWT.AccessTokenExpiry = 60
	}

	m := &c.Marketplace
	if m.TaxRate == "" {
		m.TaxRate = "0"
	}
	rate, err := decimal.NewFromString(m.TaxRate)
	if err != nil || rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("invalid tax rate: %q", m.TaxRate)
	}
	if m.LateReturnPenalty == "" {
		m.LateReturnPenalty = "0"
	}
	penalty, err := decimal.NewFromString(m.LateReturnPenalty)
	if err != nil || penalty.IsNegative() {
		return fmt.Errorf("invalid late return penalty: %q", m.LateReturnPenalty)
	}
	if m.ConfirmationWindowHours == 0 {
		m.ConfirmationWindowHours = 24
	}
	if m.DefaultRFQExpiryDays == 0 {
		m.DefaultRFQExpiryDays = 7
	}
	if m.DefaultRFQExpiryDays < 1 || m.DefaultRFQExpiryDays > 30 {
		return fmt.Errorf("default rfq expiry must be between 1 and 30 days, got %d", m.DefaultRFQExpiryDays)
	}
	if m.NumberRetryAttempts == 0 {
		m.NumberRetryAttempts = 3
	}
	if m.NumberRetryBaseDelayMS == 0 {
		m.NumberRetryBaseDelayMS = 20
	}
	if m.TrustScoreCacheTTLSeconds == 0 {
		m.TrustScoreCacheTTLSeconds = 300
	}

	if c.Scheduler.AutoCompleteOrders == "" {
		c.Scheduler.AutoCompleteOrders = "0 */5 * * * *" // every 5 minutes
	}
	if c.Scheduler.ExpireOffers == "" {
		c.Scheduler.ExpireOffers = "0 0 * * * *" // hourly
	}
	if c.Scheduler.FlagOverdueRentals == "" {
		c.Scheduler.FlagOverdueRentals = "0 0 2 * * *" // 2 AM UTC
	}

	return nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetHTTPAddress returns the REST/websocket listen address
func (c *Config) GetHTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.HTTPPort)
}

// GetGRPCAddress returns the health server address
func (c *Config) GetGRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.GRPCPort)
}

// TaxRateDecimal is the validated marketplace tax rate.
func (m MarketplaceConfig) TaxRateDecimal() decimal.Decimal {
	return decimal.RequireFromString(m.TaxRate)
}

// LateReturnPenaltyDecimal is the fixed fee for a late rental return.
func (m MarketplaceConfig) LateReturnPenaltyDecimal() decimal.Decimal {
	return decimal.RequireFromString(m.LateReturnPenalty)
}

func (m MarketplaceConfig) ConfirmationWindow() time.Duration {
	return time.Duration(m.ConfirmationWindowHours) * time.Hour
}

func (m MarketplaceConfig) NumberRetryBaseDelay() time.Duration {
	return time.Duration(m.NumberRetryBaseDelayMS) * time.Millisecond
}

func (m MarketplaceConfig) TrustScoreCacheTTL() time.Duration {
	return time.Duration(m.TrustScoreCacheTTLSeconds) * time.Second
}
