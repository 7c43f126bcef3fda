package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gmail     GmailConfig     `mapstructure:"gmail"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// GmailConfig holds Gmail API configuration
type GmailConfig struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	UseIMAP      bool          `mapstructure:"use_imap"`
	IMAPHost     string        `mapstructure:"imap_host"`
	IMAPPort     int           `mapstructure:"imap_port"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
}

// ScannerConfig holds mailbox scan configuration
type ScannerConfig struct {
	Workers         int           `mapstructure:"workers"`
	BatchSize       int           `mapstructure:"batch_size"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
	DefaultDaysBack int           `mapstructure:"default_days_back"`
	MaxMessages     int           `mapstructure:"max_messages"`
}

// RateLimitConfig holds per-user provider rate limiting configuration
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillPerSec   float64       `mapstructure:"refill_per_sec"`
	BreakerBase    time.Duration `mapstructure:"breaker_base"`
	BreakerCeiling time.Duration `mapstructure:"breaker_ceiling"`
}

// SchedulerConfig holds periodic response-scan configuration
type SchedulerConfig struct {
	IntervalMinutes   int `mapstructure:"interval_minutes"`
	ResponseDaysBack  int `mapstructure:"response_days_back"`
	ResponseScanLimit int `mapstructure:"response_scan_limit"`
}

// GeminiConfig holds the optional AI reclassification configuration
type GeminiConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("gmail.use_imap", false)
	viper.SetDefault("gmail.imap_host", "imap.gmail.com")
	viper.SetDefault("gmail.imap_port", 993)
	viper.SetDefault("gmail.call_timeout", "30s")

	viper.SetDefault("scanner.workers", 4)
	viper.SetDefault("scanner.batch_size", 25)
	viper.SetDefault("scanner.max_attempts", 3)
	viper.SetDefault("scanner.retry_backoff", "2s")
	viper.SetDefault("scanner.max_retry_backoff", "5m")
	viper.SetDefault("scanner.default_days_back", 90)
	viper.SetDefault("scanner.max_messages", 100)

	viper.SetDefault("ratelimit.burst", 25)
	viper.SetDefault("ratelimit.refill_per_sec", 5.0)
	viper.SetDefault("ratelimit.breaker_base", "1s")
	viper.SetDefault("ratelimit.breaker_ceiling", "10m")

	viper.SetDefault("scheduler.interval_minutes", 60)
	viper.SetDefault("scheduler.response_days_back", 7)
	viper.SetDefault("scheduler.response_scan_limit", 50)

	viper.SetDefault("gemini.model", "gemini-1.5-flash")
	viper.SetDefault("gemini.timeout", "30s")
}

func bindEnvVars() {
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	viper.BindEnv("gmail.client_id", "GMAIL_CLIENT_ID")
	viper.BindEnv("gmail.client_secret", "GMAIL_CLIENT_SECRET")
	viper.BindEnv("gmail.use_imap", "GMAIL_USE_IMAP")
	viper.BindEnv("gmail.imap_host", "GMAIL_IMAP_HOST")
	viper.BindEnv("gmail.imap_port", "GMAIL_IMAP_PORT")
	viper.BindEnv("gmail.call_timeout", "GMAIL_CALL_TIMEOUT")

	viper.BindEnv("scanner.workers", "SCANNER_WORKERS")
	viper.BindEnv("scanner.batch_size", "SCANNER_BATCH_SIZE")
	viper.BindEnv("scanner.max_attempts", "SCANNER_MAX_ATTEMPTS")
	viper.BindEnv("scanner.default_days_back", "SCANNER_DEFAULT_DAYS_BACK")
	viper.BindEnv("scanner.max_messages", "SCANNER_MAX_MESSAGES")

	viper.BindEnv("ratelimit.burst", "RATELIMIT_BURST")
	viper.BindEnv("ratelimit.refill_per_sec", "RATELIMIT_REFILL_PER_SEC")

	viper.BindEnv("scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES")
	viper.BindEnv("scheduler.response_days_back", "SCHEDULER_RESPONSE_DAYS_BACK")

	viper.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	viper.BindEnv("gemini.model", "GEMINI_MODEL")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if !c.Gmail.UseIMAP {
		if c.Gmail.ClientID == "" || c.Gmail.ClientSecret == "" {
			return fmt.Errorf("Gmail OAuth2 credentials are required when not using IMAP")
		}
	}

	if c.Scanner.Workers <= 0 {
		return fmt.Errorf("scanner workers must be greater than 0")
	}

	if c.Scanner.MaxAttempts <= 0 {
		return fmt.Errorf("scanner max attempts must be greater than 0")
	}

	if c.RateLimit.Burst <= 0 || c.RateLimit.RefillPerSec <= 0 {
		return fmt.Errorf("rate limit burst and refill rate must be greater than 0")
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	return nil
}
