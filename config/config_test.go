package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     3306,
			User:     "datasweep",
			Password: "secret",
			DBName:   "datasweep",
		},
		Gmail: GmailConfig{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			CallTimeout:  30 * time.Second,
		},
		Scanner: ScannerConfig{
			Workers:         4,
			BatchSize:       25,
			MaxAttempts:     3,
			RetryBackoff:    2 * time.Second,
			MaxRetryBackoff: 5 * time.Minute,
			DefaultDaysBack: 90,
			MaxMessages:     100,
		},
		RateLimit: RateLimitConfig{
			Burst:          25,
			RefillPerSec:   5,
			BreakerBase:    time.Second,
			BreakerCeiling: 10 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			IntervalMinutes:   60,
			ResponseDaysBack:  7,
			ResponseScanLimit: 50,
		},
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing server port", func(c *Config) { c.Server.Port = "" }},
		{"missing database host", func(c *Config) { c.Database.Host = "" }},
		{"missing database user", func(c *Config) { c.Database.User = "" }},
		{"missing database name", func(c *Config) { c.Database.DBName = "" }},
		{"missing gmail credentials", func(c *Config) { c.Gmail.ClientID = "" }},
		{"zero scanner workers", func(c *Config) { c.Scanner.Workers = 0 }},
		{"zero scanner attempts", func(c *Config) { c.Scanner.MaxAttempts = 0 }},
		{"zero rate limit burst", func(c *Config) { c.RateLimit.Burst = 0 }},
		{"zero refill rate", func(c *Config) { c.RateLimit.RefillPerSec = 0 }},
		{"zero scheduler interval", func(c *Config) { c.Scheduler.IntervalMinutes = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateIMAPSkipsOAuthCheck(t *testing.T) {
	cfg := validConfig()
	cfg.Gmail.UseIMAP = true
	cfg.Gmail.ClientID = ""
	cfg.Gmail.ClientSecret = ""

	assert.NoError(t, cfg.Validate())
}

func TestGetDSN(t *testing.T) {
	cfg := validConfig()
	dsn := cfg.Database.GetDSN()

	assert.Equal(t, "datasweep:secret@tcp(localhost:3306)/datasweep?charset=utf8mb4&parseTime=True&loc=Local", dsn)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 4, cfg.Scanner.Workers)
	assert.Equal(t, 90, cfg.Scanner.DefaultDaysBack)
	assert.Equal(t, 25, cfg.RateLimit.Burst)
	assert.Equal(t, 60, cfg.Scheduler.IntervalMinutes)
	assert.Equal(t, "gemini-1.5-flash", cfg.Gemini.Model)
	assert.False(t, cfg.Gmail.UseIMAP)
}
