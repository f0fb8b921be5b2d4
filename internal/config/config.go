// Package config loads API configuration from .env files, an optional YAML
// file and the process environment, in that order of precedence (lowest first).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Supabase    SupabaseConfig    `yaml:"supabase"`
	Auth        AuthConfig        `yaml:"auth"`
	OTP         OTPConfig         `yaml:"otp"`
	WooCommerce WooCommerceConfig `yaml:"woocommerce"`
	Push        PushConfig        `yaml:"push"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit"`
	Log         LogConfig         `yaml:"log"`
	CORS        CORSConfig        `yaml:"cors"`
	Database    DatabaseConfig    `yaml:"database"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type SupabaseConfig struct {
	URL        string `yaml:"url"`
	ServiceKey string `yaml:"serviceKey"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
}

// OTPConfig configures the test-automation mailbox reader.
type OTPConfig struct {
	SharedSecret string `yaml:"sharedSecret"`
	IMAPAddr     string `yaml:"imapAddr"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Mailbox      string `yaml:"mailbox"`
}

type WooCommerceConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type PushConfig struct {
	FCMCredentialsFile string        `yaml:"fcmCredentialsFile"`
	TokenTTL           time.Duration `yaml:"tokenTTL"`
	SweepSchedule      string        `yaml:"sweepSchedule"`
}

// RateLimitConfig sets the per-key request rate. Burst applies only to the
// in-process limiter; the Redis limiter is a fixed one-second window of
// RequestsPerSecond.
type RateLimitConfig struct {
	RequestsPerSecond int    `yaml:"requestsPerSecond"`
	Burst             int    `yaml:"burst"`
	RedisURL          string `yaml:"redisURL"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// DatabaseConfig is only used by the migration tool, which talks to Postgres
// directly instead of through PostgREST.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// Load builds the configuration. path may be empty, in which case CONFIG_FILE
// is consulted; a missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := loadFile(filepath.Clean(path), cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Server.Addr, "SERVER_ADDR")
	setString(&cfg.Supabase.URL, "SUPABASE_URL")
	setString(&cfg.Supabase.ServiceKey, "SUPABASE_SERVICE_KEY")
	setString(&cfg.Auth.JWTSecret, "SUPABASE_JWT_SECRET")
	setString(&cfg.OTP.SharedSecret, "MAESTRO_SHARED_SECRET")
	setString(&cfg.OTP.IMAPAddr, "OTP_IMAP_ADDR")
	setString(&cfg.OTP.Username, "OTP_IMAP_USER")
	setString(&cfg.OTP.Password, "OTP_IMAP_PASSWORD")
	setString(&cfg.OTP.Mailbox, "OTP_IMAP_MAILBOX")
	setString(&cfg.Push.FCMCredentialsFile, "FCM_CREDENTIALS_FILE")
	setString(&cfg.Push.SweepSchedule, "PUSH_SWEEP_SCHEDULE")
	setString(&cfg.RateLimit.RedisURL, "REDIS_URL")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Database.DSN, "DATABASE_URL")

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); strings.TrimSpace(v) != "" {
		cfg.CORS.AllowedOrigins = splitCSV(v)
	}

	durations := []struct {
		dst *time.Duration
		key string
	}{
		{&cfg.Server.ShutdownTimeout, "SERVER_SHUTDOWN_TIMEOUT"},
		{&cfg.WooCommerce.Timeout, "WOOCOMMERCE_TIMEOUT"},
		{&cfg.Push.TokenTTL, "PUSH_TOKEN_TTL"},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key); err != nil {
			return err
		}
	}

	ints := []struct {
		dst *int
		key string
	}{
		{&cfg.RateLimit.RequestsPerSecond, "RATE_LIMIT_RPS"},
		{&cfg.RateLimit.Burst, "RATE_LIMIT_BURST"},
	}
	for _, i := range ints {
		if err := setInt(i.dst, i.key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.OTP.Mailbox == "" {
		c.OTP.Mailbox = "INBOX"
	}
	if c.WooCommerce.Timeout == 0 {
		c.WooCommerce.Timeout = 15 * time.Second
	}
	if c.Push.TokenTTL == 0 {
		c.Push.TokenTTL = 30 * 24 * time.Hour
	}
	if c.Push.SweepSchedule == "" {
		c.Push.SweepSchedule = "@daily"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"http://localhost:8081", "http://localhost:19006"}
	}
}

// Validate checks that the settings every handler depends on are present.
func (c *Config) Validate() error {
	if c.Supabase.URL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.Supabase.ServiceKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_KEY is required")
	}
	if c.Push.TokenTTL < 0 {
		return fmt.Errorf("PUSH_TOKEN_TTL must be positive")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	return nil
}

// OTPEnabled reports whether the mailbox helper has everything it needs.
func (c *Config) OTPEnabled() bool {
	return c.OTP.SharedSecret != "" && c.OTP.IMAPAddr != "" && c.OTP.Username != ""
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func setInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
