// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	UserCacheTTL time.Duration `yaml:"user_cache_ttl"`
}

// GatewayConfig points at the external payment API.
type GatewayConfig struct {
	Provider   string        `yaml:"provider"` // pi | noop
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	AuthScheme string        `yaml:"auth_scheme"` // Key | Bearer
	Timeout    time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"` // empty disables caller auth
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type SweeperConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	StaleAfter    time.Duration `yaml:"stale_after"`
	BatchSize     int           `yaml:"batch_size"`
	CancelTimeout time.Duration `yaml:"cancel_timeout"`
}

// OrchestratorConfig drives the client side (cmd/payctl).
type OrchestratorConfig struct {
	BackendURL        string        `yaml:"backend_url"`
	Token             string        `yaml:"token"`
	UserID            string        `yaml:"user_id"`
	ApprovalTimeout   time.Duration `yaml:"approval_timeout"`
	CompletionTimeout time.Duration `yaml:"completion_timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	DelayStep         time.Duration `yaml:"delay_step"`
	Brand             string        `yaml:"brand"`
}

type EventsConfig struct {
	Brokers []string `yaml:"brokers"` // empty disables publishing
	Topic   string   `yaml:"topic"`
}

type AlertsConfig struct {
	TelegramToken string `yaml:"telegram_token"` // empty disables alerts
	ChatID        int64  `yaml:"chat_id"`
}

type Config struct {
	HTTP         HTTPConfig         `yaml:"http"`
	Log          LogConfig          `yaml:"log"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Auth         AuthConfig         `yaml:"auth"`
	Sweeper      SweeperConfig      `yaml:"sweeper"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Events       EventsConfig       `yaml:"events"`
	Alerts       AlertsConfig       `yaml:"alerts"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads an optional .env, the YAML file at path (may be empty),
// then applies environment overrides and defaults. Validation is left to the
// caller (ValidateServer / ValidateClient) since the two binaries need
// different sections.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !(errors.Is(err, os.ErrNotExist) && path == DefaultPath) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(b) > 0 {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

// DefaultPath is not required to exist.
const DefaultPath = "config.yaml"

func applyEnv(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setStr(&cfg.Gateway.APIKey, "PI_API_KEY")
	setStr(&cfg.Database.URL, "DATABASE_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setStr(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setStr(&cfg.Alerts.TelegramToken, "TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Orchestrator.BackendURL, "BACKEND_URL")
	setStr(&cfg.Orchestrator.Token, "BACKEND_TOKEN")
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		cfg.Events.Brokers = brokers
	}
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	cfg.HTTP.RequestTimeout = orDefault(cfg.HTTP.RequestTimeout, 30*time.Second)
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	cfg.Redis.UserCacheTTL = orDefault(cfg.Redis.UserCacheTTL, 10*time.Minute)
	cfg.Auth.TokenTTL = orDefault(cfg.Auth.TokenTTL, time.Hour)
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}

	if cfg.Gateway.Provider == "" {
		cfg.Gateway.Provider = "pi"
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "https://api.minepi.com/v2"
	}
	if cfg.Gateway.AuthScheme == "" {
		cfg.Gateway.AuthScheme = "Key"
	}
	cfg.Gateway.Timeout = orDefault(cfg.Gateway.Timeout, 15*time.Second)

	cfg.Sweeper.Interval = orDefault(cfg.Sweeper.Interval, time.Minute)
	cfg.Sweeper.StaleAfter = orDefault(cfg.Sweeper.StaleAfter, 10*time.Minute)
	cfg.Sweeper.CancelTimeout = orDefault(cfg.Sweeper.CancelTimeout, 10*time.Second)
	if cfg.Sweeper.BatchSize <= 0 {
		cfg.Sweeper.BatchSize = 200
	}

	o := &cfg.Orchestrator
	o.ApprovalTimeout = orDefault(o.ApprovalTimeout, 45*time.Second)
	o.CompletionTimeout = orDefault(o.CompletionTimeout, 45*time.Second)
	o.InitialDelay = orDefault(o.InitialDelay, 2*time.Second)
	o.DelayStep = orDefault(o.DelayStep, time.Second)
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Brand == "" {
		o.Brand = "Avante Maps"
	}

	if cfg.Events.Topic == "" {
		cfg.Events.Topic = "payment-events"
	}
}

// ValidateServer checks what cmd/app cannot start without.
func (c *Config) ValidateServer() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Gateway.Provider == "pi" && c.Gateway.APIKey == "" {
		return errors.New("gateway.api_key is required")
	}
	if c.Alerts.TelegramToken != "" && c.Alerts.ChatID == 0 {
		return errors.New("alerts.chat_id is required when alerts.telegram_token is set")
	}
	return nil
}

// ValidateClient checks what cmd/payctl cannot start without.
func (c *Config) ValidateClient() error {
	if c.Orchestrator.BackendURL == "" {
		return errors.New("orchestrator.backend_url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
