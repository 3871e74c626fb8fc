package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration, loaded from a YAML file with
// environment-variable overrides (CLOUDINHA_ prefix, dots become underscores).
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type ServerConfig struct {
	Port        int `mapstructure:"port"`
	MetricsPort int `mapstructure:"metrics_port"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

// DSN builds the Postgres connection string. A full URL takes precedence
// over the discrete fields.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

type EngineConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type OrchestratorConfig struct {
	MaxSteps          int           `mapstructure:"max_steps"`
	GuardrailsEnabled bool          `mapstructure:"guardrails_enabled"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryMinDelay     time.Duration `mapstructure:"retry_min_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from CONFIG_PATH (default
// /app/config/cloudinha.yaml). A missing file is not an error; env
// overrides and defaults still apply so the service can boot from
// environment alone.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "/app/config/cloudinha.yaml"
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	v.SetEnvPrefix("CLOUDINHA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 2112
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "require"
	}
	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = 25
	}
	if c.Database.IdleConnections == 0 {
		c.Database.IdleConnections = 5
	}
	if c.Database.MaxLifetime == 0 {
		c.Database.MaxLifetime = 5 * time.Minute
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.SessionTTL == 0 {
		c.Redis.SessionTTL = 24 * time.Hour
	}
	if c.Engine.BaseURL == "" {
		c.Engine.BaseURL = "http://localhost:8000"
	}
	if c.Engine.Timeout == 0 {
		c.Engine.Timeout = 120 * time.Second
	}
	if c.Orchestrator.MaxSteps == 0 {
		c.Orchestrator.MaxSteps = 10
	}
	if c.Orchestrator.RetryAttempts == 0 {
		c.Orchestrator.RetryAttempts = 3
	}
	if c.Orchestrator.RetryMinDelay == 0 {
		c.Orchestrator.RetryMinDelay = time.Second
	}
	if c.Orchestrator.RetryMaxDelay == 0 {
		c.Orchestrator.RetryMaxDelay = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// applyEnvOverrides covers the handful of secrets that deployments inject
// as bare env vars rather than through the CLOUDINHA_ prefix.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("ENGINE_URL"); v != "" {
		c.Engine.BaseURL = v
	}
}
