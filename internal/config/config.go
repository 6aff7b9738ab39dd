package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration, populated from environment
// variables with sane development defaults.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Approval ApprovalConfig `mapstructure:"approval"`
	WS       WSConfig       `mapstructure:"ws"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Env             string        `mapstructure:"env"` // development or release
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"` // empty disables token revocation
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"` // empty disables offline push
}

type ApprovalConfig struct {
	TokenGrace      time.Duration `mapstructure:"token_grace"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	DelegationSweep time.Duration `mapstructure:"delegation_sweep"`
}

type WSConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "postgres")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_ttl", 24*time.Hour)
	v.SetDefault("jwt.refresh_ttl", 7*24*time.Hour)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "")

	v.SetDefault("approval.token_grace", 30*time.Minute)
	v.SetDefault("approval.sweep_interval", 30*time.Second)
	v.SetDefault("approval.delegation_sweep", time.Minute)

	v.SetDefault("ws.ping_interval", 30*time.Second)
	v.SetDefault("ws.pong_wait", 75*time.Second)
	v.SetDefault("ws.write_wait", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")
}

func bindEnvVars(v *viper.Viper) {
	bindings := map[string]string{
		"server.port":               "PORT",
		"server.env":                "GIN_MODE",
		"database.host":             "DB_HOST",
		"database.port":             "DB_PORT",
		"database.user":             "DB_USER",
		"database.password":         "DB_PASSWORD",
		"database.name":             "DB_NAME",
		"database.sslmode":          "DB_SSLMODE",
		"jwt.secret":                "JWT_SECRET",
		"jwt.access_ttl":            "JWT_ACCESS_TTL",
		"jwt.refresh_ttl":           "JWT_REFRESH_TTL",
		"redis.addr":                "REDIS_ADDR",
		"redis.password":            "REDIS_PASSWORD",
		"redis.db":                  "REDIS_DB",
		"nats.url":                  "NATS_URL",
		"approval.token_grace":      "APPROVAL_TOKEN_GRACE",
		"approval.sweep_interval":   "APPROVAL_SWEEP_INTERVAL",
		"approval.delegation_sweep": "APPROVAL_DELEGATION_SWEEP",
		"ws.ping_interval":          "WS_PING_INTERVAL",
		"ws.pong_wait":              "WS_PONG_WAIT",
		"ws.write_wait":             "WS_WRITE_WAIT",
		"log.level":                 "LOG_LEVEL",
		"log.format":                "LOG_FORMAT",
		"log.output_path":           "LOG_OUTPUT_PATH",
	}

	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}
}

// Validate checks required values and cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Env == "release" && c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required in release mode")
	}
	if c.JWT.Secret == "" {
		c.JWT.Secret = "default_super_secret_key" // development fallback only
	}
	if c.Approval.TokenGrace <= 0 {
		return fmt.Errorf("approval token grace must be positive, got %s", c.Approval.TokenGrace)
	}
	if c.WS.PongWait <= c.WS.PingInterval {
		return fmt.Errorf("ws pong wait (%s) must exceed ping interval (%s)", c.WS.PongWait, c.WS.PingInterval)
	}
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	return nil
}
