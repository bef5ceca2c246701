// Package config provides configuration management for the remote PTY server and client.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Projects  ProjectsConfig  `mapstructure:"projects"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Client    ClientConfig    `mapstructure:"client"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// ServerConfig holds HTTP/WebSocket server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
	WSPath       string `mapstructure:"wsPath"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ExecutionConfig holds execution registry and launcher configuration.
type ExecutionConfig struct {
	MaxConcurrent    int      `mapstructure:"maxConcurrent"`
	CommandTimeout   int      `mapstructure:"commandTimeout"`   // in seconds
	CancelMarkerTTL  int      `mapstructure:"cancelMarkerTTL"`  // in seconds
	MaxCommandLength int      `mapstructure:"maxCommandLength"` // in bytes
	Program          string   `mapstructure:"program"`
	Args             []string `mapstructure:"args"`
	PromptFlag       string   `mapstructure:"promptFlag"`
	ResumeFlag       string   `mapstructure:"resumeFlag"`
	SessionIDFlag    string   `mapstructure:"sessionIdFlag"`
	DefaultCols      int      `mapstructure:"defaultCols"`
	DefaultRows      int      `mapstructure:"defaultRows"`
}

// ProjectsConfig holds the static project table and an optional seed file.
type ProjectsConfig struct {
	// Static maps project IDs to absolute paths.
	Static   map[string]string `mapstructure:"static"`
	SeedFile string            `mapstructure:"seedFile"`
}

// DatabaseConfig holds the project store connection configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite or postgres
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// ClientConfig holds the mobile/CLI client connection settings.
type ClientConfig struct {
	Host              string  `mapstructure:"host"`
	Port              int     `mapstructure:"port"`
	Path              string  `mapstructure:"path"`
	InitialDelayMs    int     `mapstructure:"initialDelayMs"`
	Multiplier        float64 `mapstructure:"multiplier"`
	MaxDelayMs        int     `mapstructure:"maxDelayMs"`
	MaxAttempts       int     `mapstructure:"maxAttempts"`
	RequestTimeoutSec int     `mapstructure:"requestTimeoutSec"`
}

// AuthConfig holds the shared token of the single trusted client.
type AuthConfig struct {
	Token string `mapstructure:"token"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// CommandTimeoutDuration returns the one-shot command timeout.
func (e *ExecutionConfig) CommandTimeoutDuration() time.Duration {
	return time.Duration(e.CommandTimeout) * time.Second
}

// CancelMarkerTTLDuration returns the cancellation marker time-to-live.
func (e *ExecutionConfig) CancelMarkerTTLDuration() time.Duration {
	return time.Duration(e.CancelMarkerTTL) * time.Second
}

// InitialDelay returns the first reconnect delay.
func (c *ClientConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMs) * time.Millisecond
}

// MaxDelay returns the reconnect delay cap.
func (c *ClientConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// RequestTimeout returns how long a request waits for its acknowledgment.
func (c *ClientConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("REMOTE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.wsPath", "/ws")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("execution.maxConcurrent", 20)
	v.SetDefault("execution.commandTimeout", 300)
	v.SetDefault("execution.cancelMarkerTTL", 60)
	v.SetDefault("execution.maxCommandLength", 10000)
	v.SetDefault("execution.program", "claude")
	v.SetDefault("execution.args", []string{})
	v.SetDefault("execution.promptFlag", "-p")
	v.SetDefault("execution.resumeFlag", "--resume")
	v.SetDefault("execution.sessionIdFlag", "--session-id")
	v.SetDefault("execution.defaultCols", 80)
	v.SetDefault("execution.defaultRows", 24)

	v.SetDefault("projects.static", map[string]string{})
	v.SetDefault("projects.seedFile", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./claude-remote.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "remote")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "remote")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 2)

	// Empty URL means use the in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "claude-remote")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("client.host", "127.0.0.1")
	v.SetDefault("client.port", 8787)
	v.SetDefault("client.path", "/ws")
	v.SetDefault("client.initialDelayMs", 1000)
	v.SetDefault("client.multiplier", 2.0)
	v.SetDefault("client.maxDelayMs", 30000)
	v.SetDefault("client.maxAttempts", 10)
	v.SetDefault("client.requestTimeoutSec", 15)

	v.SetDefault("auth.token", "")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix REMOTE_ with snake_case naming.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("REMOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not map camelCase keys to SNAKE_CASE env vars.
	_ = v.BindEnv("execution.maxConcurrent", "REMOTE_EXECUTION_MAX_CONCURRENT")
	_ = v.BindEnv("execution.commandTimeout", "REMOTE_EXECUTION_COMMAND_TIMEOUT")
	_ = v.BindEnv("execution.sessionIdFlag", "REMOTE_EXECUTION_SESSION_ID_FLAG")
	_ = v.BindEnv("projects.seedFile", "REMOTE_PROJECTS_SEED_FILE")
	_ = v.BindEnv("auth.token", "REMOTE_AUTH_TOKEN")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/claude-remote/")

	// Missing config file is fine; defaults and env apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WSPath, "/") {
		errs = append(errs, "server.wsPath must start with /")
	}

	if cfg.Execution.MaxConcurrent <= 0 {
		errs = append(errs, "execution.maxConcurrent must be positive")
	}
	if cfg.Execution.CommandTimeout <= 0 {
		errs = append(errs, "execution.commandTimeout must be positive")
	}
	if cfg.Execution.CancelMarkerTTL <= 0 {
		errs = append(errs, "execution.cancelMarkerTTL must be positive")
	}
	if cfg.Execution.MaxCommandLength <= 0 {
		errs = append(errs, "execution.maxCommandLength must be positive")
	}
	if cfg.Execution.Program == "" {
		errs = append(errs, "execution.program is required")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite")
		}
	case "postgres":
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for postgres")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	if cfg.Client.InitialDelayMs <= 0 || cfg.Client.MaxDelayMs < cfg.Client.InitialDelayMs {
		errs = append(errs, "client.initialDelayMs must be positive and not exceed client.maxDelayMs")
	}
	if cfg.Client.Multiplier < 1 {
		errs = append(errs, "client.multiplier must be >= 1")
	}
	if cfg.Client.MaxAttempts <= 0 {
		errs = append(errs, "client.maxAttempts must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
