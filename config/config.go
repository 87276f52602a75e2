// Package config provides configuration management for rustyrobot services.
//
// Configuration is loaded from multiple sources with proper precedence
// (later sources override earlier ones):
//  1. Default values (set via SetDefaults)
//  2. Configuration files (./config.yaml, ./configs/config.yaml,
//     ~/.rustyrobot/config.yaml, /etc/rustyrobot/config.yaml)
//  3. .env files
//  4. Environment variables (prefix RUSTYROBOT_)
//
// Environment variables use underscores for nested keys, e.g.
// RUSTYROBOT_BROKER_BOOTSTRAP_SERVERS maps to broker.bootstrap_servers.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BrokerConfig contains the Kafka connection and tuning settings shared by
// every stage of the pipeline.
type BrokerConfig struct {
	// BootstrapServers is the comma-separated broker list (default: 127.0.0.1:9092)
	BootstrapServers string `mapstructure:"bootstrap_servers"`

	// SessionTimeout is the consumer group session timeout
	SessionTimeout time.Duration `mapstructure:"session_timeout"`

	// HeartbeatInterval is the consumer group heartbeat interval
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// PollInterval is how long a consumer waits for a message before
	// re-checking the shutdown flag
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// MessageTimeout bounds how long the producer tries to deliver a message
	MessageTimeout time.Duration `mapstructure:"message_timeout"`

	// FlushInterval is the buffered producer's background flush period
	FlushInterval time.Duration `mapstructure:"flush_interval"`

	// FinalFlushTimeout caps the blocking flush performed on shutdown
	FinalFlushTimeout time.Duration `mapstructure:"final_flush_timeout"`
}

// Servers splits BootstrapServers into the address list expected by the
// Kafka client.
func (b *BrokerConfig) Servers() []string {
	parts := strings.Split(b.BootstrapServers, ",")
	servers := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			servers = append(servers, trimmed)
		}
	}
	return servers
}

// GithubConfig contains GitHub API access settings. Token and Username are
// usually resolved from GITHUB_TOKEN / GITHUB_USERNAME via common.LookupEnv
// rather than the config file.
type GithubConfig struct {
	// Token is the API token used for both the v3 and v4 endpoints
	Token string `mapstructure:"token"`

	// Username is the account that owns the forks
	Username string `mapstructure:"username"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Format is the log format (text, json)
	Format string `mapstructure:"format"`
}

// StatusConfig configures the optional per-service diagnostics endpoint.
type StatusConfig struct {
	// Enabled turns the HTTP status server on
	Enabled bool `mapstructure:"enabled"`

	// Addr is the listen address, e.g. 127.0.0.1:8042
	Addr string `mapstructure:"addr"`
}

// FetcherConfig contains fetcher-specific settings.
type FetcherConfig struct {
	// Language restricts the repository search, e.g. "Rust"
	Language string `mapstructure:"language"`

	// DaysPerRequest is the date-window width in days (minimum 1)
	DaysPerRequest int64 `mapstructure:"days_per_request"`

	// StartDate optionally overrides the resume point, format 2006-01-02
	StartDate string `mapstructure:"start_date"`

	// Interval is the pause between fetch rounds
	Interval time.Duration `mapstructure:"interval"`
}

// Config is the top-level configuration shared by the rustyrobot binaries.
// Services use only the sections they need.
type Config struct {
	Broker  BrokerConfig  `mapstructure:"broker"`
	Github  GithubConfig  `mapstructure:"github"`
	Logging LoggingConfig `mapstructure:"logging"`
	Status  StatusConfig  `mapstructure:"status"`
	Fetcher FetcherConfig `mapstructure:"fetcher"`
}

// Loader provides configuration loading functionality.
type Loader struct {
	v      *viper.Viper
	prefix string
}

// NewLoader creates a new configuration loader with the given environment
// prefix (e.g. "RUSTYROBOT" -> "RUSTYROBOT_BROKER_BOOTSTRAP_SERVERS").
func NewLoader(envPrefix string) *Loader {
	return &Loader{
		v:      viper.New(),
		prefix: envPrefix,
	}
}

// SetDefaults sets default configuration values. Call before Load.
func (l *Loader) SetDefaults(defaults map[string]interface{}) {
	for key, value := range defaults {
		l.v.SetDefault(key, value)
	}
}

// SetConfigDefaults sets the standard rustyrobot defaults.
func (l *Loader) SetConfigDefaults() {
	l.v.SetDefault("broker.bootstrap_servers", "127.0.0.1:9092")
	l.v.SetDefault("broker.session_timeout", "6s")
	l.v.SetDefault("broker.heartbeat_interval", "1s")
	l.v.SetDefault("broker.poll_interval", "200ms")
	l.v.SetDefault("broker.message_timeout", "5s")
	l.v.SetDefault("broker.flush_interval", "200ms")
	l.v.SetDefault("broker.final_flush_timeout", "60s")

	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.format", "text")

	l.v.SetDefault("status.enabled", false)
	l.v.SetDefault("status.addr", "127.0.0.1:8042")

	l.v.SetDefault("fetcher.language", "Rust")
	l.v.SetDefault("fetcher.days_per_request", 1)
	l.v.SetDefault("fetcher.start_date", "")
	l.v.SetDefault("fetcher.interval", "20m")
}

// Load reads configuration from file, .env, and environment variables.
// If cfgFile is empty, config.yaml is searched for in standard locations.
func (l *Loader) Load(cfgFile string, target interface{}) error {
	if cfgFile != "" {
		l.v.SetConfigFile(cfgFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("./configs")
		l.v.AddConfigPath("$HOME/.rustyrobot")
		l.v.AddConfigPath("/etc/rustyrobot")
	}

	if err := l.v.ReadInConfig(); err != nil {
		if cfgFile != "" && !isFileNotFoundError(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		if cfgFile == "" {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	// Merge .env if present
	l.v.SetConfigFile(".env")
	l.v.SetConfigType("env")
	_ = l.v.MergeInConfig()

	if l.prefix != "" {
		l.v.SetEnvPrefix(l.prefix)
	}
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.v.Unmarshal(target); err != nil {
		return fmt.Errorf("unable to decode config: %w", err)
	}

	return nil
}

// LoadConfig loads and validates the configuration with standard defaults.
func LoadConfig(cfgFile string) (*Config, error) {
	loader := NewLoader("RUSTYROBOT")
	loader.SetConfigDefaults()

	cfg := &Config{}
	if err := loader.Load(cfgFile, cfg); err != nil {
		return nil, err
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ValidateConfig validates the loaded configuration.
func ValidateConfig(cfg *Config) error {
	if len(cfg.Broker.Servers()) == 0 {
		return fmt.Errorf("broker.bootstrap_servers must name at least one broker")
	}
	if cfg.Broker.SessionTimeout <= 0 {
		return fmt.Errorf("broker.session_timeout must be positive")
	}
	if cfg.Broker.HeartbeatInterval <= 0 {
		return fmt.Errorf("broker.heartbeat_interval must be positive")
	}
	if cfg.Fetcher.DaysPerRequest < 1 {
		return fmt.Errorf("fetcher.days_per_request must be at least 1, got %d", cfg.Fetcher.DaysPerRequest)
	}
	if cfg.Fetcher.StartDate != "" {
		if _, err := time.Parse("2006-01-02", cfg.Fetcher.StartDate); err != nil {
			return fmt.Errorf("fetcher.start_date must be YYYY-MM-DD: %w", err)
		}
	}
	return nil
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
