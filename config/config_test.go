package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9092", cfg.Broker.BootstrapServers)
	assert.Equal(t, 6*time.Second, cfg.Broker.SessionTimeout)
	assert.Equal(t, time.Second, cfg.Broker.HeartbeatInterval)
	assert.Equal(t, 200*time.Millisecond, cfg.Broker.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Broker.MessageTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Broker.FlushInterval)
	assert.Equal(t, 60*time.Second, cfg.Broker.FinalFlushTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, int64(1), cfg.Fetcher.DaysPerRequest)
	assert.Equal(t, 20*time.Minute, cfg.Fetcher.Interval)
	assert.False(t, cfg.Status.Enabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
broker:
  bootstrap_servers: "kafka-1:9092,kafka-2:9092"
  session_timeout: 10s
fetcher:
  language: Go
  days_per_request: 7
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Broker.Servers())
	assert.Equal(t, 10*time.Second, cfg.Broker.SessionTimeout)
	assert.Equal(t, "Go", cfg.Fetcher.Language)
	assert.Equal(t, int64(7), cfg.Fetcher.DaysPerRequest)
	// Untouched keys keep their defaults.
	assert.Equal(t, time.Second, cfg.Broker.HeartbeatInterval)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("RUSTYROBOT_BROKER_BOOTSTRAP_SERVERS", "10.0.0.5:9092")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.5:9092"}, cfg.Broker.Servers())
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty brokers",
			mutate:  func(c *Config) { c.Broker.BootstrapServers = " , " },
			wantErr: "bootstrap_servers",
		},
		{
			name:    "zero session timeout",
			mutate:  func(c *Config) { c.Broker.SessionTimeout = 0 },
			wantErr: "session_timeout",
		},
		{
			name:    "days per request below one",
			mutate:  func(c *Config) { c.Fetcher.DaysPerRequest = 0 },
			wantErr: "days_per_request",
		},
		{
			name:    "malformed start date",
			mutate:  func(c *Config) { c.Fetcher.StartDate = "01/02/2018" },
			wantErr: "start_date",
		},
		{
			name:   "valid start date",
			mutate: func(c *Config) { c.Fetcher.StartDate = "2018-01-01" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig("")
			require.NoError(t, err)
			tt.mutate(cfg)

			err = ValidateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
