package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyrobot/rustyrobot/config"
	"github.com/rustyrobot/rustyrobot/shutdown"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestServiceCommandLoadsConfigAndRuns(t *testing.T) {
	path := writeConfig(t, "broker:\n  bootstrap_servers: kafka-1:9092\n")

	var seen *config.Config
	cmd := NewServiceCommand("rustyrobot-test", "test service", func(cfg *config.Config, coordinator *shutdown.Coordinator) error {
		seen = cfg
		assert.False(t, coordinator.ShouldShutdown())
		return nil
	})
	cmd.SetArgs([]string{"--config", path})

	require.NoError(t, cmd.Execute())
	require.NotNil(t, seen)
	assert.Equal(t, []string{"kafka-1:9092"}, seen.Broker.Servers())
	// Untouched sections keep their defaults.
	assert.Equal(t, "Rust", seen.Fetcher.Language)
}

func TestServiceCommandPropagatesServiceErrors(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: debug\n")

	wantErr := errors.New("broker unreachable")
	cmd := NewServiceCommand("rustyrobot-test", "test service", func(*config.Config, *shutdown.Coordinator) error {
		return wantErr
	})
	cmd.SetArgs([]string{"--config", path})

	assert.ErrorIs(t, cmd.Execute(), wantErr)
}

func TestServiceCommandRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "fetcher:\n  days_per_request: 0\n")

	cmd := NewServiceCommand("rustyrobot-test", "test service", func(*config.Config, *shutdown.Coordinator) error {
		t.Fatal("service must not run with invalid config")
		return nil
	})
	cmd.SetArgs([]string{"--config", path})

	assert.Error(t, cmd.Execute())
}
