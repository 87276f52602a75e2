// Package cli is the shared bootstrap for the rustyrobot binaries:
// configuration loading, logging setup, signal handling and the glue every
// service entry point repeats.
package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	eve "github.com/rustyrobot/rustyrobot/common"
	"github.com/rustyrobot/rustyrobot/config"
	"github.com/rustyrobot/rustyrobot/shutdown"
)

// Service is the body of one service binary. It blocks until the work is
// done or shutdown is requested; returning an error exits the process
// nonzero.
type Service func(cfg *config.Config, coordinator *shutdown.Coordinator) error

// NewServiceCommand builds the cobra root for a service binary. The
// command loads the configuration, configures logging, hooks SIGINT and
// SIGTERM into the shutdown coordinator and hands control to run.
func NewServiceCommand(name, short string, run Service) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           name,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgFile)
			if err != nil {
				return err
			}

			if err := eve.ConfigureLogging(cfg.Logging.Level, cfg.Logging.Format); err != nil {
				return err
			}

			coordinator := shutdown.New()
			hookSignals(coordinator)

			eve.Logger.WithField("service", name).Info("starting")
			return run(cfg, coordinator)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.yaml in standard locations)")
	return cmd
}

// Execute runs a root command and terminates the process on failure.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		eve.Logger.WithError(err).Error("service failed")
		os.Exit(1)
	}
}

// hookSignals requests shutdown on the first SIGINT or SIGTERM. A second
// signal kills the process the hard way.
func hookSignals(coordinator *shutdown.Coordinator) {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		eve.Logger.Info("received shutdown signal")
		coordinator.Shutdown()

		<-signals
		eve.Logger.Error("received second shutdown signal, aborting")
		os.Exit(1)
	}()
}
