// Package common provides centralized logging infrastructure for the
// rustyrobot pipeline services.
//
// The logging system is built on logrus with custom output handling: error
// level lines are routed to stderr while everything else goes to stdout, so
// containerized deployments and shell wrappers can treat the two streams
// differently.
//
// The package exposes a global Logger instance that all services share,
// ensuring uniform formatting and routing across the pipeline. Services may
// further customize the level and formatter after import:
//
//	common.Logger.SetLevel(logrus.DebugLevel)
//	common.Logger.SetFormatter(&logrus.JSONFormatter{})
package common

import (
	"bytes"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stdout or stderr based on
// their severity. Lines containing "level=error" go to stderr, all other
// lines to stdout.
//
// The check is a plain byte search on the formatted output, which works with
// both the text and JSON logrus formatters and avoids any parsing overhead.
type OutputSplitter struct{}

// Write implements io.Writer, selecting the output stream per log line.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance shared by all rustyrobot services.
// It is pre-configured with the OutputSplitter; level and format stay at the
// logrus defaults until a service overrides them from its configuration.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}

// ConfigureLogging applies the configured level and format to the global
// Logger. Level accepts any logrus level name ("debug", "info", "warn",
// "error", ...); format accepts "text" or "json".
func ConfigureLogging(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level %q: %w", level, err)
	}
	Logger.SetLevel(lvl)

	switch format {
	case "", "text":
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}
