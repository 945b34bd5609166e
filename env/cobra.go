package env

import (
	"context"
	"os"

	"github.com/agentuity/go-taskcache/logger"
	"github.com/agentuity/go-taskcache/telemetry"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// FlagOrEnv returns the flag value when set, otherwise the environment
// variable envName, otherwise defaultValue.
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	if flagValue, _ := cmd.Flags().GetString(flagName); flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok {
		return val
	}
	return defaultValue
}

// LogLevel reads --log-level, then TASKCACHE_LOG_LEVEL, defaulting to info.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.LevelEnv, "info"), logger.LevelInfo)
}

// NewLogger returns a console logger, or a JSON logger when --log-format
// (or TASKCACHE_LOG_FORMAT) is json.
func NewLogger(cmd *cobra.Command) logger.Logger {
	level := LogLevel(cmd)
	if FlagOrEnv(cmd, "log-format", "TASKCACHE_LOG_FORMAT", "console") == "json" {
		return logger.NewJSONLogger(level)
	}
	return logger.NewConsoleLogger(level)
}

// NewTelemetry configures trace and log export from the --otlp-url and
// --otlp-token flags (or OTLP_URL and OTLP_TOKEN) and returns the logger to
// use from then on. Export is skipped, and log returned as is, when
// --no-telemetry is set or no url is configured.
func NewTelemetry(ctx context.Context, cmd *cobra.Command, log logger.Logger, serviceName string) (logger.Logger, telemetry.ShutdownFunc, error) {
	if off, err := cmd.Flags().GetBool("no-telemetry"); err == nil && off {
		return log, func() {}, nil
	}
	otlpURL := FlagOrEnv(cmd, "otlp-url", "OTLP_URL", "")
	if otlpURL == "" {
		return log, func() {}, nil
	}
	otelLog, shutdown, err := telemetry.New(ctx, log, serviceName, otlpURL, FlagOrEnv(cmd, "otlp-token", "OTLP_TOKEN", ""))
	if err != nil {
		return nil, nil, errors.Wrap(err, "error creating telemetry")
	}
	return otelLog, shutdown, nil
}
