package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "taskcache",
	Short:        "Inspect and manage the task cache and rate limits",
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to a YAML config file")
	flags.String("env-file", ".env", "path to a dotenv file")
	flags.String("redis-url", "", "store url, overrides REDIS_URL (redis://, rediss://, sqlite://path or memory://)")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "", "log format (console or json)")
	flags.String("otlp-url", "", "OTLP/HTTP endpoint for traces, overrides OTLP_URL")
	flags.String("otlp-token", "", "bearer token for the OTLP endpoint, overrides OTLP_TOKEN")
	flags.Bool("no-telemetry", false, "disable trace export")

	rootCmd.AddCommand(healthCmd, invalidateCmd, rateLimitCmd, getCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
