package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/agentuity/go-taskcache/app"
	"github.com/agentuity/go-taskcache/config"
	"github.com/agentuity/go-taskcache/env"
	"github.com/agentuity/go-taskcache/ratelimit"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"
)

// setup loads the configuration, starts telemetry and connects the app. The
// returned function releases everything.
func setup(cmd *cobra.Command) (*app.App, func(), error) {
	redisURL, _ := cmd.Flags().GetString("redis-url")
	configFile, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg, err := config.Load(config.Options{
		File:    configFile,
		EnvFile: envFile,
		Lookup: func(key string) (string, bool) {
			if key == config.EnvRedisURL && redisURL != "" {
				return redisURL, true
			}
			return os.LookupEnv(key)
		},
	})
	if err != nil {
		return nil, nil, err
	}
	for flag, val := range map[string]string{
		"log-level":  cfg.LogLevel,
		"otlp-url":   cfg.OTLP.URL,
		"otlp-token": cfg.OTLP.Token,
	} {
		if !cmd.Flags().Changed(flag) && val != "" {
			_ = cmd.Flags().Set(flag, val)
		}
	}
	log := env.NewLogger(cmd)

	log, shutdown, err := env.NewTelemetry(cmd.Context(), cmd, log, cfg.ServiceName)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cfg, log)
	if err != nil {
		shutdown()
		return nil, nil, err
	}
	a.Start(cmd.Context())
	return a, func() {
		if err := a.Close(); err != nil {
			log.Warn("error closing store: %v", err)
		}
		shutdown()
	}, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check store connectivity and round-trip a value through the cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, done, err := setup(cmd)
		if err != nil {
			return err
		}
		defer done()
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		h := a.Health(ctx)
		if err := printJSON(cmd, h); err != nil {
			return err
		}
		if h.Status != app.StatusHealthy {
			return errors.Newf("status %s", h.Status)
		}
		return nil
	},
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <pattern>",
	Short: "Delete every cache entry matching a glob pattern",
	Example: `  taskcache invalidate 'tasks_by_owner:42:*'
  taskcache invalidate --name task_stats --owner 42`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		owner, _ := cmd.Flags().GetInt64("owner")
		if (len(args) == 1) == (name != "") {
			return errors.New("pass either a pattern or --name")
		}
		a, done, err := setup(cmd)
		if err != nil {
			return err
		}
		defer done()
		if !a.Store.Available() {
			return errors.New("store unavailable")
		}
		var n int
		switch {
		case len(args) == 1:
			n = a.Cache.ClearPattern(cmd.Context(), args[0])
		case owner > 0:
			n = a.Cache.Invalidate(cmd.Context(), name, owner)
		default:
			n = a.Cache.Invalidate(cmd.Context(), name)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d entries removed\n", n)
		return nil
	},
}

var rateLimitCmd = &cobra.Command{
	Use:   "ratelimit <client>",
	Short: "Count a request for a client and print the resulting rate limit headers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := setup(cmd)
		if err != nil {
			return err
		}
		defer done()
		var limit ratelimit.Limit
		switch tier, _ := cmd.Flags().GetString("tier"); tier {
		case "strict":
			limit = a.Strict
		case "moderate":
			limit = a.Moderate
		default:
			return errors.Newf("unknown tier %q", tier)
		}
		if reset, _ := cmd.Flags().GetBool("reset"); reset {
			a.Limiter.Reset(cmd.Context(), args[0], limit)
			fmt.Fprintf(cmd.OutOrStdout(), "window reset for %s\n", args[0])
			return nil
		}
		res := a.Limiter.CheckAndIncrement(cmd.Context(), args[0], limit)
		out := cmd.OutOrStdout()
		switch {
		case res.FailedOpen:
			fmt.Fprintln(out, "allowed (store unavailable, request not counted)")
		case res.Allowed:
			fmt.Fprintln(out, "allowed")
		default:
			fmt.Fprintln(out, "denied")
		}
		headers := res.Headers()
		names := make([]string, 0, len(headers))
		for k := range headers {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			fmt.Fprintf(out, "%s: %s\n", k, headers.Get(k))
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a cached entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := setup(cmd)
		if err != nil {
			return err
		}
		defer done()
		data, ok := a.Store.Get(cmd.Context(), args[0])
		if !ok {
			return errors.Newf("%s not found", args[0])
		}
		if raw, _ := cmd.Flags().GetBool("raw"); raw {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}
		var v any
		if err := msgpack.Unmarshal(data, &v); err != nil {
			return errors.Wrap(err, "entry is not msgpack, use --raw")
		}
		return printJSON(cmd, v)
	},
}

func init() {
	invalidateCmd.Flags().String("name", "", "cache name to invalidate, e.g. tasks_by_owner")
	invalidateCmd.Flags().Int64("owner", 0, "limit --name to one owner")
	rateLimitCmd.Flags().String("tier", "moderate", "limit tier (strict or moderate)")
	rateLimitCmd.Flags().Bool("reset", false, "clear the client's current window instead of counting")
	getCmd.Flags().Bool("raw", false, "print the stored bytes unchanged")
}
