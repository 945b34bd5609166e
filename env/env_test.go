package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentuity/go-taskcache/logger"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFile(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "test.env")
	content := `
KEY1=value1
KEY2="value2"
KEY3='value3'
# This is a comment
export KEY4=value with spaces
`
	require.NoError(t, os.WriteFile(tmpFile, []byte(content), 0644))

	got, err := ParseFile(tmpFile)
	require.NoError(t, err)
	assert.Equal(t, []Line{
		{Key: "KEY1", Val: "value1"},
		{Key: "KEY2", Val: "value2"},
		{Key: "KEY3", Val: "value3"},
		{Key: "KEY4", Val: "value with spaces"},
	}, got)

	t.Run("non-existent file", func(t *testing.T) {
		got, err := ParseFile(filepath.Join(t.TempDir(), "nonexistent.env"))
		assert.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestParseInterpolation(t *testing.T) {
	t.Setenv("TASKCACHE_TEST_HOST", "redis.internal")
	got, err := Parse([]byte(`
HOST=localhost
PORT=6379
REDIS_URL=redis://${HOST}:${PORT}/0
FALLBACK=${MISSING:-memory://}
KEEP=${MISSING}
FROM_ENV=redis://${env:TASKCACHE_TEST_HOST}:6379
LITERAL='${HOST}'
FORWARD=${LATER}
LATER=x
`))
	require.NoError(t, err)
	m := ToMap(got)
	assert.Equal(t, "redis://localhost:6379/0", m["REDIS_URL"])
	assert.Equal(t, "memory://", m["FALLBACK"])
	assert.Equal(t, "${MISSING}", m["KEEP"])
	assert.Equal(t, "redis://redis.internal:6379", m["FROM_ENV"])
	assert.Equal(t, "${HOST}", m["LITERAL"])
	assert.Equal(t, "${LATER}", m["FORWARD"])
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{"NOEQUALS", "=value", "1KEY=value", "BAD KEY=value"} {
		_, err := Parse([]byte(input))
		assert.Error(t, err, input)
	}
	got, err := Parse(nil)
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestToMapLastWins(t *testing.T) {
	got, err := Parse([]byte("A=1\nA=2\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "2"}, ToMap(got))
}

func TestFlagOrEnv(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("test-flag", "", "Test flag")

	cmd.Flags().Set("test-flag", "flag-value")
	assert.Equal(t, "flag-value", FlagOrEnv(cmd, "test-flag", "TEST_ENV", "default"))

	cmd.Flags().Set("test-flag", "")
	t.Setenv("TEST_ENV", "env-value")
	assert.Equal(t, "env-value", FlagOrEnv(cmd, "test-flag", "TEST_ENV", "default"))

	os.Unsetenv("TEST_ENV")
	assert.Equal(t, "default", FlagOrEnv(cmd, "test-flag", "TEST_ENV", "default"))
}

func TestLogLevel(t *testing.T) {
	testCases := []struct {
		name      string
		flagValue string
		envValue  string
		expected  logger.LogLevel
	}{
		{"debug level via flag", "debug", "", logger.LevelDebug},
		{"debug level via env", "", "DEBUG", logger.LevelDebug},
		{"warn level via flag", "warn", "", logger.LevelWarn},
		{"error level via env", "", "ERROR", logger.LevelError},
		{"trace level via flag", "trace", "", logger.LevelTrace},
		{"flag wins over env", "error", "debug", logger.LevelError},
		{"default level", "", "", logger.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "test"}
			cmd.Flags().String("log-level", "", "Log level")
			t.Setenv(logger.LevelEnv, tc.envValue)
			if tc.envValue == "" {
				os.Unsetenv(logger.LevelEnv)
			}
			if tc.flagValue != "" {
				cmd.Flags().Set("log-level", tc.flagValue)
			}
			assert.Equal(t, tc.expected, LogLevel(cmd))
		})
	}
}

func TestNewTelemetryDisabled(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Bool("no-telemetry", true, "")
	base := logger.NewTestLogger()
	log, shutdown, err := NewTelemetry(t.Context(), cmd, base, "test")
	require.NoError(t, err)
	assert.Same(t, base, log)
	shutdown()

	cmd = &cobra.Command{Use: "test"}
	cmd.Flags().String("otlp-url", "", "")
	t.Setenv("OTLP_URL", "")
	log, shutdown, err = NewTelemetry(t.Context(), cmd, base, "test")
	require.NoError(t, err)
	assert.Same(t, base, log)
	shutdown()
}
