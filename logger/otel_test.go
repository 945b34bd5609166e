package logger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"
)

type recordingLogger struct {
	embedded.Logger
	mu      sync.Mutex
	records []log.Record
}

func (r *recordingLogger) Emit(_ context.Context, record log.Record) {
	r.mu.Lock()
	r.records = append(r.records, record.Clone())
	r.mu.Unlock()
}

func (r *recordingLogger) Enabled(context.Context, log.EnabledParameters) bool { return true }

func attrs(r log.Record) map[string]string {
	out := make(map[string]string)
	r.WalkAttributes(func(kv log.KeyValue) bool {
		out[kv.Key] = kv.Value.String()
		return true
	})
	return out
}

func TestOtelLoggerEmits(t *testing.T) {
	rec := &recordingLogger{}
	next := NewTestLogger()
	l := NewOtelLogger(rec, LevelInfo, next)

	l.Debug("dropped %d", 1)
	l.WithPrefix("[kv]").With(map[string]interface{}{"owner": 42}).Warn("slow %s", "get")

	require.Len(t, rec.records, 1)
	r := rec.records[0]
	assert.Equal(t, "[kv] slow get", r.Body().AsString())
	assert.Equal(t, log.SeverityWarn, r.Severity())
	assert.Equal(t, map[string]string{"owner": "42"}, attrs(r))

	// next sees everything, including levels below the otel threshold
	assert.Equal(t, 1, next.Count("DEBUG"))
	assert.Equal(t, 1, next.Count("WARNING"))
	assert.True(t, l.IsLevelEnabled(LevelTrace))
}

func TestOtelLoggerWithMergesMetadata(t *testing.T) {
	base := NewOtelLogger(&recordingLogger{}, LevelTrace, nil).With(map[string]interface{}{
		"base_key": "base_value",
		"shared":   "from_base",
	})
	extended := base.With(map[string]interface{}{
		"extra_key": "extra_value",
		"shared":    "from_extended",
	}).(*otelLogger)

	assert.Len(t, extended.metadata, 3)
	assert.Equal(t, "base_value", extended.metadata["base_key"].AsString())
	assert.Equal(t, "extra_value", extended.metadata["extra_key"].AsString())
	assert.Equal(t, "from_extended", extended.metadata["shared"].AsString())
	assert.Len(t, base.(*otelLogger).metadata, 2)
	assert.False(t, NewOtelLogger(&recordingLogger{}, LevelError, nil).IsLevelEnabled(LevelWarn))
}
