package logger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/log"
)

// otelLogger emits records to an OpenTelemetry logger and forwards every
// call to an optional next Logger, usually the console.
type otelLogger struct {
	prefixes []string
	metadata map[string]log.Value
	level    LogLevel
	logger   log.Logger
	next     Logger
}

var _ Logger = (*otelLogger)(nil)

// NewOtelLogger returns a Logger emitting records at or above level to l.
// When next is not nil it receives every call as well.
func NewOtelLogger(l log.Logger, level LogLevel, next Logger) Logger {
	return &otelLogger{level: level, logger: l, next: next}
}

func (o *otelLogger) clone() *otelLogger {
	c := *o
	c.prefixes = append([]string(nil), o.prefixes...)
	return &c
}

func (o *otelLogger) WithPrefix(prefix string) Logger {
	c := o.clone()
	c.prefixes = append(c.prefixes, prefix)
	if o.next != nil {
		c.next = o.next.WithPrefix(prefix)
	}
	return c
}

func (o *otelLogger) With(metadata map[string]interface{}) Logger {
	c := o.clone()
	c.metadata = make(map[string]log.Value, len(o.metadata)+len(metadata))
	for k, v := range o.metadata {
		c.metadata[k] = v
	}
	for k, v := range metadata {
		c.metadata[k] = toLogValue(v)
	}
	if o.next != nil {
		c.next = o.next.With(metadata)
	}
	return c
}

func (o *otelLogger) IsLevelEnabled(level LogLevel) bool {
	if level >= o.level {
		return true
	}
	return o.next != nil && o.next.IsLevelEnabled(level)
}

func toLogValue(unknown interface{}) log.Value {
	switch v := unknown.(type) {
	case string:
		return log.StringValue(v)
	case int:
		return log.IntValue(v)
	case int64:
		return log.Int64Value(v)
	case bool:
		return log.BoolValue(v)
	case float64:
		return log.Float64Value(v)
	case []byte:
		return log.BytesValue(v)
	case time.Duration:
		return log.StringValue(v.String())
	case error:
		return log.StringValue(v.Error())
	case []interface{}:
		values := make([]log.Value, 0, len(v))
		for _, item := range v {
			values = append(values, toLogValue(item))
		}
		return log.SliceValue(values...)
	case map[string]interface{}:
		values := make([]log.KeyValue, 0, len(v))
		for k, item := range v {
			values = append(values, log.KeyValue{Key: k, Value: toLogValue(item)})
		}
		return log.MapValue(values...)
	default:
		return log.StringValue(fmt.Sprintf("%v", v))
	}
}

func (o *otelLogger) emit(level LogLevel, severity log.Severity, msg string, args ...interface{}) {
	if level < o.level {
		return
	}
	body := fmt.Sprintf(msg, args...)
	if len(o.prefixes) > 0 {
		body = strings.Join(o.prefixes, " ") + " " + body
	}
	now := time.Now()
	var record log.Record
	record.SetBody(log.StringValue(body))
	record.SetSeverity(severity)
	record.SetSeverityText(severity.String())
	record.SetTimestamp(now)
	record.SetObservedTimestamp(now)
	for k, v := range o.metadata {
		record.AddAttributes(log.KeyValue{Key: k, Value: v})
	}
	o.logger.Emit(context.Background(), record)
}

func (o *otelLogger) Trace(msg string, args ...interface{}) {
	o.emit(LevelTrace, log.SeverityTrace, msg, args...)
	if o.next != nil {
		o.next.Trace(msg, args...)
	}
}

func (o *otelLogger) Debug(msg string, args ...interface{}) {
	o.emit(LevelDebug, log.SeverityDebug, msg, args...)
	if o.next != nil {
		o.next.Debug(msg, args...)
	}
}

func (o *otelLogger) Info(msg string, args ...interface{}) {
	o.emit(LevelInfo, log.SeverityInfo, msg, args...)
	if o.next != nil {
		o.next.Info(msg, args...)
	}
}

func (o *otelLogger) Warn(msg string, args ...interface{}) {
	o.emit(LevelWarn, log.SeverityWarn, msg, args...)
	if o.next != nil {
		o.next.Warn(msg, args...)
	}
}

func (o *otelLogger) Error(msg string, args ...interface{}) {
	o.emit(LevelError, log.SeverityError, msg, args...)
	if o.next != nil {
		o.next.Error(msg, args...)
	}
}

// Fatal emits the record and hands over to next, or exits with code 1.
func (o *otelLogger) Fatal(msg string, args ...interface{}) {
	o.emit(LevelError, log.SeverityFatal, msg, args...)
	if o.next != nil {
		o.next.Fatal(msg, args...)
		return
	}
	os.Exit(1)
}
