package kv

import (
	"strings"

	"github.com/agentuity/go-taskcache/logger"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// NewFromURL builds a Store from a connection URL. redis:// and rediss://
// URLs produce a Redis store, sqlite://path a SQLite store (sqlite:// alone is
// in memory) and memory:// an in-process store.
// The returned store still has to be connected.
func NewFromURL(log logger.Logger, rawURL string, opts ...Option) (Store, error) {
	if strings.HasPrefix(rawURL, "memory://") {
		return NewMemory(opts...), nil
	}
	if path, ok := strings.CutPrefix(rawURL, "sqlite://"); ok {
		return NewSQLite(log, path, opts...)
	}
	o, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "kv: invalid store url %q", rawURL)
	}
	return NewRedis(log, redis.NewClient(o), opts...), nil
}
