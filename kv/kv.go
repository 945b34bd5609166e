package kv

import (
	"context"
	"time"

	"github.com/agentuity/go-taskcache/resilience"
	"github.com/cockroachdb/errors"
)

// ErrUnavailable is returned by IncrementWithExpiry when the backing store
// cannot be reached. Other operations never surface it: they degrade to a
// miss or a no-op.
var ErrUnavailable = errors.New("kv: store unavailable")

// Store is a remote key-value service shared by the cache and the rate
// limiter. Implementations are safe for concurrent use. Apart from
// IncrementWithExpiry, failures are logged and swallowed so that callers
// behave as if the store were absent.
type Store interface {
	// Connect establishes the connection. It never fails: when the store is
	// unreachable it is marked unavailable. Calling it again retries.
	Connect(ctx context.Context)
	// Close releases the connection. The store is unavailable afterwards.
	Close() error
	// Available reports whether round-trips are currently attempted.
	Available() bool
	// Ping performs a live round-trip.
	Ping(ctx context.Context) error
	// Get returns the value stored at key. Missing, expired and unreachable
	// keys all report false.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores value with an expiry. A ttl <= 0 stores without expiry.
	// It reports whether the value was written.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool
	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) int
	// DeleteByPattern removes every key matching the glob pattern and
	// returns how many were removed.
	DeleteByPattern(ctx context.Context, pattern string) int
	// IncrementWithExpiry atomically increments the counter at key. The
	// expiry is set when the counter is created and is never extended.
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// DefaultQueryTimeout bounds every round-trip to a remote store.
const DefaultQueryTimeout = 5 * time.Second

type config struct {
	queryTimeout  time.Duration
	namespace     string
	retry         resilience.RetryConfig
	breaker       resilience.BreakerConfig
	now           func() time.Time
	sweepInterval time.Duration
}

// Option configures a Store implementation.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		queryTimeout:  DefaultQueryTimeout,
		retry:         resilience.DefaultRetryConfig(),
		breaker:       resilience.DefaultBreakerConfig(),
		now:           time.Now,
		sweepInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithQueryTimeout sets the per-operation timeout. Defaults to DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithNamespace prefixes every key with ns and a colon.
func WithNamespace(ns string) Option {
	return func(c *config) { c.namespace = ns }
}

// WithRetry sets the retry policy used by Connect.
func WithRetry(r resilience.RetryConfig) Option {
	return func(c *config) { c.retry = r }
}

// WithBreaker sets the breaker that short-circuits a failing store.
func WithBreaker(b resilience.BreakerConfig) Option {
	return func(c *config) { c.breaker = b }
}

// WithClock replaces the time source of the in-memory store.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithSweepInterval sets how often the in-memory store drops expired keys.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) { c.sweepInterval = d }
}

func (c config) key(k string) string {
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

func (c config) pattern(p string) string {
	if c.namespace == "" {
		return p
	}
	return EscapePattern(c.namespace) + ":" + p
}
