package kv

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentuity/go-taskcache/logger"
	"github.com/agentuity/go-taskcache/resilience"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// scanBatch is the COUNT hint for SCAN and the size of each DEL batch.
const scanBatch = 100

// incrScript increments KEYS[1] and sets its expiry (ARGV[1], milliseconds)
// only when the counter has none, so the expiry of a window is never pushed out.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

type redisStore struct {
	client    *redis.Client
	logger    logger.Logger
	cfg       config
	breaker   *resilience.Breaker
	available atomic.Bool
	closed    atomic.Bool
	mu        sync.Mutex
}

var _ Store = (*redisStore)(nil)

// NewRedis returns a Store backed by Redis. The store takes ownership of
// client: Close closes it. The store starts unavailable until Connect succeeds.
func NewRedis(log logger.Logger, client *redis.Client, opts ...Option) Store {
	cfg := applyOptions(opts)
	return &redisStore{
		client:  client,
		logger:  log.WithPrefix("[kv]"),
		cfg:     cfg,
		breaker: resilience.NewBreaker(cfg.breaker),
	}
}

func (s *redisStore) Connect(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.available.Load() || s.closed.Load() {
		return
	}
	addr := s.client.Options().Addr
	s.logger.Info("connecting to redis at %s", addr)
	err := resilience.Retry(ctx, s.cfg.retry, func() error {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.queryTimeout)
		defer cancel()
		return s.client.Ping(pctx).Err()
	})
	if err != nil {
		s.logger.Error("failed to connect to redis at %s: %v", addr, err)
		s.logger.Warn("cache and rate limiting disabled, continuing without redis")
		return
	}
	s.breaker.Reset()
	s.available.Store(true)
	s.logger.Info("connected to redis at %s", addr)
}

func (s *redisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	s.available.Store(false)
	return s.client.Close()
}

func (s *redisStore) Available() bool {
	return s.available.Load() && s.breaker.State() != resilience.StateOpen
}

// do runs fn under the query timeout, a tracing span and the breaker.
// redis.Nil is passed through untouched since it is not a failure.
func (s *redisStore) do(ctx context.Context, op string, key string, fn func(context.Context) error) error {
	if !s.available.Load() {
		return ErrUnavailable
	}
	if err := s.breaker.Allow(); err != nil {
		return ErrUnavailable
	}
	qctx, cancel := context.WithTimeout(ctx, s.cfg.queryTimeout)
	defer cancel()
	qctx, span := tracer.Start(qctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "redis"), attribute.String("kv.key", key)),
	)
	defer span.End()

	err := fn(qctx)
	if err == nil || errors.Is(err, redis.Nil) {
		s.breaker.Success()
		return err
	}
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	// the caller giving up says nothing about the store
	if ctx.Err() == nil {
		s.breaker.Failure()
	}
	return errors.Wrapf(err, "kv: %s %q", op, key)
}

func (s *redisStore) failed(op string, key string, err error) {
	if errors.Is(err, ErrUnavailable) {
		s.logger.Trace("%s %s skipped: store unavailable", op, key)
		return
	}
	s.logger.Warn("%s error for key %s: %v", op, key, err)
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.do(ctx, "kv.Ping", "", func(ctx context.Context) error {
		return s.client.Ping(ctx).Err()
	})
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	var data []byte
	err := s.do(ctx, "kv.Get", key, func(ctx context.Context) error {
		var err error
		data, err = s.client.Get(ctx, s.cfg.key(key)).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		s.failed("get", key, err)
		return nil, false
	}
	return data, true
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if ttl < 0 {
		ttl = 0
	}
	err := s.do(ctx, "kv.Set", key, func(ctx context.Context) error {
		return s.client.Set(ctx, s.cfg.key(key), value, ttl).Err()
	})
	if err != nil {
		s.failed("set", key, err)
		return false
	}
	return true
}

func (s *redisStore) Delete(ctx context.Context, keys ...string) int {
	if len(keys) == 0 {
		return 0
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.cfg.key(k)
	}
	var n int64
	err := s.do(ctx, "kv.Delete", keys[0], func(ctx context.Context) error {
		var err error
		n, err = s.client.Del(ctx, full...).Result()
		return err
	})
	if err != nil {
		s.failed("delete", keys[0], err)
		return 0
	}
	return int(n)
}

func (s *redisStore) DeleteByPattern(ctx context.Context, pattern string) int {
	var deleted int64
	err := s.do(ctx, "kv.DeleteByPattern", pattern, func(ctx context.Context) error {
		var cursor uint64
		match := s.cfg.pattern(pattern)
		for {
			batch, next, err := s.client.Scan(ctx, cursor, match, scanBatch).Result()
			if err != nil {
				return err
			}
			if len(batch) > 0 {
				n, err := s.client.Del(ctx, batch...).Result()
				if err != nil {
					return err
				}
				deleted += n
			}
			if next == 0 {
				return nil
			}
			cursor = next
		}
	})
	if err != nil {
		s.failed("delete pattern", pattern, err)
	}
	return int(deleted)
}

func (s *redisStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, errors.Newf("kv: increment of %q needs a positive ttl", key)
	}
	var n int64
	err := s.do(ctx, "kv.IncrementWithExpiry", key, func(ctx context.Context) error {
		var err error
		n, err = incrScript.Run(ctx, s.client, []string{s.cfg.key(key)}, ttl.Milliseconds()).Int64()
		return err
	})
	if err != nil {
		s.failed("increment", key, err)
		if !errors.Is(err, ErrUnavailable) {
			err = errors.Wrapf(ErrUnavailable, "%v", err)
		}
		return 0, err
	}
	return n, nil
}
