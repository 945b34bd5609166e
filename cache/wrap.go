package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Func is the shape of a cacheable call.
type Func[A any, R any] func(ctx context.Context, args A) (R, error)

// Invoker produces the value for a cache miss.
type Invoker[R any] func(ctx context.Context) (R, error)

// Options configure Wrap.
type Options struct {
	// Name is the first segment of every key produced for the call.
	Name string
	// TTL of stored results. Zero means the manager's default.
	TTL time.Duration
	// Key derives the store key. Defaults to CanonicalKey.
	Key KeyStrategy
	// SingleFlight collapses concurrent misses for the same key into one
	// invocation whose result is shared by all waiting callers. The shared
	// invocation is not cancelled with the caller that started it; each
	// caller stops waiting when its own context is done.
	SingleFlight bool
}

// Exec returns the value cached under key or, on a miss, calls invoke and
// stores its result for ttl. Errors from invoke are returned unchanged and
// nothing is stored for them. A nil manager disables caching.
func Exec[R any](ctx context.Context, m *Manager, key string, ttl time.Duration, invoke Invoker[R]) (R, error) {
	if m == nil {
		return invoke(ctx)
	}
	if val, ok := Load[R](ctx, m, key); ok {
		m.logger.Trace("hit %s", key)
		return val, nil
	}
	m.logger.Trace("miss %s", key)
	val, err := invoke(ctx)
	if err != nil {
		var zero R
		return zero, err
	}
	m.Set(ctx, key, val, ttl)
	return val, nil
}

// Wrap returns fn with its results cached in m under keys derived from the
// call arguments. The wrapped function behaves exactly like fn when the
// store is unavailable.
func Wrap[A Arguments, R any](m *Manager, opts Options, fn Func[A, R]) Func[A, R] {
	keyOf := opts.Key
	if keyOf == nil {
		keyOf = CanonicalKey
	}
	var group *singleflight.Group
	if opts.SingleFlight {
		group = &singleflight.Group{}
	}
	return func(ctx context.Context, args A) (R, error) {
		key := keyOf(opts.Name, args.CacheArgs())
		invoke := func(ctx context.Context) (R, error) { return fn(ctx, args) }
		if group == nil {
			return Exec(ctx, m, key, opts.TTL, invoke)
		}
		ch := group.DoChan(key, func() (any, error) {
			return Exec(context.WithoutCancel(ctx), m, key, opts.TTL, invoke)
		})
		var zero R
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return zero, res.Err
			}
			return res.Val.(R), nil
		}
	}
}
