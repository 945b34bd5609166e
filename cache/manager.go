package cache

import (
	"context"
	"time"

	"github.com/agentuity/go-taskcache/kv"
	"github.com/agentuity/go-taskcache/logger"
)

// DefaultTTL is used when a value is stored with a ttl <= 0.
const DefaultTTL = time.Hour

type config struct {
	codec      Codec
	defaultTTL time.Duration
}

// Option configures a Manager.
type Option func(*config)

// WithCodec sets the payload codec. Defaults to Msgpack.
func WithCodec(c Codec) Option {
	return func(cfg *config) { cfg.codec = c }
}

// WithDefaultTTL sets the ttl used when Set is called with ttl <= 0.
func WithDefaultTTL(d time.Duration) Option {
	return func(cfg *config) { cfg.defaultTTL = d }
}

// Manager serializes results into a kv.Store. It keeps no entries of its
// own and never reports store or decoding problems to its callers: they
// show up as misses and failed writes.
type Manager struct {
	store  kv.Store
	logger logger.Logger
	cfg    config
}

// NewManager returns a Manager on top of store.
func NewManager(store kv.Store, log logger.Logger, opts ...Option) *Manager {
	cfg := config{codec: Msgpack, defaultTTL: DefaultTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{store: store, logger: log.WithPrefix("[cache]"), cfg: cfg}
}

// Available reports whether the underlying store is reachable.
func (m *Manager) Available() bool {
	return m.store.Available()
}

// Get decodes the value at key into out and reports whether it was found.
// A payload that cannot be decoded is treated as a miss; it is left in place
// and replaced by the next Set.
func (m *Manager) Get(ctx context.Context, key string, out any) bool {
	data, ok := m.store.Get(ctx, key)
	if !ok {
		return false
	}
	if err := m.cfg.codec.Unmarshal(data, out); err != nil {
		m.logger.Warn("discarding undecodable %s entry %s: %v", m.cfg.codec.Name(), key, err)
		return false
	}
	return true
}

// Set encodes value and stores it under key for ttl (DefaultTTL when ttl <= 0).
// It reports whether the value was written.
func (m *Manager) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = m.cfg.defaultTTL
	}
	data, err := m.cfg.codec.Marshal(value)
	if err != nil {
		m.logger.Warn("cannot encode value for %s: %v", key, err)
		return false
	}
	return m.store.Set(ctx, key, data, ttl)
}

// Delete removes keys and returns how many existed.
func (m *Manager) Delete(ctx context.Context, keys ...string) int {
	return m.store.Delete(ctx, keys...)
}

// ClearPattern removes every entry whose key matches the glob pattern.
func (m *Manager) ClearPattern(ctx context.Context, pattern string) int {
	n := m.store.DeleteByPattern(ctx, pattern)
	m.logger.Debug("cleared %d entries matching %s", n, pattern)
	return n
}

// Invalidate removes the entry keyed exactly by name and segments as well
// as every entry whose key extends it, e.g. Invalidate(ctx, "task_stats", 42)
// clears "task_stats:42" and "task_stats:42:...".
func (m *Manager) Invalidate(ctx context.Context, name string, segments ...any) int {
	exact := Key(name, Args{Positional: segments})
	return m.Delete(ctx, exact) + m.ClearPattern(ctx, exact+":*")
}

// Load is the typed form of Manager.Get.
func Load[T any](ctx context.Context, m *Manager, key string) (T, bool) {
	var out T
	if !m.Get(ctx, key, &out) {
		var zero T
		return zero, false
	}
	return out, true
}
