package app

import (
	"context"
	"time"

	"github.com/agentuity/go-taskcache/cache"
	"github.com/agentuity/go-taskcache/config"
	"github.com/agentuity/go-taskcache/kv"
	"github.com/agentuity/go-taskcache/logger"
	"github.com/agentuity/go-taskcache/ratelimit"
	cstr "github.com/agentuity/go-taskcache/string"
	"github.com/agentuity/go-taskcache/tasks"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// App holds the process wide components. It is created once at startup and
// passed to whatever serves requests.
type App struct {
	Config   config.Config
	Logger   logger.Logger
	Store    kv.Store
	Cache    *cache.Manager
	Limiter  *ratelimit.Limiter
	Tasks    *tasks.Service
	Strict   ratelimit.Limit
	Moderate ratelimit.Limit
}

type options struct {
	store   kv.Store
	repo    tasks.Repository
	kvOpts  []kv.Option
	limiter []ratelimit.Option
}

// Option customizes New.
type Option func(*options)

// WithStore uses store instead of the one described by Config.RedisURL.
func WithStore(store kv.Store) Option {
	return func(o *options) { o.store = store }
}

// WithRepository sets the task repository. Defaults to an in-memory one.
func WithRepository(repo tasks.Repository) Option {
	return func(o *options) { o.repo = repo }
}

// WithStoreOptions passes extra options to the store created from the config.
func WithStoreOptions(opts ...kv.Option) Option {
	return func(o *options) { o.kvOpts = append(o.kvOpts, opts...) }
}

// WithLimiterOptions passes options to the rate limiter.
func WithLimiterOptions(opts ...ratelimit.Option) Option {
	return func(o *options) { o.limiter = append(o.limiter, opts...) }
}

// New wires the components described by cfg. The store is not contacted
// until Start.
func New(cfg config.Config, log logger.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	store := o.store
	if store == nil {
		kvOpts := []kv.Option{kv.WithQueryTimeout(cfg.Cache.QueryTimeout.Std())}
		if cfg.Cache.Namespace != "" {
			kvOpts = append(kvOpts, kv.WithNamespace(cfg.Cache.Namespace))
		}
		kvOpts = append(kvOpts, o.kvOpts...)
		s, err := kv.NewFromURL(log, cfg.RedisURL, kvOpts...)
		if err != nil {
			return nil, err
		}
		store = s
	}
	repo := o.repo
	if repo == nil {
		repo = tasks.NewMemoryRepository(nil)
	}
	manager := cache.NewManager(store, log, cache.WithDefaultTTL(cfg.Cache.DefaultTTL.Std()))
	return &App{
		Config:   cfg,
		Logger:   log,
		Store:    store,
		Cache:    manager,
		Limiter:  ratelimit.New(store, log, o.limiter...),
		Tasks:    tasks.NewService(repo, manager, log),
		Strict:   cfg.StrictLimit(),
		Moderate: cfg.ModerateLimit(),
	}, nil
}

// Start connects to the store. It never fails: an unreachable store leaves
// the app running in degraded mode.
func (a *App) Start(ctx context.Context) {
	a.Store.Connect(ctx)
	target, err := cstr.MaskURL(a.Config.RedisURL)
	if err != nil {
		target = "store"
	}
	if a.Store.Available() {
		a.Logger.Info("connected to %s", target)
	} else {
		a.Logger.Warn("%s unavailable, running without cache and rate limits", target)
	}
}

// Close releases the store connection.
func (a *App) Close() error {
	return a.Store.Close()
}

type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
)

const (
	ServiceWorking      = "working"
	ServiceNotWorking   = "not working"
	ServiceConnected    = "connected"
	ServiceNotConnected = "not connected"
)

// Health is the result of a health probe.
type Health struct {
	Status         Status            `json:"status"`
	StoreConnected bool              `json:"redis_connected"`
	CacheEnabled   bool              `json:"cache_enabled"`
	CacheWorking   bool              `json:"cache_working"`
	Services       map[string]string `json:"services"`
	CheckedAt      time.Time         `json:"time"`
	Latency        time.Duration     `json:"latency"`
}

// Health pings the store and round-trips a probe value through the cache.
func (a *App) Health(ctx context.Context) Health {
	started := time.Now()
	var connected, working bool
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		connected = a.Store.Ping(ctx) == nil
		return nil
	})
	g.Go(func() error {
		working = a.probeCache(ctx)
		return nil
	})
	_ = g.Wait()

	h := Health{
		Status:         StatusHealthy,
		StoreConnected: connected,
		CacheEnabled:   a.Store.Available(),
		CacheWorking:   working,
		Services: map[string]string{
			"cache": ServiceNotWorking,
			"redis": ServiceNotConnected,
		},
		CheckedAt: started,
		Latency:   time.Since(started),
	}
	if working {
		h.Services["cache"] = ServiceWorking
	}
	if connected {
		h.Services["redis"] = ServiceConnected
	}
	if !connected || !working {
		h.Status = StatusDegraded
	}
	return h
}

func (a *App) probeCache(ctx context.Context) bool {
	key := "health_check:" + uuid.NewString()
	want := time.Now().UnixNano()
	if !a.Cache.Set(ctx, key, want, 10*time.Second) {
		return false
	}
	defer a.Cache.Delete(context.WithoutCancel(ctx), key)
	got, ok := cache.Load[int64](ctx, a.Cache, key)
	return ok && got == want
}
