package config

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/agentuity/go-taskcache/cache"
	"github.com/agentuity/go-taskcache/env"
	"github.com/agentuity/go-taskcache/kv"
	"github.com/agentuity/go-taskcache/logger"
	"github.com/agentuity/go-taskcache/ratelimit"
	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Environment variables understood by Load.
const (
	EnvRedisURL          = "REDIS_URL"
	EnvCacheDefaultTTL   = "CACHE_DEFAULT_TTL"
	EnvCacheQueryTimeout = "CACHE_QUERY_TIMEOUT"
	EnvCacheNamespace    = "CACHE_KEY_NAMESPACE"
	EnvStrictMax         = "RATE_LIMIT_STRICT_MAX"
	EnvStrictWindow      = "RATE_LIMIT_STRICT_WINDOW"
	EnvModerateMax       = "RATE_LIMIT_MODERATE_MAX"
	EnvModerateWindow    = "RATE_LIMIT_MODERATE_WINDOW"
	EnvLogLevel          = logger.LevelEnv
	EnvOTLPURL           = "OTLP_URL"
	EnvOTLPToken         = "OTLP_TOKEN"
)

const (
	DefaultRedisURL    = "redis://localhost:6379/0"
	DefaultServiceName = "taskcache"

	defaultEnvFile     = ".env"
	minRateLimitWindow = time.Second
	minQueryTimeout    = time.Millisecond
)

// Duration is a time.Duration that unmarshals from strings such as "90s",
// "5m" or "1d".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", s)
	}
	return d, nil
}

type Limit struct {
	MaxRequests int64    `yaml:"max_requests"`
	Window      Duration `yaml:"window"`
}

type Cache struct {
	DefaultTTL   Duration `yaml:"default_ttl"`
	QueryTimeout Duration `yaml:"query_timeout"`
	// Namespace, when set, prefixes every store key so that several
	// deployments can share one Redis database.
	Namespace    string   `yaml:"namespace"`
}

type RateLimit struct {
	Strict   Limit `yaml:"strict"`
	Moderate Limit `yaml:"moderate"`
}

type OTLP struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type Config struct {
	ServiceName string    `yaml:"service_name"`
	RedisURL    string    `yaml:"redis_url"`
	LogLevel    string    `yaml:"log_level"`
	Cache       Cache     `yaml:"cache"`
	RateLimit   RateLimit `yaml:"rate_limit"`
	OTLP        OTLP      `yaml:"otlp"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ServiceName: DefaultServiceName,
		RedisURL:    DefaultRedisURL,
		LogLevel:    "info",
		Cache: Cache{
			DefaultTTL:   Duration(cache.DefaultTTL),
			QueryTimeout: Duration(kv.DefaultQueryTimeout),
		},
		RateLimit: RateLimit{
			Strict:   Limit{MaxRequests: ratelimit.Strict.MaxRequests, Window: Duration(ratelimit.Strict.Window)},
			Moderate: Limit{MaxRequests: ratelimit.Moderate.MaxRequests, Window: Duration(ratelimit.Moderate.Window)},
		},
	}
}

// Options select the sources Load reads.
type Options struct {
	// File is an optional YAML file. It must exist when set.
	File string
	// EnvFile is a dotenv file; it is skipped when missing. Defaults to ".env".
	EnvFile string
	// Lookup reads the process environment. Defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Load builds a Config from the defaults, the YAML file, the env file and
// the process environment, each overriding the previous one.
func Load(opts Options) (Config, error) {
	cfg := Default()
	if opts.File != "" {
		buf, err := os.ReadFile(opts.File)
		if err != nil {
			return cfg, errors.Wrapf(err, "reading config %s", opts.File)
		}
		if err := cfg.decodeYAML(buf); err != nil {
			return cfg, errors.Wrapf(err, "parsing config %s", opts.File)
		}
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = defaultEnvFile
	}
	lines, err := env.ParseFile(envFile)
	if err != nil {
		return cfg, err
	}
	fileVars := env.ToMap(lines)
	if err := cfg.apply(func(k string) (string, bool) {
		v, ok := fileVars[k]
		return v, ok
	}); err != nil {
		return cfg, errors.Wrapf(err, "applying %s", envFile)
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.apply(lookup); err != nil {
		return cfg, errors.Wrap(err, "applying environment")
	}
	return cfg, cfg.Validate()
}

func (c *Config) decodeYAML(buf []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) apply(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := parseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "%s", key)
		}
		*dst = Duration(d)
		return nil
	}
	num := func(key string, dst *int64) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "%s", key)
		}
		*dst = n
		return nil
	}

	str(EnvRedisURL, &c.RedisURL)
	str(EnvLogLevel, &c.LogLevel)
	str(EnvOTLPURL, &c.OTLP.URL)
	str(EnvOTLPToken, &c.OTLP.Token)
	str(EnvCacheNamespace, &c.Cache.Namespace)
	for _, err := range []error{
		dur(EnvCacheDefaultTTL, &c.Cache.DefaultTTL),
		dur(EnvCacheQueryTimeout, &c.Cache.QueryTimeout),
		num(EnvStrictMax, &c.RateLimit.Strict.MaxRequests),
		dur(EnvStrictWindow, &c.RateLimit.Strict.Window),
		num(EnvModerateMax, &c.RateLimit.Moderate.MaxRequests),
		dur(EnvModerateWindow, &c.RateLimit.Moderate.Window),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.RedisURL == "" {
		return errors.Newf("%s is required", EnvRedisURL)
	}
	if c.Cache.DefaultTTL <= 0 {
		return errors.Newf("cache default ttl must be positive, got %s", c.Cache.DefaultTTL)
	}
	if c.Cache.QueryTimeout.Std() < minQueryTimeout {
		return errors.Newf("cache query timeout must be at least %s, got %s", minQueryTimeout, c.Cache.QueryTimeout)
	}
	for _, l := range []struct {
		name string
		Limit
	}{{"strict", c.RateLimit.Strict}, {"moderate", c.RateLimit.Moderate}} {
		name := l.name
		if l.MaxRequests <= 0 {
			return errors.Newf("%s rate limit: max requests must be positive, got %d", name, l.MaxRequests)
		}
		if l.Window.Std() < minRateLimitWindow || l.Window.Std()%time.Second != 0 {
			return errors.Newf("%s rate limit: window must be a whole number of seconds, got %s", name, l.Window)
		}
	}
	return nil
}

// StrictLimit is the limit applied to mutating operations.
func (c Config) StrictLimit() ratelimit.Limit {
	return ratelimit.Limit{Name: "strict", MaxRequests: c.RateLimit.Strict.MaxRequests, Window: c.RateLimit.Strict.Window.Std()}
}

// ModerateLimit is the limit applied to read operations.
func (c Config) ModerateLimit() ratelimit.Limit {
	return ratelimit.Limit{Name: "moderate", MaxRequests: c.RateLimit.Moderate.MaxRequests, Window: c.RateLimit.Moderate.Window.Std()}
}

// Level is the configured log level, info when unrecognized.
func (c Config) Level() logger.LogLevel {
	return logger.ParseLevel(c.LogLevel, logger.LevelInfo)
}
