package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/agentuity/go-taskcache/kv"
	"github.com/agentuity/go-taskcache/logger"
	"github.com/cockroachdb/errors"
)

// ErrRateLimited is matched by every ExceededError.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limit is a request budget per client and window.
type Limit struct {
	Name        string
	MaxRequests int64
	Window      time.Duration
}

var (
	// Strict is meant for mutating operations.
	Strict = Limit{Name: "strict", MaxRequests: 10, Window: time.Minute}
	// Moderate is meant for read operations.
	Moderate = Limit{Name: "moderate", MaxRequests: 60, Window: time.Minute}
)

func (l Limit) validate() error {
	if l.MaxRequests <= 0 {
		return errors.Newf("limit %q: max requests must be positive, got %d", l.Name, l.MaxRequests)
	}
	if l.Window < time.Second || l.Window%time.Second != 0 {
		return errors.Newf("limit %q: window must be a whole number of seconds, got %s", l.Name, l.Window)
	}
	return nil
}

// WindowStart returns the start of the fixed window containing t. Windows
// are aligned to the unix epoch so every client shares the same boundaries.
// Windows shorter than a second align to whole seconds.
func (l Limit) WindowStart(t time.Time) time.Time {
	w := max(int64(l.Window/time.Second), 1)
	sec := t.Unix()
	return time.Unix(sec-((sec%w)+w)%w, 0)
}

// Result describes the outcome of a single check.
type Result struct {
	Limit     Limit
	Allowed   bool
	Count     int64
	Remaining int64
	ResetAt   time.Time
	// FailedOpen is set when the counter could not be reached and the
	// request was allowed without being counted.
	FailedOpen bool

	checkedAt time.Time
}

// RetryAfter is the time until the window resets, rounded up to whole seconds.
func (r Result) RetryAfter() time.Duration {
	d := r.ResetAt.Sub(r.checkedAt)
	if d <= 0 {
		return 0
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}

// ExceededError is returned by Limiter.Allow when a client is over its limit.
type ExceededError struct {
	ClientID string
	Result   Result
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit %q exceeded for %s: %d/%d, resets at %s",
		e.Result.Limit.Name, e.ClientID, e.Result.Count, e.Result.Limit.MaxRequests,
		e.Result.ResetAt.UTC().Format(time.RFC3339))
}

func (e *ExceededError) Is(target error) bool { return target == ErrRateLimited }

// Limiter counts requests per client in fixed windows stored in a kv.Store.
// All coordination happens in the store; the limiter holds no locks.
type Limiter struct {
	store  kv.Store
	logger logger.Logger
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns a Limiter counting in store.
func New(store kv.Store, log logger.Logger, opts ...Option) *Limiter {
	l := &Limiter{store: store, logger: log.WithPrefix("[ratelimit]"), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WindowKey is the counter key for clientID in the window starting at start.
func WindowKey(clientID string, start time.Time) string {
	return "ratelimit:" + clientID + ":" + strconv.FormatInt(start.Unix(), 10)
}

// CheckAndIncrement counts one request for clientID against limit. When the
// counter cannot be reached the request is allowed.
func (l *Limiter) CheckAndIncrement(ctx context.Context, clientID string, limit Limit) Result {
	now := l.now()
	res := Result{
		Limit:     limit,
		Allowed:   true,
		checkedAt: now,
	}
	if err := limit.validate(); err != nil {
		l.logger.Error("%s", err)
		res.FailedOpen = true
		res.Remaining = limit.MaxRequests
		res.ResetAt = now
		return res
	}
	start := limit.WindowStart(now)
	res.ResetAt = start.Add(limit.Window)
	count, err := l.store.IncrementWithExpiry(ctx, WindowKey(clientID, start), limit.Window)
	if err != nil {
		if !errors.Is(err, kv.ErrUnavailable) {
			l.logger.Warn("counting request for %s: %v", clientID, err)
		}
		res.FailedOpen = true
		res.Remaining = limit.MaxRequests
		return res
	}
	res.Count = count
	res.Allowed = count <= limit.MaxRequests
	res.Remaining = max(limit.MaxRequests-count, 0)
	if !res.Allowed {
		l.logger.Debug("%s over %s limit: %d/%d", clientID, limit.Name, count, limit.MaxRequests)
	}
	return res
}

// Allow is CheckAndIncrement returning an *ExceededError on denial.
func (l *Limiter) Allow(ctx context.Context, clientID string, limit Limit) error {
	res := l.CheckAndIncrement(ctx, clientID, limit)
	if res.Allowed {
		return nil
	}
	return &ExceededError{ClientID: clientID, Result: res}
}

// Reset clears the current window of clientID for limit.
func (l *Limiter) Reset(ctx context.Context, clientID string, limit Limit) bool {
	if limit.validate() != nil {
		return false
	}
	return l.store.Delete(ctx, WindowKey(clientID, limit.WindowStart(l.now()))) > 0
}
