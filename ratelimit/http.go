package ratelimit

import (
	"net/http"
	"strconv"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Headers renders the result as response headers. Retry-After is only set
// for denied requests.
func (r Result) Headers() http.Header {
	h := make(http.Header, 4)
	h.Set(HeaderLimit, strconv.FormatInt(r.Limit.MaxRequests, 10))
	h.Set(HeaderRemaining, strconv.FormatInt(r.Remaining, 10))
	h.Set(HeaderReset, strconv.FormatInt(r.ResetAt.Unix(), 10))
	if !r.Allowed {
		h.Set(HeaderRetryAfter, strconv.FormatInt(int64(r.RetryAfter().Seconds()), 10))
	}
	return h
}

// IdentifyFunc returns the client identity of a request.
type IdentifyFunc func(*http.Request) string

// Middleware rejects requests over limit with 429 Too Many Requests. Requests
// for which identify returns an empty string are not counted.
func Middleware(l *Limiter, limit Limit, identify IdentifyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := identify(r)
			if client == "" {
				next.ServeHTTP(w, r)
				return
			}
			res := l.CheckAndIncrement(r.Context(), client, limit)
			if !res.FailedOpen {
				for k, v := range res.Headers() {
					w.Header()[k] = v
				}
			}
			if !res.Allowed {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
