// Package ratelimit implements a fixed-window request limiter.
//
// Time is cut into windows aligned to the unix epoch; each client has one
// counter per window, created by the first request and expiring with the
// window. A request is denied once the counter exceeds the limit's
// MaxRequests. If the store holding the counters cannot be reached the
// limiter allows the request, so an outage of the store never blocks traffic.
package ratelimit
