package proxylog

import (
	"github.com/go-kit/log"
	"golang.org/x/time/rate"
)

// RateLimitedLogger drops log lines once more than n have been emitted in
// the current second, so a socket stuck repeatedly hitting the same
// system-call error cannot flood the log file.
type RateLimitedLogger struct {
	next    log.Logger
	limiter *rate.Limiter
}

// NewRateLimitedLogger wraps next, allowing at most n log calls per
// second with a burst of n.
func NewRateLimitedLogger(n int, next log.Logger) *RateLimitedLogger {
	return &RateLimitedLogger{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(n), n),
	}
}

// Log implements log.Logger; calls beyond the rate are silently dropped.
func (r *RateLimitedLogger) Log(keyvals ...interface{}) error {
	if !r.limiter.Allow() {
		return nil
	}
	return r.next.Log(keyvals...)
}
