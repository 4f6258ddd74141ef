package collyfetcher

import (
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"time"
)

var retryableStatus = map[int]struct{}{
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// RetryPolicy implements bounded exponential backoff with jitter.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryPolicy builds a policy, filling zero values with defaults
// (3 attempts, 100ms base, 2s cap).
func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &RetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// MaxAttempts is the total attempt budget, first try included.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether a failed attempt may be repeated. status is the
// response code (0 when no response arrived) and err the transport failure.
func (p *RetryPolicy) ShouldRetry(status int, err error, attempt int) bool {
	if attempt >= p.maxAttempts {
		return false
	}
	if status != 0 {
		_, ok := retryableStatus[status]
		return ok
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// Backoff returns the wait before the attempt following attempt (1-based).
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

// IsRetryableStatus reports whether code is one of the transient statuses.
func IsRetryableStatus(code int) bool {
	_, ok := retryableStatus[code]
	return ok
}

func (p *RetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
