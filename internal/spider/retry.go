package spider

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"
)

// DefaultRetryStatusCodes are the HTTP statuses worth another attempt.
var DefaultRetryStatusCodes = []int{408, 500, 502, 503, 504, 522, 524}

// RetryPolicy retries transient failures with jittered exponential backoff.
type RetryPolicy struct {
	maxRetries  int
	statusCodes map[int]struct{}
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryPolicy builds a policy. A nil codes slice uses DefaultRetryStatusCodes.
func NewRetryPolicy(maxRetries int, codes []int) *RetryPolicy {
	if codes == nil {
		codes = DefaultRetryStatusCodes
	}
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return &RetryPolicy{
		maxRetries:  maxRetries,
		statusCodes: set,
		baseDelay:   250 * time.Millisecond,
		maxDelay:    5 * time.Second,
	}
}

// ShouldRetry decides whether a failed request gets another attempt.
// attempt counts the retries already made.
func (p *RetryPolicy) ShouldRetry(status int, err error, attempt int) bool {
	if attempt >= p.maxRetries {
		return false
	}
	if _, ok := p.statusCodes[status]; ok {
		return true
	}
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Backoff returns the wait duration before the next attempt.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
