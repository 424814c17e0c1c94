package spider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(2, nil)
	cases := []struct {
		name    string
		status  int
		err     error
		attempt int
		want    bool
	}{
		{"retryable status", 503, errors.New("Service Unavailable"), 0, true},
		{"cloudflare timeout", 524, nil, 1, true},
		{"not found", 404, errors.New("Not Found"), 0, false},
		{"budget spent", 500, nil, 2, false},
		{"network timeout", 0, timeoutErr{}, 0, true},
		{"deadline", 0, context.DeadlineExceeded, 0, true},
		{"canceled", 0, context.Canceled, 0, false},
		{"plain error", 0, errors.New("connection refused"), 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, p.ShouldRetry(tc.status, tc.err, tc.attempt))
		})
	}
}

func TestRetryPolicyCustomCodes(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(1, []int{429})
	require.True(t, p.ShouldRetry(429, nil, 0))
	require.False(t, p.ShouldRetry(503, nil, 0))
}

func TestRetryPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(5, nil)
	for attempt := 0; attempt < 8; attempt++ {
		d := p.Backoff(attempt)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 5*time.Second)
	}
}
