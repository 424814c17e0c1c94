package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(0, func(context.Context) error { return nil }, nil)
	require.Error(t, err)
	_, err = New(time.Second, nil, nil)
	require.Error(t, err)
}

// TestRunStartsImmediately verifies the first run does not wait for a tick.
func TestRunStartsImmediately(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	s, err := New(time.Hour, func(context.Context) error {
		started <- struct{}{}
		return nil
	}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("job did not run immediately")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

// TestRunNeverOverlaps checks that ticks during a slow run are dropped.
func TestRunNeverOverlaps(t *testing.T) {
	t.Parallel()

	var (
		active  atomic.Int32
		maxSeen atomic.Int32
		runs    atomic.Int32
	)
	s, err := New(10*time.Millisecond, func(context.Context) error {
		n := active.Add(1)
		if n > maxSeen.Load() {
			maxSeen.Store(n)
		}
		runs.Add(1)
		time.Sleep(50 * time.Millisecond)
		active.Add(-1)
		return errors.New("transient")
	}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 260*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	require.Equal(t, int32(1), maxSeen.Load())
	require.GreaterOrEqual(t, runs.Load(), int32(2))
	// 260ms of 50ms runs cannot fit more than six, ticks or not.
	require.LessOrEqual(t, runs.Load(), int32(6))
}
