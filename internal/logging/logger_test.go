package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Parallel()

	for _, dev := range []bool{true, false} {
		logger, err := New(dev)
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Named("pipeline").Info("logger ready", zap.Bool("development", dev))
		require.NoError(t, Sync(logger))
	}
}

func TestProductionLoggerSkipsDebug(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zap.DebugLevel))

	dev, err := New(true)
	require.NoError(t, err)
	require.True(t, dev.Core().Enabled(zap.DebugLevel))
}

func TestSyncNilLogger(t *testing.T) {
	t.Parallel()

	require.NoError(t, Sync(nil))
	require.NoError(t, Sync(zap.NewNop()))
}
