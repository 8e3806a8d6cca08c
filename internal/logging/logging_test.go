package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/agenthands/partgraph/internal/config"
)

func TestNewHonorsLevel(t *testing.T) {
	logger, err := New(config.LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewDevelopmentDefaultsToDebug(t *testing.T) {
	logger, err := New(config.LogConfig{Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "chatty"})
	assert.ErrorContains(t, err, "invalid log level")
}
