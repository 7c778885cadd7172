package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestNew_AtomicLevel(t *testing.T) {
	logger, atom, err := New("info", "console", "firewatch-test")
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	atom.SetLevel(zapcore.DebugLevel)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
