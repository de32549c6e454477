package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New("warn", true)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel), "info should be disabled at warn level")
	assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel), "error should be enabled at warn level")

	_, err = New("", false)
	assert.NoError(t, err, "empty level should default to info")

	_, err = New("loud", false)
	assert.Error(t, err)
}
