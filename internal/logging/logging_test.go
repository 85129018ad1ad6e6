package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New("debug", true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	entry := logger.Check(zapcore.DebugLevel, "development logger ready")
	require.NotNil(t, entry, "debug level must be enabled")
	assert.Equal(t, "sitemapper", entry.LoggerName)
	entry.Write()
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New("", false)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	assert.Nil(t, logger.Check(zapcore.DebugLevel, "suppressed"),
		"default level is info")
	if entry := logger.Check(zapcore.InfoLevel, "production logger ready"); assert.NotNil(t, entry) {
		entry.Write()
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, err := New("shouty", false)
	require.Error(t, err)
}
