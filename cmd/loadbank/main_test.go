package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/KevinKickass/OpenLoadbank/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFollowsRedirect(t *testing.T) {
	var before, after bytes.Buffer
	out := newLogOutput(&before)

	logger, err := newLogger(config.LoggingConfig{Level: "info"}, out)
	require.NoError(t, err)

	logger.Info("first")
	out.Redirect(&after)
	logger.Info("second")
	logger.Debug("hidden")

	assert.Contains(t, before.String(), `"msg":"first"`)
	assert.NotContains(t, before.String(), "second")
	assert.Contains(t, after.String(), `"msg":"second"`)
	assert.NotContains(t, after.String(), "hidden")
	assert.NoError(t, out.Sync())
}

func TestLoggerDevelopmentEncoding(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.LoggingConfig{Level: "debug", Development: true}, newLogOutput(&buf))
	require.NoError(t, err)

	logger.Debug("tick")
	line := buf.String()
	assert.True(t, strings.Contains(line, "DEBUG") && strings.Contains(line, "tick"))
	assert.False(t, strings.HasPrefix(line, "{"))
}

func TestLoggerBadLevel(t *testing.T) {
	_, err := newLogger(config.LoggingConfig{Level: "loud"}, newLogOutput(&bytes.Buffer{}))
	assert.Error(t, err)
}
