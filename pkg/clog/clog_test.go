package clog

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/require"
)

func TestHandlerFormatsSortedFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, log.InfoLevel)
	logger.Handler.(*Handler).now = func() time.Time {
		return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	}

	logger.WithFields(log.Fields{"slot": "abc", "mod_id": 3}).Info("chunk stored")
	logger.Debug("dropped")

	line := buf.String()
	require.True(t, strings.HasPrefix(line, " INFO 2024-01-02 03:04:05 chunk stored"))
	require.Contains(t, line, "mod_id=3 slot=abc")
	require.NotContains(t, line, "dropped")
}

func TestNewFromLevelString(t *testing.T) {
	_, err := NewFromLevelString(&bytes.Buffer{}, "loud")
	require.Error(t, err)

	var buf bytes.Buffer
	logger, err := NewFromLevelString(&buf, "debug")
	require.NoError(t, err)
	For(logger, "registry").Debug("visible")
	require.Contains(t, buf.String(), "component=registry")
}
