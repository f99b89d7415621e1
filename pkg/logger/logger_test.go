package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"marketcrawl/pkg/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew(t *testing.T) {
	t.Run("console", func(t *testing.T) {
		l, err := New(&config.LoggingConfig{Level: "info"})
		require.NoError(t, err)
		assert.NotNil(t, l)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "crawl.log")
		l, err := New(&config.LoggingConfig{Level: "debug", File: path})
		require.NoError(t, err)
		assert.NotNil(t, l)
		assert.FileExists(t, path)
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := New(&config.LoggingConfig{Level: "chatty"})
		assert.Error(t, err)
	})
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&config.LoggingConfig{Level: "warn"}, &buf)
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	l.Error("shown too")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "warn", entries[0]["level"])
	assert.Equal(t, "marketcrawl", entries[0]["app"])
}

func TestFieldsAreInherited(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&config.LoggingConfig{Level: "debug"}, &buf)
	require.NoError(t, err)

	parent := l.WithField("target", "44071")
	child := parent.WithFields(map[string]interface{}{
		"range":   "0.1-0.11",
		"records": 3,
		"freeze":  5 * time.Second,
	})
	child.WithError(errors.New("boom")).Info("unit")
	parent.Info("parent")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)

	assert.Equal(t, "44071", entries[0]["target"])
	assert.Equal(t, "0.1-0.11", entries[0]["range"])
	assert.Equal(t, float64(3), entries[0]["records"])
	assert.Equal(t, "boom", entries[0]["error"])

	assert.Equal(t, "44071", entries[1]["target"])
	assert.NotContains(t, entries[1], "range")
}

func TestDomainHelpers(t *testing.T) {
	captured := NewTestLogger()
	SetLogger(captured)
	defer SetLogger(nil)

	LogUnit("1", "full", "Success", 10, nil)
	LogUnit("1", "0.1-0.11", "Failure", 0, errors.New("timeout"))
	LogThrottle("browser", 5*time.Second)
	LogTransition(captured, "1", "Suspect", "Resetting", 1)

	assert.True(t, captured.HasMessage("Work unit completed"))
	warns := captured.GetMessagesByLevel("WARN")
	require.Len(t, warns, 2)
	assert.Equal(t, "0.1-0.11", warns[0].Fields["range"])
	assert.EqualError(t, warns[0].Error, "timeout")
	assert.Equal(t, 5*time.Second, warns[1].Fields["freeze"])

	infos := captured.GetMessagesByLevel("INFO")
	require.Len(t, infos, 1)
	assert.Equal(t, "Resetting", infos[0].Fields["to"])
}

func TestTestLoggerSharesStore(t *testing.T) {
	l := NewTestLogger()
	l.WithField("a", 1).WithField("b", 2).Warn("child")

	msgs := l.GetMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, msgs[0].Fields)

	l.Clear()
	assert.Empty(t, l.GetMessages())
}
