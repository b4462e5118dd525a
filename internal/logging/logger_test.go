package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"scenecore/internal/config"
)

func observe(t *testing.T, level zapcore.Level) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(level)
	Use(zap.New(core))
	t.Cleanup(func() {
		mu.Lock()
		cfg = config.LoggingConfig{}
		mu.Unlock()
		Use(nil)
	})
	return logs
}

func TestGet_NoopBeforeInitialize(t *testing.T) {
	Use(nil)
	l := Get(CategoryScene)
	// Must not panic
	l.Debug("x %d", 1)
	l.Info("x")
	l.Warn("x")
	l.Error("x")
}

func TestLogger_WritesWithCategoryName(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)

	Get(CategoryCapture).Info("filtered %q", "nice chat")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "capture", entries[0].LoggerName)
	assert.Equal(t, `filtered "nice chat"`, entries[0].Message)
}

func TestLogger_LevelRespected(t *testing.T) {
	logs := observe(t, zapcore.WarnLevel)

	l := Get(CategoryDecoder)
	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")

	assert.Equal(t, 1, logs.Len())
}

func TestGet_CategoryDisabled(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)
	mu.Lock()
	cfg = config.LoggingConfig{Categories: map[string]bool{"scene": false}}
	mu.Unlock()

	Get(CategoryScene).Error("dropped")
	Get(CategorySession).Error("kept")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "session", logs.All()[0].LoggerName)
}

func TestLogger_With(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)

	Get(CategoryConcierge).With("identity", "ava").Info("restored")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ava", entries[0].ContextMap()["identity"])
}

func TestParseLevel(t *testing.T) {
	lvl, err := parseLevel("warning")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = parseLevel("loud")
	assert.Error(t, err)
}

func TestInitialize_RejectsUnknownLevel(t *testing.T) {
	err := Initialize(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestTimer(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)

	timer := StartTimer(CategoryStore, "SaveSnapshot")
	elapsed := timer.Stop()

	assert.GreaterOrEqual(t, elapsed.Nanoseconds(), int64(0))
	assert.Equal(t, 1, logs.FilterMessageSnippet("SaveSnapshot completed").Len())
}
