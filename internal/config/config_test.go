package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "scenecore" {
		t.Errorf("expected Name=scenecore, got %s", cfg.Name)
	}
	if cfg.Agent.Mode != "simulated" {
		t.Errorf("expected Mode=simulated, got %s", cfg.Agent.Mode)
	}
	if cfg.Scene.BaselineSetting != "studio" {
		t.Errorf("expected BaselineSetting=studio, got %s", cfg.Scene.BaselineSetting)
	}
	if cfg.Capture.MinBodyLength != 12 {
		t.Errorf("expected MinBodyLength=12, got %d", cfg.Capture.MinBodyLength)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("SCENECORE_DB", "")
	t.Setenv("SCENECORE_LOG_LEVEL", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Scene.BaselineSetting = "spa"
	cfg.Session.FlushConcurrency = 9

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "spa", loaded.Scene.BaselineSetting)
	assert.Equal(t, 9, loaded.Session.FlushConcurrency)
	assert.Equal(t, cfg.Scene.FallbackGradient, loaded.Scene.FallbackGradient)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Scene, cfg.Scene)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scene: [unterminated"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("SCENECORE_DB enables persistence", func(t *testing.T) {
		t.Setenv("SCENECORE_DB", "/tmp/x.db")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/tmp/x.db", cfg.Session.DatabasePath)
		assert.True(t, cfg.Session.Persist)
	})

	t.Run("log level and agent mode", func(t *testing.T) {
		t.Setenv("SCENECORE_LOG_LEVEL", "debug")
		t.Setenv("SCENECORE_AGENT_MODE", "live")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "live", cfg.Agent.Mode)
	})

	t.Run("invalid min body length ignored", func(t *testing.T) {
		t.Setenv("SCENECORE_MIN_BODY_LENGTH", "lots")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 12, cfg.Capture.MinBodyLength)
	})
}

func TestGetAgentTimeout(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 45*time.Second, cfg.GetAgentTimeout())

	cfg.Agent.Timeout = "nonsense"
	assert.Equal(t, 45*time.Second, cfg.GetAgentTimeout())

	cfg.Agent.Timeout = "2s"
	assert.Equal(t, 2*time.Second, cfg.GetAgentTimeout())
}

func TestLoggingConfig_IsCategoryEnabled(t *testing.T) {
	c := LoggingConfig{}
	assert.True(t, c.IsCategoryEnabled("scene"))

	c.Categories = map[string]bool{"scene": false}
	assert.False(t, c.IsCategoryEnabled("scene"))
	assert.True(t, c.IsCategoryEnabled("capture"))
}

func TestWatch_FiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fired atomic.Int32
	require.NoError(t, Watch(ctx, path, func(string) { fired.Add(1) }))

	require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0644))

	assert.Eventually(t, func() bool { return fired.Load() > 0 }, 5*time.Second, 20*time.Millisecond)
}
