package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaymesh/kernel/pkg/logging"
)

func TestDefaultWebSocketOptionsUsesDocumentedDefaults(t *testing.T) {
	opts := DefaultWebSocketOptions()
	assert.Equal(t, 7070, opts.Port)
	assert.Equal(t, "0.0.0.0", opts.Host)
	assert.Equal(t, "", opts.Path)
	assert.Equal(t, 30000, opts.HeartbeatIntervalMs)
}

func TestDefaultWebSocketOptionsHonorsEnvOverrides(t *testing.T) {
	t.Setenv("KERNEL_WS_PORT", "9999")
	t.Setenv("KERNEL_WS_HOST", "127.0.0.1")
	t.Setenv("KERNEL_WS_PATH", "/ws")
	t.Setenv("KERNEL_WS_HEARTBEAT_MS", "1000")

	opts := DefaultWebSocketOptions()
	assert.Equal(t, 9999, opts.Port)
	assert.Equal(t, "127.0.0.1", opts.Host)
	assert.Equal(t, "/ws", opts.Path)
	assert.Equal(t, 1000, opts.HeartbeatIntervalMs)
}

func TestDefaultWebSocketOptionsIgnoresMalformedEnvInt(t *testing.T) {
	t.Setenv("KERNEL_WS_PORT", "not-a-number")

	opts := DefaultWebSocketOptions()
	assert.Equal(t, 7070, opts.Port)
}

func TestDefaultMeshOptionsUsesDocumentedDefaults(t *testing.T) {
	opts := DefaultMeshOptions()
	assert.Equal(t, "", opts.NodeID)
	assert.Equal(t, "0.0.0.0", opts.Host)
	assert.Equal(t, 9090, opts.Port)
	assert.Equal(t, 5000, opts.ReconnectIntervalMs)
}

func TestDefaultMeshOptionsHonorsEnvOverrides(t *testing.T) {
	t.Setenv("KERNEL_MESH_HOST", "10.0.0.1")
	t.Setenv("KERNEL_MESH_PORT", "9091")
	t.Setenv("KERNEL_MESH_RECONNECT_MS", "2500")

	opts := DefaultMeshOptions()
	assert.Equal(t, "10.0.0.1", opts.Host)
	assert.Equal(t, 9091, opts.Port)
	assert.Equal(t, 2500, opts.ReconnectIntervalMs)
}

func TestLogLevelDefaultsToInfo(t *testing.T) {
	assert.Equal(t, logging.LevelInfo, LogLevel())
}

func TestLogLevelHonorsEnv(t *testing.T) {
	cases := map[string]logging.Level{
		"silent": logging.LevelSilent,
		"error":  logging.LevelError,
		"debug":  logging.LevelDebug,
		"info":   logging.LevelInfo,
		"bogus":  logging.LevelInfo,
		"":       logging.LevelInfo,
	}
	for env, want := range cases {
		t.Setenv("KERNEL_LOG_LEVEL", env)
		assert.Equal(t, want, LogLevel(), "KERNEL_LOG_LEVEL=%q", env)
	}
}

func TestLoadDotEnvMissingFileIsNotFatal(t *testing.T) {
	assert.NotPanics(t, func() { LoadDotEnv("/nonexistent/path/.env") })
}
