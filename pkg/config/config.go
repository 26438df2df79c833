// Package config loads transport and kernel defaults from the
// environment, in the validate-with-defaults style of the teacher's
// internal/v1/config package, generalized from a single required-env
// validator to per-transport optional overrides (this kernel has no
// required environment variables — every option has a spec-mandated
// default).
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/relaymesh/kernel/pkg/logging"
)

// LoadDotEnv loads a .env file if present. Missing files are not an
// error: embedding services are expected to configure themselves however
// they like, this is only a convenience for local development.
func LoadDotEnv(path string) {
	_ = godotenv.Load(path)
}

// WebSocketOptions configures the WebSocket transport (spec.md §4.5).
type WebSocketOptions struct {
	Port                int
	Host                string
	Path                string
	HeartbeatIntervalMs int
}

// DefaultWebSocketOptions returns the documented defaults, overridden by
// environment variables when present.
func DefaultWebSocketOptions() WebSocketOptions {
	return WebSocketOptions{
		Port:                envInt("KERNEL_WS_PORT", 7070),
		Host:                envString("KERNEL_WS_HOST", "0.0.0.0"),
		Path:                envString("KERNEL_WS_PATH", ""),
		HeartbeatIntervalMs: envInt("KERNEL_WS_HEARTBEAT_MS", 30000),
	}
}

// MeshOptions configures the peer-mesh transport (spec.md §4.6).
type MeshOptions struct {
	NodeID              string
	Host                string
	Port                int
	Peers               []string
	ReconnectIntervalMs int
}

// DefaultMeshOptions returns the documented defaults. NodeID is left
// empty; the mesh transport generates a fresh UUID when unset.
func DefaultMeshOptions() MeshOptions {
	return MeshOptions{
		Host:                envString("KERNEL_MESH_HOST", "0.0.0.0"),
		Port:                envInt("KERNEL_MESH_PORT", 9090),
		ReconnectIntervalMs: envInt("KERNEL_MESH_RECONNECT_MS", 5000),
	}
}

// LogLevel resolves the kernel-wide log level from KERNEL_LOG_LEVEL,
// defaulting to info.
func LogLevel() logging.Level {
	switch envString("KERNEL_LOG_LEVEL", "info") {
	case "silent":
		return logging.LevelSilent
	case "error":
		return logging.LevelError
	case "debug":
		return logging.LevelDebug
	default:
		return logging.LevelInfo
	}
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
