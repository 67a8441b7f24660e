package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "support-chat", cfg.Server.RedisChannel)
	assert.Equal(t, 500*time.Millisecond, cfg.Client.SettleDelay.Duration())
	assert.Equal(t, 3*time.Second, cfg.Client.ReconnectInterval.Duration())
	assert.Equal(t, 3*time.Second, cfg.Client.TypingInterval.Duration())
	assert.Equal(t, "constant", cfg.Client.Backoff)
}

func TestYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livechat.yaml")
	yml := `
server:
  addr: ":9000"
  redis_addr: "redis:6379"
  rate_limit: 5
client:
  reconnect_interval: 2
  settle_delay: 250ms
  backoff: exponential
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	t.Setenv("ADDR", ":9100")
	t.Setenv("LIVECHAT_TYPING_INTERVAL", "1s")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Addr, "env wins over file")
	assert.Equal(t, "redis:6379", cfg.Server.RedisAddr)
	assert.Equal(t, 5.0, cfg.Server.RateLimit)
	assert.Equal(t, 40, cfg.Server.RateBurst, "unset keys keep their defaults")
	assert.Equal(t, 2*time.Second, cfg.Client.ReconnectInterval.Duration())
	assert.Equal(t, 250*time.Millisecond, cfg.Client.SettleDelay.Duration())
	assert.Equal(t, time.Second, cfg.Client.TypingInterval.Duration())
	assert.Equal(t, "exponential", cfg.Client.Backoff)
	assert.Equal(t, slog.LevelDebug, cfg.Logging.SlogLevel())
}

func TestInvalidValues(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
	t.Run("bad duration in file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("client:\n  settle_delay: soon\n"), 0644))
		_, err := LoadFile(path)
		assert.Error(t, err)
	})
	t.Run("bad env int", func(t *testing.T) {
		t.Setenv("LIVECHAT_RATE_BURST", "lots")
		_, err := LoadFile("")
		assert.ErrorContains(t, err, "LIVECHAT_RATE_BURST")
	})
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	log := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	log.Debug("hidden")
	log.Info("relay started", "addr", ":8080")

	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, stderr.String(), "relay started")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(file.Bytes()), &rec))
	assert.Equal(t, "relay started", rec["msg"])
	assert.Equal(t, ":8080", rec["addr"])
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.log")
	log, cleanup := SetupLogger(LoggingConfig{File: path, Level: "info"})
	log.Info("hello")
	require.NoError(t, cleanup())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), `"msg":"hello"`))
}
