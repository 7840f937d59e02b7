package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8888, c.Server.Port)
	assert.Equal(t, 9999, c.Relay.Port)
	assert.Equal(t, 5*time.Minute, c.Relay.StaleAfter)
	assert.Equal(t, 10*time.Second, c.Client.ConnectTimeout)
	assert.Equal(t, 45*time.Second, c.Client.HeartbeatTimeout)
	assert.Equal(t, "none", c.Storage.Backend)
	assert.Equal(t, 3, c.AI.MaxAttempts)
	assert.Equal(t, 5, c.AI.FailureThreshold)
	assert.Equal(t, "petchat", c.NATS.Prefix)
	assert.Equal(t, "info", c.Log.Level)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "petchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7001
  admin_port: 7002
ai:
  provider: openai
  model: gpt-4o-mini
  temperature: 0.7
storage:
  backend: sqlite
  path: /tmp/chat.db
log:
  level: debug
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7001, c.Server.Port)
	assert.Equal(t, 7002, c.Server.AdminPort)
	assert.Equal(t, "openai", c.AI.Provider)
	assert.Equal(t, 0.7, c.AI.Temperature)
	assert.Equal(t, "sqlite", c.Storage.Backend)
	assert.Equal(t, "/tmp/chat.db", c.Storage.Path)
	assert.Equal(t, "debug", c.Log.Level)
	// 未覆盖的键保持默认
	assert.Equal(t, 9999, c.Relay.Port)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PETCHAT_SERVER_PORT", "6001")
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 6001, c.Server.Port)
}
