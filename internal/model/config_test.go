package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:5000", cfg.Server.BaseURL)
	assert.Equal(t, "ws://localhost:5000/socket", cfg.Server.SocketURL)
	assert.Equal(t, 10, cfg.Tasks.PageSize)
	assert.Equal(t, "created-desc", cfg.Tasks.Sort)
	assert.Equal(t, 50, cfg.Notifications.Limit)
}

func TestLoadConfigReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `server:
  base_url: https://tasks.example.com/
tasks:
  page_size: 25
share:
  users:
    - id: "1"
      name: John Doe
      email: john@example.com
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://tasks.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "wss://tasks.example.com/socket", cfg.Server.SocketURL)
	assert.Equal(t, 25, cfg.Tasks.PageSize)
	assert.Equal(t, 30, cfg.Server.TimeoutSec)
	require.Len(t, cfg.Share.Users, 1)
	assert.Equal(t, User{ID: "1", Name: "John Doe", Email: "john@example.com"}, cfg.Share.Users[0])
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("TASKDESK_SERVER_BASE_URL", "http://10.0.0.5:8080")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:8080", cfg.Server.BaseURL)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultAppConfig()
	cfg.Tasks.Sort = "due-asc"

	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "due-asc", loaded.Tasks.Sort)
}

func TestDeriveSocketURL(t *testing.T) {
	assert.Equal(t, "ws://h:1/socket", DeriveSocketURL("http://h:1"))
	assert.Equal(t, "wss://h/api/socket", DeriveSocketURL("https://h/api/"))
	assert.Equal(t, "", DeriveSocketURL("::not a url"))
}
