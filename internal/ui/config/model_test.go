package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/taskdesk/internal/model"
)

func TestBuildAppliesFormValues(t *testing.T) {
	cfg := model.DefaultAppConfig()
	cfg.Normalize()
	cfg.Share.Users = []model.User{{ID: "9", Name: "Kept"}}

	m := New(nil, 80, 24)
	m.Start(*cfg)
	m.fb.baseURL = "https://tasks.example.com/"
	m.fb.pageSize = "25"
	m.fb.sort = "due-asc"
	m.fb.notifLimit = "0"

	got := m.Build()
	assert.Equal(t, "https://tasks.example.com", got.Server.BaseURL)
	assert.Equal(t, "wss://tasks.example.com/socket", got.Server.SocketURL)
	assert.Equal(t, 25, got.Tasks.PageSize)
	assert.Equal(t, "due-asc", got.Tasks.Sort)
	assert.Equal(t, 50, got.Notifications.Limit)
	assert.Equal(t, cfg.Share.Users, got.Share.Users)
}

func TestBuildKeepsSocketURLForSameServer(t *testing.T) {
	cfg := model.DefaultAppConfig()
	cfg.Server.SocketURL = "ws://push.internal/socket"

	m := New(nil, 80, 24)
	m.Start(*cfg)

	assert.Equal(t, "ws://push.internal/socket", m.Build().Server.SocketURL)
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, validateURL("http://localhost:5000"))
	assert.Error(t, validateURL(""))
	assert.Error(t, validateURL("localhost:5000"))
	assert.Error(t, validateURL("ftp://example.com"))
}
