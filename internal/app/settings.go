package app

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/credential"
	"github.com/nhle/taskdesk/internal/model"
	configview "github.com/nhle/taskdesk/internal/ui/config"
	"github.com/nhle/taskdesk/internal/ui/detail"
	"github.com/nhle/taskdesk/internal/ui/login"
	"github.com/nhle/taskdesk/internal/view"
)

// settingsSavedMsg is sent after the settings file was written.
type settingsSavedMsg struct {
	cfg model.AppConfig
	err error
}

// pingServer checks a candidate server URL without a credential.
func pingServer(cfg *model.AppConfig) configview.PingFunc {
	return func(ctx context.Context, baseURL string) error {
		c := api.NewClient(baseURL, nil,
			api.WithTimeout(time.Duration(cfg.Server.TimeoutSec)*time.Second),
			api.WithMaxRetries(0),
		)
		return c.Ping(ctx)
	}
}

func (m Model) saveSettings(cfg model.AppConfig) tea.Cmd {
	path := m.deps.ConfigPath
	return func() tea.Msg {
		if path == "" {
			return settingsSavedMsg{cfg: cfg}
		}
		return settingsSavedMsg{cfg: cfg, err: model.SaveConfig(path, &cfg)}
	}
}

// applySettings makes the edited configuration live. A new server ends the
// session; otherwise the list is reloaded with the new page size and order.
func (m Model) applySettings(msg settingsSavedMsg) (tea.Model, tea.Cmd) {
	cfg := msg.cfg
	serverChanged := cfg.Server.BaseURL != m.deps.Config.Server.BaseURL
	*m.deps.Config = cfg

	if key, ok := view.ParseSortKey(cfg.Tasks.Sort); ok {
		m.sortKey = key
	}

	if msg.err != nil {
		m.log.Warnw("saving settings", "error", msg.err)
		m.setStatus(fmt.Sprintf("Settings applied but not saved: %v", msg.err), true)
	} else {
		m.setStatus("Settings saved", false)
	}

	if serverChanged {
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.detail = detail.New(m.keys, cfg.Server.BaseURL, w, h)
		m.loginView = login.New(cfg.Server.BaseURL, w, h)
		if m.scope == nil {
			m.deps.TokenKey = credential.TokenKey(cfg.Server.BaseURL)
			return m, m.loginView.Init()
		}
		// The old token belongs to the old server; forget it before
		// switching keys.
		next, cmd := m.logout("Server changed, sign in again", false)
		nm := next.(Model)
		nm.deps.TokenKey = credential.TokenKey(cfg.Server.BaseURL)
		return nm, cmd
	}

	if m.scope == nil {
		return m, nil
	}
	scope, pageSize := m.scope, cfg.Tasks.PageSize
	reload := func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		snap := scope.Tasks.Snapshot()
		return tasksLoadedMsg{scope: scope, err: scope.Tasks.LoadPage(ctx, snap.Filter, 1, pageSize)}
	}
	return m, tea.Batch(m.refreshList(), reload)
}
