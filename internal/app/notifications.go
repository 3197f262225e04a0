package app

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/taskdesk/internal/session"
)

// notificationsLoadedMsg is sent after the initial notification load.
type notificationsLoadedMsg struct {
	scope *session.Scope
	err   error
}

// notificationChangedMsg is sent after a mark-read or remove settles.
type notificationChangedMsg struct {
	scope *session.Scope
	err   error
}

func (m Model) loadNotifications() tea.Cmd {
	scope, limit := m.scope, m.deps.Config.Notifications.Limit
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return notificationsLoadedMsg{scope: scope, err: scope.Notifications.LoadInitial(ctx, limit)}
	}
}

func (m Model) markRead(id string) tea.Cmd {
	scope := m.scope
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return notificationChangedMsg{scope: scope, err: scope.Notifications.MarkRead(ctx, id)}
	}
}

func (m Model) markAllRead() tea.Cmd {
	scope := m.scope
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return notificationChangedMsg{scope: scope, err: scope.Notifications.MarkAllRead(ctx)}
	}
}

func (m Model) removeNotification(id string) tea.Cmd {
	scope := m.scope
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return notificationChangedMsg{scope: scope, err: scope.Notifications.Remove(ctx, id)}
	}
}

func (m Model) handleNotificationMsg(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		scope *session.Scope
		err   error
	)
	switch msg := msg.(type) {
	case notificationsLoadedMsg:
		scope, err = msg.scope, msg.err
	case notificationChangedMsg:
		scope, err = msg.scope, msg.err
	}
	if scope == nil || scope != m.scope {
		return m, nil
	}

	m.notifView.SetSnapshot(m.scope.Notifications.Snapshot())
	if err != nil {
		return m.failed(err)
	}
	return m, nil
}
