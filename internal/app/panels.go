package app

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/session"
	"github.com/nhle/taskdesk/internal/view"
)

// shareOpenedMsg is sent once the share candidates are loaded.
type shareOpenedMsg struct {
	scope *session.Scope
	err   error
}

// sharedMsg is sent after the share request settles.
type sharedMsg struct {
	scope *session.Scope
	count int
	err   error
}

// overviewMsg carries the dashboard numbers.
type overviewMsg struct {
	scope    *session.Scope
	overview view.Overview
	err      error
}

func (m Model) openShare(t model.Task) tea.Cmd {
	scope := m.scope
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return shareOpenedMsg{scope: scope, err: scope.Share.Open(ctx, t, scope.Directory)}
	}
}

func (m Model) confirmShare() tea.Cmd {
	scope := m.scope
	if scope == nil {
		return nil
	}
	count := len(scope.Share.Selected())
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		_, err := scope.Share.ConfirmShare(ctx)
		return sharedMsg{scope: scope, count: count, err: err}
	}
}

func (m Model) loadOverview() tea.Cmd {
	scope, period := m.scope, m.dashboardView.Period()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		o, err := scope.Overview(ctx, period)
		return overviewMsg{scope: scope, overview: o, err: err}
	}
}

func (m Model) handlePanelMsg(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case shareOpenedMsg:
		if msg.scope != m.scope {
			return m, nil
		}
		if msg.err != nil {
			return m.failed(msg.err)
		}
		m.open(ViewShare)
		return m, m.shareView.Start(m.scope.Share)

	case sharedMsg:
		if msg.scope != m.scope || ignorable(msg.err) {
			return m, nil
		}
		if msg.err != nil {
			if isAuthFailure(msg.err) {
				return m.failed(msg.err)
			}
			m.shareView.SetError(errors.New(describeError(msg.err)))
			return m, nil
		}
		m.currentView = m.previousView
		m.setStatus(fmt.Sprintf("Shared with %d user(s)", msg.count), false)
		return m, m.refreshList()

	case overviewMsg:
		if msg.scope != m.scope || ignorable(msg.err) {
			return m, nil
		}
		if msg.err != nil {
			if isAuthFailure(msg.err) {
				return m.failed(msg.err)
			}
			m.dashboardView.SetError(errors.New(describeError(msg.err)))
			return m, nil
		}
		m.dashboardView.SetOverview(msg.overview)
		return m, nil
	}
	return m, nil
}
