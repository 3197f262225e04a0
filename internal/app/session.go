package app

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/auth"
	"github.com/nhle/taskdesk/internal/credential"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/session"
	tasksync "github.com/nhle/taskdesk/internal/sync"
)

// storedTokenMsg carries the token found in the credential store, or "".
type storedTokenMsg struct {
	token string
}

// loginFailedMsg is sent when sign-in or session start fails.
type loginFailedMsg struct {
	err error
}

// sessionStartedMsg is sent once a new scope is ready.
type sessionStartedMsg struct {
	scope *session.Scope
}

// loggedOutMsg is sent after the previous scope has been torn down.
type loggedOutMsg struct{}

// usersLoadedMsg carries the share directory for display names.
type usersLoadedMsg struct {
	scope *session.Scope
	users []model.User
}

// pumpMsg wraps a message from a scope's pump so stale deliveries from an
// ended session can be told apart.
type pumpMsg struct {
	scope *session.Scope
	msg   tea.Msg
}

// resumeStoredSession looks up a saved token and starts a session with it.
func (m Model) resumeStoredSession() tea.Cmd {
	tokens, key, log := m.deps.Tokens, m.deps.TokenKey, m.log
	if tokens == nil {
		return func() tea.Msg { return storedTokenMsg{} }
	}
	return func() tea.Msg {
		token, err := tokens.Get(key)
		if err != nil && !errors.Is(err, credential.ErrNotFound) {
			log.Warnw("reading stored token", "error", err)
		}
		return storedTokenMsg{token: token}
	}
}

// authenticate exchanges credentials for a token, stores it, and starts the
// session.
func (m Model) authenticate(email, password string) tea.Cmd {
	d, log := m.deps, m.log
	timeout := time.Duration(d.Config.Server.TimeoutSec) * time.Second
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		token, err := d.Sessions.Authenticate(ctx, email, password)
		if err != nil {
			return loginFailedMsg{err: err}
		}
		if d.Tokens != nil {
			if err := d.Tokens.Set(d.TokenKey, token); err != nil {
				log.Warnw("storing token", "error", err)
			}
		}
		return startSession(d.Sessions, token)
	}
}

func (m Model) startSession(token string) tea.Cmd {
	sessions := m.deps.Sessions
	return func() tea.Msg { return startSession(sessions, token) }
}

func startSession(sessions *session.Manager, token string) tea.Msg {
	scope, err := sessions.Login(token)
	if err != nil {
		return loginFailedMsg{err: err}
	}
	if scope.Session.Expired() {
		sessions.Logout()
		return loginFailedMsg{err: auth.ErrTokenExpired}
	}
	return sessionStartedMsg{scope: scope}
}

// logout drops the scope at once so late results are ignored, then tears
// it down and forgets the stored token.
func (m Model) logout(reason string, isError bool) (tea.Model, tea.Cmd) {
	m.scope = nil
	m.detailID = ""
	m.deleting = ""
	m.channelState = tasksync.ChannelIdle.String()
	m.currentView = ViewLogin
	m.setStatus(reason, isError)

	d, log := m.deps, m.log
	teardown := func() tea.Msg {
		d.Sessions.Logout()
		if d.Tokens != nil {
			if err := d.Tokens.Delete(d.TokenKey); err != nil {
				log.Warnw("deleting stored token", "error", err)
			}
		}
		return loggedOutMsg{}
	}
	return m, tea.Batch(teardown, m.loginView.Reset())
}

func (m Model) handleSessionMsg(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case storedTokenMsg:
		if msg.token == "" {
			return m, nil
		}
		m.setStatus("Resuming session...", false)
		return m, m.startSession(msg.token)

	case loginFailedMsg:
		m.log.Infow("sign-in failed", "error", msg.err)
		m.setStatus("", false)
		if d := m.deps; d.Tokens != nil {
			if err := d.Tokens.Delete(d.TokenKey); err != nil {
				m.log.Warnw("deleting stored token", "error", err)
			}
		}
		return m, m.loginView.SetError(errors.New(describeError(msg.err)))

	case sessionStartedMsg:
		m.scope = msg.scope
		m.currentView = ViewList
		m.taskList.SetLoading(true)
		m.setStatus("", false)
		msg.scope.Pump.Start()
		return m, tea.Batch(
			waitPump(msg.scope),
			m.loadTasks(),
			m.loadNotifications(),
			m.loadUsers(),
		)

	case loggedOutMsg:
		return m, nil

	case usersLoadedMsg:
		if msg.scope == m.scope {
			m.detail.SetUsers(msg.users)
		}
		return m, nil
	}
	return m, nil
}

// waitPump waits for the next pump message of scope.
func waitPump(scope *session.Scope) tea.Cmd {
	wait := scope.Pump.WaitForNextResult()
	return func() tea.Msg {
		msg := wait()
		if msg == nil {
			return nil
		}
		return pumpMsg{scope: scope, msg: msg}
	}
}

func (m Model) handlePumpMsg(pm pumpMsg) (tea.Model, tea.Cmd) {
	next := waitPump(pm.scope)

	switch msg := pm.msg.(type) {
	case tasksync.TasksChangedMsg:
		return m, tea.Batch(m.refreshList(), next)

	case tasksync.PushMsg:
		m.notifView.SetSnapshot(m.scope.Notifications.Snapshot())
		if m.currentView != ViewNotifications {
			m.setStatus("🔔 "+msg.Notification.Message, false)
		}
		return m, next

	case tasksync.ChannelStatusMsg:
		m.channelState = msg.Status.State.String()
		if msg.Status.State == tasksync.ChannelLive {
			// Pushes may have been missed while offline.
			return m, tea.Batch(m.loadNotifications(), next)
		}
		return m, next

	case tasksync.AuthErrorMsg:
		return m.logout("Session expired, sign in again", true)
	}
	return m, next
}

func (m Model) loadUsers() tea.Cmd {
	scope, log := m.scope, m.log
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		users, err := scope.Directory.Users(ctx)
		if err != nil {
			if !api.IsAuthError(err) {
				log.Warnw("loading users", "error", err)
			}
			return nil
		}
		return usersLoadedMsg{scope: scope, users: users}
	}
}
