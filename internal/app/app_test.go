package app

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/credential"
	"github.com/nhle/taskdesk/internal/devserver"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/session"
	tasksync "github.com/nhle/taskdesk/internal/sync"
	"github.com/nhle/taskdesk/internal/tasks"
)

type memTokens map[string]string

func (m memTokens) Get(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", credential.ErrNotFound
	}
	return v, nil
}

func (m memTokens) Set(key, value string) error {
	m[key] = value
	return nil
}

func (m memTokens) Delete(key string) error {
	delete(m, key)
	return nil
}

const tokenKey = "token:test"

func newTestApp(t *testing.T) (Model, *devserver.Server, memTokens) {
	t.Helper()
	store, err := devserver.OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, devserver.Seed(context.Background(), store))

	srv := devserver.New(store, devserver.WithUploadDir(t.TempDir()))
	ts := httptest.NewServer(srv.Handler())

	cfg := model.DefaultAppConfig()
	cfg.Server.BaseURL = ts.URL
	cfg.Server.SocketURL = model.DeriveSocketURL(ts.URL)
	cfg.Server.TimeoutSec = 5
	cfg.Server.RatePerSec = 0

	mgr := session.NewManager(cfg, nil)
	t.Cleanup(func() {
		mgr.Logout()
		srv.CloseSockets()
		ts.Close()
	})

	tokens := memTokens{}
	m := New(Deps{Config: cfg, Sessions: mgr, Tokens: tokens, TokenKey: tokenKey})
	m = update(t, m, tea.WindowSizeMsg{Width: 140, Height: 40})
	return m, srv, tokens
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func press(t *testing.T, m Model, k string) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)})
	return next.(Model), cmd
}

// signIn logs in as the first demo user and loads the task list.
func signIn(t *testing.T, m Model) Model {
	t.Helper()
	u := devserver.DemoUsers[0]
	msg := m.authenticate(u.Email, devserver.DemoPassword)()
	started, ok := msg.(sessionStartedMsg)
	require.True(t, ok, "got %T", msg)

	m = update(t, m, started)
	return update(t, m, m.loadTasks()())
}

func TestSignInStoresTokenAndShowsTasks(t *testing.T) {
	m, _, tokens := newTestApp(t)
	assert.Equal(t, ViewLogin, m.currentView)

	m = signIn(t, m)

	assert.Equal(t, ViewList, m.currentView)
	assert.NotEmpty(t, tokens[tokenKey])
	assert.Contains(t, m.View(), "Write release notes")
	assert.Contains(t, m.View(), "taskdesk · 1")
}

func TestWrongPasswordStaysOnLogin(t *testing.T) {
	m, _, tokens := newTestApp(t)

	msg := m.authenticate(devserver.DemoUsers[0].Email, "wrong")()
	require.IsType(t, loginFailedMsg{}, msg)

	m = update(t, m, msg)
	assert.Equal(t, ViewLogin, m.currentView)
	assert.Nil(t, m.scope)
	assert.Empty(t, tokens)
	assert.Contains(t, m.View(), "Not authorized")
}

func TestStoredTokenResumesSession(t *testing.T) {
	m, srv, tokens := newTestApp(t)
	token, err := srv.IssueToken("2", time.Hour)
	require.NoError(t, err)
	tokens[tokenKey] = token

	next, cmd := m.Update(m.resumeStoredSession()())
	require.NotNil(t, cmd)
	m = update(t, next.(Model), cmd())

	assert.Equal(t, ViewList, m.currentView)
	require.NotNil(t, m.scope)
	assert.Equal(t, "2", m.scope.Session.UserID())
}

func TestExpiredStoredTokenIsForgotten(t *testing.T) {
	m, srv, tokens := newTestApp(t)
	token, err := srv.IssueToken("2", -time.Hour)
	require.NoError(t, err)
	tokens[tokenKey] = token

	next, cmd := m.Update(m.resumeStoredSession()())
	require.NotNil(t, cmd)
	msg := cmd()
	require.IsType(t, loginFailedMsg{}, msg)

	m = update(t, next.(Model), msg)
	assert.Equal(t, ViewLogin, m.currentView)
	assert.Empty(t, tokens)
	assert.Nil(t, m.deps.Sessions.Current())
}

func TestResultsFromEndedScopeAreDropped(t *testing.T) {
	m, _, _ := newTestApp(t)
	m = signIn(t, m)
	old := m.scope

	m, _ = press(t, m, "L")
	assert.Equal(t, ViewLogin, m.currentView)
	assert.Nil(t, m.scope)

	next, cmd := m.Update(tasksLoadedMsg{scope: old, err: errors.New("late failure")})
	assert.Nil(t, cmd)
	assert.Equal(t, "Signed out", next.(Model).status)

	next, cmd = m.Update(pumpMsg{scope: old, msg: tasksync.AuthErrorMsg{Message: "late"}})
	assert.Nil(t, cmd)
	assert.Equal(t, ViewLogin, next.(Model).currentView)
}

func TestDeleteNeedsConfirmation(t *testing.T) {
	m, _, _ := newTestApp(t)
	m = signIn(t, m)

	target, ok := m.taskList.SelectedTask()
	require.True(t, ok)

	m, cmd := press(t, m, "d")
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "Delete \""+target.Title+"\"?")

	m, cmd = press(t, m, "y")
	require.NotNil(t, cmd)
	m = update(t, m, cmd())

	_, still := m.scope.Tasks.Get(target.ID)
	assert.False(t, still)
	assert.Equal(t, "Deleted", m.status)
}

func TestCancelledDeleteKeepsTask(t *testing.T) {
	m, _, _ := newTestApp(t)
	m = signIn(t, m)
	target, _ := m.taskList.SelectedTask()

	m, _ = press(t, m, "d")
	m, cmd := press(t, m, "n")
	assert.Nil(t, cmd)

	_, pending := m.scope.Tasks.PendingDelete()
	assert.False(t, pending)
	_, still := m.scope.Tasks.Get(target.ID)
	assert.True(t, still)
}

func TestCycleStatusUpdatesServer(t *testing.T) {
	m, _, _ := newTestApp(t)
	m = signIn(t, m)
	target, _ := m.taskList.SelectedTask()

	m, cmd := press(t, m, "x")
	require.NotNil(t, cmd)
	m = update(t, m, cmd())

	got, ok := m.scope.Tasks.Get(target.ID)
	require.True(t, ok)
	assert.Equal(t, model.NextStatus(target.Status), got.Status)
	assert.False(t, got.Pending)
}

func TestCycle(t *testing.T) {
	assert.Equal(t, "pending", cycle("", model.Statuses))
	assert.Equal(t, "in-progress", cycle("pending", model.Statuses))
	assert.Equal(t, "", cycle("completed", model.Statuses))
}

func TestDescribeError(t *testing.T) {
	assert.Equal(t, "That task is no longer in the list", describeError(tasks.ErrNotFound))
	assert.Contains(t, describeError(&api.TransientError{Message: "boom"}), "Server unreachable")
	assert.Contains(t, describeError(&api.ConflictError{StatusCode: 404, Message: "gone"}), "gone")
	assert.True(t, ignorable(tasks.ErrSuperseded))
}

// run executes cmd and any batched commands it expands to.
func run(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, run(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func TestSettingsReloadWithNewPageSize(t *testing.T) {
	m, _, _ := newTestApp(t)
	m = signIn(t, m)
	require.Len(t, m.scope.Tasks.Snapshot().Tasks, 4)

	cfg := *m.deps.Config
	cfg.Tasks.PageSize = 2
	cfg.Tasks.Sort = "due-asc"

	next, cmd := m.Update(settingsSavedMsg{cfg: cfg})
	m = next.(Model)
	for _, msg := range run(cmd) {
		if loaded, ok := msg.(tasksLoadedMsg); ok {
			m = update(t, m, loaded)
		}
	}

	assert.Equal(t, "Settings saved", m.status)
	assert.Equal(t, 2, m.deps.Config.Tasks.PageSize)
	assert.Equal(t, "due-asc", string(m.sortKey))
	snap := m.scope.Tasks.Snapshot()
	assert.Len(t, snap.Tasks, 2)
	assert.Equal(t, 2, snap.Pagination.TotalPages)
}

func TestSettingsServerChangeEndsSession(t *testing.T) {
	m, _, _ := newTestApp(t)
	m = signIn(t, m)

	cfg := *m.deps.Config
	cfg.Server.BaseURL = "http://other.invalid"
	cfg.Server.SocketURL = ""
	cfg.Normalize()

	m = update(t, m, settingsSavedMsg{cfg: cfg})

	assert.Nil(t, m.scope)
	assert.Equal(t, ViewLogin, m.currentView)
	assert.Equal(t, credential.TokenKey("http://other.invalid"), m.deps.TokenKey)
	assert.Equal(t, "ws://other.invalid/socket", m.deps.Config.Server.SocketURL)
}
