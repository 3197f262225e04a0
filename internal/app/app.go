// Package app is the root Bubble Tea model. It routes input between views
// and runs every network operation through the current session scope.
package app

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/session"
	tasksync "github.com/nhle/taskdesk/internal/sync"
	"github.com/nhle/taskdesk/internal/tasks"
	"github.com/nhle/taskdesk/internal/ui"
	"github.com/nhle/taskdesk/internal/ui/command"
	configview "github.com/nhle/taskdesk/internal/ui/config"
	"github.com/nhle/taskdesk/internal/ui/dashboard"
	"github.com/nhle/taskdesk/internal/ui/detail"
	helpview "github.com/nhle/taskdesk/internal/ui/help"
	"github.com/nhle/taskdesk/internal/ui/login"
	"github.com/nhle/taskdesk/internal/ui/notifications"
	"github.com/nhle/taskdesk/internal/ui/sharemodal"
	"github.com/nhle/taskdesk/internal/ui/taskform"
	"github.com/nhle/taskdesk/internal/ui/tasklist"
	"github.com/nhle/taskdesk/internal/view"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewLogin ViewState = iota
	ViewList
	ViewDetail
	ViewForm
	ViewNotifications
	ViewShare
	ViewDashboard
	ViewHelp
	ViewCommand
	ViewSettings
)

// TokenStore persists the bearer token between runs. *credential.Store
// satisfies it.
type TokenStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Deps are the collaborators the root model needs.
type Deps struct {
	Config   *model.AppConfig
	Sessions *session.Manager
	Tokens   TokenStore
	TokenKey string
	Log      *zap.SugaredLogger

	// ConfigPath is where the settings view saves. Empty disables saving.
	ConfigPath string
}

// Model is the root Bubble Tea model that manages view routing,
// layout, and the session scope.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	ready        bool

	deps    Deps
	log     *zap.SugaredLogger
	keys    *KeyMap
	scope   *session.Scope
	sortKey view.SortKey

	loginView     login.Model
	taskList      tasklist.Model
	detail        detail.Model
	detailID      string
	formView      taskform.Model
	notifView     notifications.Model
	shareView     sharemodal.Model
	dashboardView dashboard.Model
	helpView      helpview.Model
	commandView   command.Model
	settingsView  configview.Model

	channelState  string
	status        string
	statusIsError bool
	deleting      string
}

// New creates the root model. Nothing touches the network until Init.
func New(deps Deps) Model {
	k := DefaultKeyMap()
	log := deps.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	sortKey, ok := view.ParseSortKey(deps.Config.Tasks.Sort)
	if !ok {
		sortKey = view.CreatedDesc
	}

	return Model{
		currentView:   ViewLogin,
		deps:          deps,
		log:           log,
		keys:          k,
		sortKey:       sortKey,
		loginView:     login.New(deps.Config.Server.BaseURL, 80, 24),
		taskList:      tasklist.New(k, 80, 24),
		detail:        detail.New(k, deps.Config.Server.BaseURL, 80, 24),
		formView:      taskform.New(80, 24),
		notifView:     notifications.New(k, 80, 24),
		shareView:     sharemodal.New(80, 24),
		dashboardView: dashboard.New(k, 80, 24),
		helpView:      helpview.New(k, 80, 24),
		commandView:   command.New(80, 24),
		settingsView:  configview.New(pingServer(deps.Config), 80, 24),
		channelState:  tasksync.ChannelIdle.String(),
	}
}

// Init resumes a stored session, or shows the sign-in form.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loginView.Init(), m.resumeStoredSession())
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.loginView.SetSize(w, h)
		m.taskList.SetSize(w, h)
		m.detail.SetSize(w, h)
		m.formView.SetSize(w, h)
		m.notifView.SetSize(w, h)
		m.shareView.SetSize(w, h)
		m.dashboardView.SetSize(w, h)
		m.helpView.SetSize(w, h)
		m.commandView.SetSize(w, h)
		m.settingsView.SetSize(w, h)
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case storedTokenMsg, loginFailedMsg, sessionStartedMsg, loggedOutMsg, usersLoadedMsg:
		return m.handleSessionMsg(msg)

	case pumpMsg:
		if msg.scope != m.scope {
			return m, nil
		}
		return m.handlePumpMsg(msg)

	case tasksLoadedMsg, mutationDoneMsg, uploadFailedMsg:
		return m.handleTaskMsg(msg)

	case notificationsLoadedMsg, notificationChangedMsg:
		return m.handleNotificationMsg(msg)

	case shareOpenedMsg, sharedMsg, overviewMsg:
		return m.handlePanelMsg(msg)

	case configview.SavedMsg:
		m.currentView = m.previousView
		return m, m.saveSettings(msg.Config)

	case configview.DoneMsg:
		m.currentView = m.previousView
		return m, nil

	case settingsSavedMsg:
		return m.applySettings(msg)

	case login.SubmitMsg:
		m.setStatus("", false)
		return m, m.authenticate(msg.Email, msg.Password)

	case tasklist.SelectedTaskMsg:
		m.openDetail(msg.TaskID)
		return m, nil

	case detail.BackMsg, dashboard.BackMsg, notifications.CloseMsg:
		m.currentView = ViewList
		return m, nil

	case dashboard.PeriodMsg:
		if m.scope == nil {
			return m, nil
		}
		m.dashboardView.SetLoading()
		return m, m.loadOverview()

	case taskform.CreateMsg:
		m.currentView = ViewList
		return m, m.createTask(msg.Draft, msg.AttachmentPath)

	case taskform.UpdateMsg:
		m.currentView = m.previousView
		if taskform.IsEmpty(msg.Patch) && msg.AttachmentPath == "" {
			m.setStatus("No changes", false)
			return m, nil
		}
		return m, m.updateTask(msg.ID, msg.Patch, msg.AttachmentPath)

	case taskform.CancelMsg:
		m.currentView = m.previousView
		return m, nil

	case notifications.MarkReadMsg:
		return m, m.markRead(msg.ID)

	case notifications.MarkAllReadMsg:
		return m, m.markAllRead()

	case notifications.RemoveMsg:
		return m, m.removeNotification(msg.ID)

	case sharemodal.ConfirmMsg:
		m.shareView.SetSending(true)
		return m, m.confirmShare()

	case sharemodal.CancelMsg:
		if m.scope != nil {
			m.scope.Share.Close()
		}
		m.currentView = m.previousView
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		return m.executeCommand(command.Command(msg))

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m.updateActiveView(msg)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, m.quit()
	}

	if m.deleting != "" {
		return m.answerDelete(msg)
	}

	switch m.currentView {
	case ViewLogin, ViewForm, ViewShare, ViewSettings:
		return m.updateActiveView(msg)
	case ViewCommand:
		if key.Matches(msg, m.keys.Back) {
			m.currentView = m.previousView
			return m, nil
		}
		return m.updateActiveView(msg)
	case ViewHelp:
		if key.Matches(msg, m.keys.Help, m.keys.Back) {
			m.currentView = m.previousView
		}
		return m, nil
	}

	m.setStatus("", false)

	switch {
	case key.Matches(msg, m.keys.Quit) && m.currentView == ViewList:
		return m, m.quit()
	case key.Matches(msg, m.keys.Help):
		m.open(ViewHelp)
		return m, nil
	case key.Matches(msg, m.keys.Command):
		m.open(ViewCommand)
		return m, m.commandView.Focus()
	case key.Matches(msg, m.keys.Logout):
		return m.logout("Signed out", false)
	case key.Matches(msg, m.keys.Settings) && m.currentView == ViewList:
		m.open(ViewSettings)
		return m, m.settingsView.Start(*m.deps.Config)
	}

	if m.currentView == ViewList || m.currentView == ViewDetail {
		if next, cmd, handled := m.handleTaskKey(msg); handled {
			return next, cmd
		}
	}

	return m.updateActiveView(msg)
}

// handleTaskKey covers the keys that act on the task list or the task on
// screen.
func (m Model) handleTaskKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	if m.scope == nil {
		return m, nil, false
	}

	switch {
	case key.Matches(msg, m.keys.New):
		m.open(ViewForm)
		return m, m.formView.StartCreate(), true

	case key.Matches(msg, m.keys.Edit):
		t, ok := m.currentTask()
		if !ok {
			return m, nil, true
		}
		m.open(ViewForm)
		return m, m.formView.StartEdit(t), true

	case key.Matches(msg, m.keys.CycleStatus):
		t, ok := m.currentTask()
		if !ok {
			return m, nil, true
		}
		next := model.NextStatus(t.Status)
		return m, m.updateTask(t.ID, model.Patch{Status: &next}, ""), true

	case key.Matches(msg, m.keys.Delete):
		t, ok := m.currentTask()
		if !ok {
			return m, nil, true
		}
		if err := m.scope.Tasks.RequestDelete(t.ID); err != nil {
			m.setStatus(describeError(err), true)
			return m, nil, true
		}
		m.deleting = t.Title
		return m, nil, true

	case key.Matches(msg, m.keys.Share):
		t, ok := m.currentTask()
		if !ok {
			return m, nil, true
		}
		if tasks.IsTemporaryID(t.ID) {
			m.setStatus("Wait for the task to finish saving before sharing it", true)
			return m, nil, true
		}
		return m, m.openShare(t), true

	case key.Matches(msg, m.keys.Notifications):
		m.open(ViewNotifications)
		m.notifView.SetSnapshot(m.scope.Notifications.Snapshot())
		return m, m.loadNotifications(), true

	case key.Matches(msg, m.keys.Dashboard):
		m.open(ViewDashboard)
		m.dashboardView.SetLoading()
		return m, m.loadOverview(), true

	case key.Matches(msg, m.keys.Refresh):
		m.scope.Pump.Reconnect()
		return m, tea.Batch(m.loadTasks(), m.loadNotifications()), true
	}

	if m.currentView != ViewList {
		return m, nil, false
	}

	snap := m.scope.Tasks.Snapshot()
	switch {
	case key.Matches(msg, m.keys.FilterStatus):
		next := cycle(snap.Filter.Status, model.Statuses)
		return m, m.setFilter(next, snap.Filter.Priority), true
	case key.Matches(msg, m.keys.FilterPriority):
		next := cycle(snap.Filter.Priority, model.Priorities)
		return m, m.setFilter(snap.Filter.Status, next), true
	case key.Matches(msg, m.keys.ClearFilters):
		return m, m.setFilter("", ""), true
	case key.Matches(msg, m.keys.NextPage):
		return m, m.setPage(snap.Pagination.Page + 1), true
	case key.Matches(msg, m.keys.PrevPage):
		return m, m.setPage(snap.Pagination.Page - 1), true
	case key.Matches(msg, m.keys.CycleSort):
		m.sortKey = m.sortKey.Next()
		m.setStatus("Sorted: "+m.sortKey.Label(), false)
		return m, m.refreshList(), true
	}
	return m, nil, false
}

func (m Model) answerDelete(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.deleting = ""
	if m.scope == nil {
		return m, nil
	}
	if key.Matches(msg, m.keys.Confirm) {
		return m, m.confirmDelete()
	}
	m.scope.Tasks.CancelDelete()
	m.setStatus("Delete cancelled", false)
	return m, nil
}

// executeCommand handles a parsed command from the palette.
func (m Model) executeCommand(c command.Command) (tea.Model, tea.Cmd) {
	if m.scope == nil {
		return m, nil
	}
	switch c.Name {
	case "filter":
		return m, m.setFilter(c.Status, c.Priority)
	case "sort":
		m.sortKey = c.Sort
		return m, m.refreshList()
	case "page":
		return m, m.setPage(c.Page)
	case "refresh":
		return m, tea.Batch(m.loadTasks(), m.loadNotifications())
	case "reconnect":
		m.scope.Pump.Reconnect()
		return m, nil
	case "settings":
		m.open(ViewSettings)
		return m, m.settingsView.Start(*m.deps.Config)
	case "dashboard":
		m.open(ViewDashboard)
		m.dashboardView.SetLoading()
		return m, m.loadOverview()
	case "notifications":
		m.open(ViewNotifications)
		m.notifView.SetSnapshot(m.scope.Notifications.Snapshot())
		return m, m.loadNotifications()
	case "logout":
		return m.logout("Signed out", false)
	case "help":
		m.open(ViewHelp)
		return m, nil
	case "quit":
		return m, m.quit()
	}
	return m, nil
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewLogin:
		m.loginView, cmd = m.loginView.Update(msg)
	case ViewList:
		m.taskList, cmd = m.taskList.Update(msg)
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewForm:
		m.formView, cmd = m.formView.Update(msg)
	case ViewNotifications:
		m.notifView, cmd = m.notifView.Update(msg)
	case ViewShare:
		m.shareView, cmd = m.shareView.Update(msg)
	case ViewDashboard:
		m.dashboardView, cmd = m.dashboardView.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	case ViewSettings:
		m.settingsView, cmd = m.settingsView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	title := "taskdesk"
	unread := 0
	if m.scope != nil {
		title = "taskdesk · " + m.scope.Session.UserID()
		unread = m.scope.Notifications.UnreadCount()
	}
	header := m.layout.RenderHeader(title, unread, m.channelState)
	statusBar := m.layout.RenderStatusBar(m.statusText(), m.statusIsError && m.deleting == "")

	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewLogin:
		return m.loginView.View()
	case ViewList:
		return m.taskList.View()
	case ViewDetail:
		return m.detail.View()
	case ViewForm:
		return m.formView.View()
	case ViewNotifications:
		return m.notifView.View()
	case ViewShare:
		return m.shareView.View()
	case ViewDashboard:
		return m.dashboardView.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	case ViewSettings:
		return m.settingsView.View()
	default:
		return ""
	}
}

func (m Model) statusText() string {
	if m.deleting != "" {
		return fmt.Sprintf("Delete %q? y to confirm, any other key to cancel", m.deleting)
	}
	if m.status != "" {
		return m.status
	}
	return m.keyHints()
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewLogin:
		return "enter next | ctrl+c quit"
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | tab complete | esc back"
	case ViewDetail:
		return "esc back | e edit | x status | s share | d delete | j/k scroll"
	case ViewForm:
		return "enter submit | esc cancel"
	case ViewNotifications:
		return "enter/m read | A read all | d remove | esc back"
	case ViewShare:
		return "type to search | tab toggle | enter share | esc cancel"
	case ViewDashboard:
		return "esc back"
	case ViewSettings:
		return "enter next | esc cancel"
	default:
		if s := m.taskList.Summary(); s != "" {
			return s + " | 0 clear"
		}
		return "q quit | ? help | n new | 1 status | 2 priority | tab sort | N notifications"
	}
}

func (m *Model) setStatus(text string, isError bool) {
	m.status = text
	m.statusIsError = isError
}

// open switches to v, remembering where to return.
func (m *Model) open(v ViewState) {
	if m.currentView != v {
		m.previousView = m.currentView
	}
	m.currentView = v
}

func (m *Model) openDetail(id string) {
	if m.scope == nil {
		return
	}
	m.open(ViewDetail)
	m.detailID = id
	if t, ok := m.scope.Tasks.Get(id); ok {
		m.detail.SetTask(&t)
		m.detailID = t.ID
	} else {
		m.detail.SetTask(nil)
	}
}

// currentTask is the task on the detail screen, or the list selection.
func (m Model) currentTask() (model.Task, bool) {
	if m.scope == nil {
		return model.Task{}, false
	}
	if m.currentView == ViewDetail {
		return m.detail.Task()
	}
	return m.taskList.SelectedTask()
}

// refreshList re-projects the collection into the list and the detail view.
func (m *Model) refreshList() tea.Cmd {
	if m.scope == nil {
		return nil
	}
	snap := m.scope.Tasks.Snapshot()
	cmd := m.taskList.SetTasks(view.Project(snap, nil, m.sortKey), snap, m.sortKey)

	if m.detailID != "" {
		if t, ok := m.scope.Tasks.Get(m.detailID); ok {
			m.detailID = t.ID
			m.detail.SetTask(&t)
		} else {
			m.detail.SetTask(nil)
		}
	}
	return cmd
}

// quit tears the session down without forgetting the stored token.
func (m Model) quit() tea.Cmd {
	sessions := m.deps.Sessions
	return tea.Sequence(func() tea.Msg {
		sessions.Logout()
		return nil
	}, tea.Quit)
}
