package tasklist

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/taskdesk/internal/keys"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/tasks"
	"github.com/nhle/taskdesk/internal/theme"
	"github.com/nhle/taskdesk/internal/view"
)

// SelectedTaskMsg is sent when a user selects a task to view details.
type SelectedTaskMsg struct {
	TaskID string
}

// Model is the main task list view component. It renders whatever
// projection the parent hands it and keeps the cursor on the same task
// across refreshes.
type Model struct {
	list    list.Model
	keys    *keys.KeyMap
	filter  tasks.Filter
	page    tasks.Pagination
	sortKey view.SortKey
	loading bool
	width   int
	height  int
}

// New creates a new task list model.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, TaskDelegate{}, width, height-2)
	l.Title = "Tasks"
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	return Model{
		list:    l,
		keys:    k,
		sortKey: view.CreatedDesc,
		loading: true,
		width:   width,
		height:  height,
	}
}

// SetTasks replaces the visible rows.
func (m *Model) SetTasks(items []model.Task, snap tasks.Snapshot, key view.SortKey) tea.Cmd {
	selectedID := ""
	if cur, ok := m.SelectedTask(); ok {
		selectedID = cur.ID
	}

	m.loading = false
	m.filter = snap.Filter
	m.page = snap.Pagination
	m.sortKey = key

	rows := make([]list.Item, len(items))
	cursor := 0
	for i, t := range items {
		rows[i] = TaskItem{Task: t}
		if t.ID == selectedID {
			cursor = i
		}
	}
	cmd := m.list.SetItems(rows)
	if len(rows) > 0 {
		m.list.Select(cursor)
	}
	return cmd
}

// SetLoading shows the loading placeholder until the next SetTasks.
func (m *Model) SetLoading(loading bool) {
	m.loading = loading
}

// SelectedTask returns the task under the cursor.
func (m Model) SelectedTask() (model.Task, bool) {
	item, ok := m.list.SelectedItem().(TaskItem)
	if !ok {
		return model.Task{}, false
	}
	return item.Task, true
}

// Update handles messages for the task list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, m.keys.Select) {
		t, ok := m.SelectedTask()
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg {
			return SelectedTaskMsg{TaskID: t.ID}
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the task list view.
func (m Model) View() string {
	summary := theme.HelpStyle.Render(m.Summary())

	if m.loading {
		return lipgloss.JoinVertical(lipgloss.Left, summary, m.centered("Loading tasks..."))
	}
	if len(m.list.Items()) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, summary, m.renderEmptyState())
	}
	return lipgloss.JoinVertical(lipgloss.Left, summary, m.list.View())
}

// Summary describes the filter, sort and page in one line.
func (m Model) Summary() string {
	status := m.filter.Status
	if status == "" {
		status = "any"
	}
	priority := m.filter.Priority
	if priority == "" {
		priority = "any"
	}
	return fmt.Sprintf(
		"status: %s  priority: %s  sort: %s  page %d/%d  (%d total)",
		status, priority, m.sortKey.Label(),
		m.page.Page, max(m.page.TotalPages, 1), m.page.Total,
	)
}

// renderEmptyState shows guidance text when no tasks are available.
func (m Model) renderEmptyState() string {
	if m.filter.Status != "" || m.filter.Priority != "" {
		return m.centered("No matching tasks.\nPress 0 to clear filters.")
	}
	return m.centered("No tasks yet.\n\nPress n to create one.")
}

func (m Model) centered(text string) string {
	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height-2).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray).
		Render(text)
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
}
