package notifications

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/taskdesk/internal/keys"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/notify"
	"github.com/nhle/taskdesk/internal/theme"
)

// MarkReadMsg asks the parent to mark one notification read.
type MarkReadMsg struct{ ID string }

// MarkAllReadMsg asks the parent to mark every notification read.
type MarkAllReadMsg struct{}

// RemoveMsg asks the parent to delete one notification.
type RemoveMsg struct{ ID string }

// CloseMsg signals the panel should close.
type CloseMsg struct{}

// Model is the notification panel.
type Model struct {
	snap    notify.Snapshot
	cursor  int
	keys    *keys.KeyMap
	now     func() time.Time
	width   int
	height  int
	loading bool
}

// New creates an empty panel.
func New(k *keys.KeyMap, width, height int) Model {
	return Model{
		keys:    k,
		now:     time.Now,
		width:   width,
		height:  height,
		loading: true,
	}
}

// SetSnapshot replaces the panel contents, keeping the cursor on the same
// notification when it is still present.
func (m *Model) SetSnapshot(s notify.Snapshot) {
	selected := ""
	if n, ok := m.Selected(); ok {
		selected = n.ID
	}
	m.snap = s
	m.loading = false

	m.cursor = min(m.cursor, max(len(s.Items)-1, 0))
	for i, n := range s.Items {
		if n.ID == selected {
			m.cursor = i
			break
		}
	}
}

// Selected returns the notification under the cursor.
func (m Model) Selected() (model.Notification, bool) {
	if m.cursor < 0 || m.cursor >= len(m.snap.Items) {
		return model.Notification{}, false
	}
	return m.snap.Items[m.cursor], true
}

// Update handles key input.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(km, m.keys.Down):
		if m.cursor < len(m.snap.Items)-1 {
			m.cursor++
		}
	case key.Matches(km, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(km, m.keys.MarkRead):
		if n, ok := m.Selected(); ok && !n.Read {
			return m, func() tea.Msg { return MarkReadMsg{ID: n.ID} }
		}
	case key.Matches(km, m.keys.MarkAllRead):
		if m.snap.UnreadCount > 0 {
			return m, func() tea.Msg { return MarkAllReadMsg{} }
		}
	case key.Matches(km, m.keys.Delete):
		if n, ok := m.Selected(); ok {
			return m, func() tea.Msg { return RemoveMsg{ID: n.ID} }
		}
	case key.Matches(km, m.keys.Back):
		return m, func() tea.Msg { return CloseMsg{} }
	}
	return m, nil
}

// View renders the panel.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)
	title := titleStyle.Render(fmt.Sprintf("Notifications (%d unread)", m.snap.UnreadCount))

	var body string
	switch {
	case m.loading:
		body = theme.HelpStyle.Render("Loading notifications...")
	case len(m.snap.Items) == 0:
		body = theme.HelpStyle.Render("You're all caught up.")
	default:
		body = m.renderItems()
	}

	return theme.DetailPanelStyle.
		Width(max(m.width-4, 20)).
		Height(max(m.height-4, 5)).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func (m Model) renderItems() string {
	now := m.now()
	visible := max(m.height-8, 3)
	start := 0
	if m.cursor >= visible {
		start = m.cursor - visible + 1
	}
	end := min(start+visible, len(m.snap.Items))

	lines := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		n := m.snap.Items[i]
		marker := "●"
		if n.Read {
			marker = " "
		}
		when := theme.HelpStyle.Render(notify.RelativeTime(n.CreatedAt, now))
		line := fmt.Sprintf("%s %s  %s", marker, n.Message, when)
		if n.Read {
			line = theme.DimmedStyle.Render(line)
		}
		if i == m.cursor {
			line = theme.SelectedItemStyle.Render(line)
		} else {
			line = theme.ListItemStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// SetSize updates the panel dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}
