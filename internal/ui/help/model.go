package help

import (
	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/taskdesk/internal/keys"
	"github.com/nhle/taskdesk/internal/theme"
)

// legend explains the markers used in the task list.
var legend = [][2]string{
	{"○ ◐ ✓", "pending, in progress, completed"},
	{"HI MD LO", "priority"},
	{"OVERDUE", "past its due date and not completed"},
	{"⇄N", "shared with N users"},
	{"@N", "N attachments"},
	{"saving…", "change not yet confirmed by the server"},
}

// Model is the help overlay view.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	width  int
	height int
}

// New creates a new help view model.
func New(keys *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.Width = width
	return Model{
		keys:   keys,
		help:   h,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the help view. The parent closes it.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

// View renders the help overlay.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	title := titleStyle.Render("Keyboard Shortcuts")

	m.help.Width = m.width - 4
	m.help.ShowAll = true
	helpText := m.help.View(m.keys)

	markStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite).Width(10)
	rows := []string{"", titleStyle.Render("Legend")}
	for _, l := range legend {
		rows = append(rows, markStyle.Render(l[0])+theme.HelpStyle.Render(l[1]))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, append([]string{title, helpText}, rows...)...)

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Height(m.height - 4).
		Render(content)
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
