package sharemodal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/share"
	"github.com/nhle/taskdesk/internal/theme"
)

// ConfirmMsg asks the parent to send the selection.
type ConfirmMsg struct{}

// CancelMsg asks the parent to close the dialog without sharing.
type CancelMsg struct{}

// Model renders a share.Selection with a search box. Typing filters the
// candidates, up/down moves, tab toggles, enter shares.
type Model struct {
	sel     *share.Selection
	search  textinput.Model
	cursor  int
	err     string
	sending bool
	width   int
	height  int
}

// New creates the dialog view.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "search by name or email"
	ti.Prompt = "🔍 "
	ti.Width = max(width-12, 10)

	return Model{search: ti, width: width, height: height}
}

// Start binds the view to an opened selection.
func (m *Model) Start(sel *share.Selection) tea.Cmd {
	m.sel = sel
	m.cursor = 0
	m.err = ""
	m.sending = false
	m.search.Reset()
	return m.search.Focus()
}

// SetSending marks a share request in flight.
func (m *Model) SetSending(sending bool) {
	m.sending = sending
}

// SetError shows a failure inside the dialog and keeps it open.
func (m *Model) SetError(err error) {
	m.sending = false
	if err == nil {
		m.err = ""
		return
	}
	m.err = err.Error()
}

func (m Model) visible() []model.User {
	if m.sel == nil {
		return nil
	}
	return m.sel.Search(m.search.Value())
}

// Update handles key input.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.sel == nil {
		return m, nil
	}

	if km, ok := msg.(tea.KeyMsg); ok {
		users := m.visible()
		switch km.String() {
		case "esc":
			return m, func() tea.Msg { return CancelMsg{} }
		case "up":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "down":
			if m.cursor < len(users)-1 {
				m.cursor++
			}
			return m, nil
		case "tab":
			if m.cursor < len(users) {
				if err := m.sel.Toggle(users[m.cursor].ID); err != nil {
					m.err = err.Error()
				} else {
					m.err = ""
				}
			}
			return m, nil
		case "enter":
			if m.sending {
				return m, nil
			}
			if len(m.sel.Selected()) == 0 {
				m.err = share.ErrEmptySelection.Error()
				return m, nil
			}
			return m, func() tea.Msg { return ConfirmMsg{} }
		}
	}

	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	m.cursor = min(m.cursor, max(len(m.visible())-1, 0))
	return m, cmd
}

// View renders the dialog.
func (m Model) View() string {
	if m.sel == nil {
		return ""
	}

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	task := m.sel.Task()
	lines := []string{
		titleStyle.Render("Share \"" + task.Title + "\""),
		"",
		m.search.View(),
		"",
	}

	users := m.visible()
	if len(users) == 0 {
		lines = append(lines, theme.HelpStyle.Render("No users match."))
	}
	for i, u := range users {
		box := "[ ]"
		if m.sel.IsSelected(u.ID) {
			box = "[x]"
		}
		already := ""
		if task.IsSharedWith(u.ID) {
			already = theme.HelpStyle.Render(" (already shared)")
		}
		line := fmt.Sprintf("%s %s <%s>%s", box, u.Name, u.Email, already)
		if i == m.cursor {
			line = theme.SelectedItemStyle.Render(line)
		} else {
			line = theme.ListItemStyle.Render(line)
		}
		lines = append(lines, line)
	}

	lines = append(lines, "")
	switch {
	case m.sending:
		lines = append(lines, theme.HelpStyle.Render("Sharing..."))
	case m.err != "":
		lines = append(lines, theme.OverdueStyle.Render(m.err))
	default:
		lines = append(lines, theme.HelpStyle.Render(
			fmt.Sprintf("%d selected  ·  tab toggle  ·  enter share  ·  esc cancel", len(m.sel.Selected())),
		))
	}

	return theme.ModalStyle.
		Width(max(min(m.width-4, 72), 30)).
		Render(strings.Join(lines, "\n"))
}

// SetSize updates the dialog dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.search.Width = max(width-12, 10)
}
