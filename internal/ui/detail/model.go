package detail

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/taskdesk/internal/keys"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/theme"
)

// BackMsg signals the parent to navigate back to the list view.
type BackMsg struct{}

// Model is the task detail view component.
type Model struct {
	task     *model.Task
	names    map[string]string
	baseURL  string
	viewport viewport.Model
	keys     *keys.KeyMap
	width    int
	height   int
}

// New creates a new detail view model. baseURL prefixes attachment paths.
func New(k *keys.KeyMap, baseURL string, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     k,
		baseURL:  strings.TrimRight(baseURL, "/"),
		names:    map[string]string{},
		width:    width,
		height:   height,
	}
}

// Init returns the initial command for the detail view.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, m.keys.Back) {
		return m, func() tea.Msg {
			return BackMsg{}
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the detail view.
func (m Model) View() string {
	if m.task == nil {
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("Task no longer available")
	}

	return m.viewport.View()
}

// SetTask updates the task being displayed. A nil task means it was
// removed from the list.
func (m *Model) SetTask(t *model.Task) {
	sameTask := m.task != nil && t != nil && m.task.ID == t.ID
	m.task = t
	m.viewport.SetContent(m.renderContent(time.Now()))
	if !sameTask {
		m.viewport.GotoTop()
	}
}

// Task returns the task on screen.
func (m Model) Task() (model.Task, bool) {
	if m.task == nil {
		return model.Task{}, false
	}
	return *m.task, true
}

// SetUsers provides display names for the shared-with list.
func (m *Model) SetUsers(users []model.User) {
	m.names = make(map[string]string, len(users))
	for _, u := range users {
		m.names[u.ID] = u.Name
	}
	m.viewport.SetContent(m.renderContent(time.Now()))
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 2
}

// renderContent builds the full detail content string for the viewport.
func (m Model) renderContent(now time.Time) string {
	if m.task == nil {
		return ""
	}

	task := m.task
	var sections []string

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	sections = append(sections, titleStyle.Render(task.Title))

	badges := []string{
		theme.StatusStyle(task.Status).Render(task.Status),
		theme.PriorityStyle(task.Priority).Render(task.Priority + " priority"),
	}
	if task.IsOverdue(now) {
		badges = append(badges, theme.OverdueStyle.Render("OVERDUE"))
	}
	if task.Pending {
		badges = append(badges, theme.PendingStyle.Render("saving…"))
	}
	sections = append(sections, strings.Join(badges, "  "), "")

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	row := func(label, value string) string {
		return fmt.Sprintf("%s %s", metaStyle.Render(fmt.Sprintf("%-9s", label+":")), valStyle.Render(value))
	}

	if !task.CreatedAt.IsZero() {
		sections = append(sections, row("Created", task.CreatedAt.Local().Format("2006-01-02 15:04")))
	}
	if task.DueDate != nil {
		sections = append(sections, row("Due", task.DueDate.Local().Format("2006-01-02")))
	}
	if len(task.SharedWith) > 0 {
		names := make([]string, len(task.SharedWith))
		for i, id := range task.SharedWith {
			names[i] = id
			if n, ok := m.names[id]; ok {
				names[i] = n
			}
		}
		sections = append(sections, row("Shared", strings.Join(names, ", ")))
	}

	sepStyle := lipgloss.NewStyle().Foreground(theme.ColorSubtle)
	separator := sepStyle.Render(strings.Repeat("─", max(min(m.width-4, 80), 1)))
	sections = append(sections, "", separator, "")

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	sections = append(sections, headerStyle.Render("Description"))

	body := task.Description
	if body == "" {
		body = lipgloss.NewStyle().
			Foreground(theme.ColorGray).
			Italic(true).
			Render("No description")
	}
	sections = append(sections, body)

	if len(task.Attachments) > 0 {
		sections = append(sections, "", separator, "")
		sections = append(sections, headerStyle.Render(
			fmt.Sprintf("Attachments (%d)", len(task.Attachments)),
		))
		for _, a := range task.Attachments {
			sections = append(sections, fmt.Sprintf(
				"%s  %s",
				valStyle.Render(a.OriginalName),
				metaStyle.Render(m.baseURL+a.Path),
			))
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
