package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/taskdesk/internal/keys"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/theme"
	"github.com/nhle/taskdesk/internal/view"
)

// BackMsg asks the parent to return to the task list.
type BackMsg struct{}

// PeriodMsg asks the parent to reload the overview with a new trend period.
type PeriodMsg struct{ Period string }

// Model shows the overview counters and the most recent tasks.
type Model struct {
	overview view.Overview
	period   string
	loaded   bool
	loading  bool
	err      string
	bar      progress.Model
	keys     *keys.KeyMap
	now      func() time.Time
	width    int
	height   int
}

// New creates the dashboard view.
func New(k *keys.KeyMap, width, height int) Model {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = max(min(width-20, 50), 10)
	return Model{bar: bar, keys: k, period: model.PeriodWeek, now: time.Now, width: width, height: height}
}

// Period is the trend period the next fetch should ask for.
func (m Model) Period() string { return m.period }

// SetLoading marks an overview fetch in flight.
func (m *Model) SetLoading() {
	m.loading = true
	m.err = ""
}

// SetOverview replaces the numbers on screen.
func (m *Model) SetOverview(o view.Overview) {
	m.overview = o
	m.loaded = true
	m.loading = false
	m.err = ""
}

// SetError shows a failed fetch. The previous numbers stay visible.
func (m *Model) SetError(err error) {
	m.loading = false
	m.err = err.Error()
}

// Update handles key input.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(km, m.keys.Back):
		return m, func() tea.Msg { return BackMsg{} }
	case key.Matches(km, m.keys.TrendPeriod):
		m.period = nextPeriod(m.period)
		period := m.period
		return m, func() tea.Msg { return PeriodMsg{Period: period} }
	}
	return m, nil
}

func nextPeriod(cur string) string {
	for i, p := range model.Periods {
		if p == cur {
			return model.Periods[(i+1)%len(model.Periods)]
		}
	}
	return model.Periods[0]
}

func (m Model) card(label string, value int, style lipgloss.Style) string {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorSubtle).
		Padding(0, 2).
		Width(14).
		Render(lipgloss.JoinVertical(lipgloss.Left,
			style.Render(fmt.Sprintf("%d", value)),
			theme.HelpStyle.Render(label),
		))
}

// View renders the dashboard.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite).MarginBottom(1)
	lines := []string{titleStyle.Render("Overview")}

	switch {
	case m.loading && !m.loaded:
		lines = append(lines, theme.HelpStyle.Render("Loading..."))
		return theme.DetailPanelStyle.Width(m.width - 4).Render(strings.Join(lines, "\n"))
	case m.err != "":
		lines = append(lines, theme.OverdueStyle.Render(m.err), "")
	}

	o := m.overview
	white := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	lines = append(lines,
		lipgloss.JoinHorizontal(lipgloss.Top,
			m.card("total", o.Total, white),
			m.card("completed", o.Completed, theme.StatusStyle("completed")),
			m.card("in progress", o.InProgress, theme.StatusStyle("in-progress")),
			m.card("pending", o.Pending, theme.StatusStyle("pending")),
		),
		lipgloss.JoinHorizontal(lipgloss.Top,
			m.card("overdue", o.Overdue, theme.OverdueStyle),
			m.card("unread", o.Unread, theme.UnreadBadgeStyle),
		),
		"",
		fmt.Sprintf("Completion %s", m.bar.ViewAs(o.CompletionRate())),
		theme.HelpStyle.Render(m.coverage()),
		"",
	)
	lines = append(lines, m.priorities(titleStyle)...)
	lines = append(lines, m.trends(titleStyle)...)
	lines = append(lines, titleStyle.Render("Recent"))

	if len(o.Recent) == 0 {
		lines = append(lines, theme.HelpStyle.Render("No tasks yet."))
	}
	now := m.now()
	for _, t := range o.Recent {
		line := fmt.Sprintf("%s %s", theme.StatusStyle(t.Status).Render(fmt.Sprintf("%-11s", t.Status)), t.Title)
		if t.IsOverdue(now) {
			line += " " + theme.OverdueStyle.Render("OVERDUE")
		}
		lines = append(lines, line)
	}

	return theme.DetailPanelStyle.Width(m.width - 4).Render(strings.Join(lines, "\n"))
}

func (m Model) coverage() string {
	if m.overview.ServerTotals {
		return fmt.Sprintf("counts cover all %d tasks", m.overview.Total)
	}
	return fmt.Sprintf("counts cover the %d most recent tasks", m.overview.Sampled)
}

func (m Model) priorities(title lipgloss.Style) []string {
	if len(m.overview.Priorities) == 0 {
		return nil
	}
	lines := []string{title.Render("Priority")}
	for _, b := range m.overview.Priorities {
		lines = append(lines, fmt.Sprintf("%s %3d %s",
			theme.PriorityStyle(b.Key).Render(fmt.Sprintf("%-7s", b.Key)),
			b.Count, bar(b.Count, m.overview.Total)))
	}
	return append(lines, "")
}

func (m Model) trends(title lipgloss.Style) []string {
	days, _ := model.PeriodDays(m.period)
	lines := []string{
		title.Render(fmt.Sprintf("Trends (last %d days)", days)) + " " +
			theme.HelpStyle.Render(fmt.Sprintf("[%s] %s", m.keys.TrendPeriod.Help().Key, m.period)),
	}
	if m.overview.Trends == nil {
		lines = append(lines, theme.HelpStyle.Render("Trends unavailable."), "")
		return lines
	}
	rows := view.TrendRows(*m.overview.Trends)
	if len(rows) == 0 {
		lines = append(lines, theme.HelpStyle.Render("No activity in this period."), "")
		return lines
	}
	peak := 0
	for _, r := range rows {
		peak = max(peak, r.Created, r.Completed)
	}
	lines = append(lines, theme.HelpStyle.Render(fmt.Sprintf("%-10s %7s %9s", "day", "created", "completed")))
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%-10s %7d %9d %s", r.Day, r.Created, r.Completed, bar(r.Created, peak)))
	}
	return append(lines, "")
}

// bar draws n against total as a run of at most barWidth blocks.
func bar(n, total int) string {
	if total <= 0 || n <= 0 {
		return ""
	}
	return strings.Repeat("█", max(n*barWidth/total, 1))
}

const barWidth = 20

// SetSize updates the dashboard dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.bar.Width = max(min(width-20, 50), 10)
}
