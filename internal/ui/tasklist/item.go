package tasklist

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/theme"
)

// TaskItem wraps a model.Task so it can be used in a bubbles/list.
type TaskItem struct {
	Task model.Task
}

// FilterValue returns the string used for fuzzy filtering.
func (i TaskItem) FilterValue() string { return i.Task.Title }

// Title returns the task title for the list.
func (i TaskItem) Title() string { return i.Task.Title }

// Description returns a short summary line for the list.
func (i TaskItem) Description() string {
	parts := []string{i.Task.Status, i.Task.Priority}
	if i.Task.DueDate != nil {
		parts = append(parts, "due "+i.Task.DueDate.Format("Jan 02"))
	}
	return strings.Join(parts, " | ")
}

// TaskDelegate implements list.ItemDelegate for rendering task rows.
type TaskDelegate struct {
	// now is swapped in tests.
	now func() time.Time
}

// Height returns the number of lines each item takes.
func (d TaskDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d TaskDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d TaskDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single task row.
func (d TaskDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ti, ok := item.(TaskItem)
	if !ok {
		return
	}
	now := time.Now()
	if d.now != nil {
		now = d.now()
	}

	fmt.Fprint(w, renderRow(ti.Task, index == m.Index(), now))
}

func renderRow(t model.Task, selected bool, now time.Time) string {
	prefix := "○"
	switch t.Status {
	case model.StatusCompleted:
		prefix = "✓"
	case model.StatusInProgress:
		prefix = "◐"
	}

	statusBadge := theme.StatusStyle(t.Status).Render(t.Status)
	priBadge := theme.PriorityStyle(t.Priority).Render(priorityLabel(t.Priority))

	due := ""
	if t.DueDate != nil {
		due = theme.DueDateStyle.Render(" " + t.DueDate.Format("Jan 02"))
	}

	overdue := ""
	if t.IsOverdue(now) {
		overdue = theme.OverdueStyle.Render(" OVERDUE")
	}

	shared := ""
	if len(t.SharedWith) > 0 {
		shared = theme.HelpStyle.Render(fmt.Sprintf(" ⇄%d", len(t.SharedWith)))
	}

	attach := ""
	if len(t.Attachments) > 0 {
		attach = theme.HelpStyle.Render(fmt.Sprintf(" @%d", len(t.Attachments)))
	}

	pending := ""
	if t.Pending {
		pending = theme.PendingStyle.Render(" saving…")
	}

	line := fmt.Sprintf(
		"%s %s %s %s%s%s%s%s%s",
		prefix, priBadge, statusBadge, t.Title,
		due, overdue, shared, attach, pending,
	)

	if t.Status == model.StatusCompleted {
		line = theme.DimmedStyle.Render(line)
	}
	if selected {
		return theme.SelectedItemStyle.Render(line)
	}
	return theme.ListItemStyle.Render(line)
}

// priorityLabel returns a short label for the given priority.
func priorityLabel(p string) string {
	switch p {
	case model.PriorityHigh:
		return "HI"
	case model.PriorityMedium:
		return "MD"
	case model.PriorityLow:
		return "LO"
	default:
		return "--"
	}
}
