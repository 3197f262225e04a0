package taskform

import (
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/theme"
)

const dateLayout = "2006-01-02"

// CreateMsg is dispatched when the create form is submitted.
type CreateMsg struct {
	Draft model.Draft

	// AttachmentPath is a local file to upload before creating, or "".
	AttachmentPath string
}

// UpdateMsg is dispatched when the edit form is submitted. Patch holds only
// the fields that changed.
type UpdateMsg struct {
	ID    string
	Patch model.Patch

	// AttachmentPath is a local file to upload and append, or "".
	AttachmentPath string
}

// CancelMsg is dispatched when the user cancels the form.
type CancelMsg struct{}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	title       string
	description string
	status      string
	priority    string
	dueDate     string
	attachment  string
}

// Model is the Bubble Tea model for the task create/edit form.
type Model struct {
	form     *huh.Form
	fb       *formBindings
	editMode bool
	original model.Task
	width    int
	height   int
}

// New creates a new task form model.
func New(width, height int) Model {
	return Model{
		fb:     &formBindings{status: model.StatusPending, priority: model.PriorityMedium},
		width:  width,
		height: height,
	}
}

// StartCreate initializes the form for a new task.
func (m *Model) StartCreate() tea.Cmd {
	m.editMode = false
	m.original = model.Task{}
	*m.fb = formBindings{status: model.StatusPending, priority: model.PriorityMedium}
	m.form = m.buildForm()
	return m.form.Init()
}

// StartEdit initializes the form with an existing task.
func (m *Model) StartEdit(t model.Task) tea.Cmd {
	m.editMode = true
	m.original = t.Clone()
	*m.fb = formBindings{
		title:       t.Title,
		description: t.Description,
		status:      t.Status,
		priority:    t.Priority,
	}
	if t.DueDate != nil {
		m.fb.dueDate = t.DueDate.In(time.Local).Format(dateLayout)
	}
	m.form = m.buildForm()
	return m.form.Init()
}

// Update handles messages for the task form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}
	if km, ok := msg.(tea.KeyMsg); ok && km.String() == "esc" {
		return m, func() tea.Msg { return CancelMsg{} }
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		return m, m.handleSubmit()
	}
	if m.form.State == huh.StateAborted {
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

// View renders the task form.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	titleText := "New Task"
	if m.editMode {
		titleText = "Edit Task"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	content := titleStyle.Render(titleText) + "\n" + m.form.View()

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(content)
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *Model) buildForm() *huh.Form {
	statusOpts := make([]huh.Option[string], len(model.Statuses))
	for i, s := range model.Statuses {
		statusOpts[i] = huh.NewOption(s, s)
	}
	priorityOpts := make([]huh.Option[string], len(model.Priorities))
	for i, p := range model.Priorities {
		priorityOpts[i] = huh.NewOption(p, p)
	}

	fields := []huh.Field{
		huh.NewInput().
			Title("Title").
			Placeholder("What needs to be done?").
			Value(&m.fb.title).
			Validate(validateRequired("Title")),
		huh.NewText().
			Title("Description").
			Placeholder("Optional details...").
			Value(&m.fb.description),
		huh.NewSelect[string]().
			Title("Status").
			Options(statusOpts...).
			Value(&m.fb.status),
		huh.NewSelect[string]().
			Title("Priority").
			Options(priorityOpts...).
			Value(&m.fb.priority),
		huh.NewInput().
			Title("Due Date").
			Placeholder("YYYY-MM-DD (optional)").
			Value(&m.fb.dueDate).
			Validate(validateOptionalDate),
		huh.NewInput().
			Title("Attach File").
			Placeholder("path to a file (optional)").
			Value(&m.fb.attachment).
			Validate(validateOptionalFile),
	}

	return huh.NewForm(
		huh.NewGroup(fields...),
	).WithWidth(m.formWidth()).WithHeight(m.formHeight())
}

func (m Model) handleSubmit() tea.Cmd {
	fb := *m.fb
	attachment := strings.TrimSpace(fb.attachment)

	if !m.editMode {
		d := BuildDraft(fb.title, fb.description, fb.status, fb.priority, fb.dueDate)
		return func() tea.Msg { return CreateMsg{Draft: d, AttachmentPath: attachment} }
	}

	p := BuildPatch(m.original, fb.title, fb.description, fb.status, fb.priority, fb.dueDate)
	id := m.original.ID
	return func() tea.Msg { return UpdateMsg{ID: id, Patch: p, AttachmentPath: attachment} }
}

// BuildDraft turns raw form values into a create payload.
func BuildDraft(title, description, status, priority, due string) model.Draft {
	d := model.Draft{
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Status:      status,
		Priority:    priority,
	}
	if t, ok := parseDate(due); ok {
		d.DueDate = &t
	}
	return d
}

// BuildPatch compares raw form values with the original task and returns a
// patch carrying only the differences. An emptied due date clears it.
func BuildPatch(orig model.Task, title, description, status, priority, due string) model.Patch {
	var p model.Patch
	if t := strings.TrimSpace(title); t != orig.Title {
		p.Title = &t
	}
	if d := strings.TrimSpace(description); d != orig.Description {
		p.Description = &d
	}
	if status != orig.Status {
		p.Status = model.StrPtr(status)
	}
	if priority != orig.Priority {
		p.Priority = model.StrPtr(priority)
	}

	newDue, hasDue := parseDate(due)
	switch {
	case !hasDue && orig.DueDate != nil:
		p.ClearDue = true
	case hasDue && (orig.DueDate == nil || orig.DueDate.In(time.Local).Format(dateLayout) != newDue.Format(dateLayout)):
		p.DueDate = &newDue
	}
	return p
}

// IsEmpty reports whether a patch would change nothing.
func IsEmpty(p model.Patch) bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.DueDate == nil && !p.ClearDue && p.Attachments == nil && len(p.AddAttachments) == 0
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (m Model) formWidth() int {
	w := m.width - 4
	if w < 40 {
		w = 40
	}
	if w > 100 {
		w = 100
	}
	return w
}

func (m Model) formHeight() int {
	h := m.height - 4
	if h < 10 {
		h = 10
	}
	return h
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateOptionalDate(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	_, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("invalid date format, use YYYY-MM-DD")
	}
	return nil
}

func validateOptionalFile(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	info, err := os.Stat(s)
	if err != nil {
		return fmt.Errorf("cannot read %s", s)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", s)
	}
	return nil
}
