package config

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/theme"
	"github.com/nhle/taskdesk/internal/view"
)

// pingTimeout bounds the connection test.
const pingTimeout = 10 * time.Second

// ConfigMode represents the current state of the settings view.
type ConfigMode int

const (
	ModeForm           ConfigMode = iota // Editing fields
	ModeValidating                       // Testing the server URL
	ModeValidateResult                   // Showing the test result
)

// SavedMsg carries the edited configuration.
type SavedMsg struct {
	Config model.AppConfig
}

// DoneMsg signals the settings view should close without saving.
type DoneMsg struct{}

// PingFunc checks that a server answers at baseURL.
type PingFunc func(ctx context.Context, baseURL string) error

// pingResultMsg carries the result of a connection test.
type pingResultMsg struct {
	err error
}

// formBindings holds field values on the heap so huh's pointers survive
// model copies.
type formBindings struct {
	baseURL    string
	pageSize   string
	sort       string
	notifLimit string
}

// Model is the settings view: edit, test the server, then save.
type Model struct {
	mode    ConfigMode
	form    *huh.Form
	fb      *formBindings
	current model.AppConfig
	ping    PingFunc
	spinner spinner.Model
	result  error

	width, height int
}

// New creates a settings view. ping may be nil to skip the connection test.
func New(ping PingFunc, width, height int) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		fb:      &formBindings{},
		ping:    ping,
		spinner: sp,
		width:   width,
		height:  height,
	}
}

// Start opens the form filled from cfg.
func (m *Model) Start(cfg model.AppConfig) tea.Cmd {
	m.current = cfg
	m.result = nil
	*m.fb = formBindings{
		baseURL:    cfg.Server.BaseURL,
		pageSize:   strconv.Itoa(cfg.Tasks.PageSize),
		sort:       cfg.Tasks.Sort,
		notifLimit: strconv.Itoa(cfg.Notifications.Limit),
	}
	if _, ok := view.ParseSortKey(m.fb.sort); !ok {
		m.fb.sort = string(view.CreatedDesc)
	}
	m.mode = ModeForm
	m.form = m.buildForm()
	return m.form.Init()
}

// Update handles messages and dispatches based on current mode.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case pingResultMsg:
		m.result = msg.err
		m.mode = ModeValidateResult
		return m, nil

	case spinner.TickMsg:
		if m.mode == ModeValidating {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	switch m.mode {
	case ModeForm:
		return m.updateForm(msg)
	case ModeValidating:
		if km, ok := msg.(tea.KeyMsg); ok && km.String() == "esc" {
			m.mode = ModeForm
			m.form = m.buildForm()
			return m, m.form.Init()
		}
	case ModeValidateResult:
		if km, ok := msg.(tea.KeyMsg); ok {
			switch km.String() {
			case "enter", "y":
				cfg := m.Build()
				return m, func() tea.Msg { return SavedMsg{Config: cfg} }
			case "e":
				m.mode = ModeForm
				m.form = m.buildForm()
				return m, m.form.Init()
			case "esc":
				return m, func() tea.Msg { return DoneMsg{} }
			}
		}
	}
	return m, nil
}

func (m Model) updateForm(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}
	if km, ok := msg.(tea.KeyMsg); ok && km.String() == "esc" {
		return m, func() tea.Msg { return DoneMsg{} }
	}
	fm, cmd := m.form.Update(msg)
	if f, ok := fm.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateAborted:
		return m, func() tea.Msg { return DoneMsg{} }
	case huh.StateCompleted:
		if m.ping == nil {
			m.mode = ModeValidateResult
			return m, nil
		}
		m.mode = ModeValidating
		return m, tea.Batch(m.spinner.Tick, m.runPing(strings.TrimSpace(m.fb.baseURL)))
	}
	return m, cmd
}

func (m Model) runPing(baseURL string) tea.Cmd {
	ping := m.ping
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		return pingResultMsg{err: ping(ctx, baseURL)}
	}
}

// Build returns the current configuration with the form values applied.
// The socket URL is derived again when the server changes.
func (m Model) Build() model.AppConfig {
	cfg := m.current
	base := strings.TrimRight(strings.TrimSpace(m.fb.baseURL), "/")
	if base != cfg.Server.BaseURL {
		cfg.Server.BaseURL = base
		cfg.Server.SocketURL = ""
	}
	cfg.Tasks.PageSize, _ = strconv.Atoi(strings.TrimSpace(m.fb.pageSize))
	cfg.Tasks.Sort = m.fb.sort
	cfg.Notifications.Limit, _ = strconv.Atoi(strings.TrimSpace(m.fb.notifLimit))
	cfg.Normalize()
	return cfg
}

func (m *Model) buildForm() *huh.Form {
	sortOpts := make([]huh.Option[string], 0, len(view.SortKeys()))
	for _, k := range view.SortKeys() {
		sortOpts = append(sortOpts, huh.NewOption(k.Label(), string(k)))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Server URL").
				Placeholder("http://localhost:5000").
				Value(&m.fb.baseURL).
				Validate(validateURL),
			huh.NewInput().
				Title("Tasks per page").
				Value(&m.fb.pageSize).
				Validate(validatePositive("page size")),
			huh.NewSelect[string]().
				Title("Default sort").
				Options(sortOpts...).
				Value(&m.fb.sort),
			huh.NewInput().
				Title("Notifications to load").
				Value(&m.fb.notifLimit).
				Validate(validatePositive("notification limit")),
		),
	).WithWidth(max(min(m.width-4, 80), 40))
}

// View renders the settings view.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	var body string
	switch m.mode {
	case ModeForm:
		if m.form != nil {
			body = m.form.View()
		}
	case ModeValidating:
		body = fmt.Sprintf("%s Testing connection to %s...", m.spinner.View(), strings.TrimSpace(m.fb.baseURL))
	case ModeValidateResult:
		if m.result != nil {
			body = theme.OverdueStyle.Render("Server did not answer: "+m.result.Error()) + "\n\n" +
				theme.HelpStyle.Render("enter save anyway · e edit · esc discard")
		} else {
			body = theme.StatusStyle(model.StatusCompleted).Render("Server is reachable") + "\n\n" +
				theme.HelpStyle.Render("enter save · e edit · esc discard")
		}
	}

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(titleStyle.Render("Settings") + "\n" + body)
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func validateURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("URL must include http(s) scheme and host (e.g., https://example.com)")
	}
	return nil
}

func validatePositive(name string) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n < 1 {
			return fmt.Errorf("%s must be a positive number", name)
		}
		return nil
	}
}
