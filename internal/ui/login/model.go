package login

import (
	"errors"
	"strings"

	"github.com/charmbracelet/huh"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/taskdesk/internal/theme"
)

// SubmitMsg carries the entered credentials.
type SubmitMsg struct {
	Email    string
	Password string
}

var errInvalidEmail = errors.New("enter a valid email address")

type bindings struct {
	email    string
	password string
}

// Model is the sign-in form.
type Model struct {
	form       *huh.Form
	fb         *bindings
	server     string
	err        string
	submitting bool
	width      int
	height     int
}

// New creates the sign-in view. server is shown so the user knows which
// backend they are signing in to.
func New(server string, width, height int) Model {
	m := Model{fb: &bindings{}, server: server, width: width, height: height}
	m.form = m.buildForm()
	return m
}

func (m *Model) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email").
				Value(&m.fb.email).
				Validate(func(s string) error {
					if !strings.Contains(s, "@") {
						return errInvalidEmail
					}
					return nil
				}),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&m.fb.password),
		),
	).WithShowHelp(false).WithWidth(max(min(m.width-8, 60), 20))
}

// Init focuses the first field.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Reset clears the form, keeping the last email.
func (m *Model) Reset() tea.Cmd {
	m.fb.password = ""
	m.submitting = false
	m.form = m.buildForm()
	return m.form.Init()
}

// SetError shows a failed sign-in and reopens the form.
func (m *Model) SetError(err error) tea.Cmd {
	m.err = err.Error()
	return m.Reset()
}

// Update forwards input to the form and emits SubmitMsg once it completes.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.submitting {
		return m, nil
	}

	fm, cmd := m.form.Update(msg)
	if f, ok := fm.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.submitting = true
		m.err = ""
		email := strings.TrimSpace(m.fb.email)
		password := m.fb.password
		return m, func() tea.Msg { return SubmitMsg{Email: email, Password: password} }
	}
	return m, cmd
}

// View renders the form.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	lines := []string{
		titleStyle.Render("Sign in"),
		theme.HelpStyle.Render(m.server),
		"",
	}
	if m.submitting {
		lines = append(lines, theme.HelpStyle.Render("Signing in..."))
	} else {
		lines = append(lines, m.form.View())
	}
	if m.err != "" {
		lines = append(lines, "", theme.OverdueStyle.Render(m.err))
	}

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
		theme.ModalStyle.Render(strings.Join(lines, "\n")))
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}
