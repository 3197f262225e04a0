package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/theme"
	"github.com/nhle/taskdesk/internal/view"
)

// Command is a parsed palette entry.
type Command struct {
	Name string

	// Status and Priority are set by "filter"; empty clears that field.
	Status   string
	Priority string

	Sort view.SortKey
	Page int
}

// CommandMsg is emitted when the user executes a valid command.
type CommandMsg Command

// Parse reads one palette line:
//
//	filter status <s> | filter priority <p> | filter clear
//	sort <key> | page <n>
//	refresh | reconnect | dashboard | notifications | settings | logout | help | quit
func Parse(line string) (Command, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}

	c := Command{Name: fields[0]}
	args := fields[1:]
	switch c.Name {
	case "filter":
		if len(args) == 1 && args[0] == "clear" {
			return c, nil
		}
		if len(args) != 2 {
			return Command{}, fmt.Errorf("usage: filter status|priority <value> or filter clear")
		}
		switch args[0] {
		case "status":
			if !model.ValidStatus(args[1]) {
				return Command{}, fmt.Errorf("unknown status %q", args[1])
			}
			c.Status = args[1]
		case "priority":
			if !model.ValidPriority(args[1]) {
				return Command{}, fmt.Errorf("unknown priority %q", args[1])
			}
			c.Priority = args[1]
		default:
			return Command{}, fmt.Errorf("cannot filter by %q", args[0])
		}
	case "sort":
		if len(args) != 1 {
			return Command{}, fmt.Errorf("usage: sort <key>")
		}
		k, ok := view.ParseSortKey(args[0])
		if !ok {
			return Command{}, fmt.Errorf("unknown sort key %q", args[0])
		}
		c.Sort = k
	case "page":
		if len(args) != 1 {
			return Command{}, fmt.Errorf("usage: page <n>")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return Command{}, fmt.Errorf("page must be a positive number")
		}
		c.Page = n
	case "refresh", "reconnect", "dashboard", "notifications", "settings", "logout", "help", "quit":
		if len(args) != 0 {
			return Command{}, fmt.Errorf("%s takes no arguments", c.Name)
		}
	default:
		return Command{}, fmt.Errorf("unknown command %q", c.Name)
	}
	return c, nil
}

// suggestions lists complete command lines for tab completion.
func suggestions() []string {
	out := []string{"filter clear", "refresh", "reconnect", "dashboard", "notifications", "settings", "logout", "help", "quit"}
	for _, s := range model.Statuses {
		out = append(out, "filter status "+s)
	}
	for _, p := range model.Priorities {
		out = append(out, "filter priority "+p)
	}
	for _, k := range view.SortKeys() {
		out = append(out, "sort "+string(k))
	}
	return out
}

// Model is the command palette view.
type Model struct {
	input  textinput.Model
	err    string
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "type a command..."
	ti.Prompt = ": "
	ti.ShowSuggestions = true
	ti.SetSuggestions(suggestions())
	ti.Focus()
	ti.Width = width - 6

	return Model{
		input:  ti,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok && km.String() == "enter" {
		line := strings.TrimSpace(m.input.Value())
		if line == "" {
			return m, nil
		}
		c, err := Parse(line)
		if err != nil {
			m.err = err.Error()
			return m, nil
		}
		m.err = ""
		m.input.Reset()
		return m, func() tea.Msg { return CommandMsg(c) }
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	lines := []string{titleStyle.Render("Command Palette"), m.input.View()}
	if m.err != "" {
		lines = append(lines, theme.OverdueStyle.Render(m.err))
	} else {
		lines = append(lines, theme.HelpStyle.Render("tab completes · esc closes"))
	}

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus clears the last error and gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	m.err = ""
	m.input.Reset()
	return m.input.Focus()
}
