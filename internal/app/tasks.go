package app

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/session"
)

// tasksLoadedMsg is sent after a page load finishes.
type tasksLoadedMsg struct {
	scope *session.Scope
	err   error
}

// mutationDoneMsg is sent after a create, update, or delete settles.
type mutationDoneMsg struct {
	scope *session.Scope
	verb  string
	title string
	err   error
}

// uploadFailedMsg is sent when the attachment could not be uploaded. The
// task itself is left untouched.
type uploadFailedMsg struct {
	scope *session.Scope
	err   error
}

func (m Model) loadTasks() tea.Cmd {
	scope := m.scope
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return tasksLoadedMsg{scope: scope, err: scope.Tasks.Load(ctx)}
	}
}

func (m Model) setFilter(status, priority string) tea.Cmd {
	scope := m.scope
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return tasksLoadedMsg{scope: scope, err: scope.Tasks.SetFilter(ctx, status, priority)}
	}
}

func (m Model) setPage(page int) tea.Cmd {
	scope := m.scope
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return tasksLoadedMsg{scope: scope, err: scope.Tasks.SetPage(ctx, page)}
	}
}

// upload sends a local file and returns the attachment to store.
func upload(ctx context.Context, client *api.Client, path string) (*model.Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening attachment: %w", err)
	}
	defer f.Close()
	return client.UploadFile(ctx, path, f)
}

// createTask uploads the attachment, if any, and then creates the task
// optimistically.
func (m Model) createTask(d model.Draft, attachmentPath string) tea.Cmd {
	scope := m.scope
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		if attachmentPath != "" {
			a, err := upload(ctx, scope.Client, attachmentPath)
			if err != nil {
				return uploadFailedMsg{scope: scope, err: err}
			}
			d.Attachments = append(d.Attachments, *a)
		}

		t, err := scope.Tasks.CreateOptimistic(ctx, d)
		return mutationDoneMsg{scope: scope, verb: "Created", title: t.Title, err: err}
	}
}

// updateTask uploads the attachment, if any, and applies the patch
// optimistically with the upload appended to the task's attachments.
func (m Model) updateTask(id string, p model.Patch, attachmentPath string) tea.Cmd {
	scope := m.scope
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		if attachmentPath != "" {
			a, err := upload(ctx, scope.Client, attachmentPath)
			if err != nil {
				return uploadFailedMsg{scope: scope, err: err}
			}
			p.AddAttachments = append(p.AddAttachments, *a)
		}

		t, err := scope.Tasks.UpdateOptimistic(ctx, id, p)
		return mutationDoneMsg{scope: scope, verb: "Updated", title: t.Title, err: err}
	}
}

func (m Model) confirmDelete() tea.Cmd {
	scope := m.scope
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return mutationDoneMsg{scope: scope, verb: "Deleted", err: scope.Tasks.ConfirmDelete(ctx)}
	}
}

func (m Model) handleTaskMsg(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tasksLoadedMsg:
		if msg.scope != m.scope {
			return m, nil
		}
		m.taskList.SetLoading(false)
		if msg.err != nil {
			return m.failed(msg.err)
		}
		return m, m.refreshList()

	case mutationDoneMsg:
		if msg.scope != m.scope {
			return m, nil
		}
		if msg.err != nil {
			next, cmd := m.failed(msg.err)
			nm := next.(Model)
			return nm, tea.Batch(cmd, nm.refreshList())
		}
		text := msg.verb
		if msg.title != "" {
			text += fmt.Sprintf(" %q", msg.title)
		}
		m.setStatus(text, false)
		return m, m.refreshList()

	case uploadFailedMsg:
		if msg.scope != m.scope {
			return m, nil
		}
		return m.failed(msg.err)
	}
	return m, nil
}
