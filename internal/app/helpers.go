package app

import (
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/auth"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/notify"
	"github.com/nhle/taskdesk/internal/tasks"
)

// requestTimeout bounds one UI-initiated operation, including uploads and
// rate limiter waits.
const requestTimeout = 2 * time.Minute

// ignorable reports errors that mean the result is no longer wanted.
func ignorable(err error) bool {
	return errors.Is(err, auth.ErrSessionEnded) ||
		errors.Is(err, tasks.ErrSuperseded) ||
		errors.Is(err, notify.ErrSuperseded)
}

func isAuthFailure(err error) bool {
	return api.IsAuthError(err)
}

// describeError turns a failure into a status bar message.
func describeError(err error) string {
	var (
		verr *model.ValidationError
		cerr *api.ConflictError
		terr *api.TransientError
		aerr *api.AuthError
	)
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.As(err, &aerr):
		return "Not authorized: " + aerr.Message
	case errors.As(err, &cerr):
		return "Changed on the server, list reloaded: " + cerr.Message
	case errors.As(err, &terr):
		return "Server unreachable, try again: " + terr.Message
	case errors.Is(err, tasks.ErrNotFound):
		return "That task is no longer in the list"
	default:
		return err.Error()
	}
}

// failed reports err. Auth failures end the session and conflicts reload
// the task list.
func (m Model) failed(err error) (tea.Model, tea.Cmd) {
	if ignorable(err) {
		return m, nil
	}
	if isAuthFailure(err) {
		return m.logout("Session expired, sign in again", true)
	}
	m.setStatus(describeError(err), true)
	if api.IsConflict(err) && m.scope != nil {
		return m, m.loadTasks()
	}
	return m, nil
}

// cycle returns the value after cur in values, wrapping to "" after the
// last one.
func cycle(cur string, values []string) string {
	if cur == "" {
		return values[0]
	}
	for i, v := range values {
		if v == cur && i+1 < len(values) {
			return values[i+1]
		}
	}
	return ""
}
