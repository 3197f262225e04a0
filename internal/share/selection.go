// Package share drives the share dialog: pick users for one task, then send
// the whole selection in a single request.
package share

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	gosync "sync"

	"go.uber.org/zap"

	"github.com/nhle/taskdesk/internal/auth"
	"github.com/nhle/taskdesk/internal/model"
)

var (
	// ErrEmptySelection is returned by ConfirmShare with nothing selected.
	ErrEmptySelection error = &model.ValidationError{Field: "userIds", Message: "select at least one user"}

	// ErrNotOpen is returned when the dialog is used while closed.
	ErrNotOpen = errors.New("share dialog is not open")

	// ErrUnknownUser is returned when toggling an id that is not a candidate.
	ErrUnknownUser = errors.New("unknown user")
)

// Sharer sends the share request.
type Sharer interface {
	ShareTask(ctx context.Context, taskID string, userIDs []string) (*model.Task, error)
}

// Directory lists users a task can be shared with.
type Directory interface {
	Users(ctx context.Context) ([]model.User, error)
}

// StaticDirectory serves a fixed list, typically from configuration.
type StaticDirectory []model.User

// Users returns a copy of the list.
func (d StaticDirectory) Users(context.Context) ([]model.User, error) {
	return append([]model.User(nil), d...), nil
}

// Selection is the state of one share dialog. The selected set lives only
// between Open and Close (or a successful share).
type Selection struct {
	sharer  Sharer
	sess    *auth.Session
	refresh func(context.Context) error
	log     *zap.SugaredLogger

	mu         gosync.Mutex
	open       bool
	task       model.Task
	candidates []model.User
	selected   map[string]struct{}
}

// NewSelection creates a closed dialog. refresh is called after a
// successful share so the parent list picks up the change.
func NewSelection(s Sharer, sess *auth.Session, refresh func(context.Context) error, log *zap.SugaredLogger) *Selection {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Selection{sharer: s, sess: sess, refresh: refresh, log: log}
}

// Open starts a dialog for task with candidates from dir and an empty
// selection. Users the task is already shared with are not preselected.
func (s *Selection) Open(ctx context.Context, task model.Task, dir Directory) error {
	users, err := dir.Users(ctx)
	if err != nil {
		return fmt.Errorf("listing share candidates: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	s.task = task.Clone()
	s.candidates = users
	s.selected = make(map[string]struct{})
	return nil
}

// Toggle adds userID to the selection, or removes it if present.
func (s *Selection) Toggle(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	if !s.isCandidateLocked(userID) {
		return fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	if _, ok := s.selected[userID]; ok {
		delete(s.selected, userID)
	} else {
		s.selected[userID] = struct{}{}
	}
	return nil
}

// IsSelected reports whether userID is in the selection.
func (s *Selection) IsSelected(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.selected[userID]
	return ok
}

// Selected returns the selected ids in sorted order.
func (s *Selection) Selected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedLocked()
}

// Search returns the candidates whose name or email contains term,
// ignoring case. An empty term returns every candidate.
func (s *Selection) Search(term string) []model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	term = strings.ToLower(strings.TrimSpace(term))
	var out []model.User
	for _, u := range s.candidates {
		if term == "" ||
			strings.Contains(strings.ToLower(u.Name), term) ||
			strings.Contains(strings.ToLower(u.Email), term) {
			out = append(out, u)
		}
	}
	return out
}

// ConfirmShare sends the full selection. On success the parent is refreshed
// and the dialog closes; on failure it stays open with the selection intact.
func (s *Selection) ConfirmShare(ctx context.Context) (*model.Task, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil, ErrNotOpen
	}
	ids := s.selectedLocked()
	taskID := s.task.ID
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil, ErrEmptySelection
	}

	updated, err := s.sharer.ShareTask(ctx, taskID, ids)
	if err != nil {
		return nil, fmt.Errorf("sharing task: %w", err)
	}
	if err := s.sess.Guard(); err != nil {
		return nil, err
	}
	s.log.Infow("task shared", "task", taskID, "users", ids)

	s.Close()

	if s.refresh != nil {
		if err := s.refresh(ctx); err != nil {
			s.log.Warnw("refresh after share failed", "task", taskID, "error", err)
		}
	}
	return updated, nil
}

// Close discards the selection.
func (s *Selection) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.task = model.Task{}
	s.candidates = nil
	s.selected = nil
}

// IsOpen reports whether a dialog is active.
func (s *Selection) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Task returns the task the dialog is for.
func (s *Selection) Task() model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task.Clone()
}

func (s *Selection) selectedLocked() []string {
	ids := make([]string, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Selection) isCandidateLocked(id string) bool {
	for _, u := range s.candidates {
		if u.ID == id {
			return true
		}
	}
	return false
}
