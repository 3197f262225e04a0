// Package notify keeps the session's notification list and unread counter
// consistent across the initial fetch, live pushes, and user mutations.
package notify

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"

	"go.uber.org/zap"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/auth"
	"github.com/nhle/taskdesk/internal/model"
)

// ErrSuperseded is returned by LoadInitial when a newer load started while
// this one was in flight. The newer load's result is the one applied.
var ErrSuperseded = errors.New("notification load superseded")

// API is the subset of the REST client the store needs.
type API interface {
	GetNotifications(ctx context.Context, limit int, unreadOnly bool) (*api.NotificationPage, error)
	MarkAsRead(ctx context.Context, id string) error
	MarkAllAsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
}

// Snapshot is a copy of the store state.
type Snapshot struct {
	Items       []model.Notification
	UnreadCount int
}

// Drift is UnreadCount minus the unread entries actually in Items. It is
// non-zero after removing an unread entry, until the next LoadInitial.
func (s Snapshot) Drift() int {
	unread := 0
	for _, n := range s.Items {
		if !n.Read {
			unread++
		}
	}
	return s.UnreadCount - unread
}

// Store owns the notification list for one session. It is safe for
// concurrent use; the lock is never held across a network call.
type Store struct {
	api  API
	sess *auth.Session
	log  *zap.SugaredLogger

	mu         gosync.Mutex
	items      []model.Notification // newest first
	unread     int
	tombstones map[string]struct{}
	loadSeq    uint64
}

// NewStore creates an empty store bound to sess.
func NewStore(a API, sess *auth.Session, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{
		api:        a,
		sess:       sess,
		log:        log,
		tombstones: make(map[string]struct{}),
	}
}

// LoadInitial replaces the list and counter with the server's view. Pushes
// that arrived while the request was in flight are discarded.
func (s *Store) LoadInitial(ctx context.Context, limit int) error {
	s.mu.Lock()
	s.loadSeq++
	seq := s.loadSeq
	s.mu.Unlock()

	page, err := s.api.GetNotifications(ctx, limit, false)
	if err != nil {
		return fmt.Errorf("loading notifications: %w", err)
	}
	if err := s.sess.Guard(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.loadSeq {
		return ErrSuperseded
	}

	seen := make(map[string]struct{}, len(page.Notifications))
	items := make([]model.Notification, 0, len(page.Notifications))
	for _, n := range page.Notifications {
		if _, dead := s.tombstones[n.ID]; dead {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		items = append(items, n)
	}

	s.items = items
	s.unread = page.UnreadCount
	s.log.Debugw("notifications loaded", "count", len(items), "unread", s.unread)
	return nil
}

// IngestPush adds a pushed notification at the head of the list and bumps
// the unread counter. Duplicate or deleted ids are ignored. It reports
// whether the push changed state.
func (s *Store) IngestPush(n model.Notification) bool {
	if !s.sess.Active() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dead := s.tombstones[n.ID]; dead {
		return false
	}
	if s.indexOf(n.ID) >= 0 {
		return false
	}

	n.Read = false
	s.items = append([]model.Notification{n}, s.items...)
	s.unread++
	return true
}

// MarkRead marks one notification read. Entries that are absent or already
// read are left alone and no request is made.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	i := s.indexOf(id)
	skip := i < 0 || s.items[i].Read
	s.mu.Unlock()
	if skip {
		return nil
	}

	if err := s.api.MarkAsRead(ctx, id); err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	if err := s.sess.Guard(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 && !s.items[i].Read {
		s.items[i].Read = true
		if s.unread > 0 {
			s.unread--
		}
	}
	return nil
}

// MarkAllRead marks every notification read and zeroes the counter.
func (s *Store) MarkAllRead(ctx context.Context) error {
	if err := s.api.MarkAllAsRead(ctx); err != nil {
		return fmt.Errorf("marking all notifications read: %w", err)
	}
	if err := s.sess.Guard(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		s.items[i].Read = true
	}
	s.unread = 0
	return nil
}

// Remove deletes a notification and tombstones its id for the rest of the
// session. The unread counter is not adjusted.
func (s *Store) Remove(ctx context.Context, id string) error {
	if err := s.api.DeleteNotification(ctx, id); err != nil {
		return fmt.Errorf("removing notification: %w", err)
	}
	if err := s.sess.Guard(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tombstones[id] = struct{}{}
	i := s.indexOf(id)
	if i < 0 {
		return nil
	}
	wasUnread := !s.items[i].Read
	s.items = append(s.items[:i], s.items[i+1:]...)

	if wasUnread {
		s.log.Warnw("removed unread notification; counter left unchanged",
			"id", id, "unread", s.unread, "drift", s.snapshotLocked().Drift())
	}
	return nil
}

// Get returns the notification with the given id.
func (s *Store) Get(id string) (model.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.items[i], true
	}
	return model.Notification{}, false
}

// UnreadCount returns the current counter value.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Items:       append([]model.Notification(nil), s.items...),
		UnreadCount: s.unread,
	}
}

func (s *Store) indexOf(id string) int {
	for i, n := range s.items {
		if n.ID == id {
			return i
		}
	}
	return -1
}
