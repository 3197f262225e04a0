package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/auth"
	"github.com/nhle/taskdesk/internal/model"
)

type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) GetNotifications(ctx context.Context, limit int, unreadOnly bool) (*api.NotificationPage, error) {
	args := m.Called(ctx, limit, unreadOnly)
	page, _ := args.Get(0).(*api.NotificationPage)
	return page, args.Error(1)
}

func (m *MockAPI) MarkAsRead(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAPI) MarkAllAsRead(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockAPI) DeleteNotification(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func newStore(t *testing.T) (*Store, *MockAPI, *auth.Session) {
	t.Helper()
	m := &MockAPI{}
	sess := auth.NewStaticSession("tok", "u1", time.Time{})
	return NewStore(m, sess, nil), m, sess
}

func note(id string, read bool) model.Notification {
	return model.Notification{ID: id, Message: "msg " + id, Read: read, CreatedAt: time.Now()}
}

var ctx = context.Background()

func TestLoadInitialReplacesState(t *testing.T) {
	s, m, _ := newStore(t)
	m.On("GetNotifications", mock.Anything, 50, false).Return(&api.NotificationPage{
		Notifications: []model.Notification{note("a", false), note("b", true), note("a", false)},
		UnreadCount:   1,
	}, nil)

	s.IngestPush(note("pushed", false))
	require.NoError(t, s.LoadInitial(ctx, 50))

	snap := s.Snapshot()
	require.Len(t, snap.Items, 2)
	assert.Equal(t, "a", snap.Items[0].ID)
	assert.Equal(t, "b", snap.Items[1].ID)
	assert.Equal(t, 1, snap.UnreadCount)
	assert.Zero(t, snap.Drift())
}

func TestIngestPushIsIdempotent(t *testing.T) {
	s, _, _ := newStore(t)

	assert.True(t, s.IngestPush(note("n1", true)))
	assert.False(t, s.IngestPush(note("n1", false)))
	assert.True(t, s.IngestPush(note("n2", false)))

	snap := s.Snapshot()
	require.Len(t, snap.Items, 2)
	assert.Equal(t, "n2", snap.Items[0].ID, "newest first")
	assert.False(t, snap.Items[1].Read, "pushes are stored unread")
	assert.Equal(t, 2, snap.UnreadCount)
}

func TestPushThenLoadWithReadEntryZeroesUnread(t *testing.T) {
	s, m, _ := newStore(t)
	s.IngestPush(note("n1", false))
	require.Equal(t, 1, s.UnreadCount())

	m.On("GetNotifications", mock.Anything, 50, false).Return(&api.NotificationPage{
		Notifications: []model.Notification{note("n1", true)},
		UnreadCount:   0,
	}, nil)
	require.NoError(t, s.LoadInitial(ctx, 50))

	snap := s.Snapshot()
	assert.Equal(t, 0, snap.UnreadCount)
	require.Len(t, snap.Items, 1)
	assert.True(t, snap.Items[0].Read)
}

func TestMarkReadTwiceIsIdempotent(t *testing.T) {
	s, m, _ := newStore(t)
	s.IngestPush(note("n1", false))
	s.IngestPush(note("n2", false))
	m.On("MarkAsRead", mock.Anything, "n1").Return(nil).Once()

	require.NoError(t, s.MarkRead(ctx, "n1"))
	require.NoError(t, s.MarkRead(ctx, "n1"))

	m.AssertNumberOfCalls(t, "MarkAsRead", 1)
	assert.Equal(t, 1, s.UnreadCount())
	n, ok := s.Get("n1")
	require.True(t, ok)
	assert.True(t, n.Read)
}

func TestMarkReadAbsentMakesNoCall(t *testing.T) {
	s, m, _ := newStore(t)
	require.NoError(t, s.MarkRead(ctx, "ghost"))
	m.AssertNotCalled(t, "MarkAsRead", mock.Anything, mock.Anything)
}

func TestMarkReadFailureLeavesState(t *testing.T) {
	s, m, _ := newStore(t)
	s.IngestPush(note("n1", false))
	m.On("MarkAsRead", mock.Anything, "n1").Return(&api.TransientError{Message: "boom"})

	err := s.MarkRead(ctx, "n1")
	require.Error(t, err)
	assert.True(t, api.IsTransient(err))
	assert.Equal(t, 1, s.UnreadCount())
	n, _ := s.Get("n1")
	assert.False(t, n.Read)
}

func TestMarkAllRead(t *testing.T) {
	s, m, _ := newStore(t)
	s.IngestPush(note("n1", false))
	s.IngestPush(note("n2", false))
	m.On("MarkAllAsRead", mock.Anything).Return(nil)

	require.NoError(t, s.MarkAllRead(ctx))

	snap := s.Snapshot()
	assert.Equal(t, 0, snap.UnreadCount)
	for _, n := range snap.Items {
		assert.True(t, n.Read)
	}
}

func TestRemoveTombstonesAndLeavesCounter(t *testing.T) {
	s, m, _ := newStore(t)
	s.IngestPush(note("n1", false))
	m.On("DeleteNotification", mock.Anything, "n1").Return(nil)

	require.NoError(t, s.Remove(ctx, "n1"))

	snap := s.Snapshot()
	assert.Empty(t, snap.Items)
	assert.Equal(t, 1, snap.UnreadCount, "counter is not adjusted on remove")
	assert.Equal(t, 1, snap.Drift())

	assert.False(t, s.IngestPush(note("n1", false)), "deleted ids never reappear")
	assert.Empty(t, s.Snapshot().Items)
}

func TestRemoveFailureKeepsEntry(t *testing.T) {
	s, m, _ := newStore(t)
	s.IngestPush(note("n1", false))
	m.On("DeleteNotification", mock.Anything, "n1").Return(&api.ConflictError{StatusCode: 404, Message: "gone"})

	err := s.Remove(ctx, "n1")
	assert.True(t, api.IsConflict(err))
	assert.Len(t, s.Snapshot().Items, 1)
	assert.True(t, s.IngestPush(note("n2", false)))
}

func TestLoadFailureLeavesState(t *testing.T) {
	s, m, _ := newStore(t)
	s.IngestPush(note("n1", false))
	m.On("GetNotifications", mock.Anything, 50, false).Return(nil, &api.AuthError{StatusCode: 401, Message: "expired"})

	err := s.LoadInitial(ctx, 50)
	assert.True(t, api.IsAuthError(err))
	assert.Len(t, s.Snapshot().Items, 1)
	assert.Equal(t, 1, s.UnreadCount())
}

func TestCompletionAfterSessionEndIsDiscarded(t *testing.T) {
	s, m, sess := newStore(t)
	s.IngestPush(note("n1", false))
	m.On("MarkAllAsRead", mock.Anything).Run(func(mock.Arguments) { sess.End() }).Return(nil)

	err := s.MarkAllRead(ctx)
	assert.True(t, errors.Is(err, auth.ErrSessionEnded))
	assert.Equal(t, 1, s.UnreadCount())

	assert.False(t, s.IngestPush(note("n2", false)), "pushes after logout are ignored")
}

func TestOnlyLatestLoadApplies(t *testing.T) {
	s, m, _ := newStore(t)
	release := make(chan struct{})
	started := make(chan struct{})

	m.On("GetNotifications", mock.Anything, 1, false).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(&api.NotificationPage{Notifications: []model.Notification{note("old", false)}, UnreadCount: 1}, nil)
	m.On("GetNotifications", mock.Anything, 2, false).
		Return(&api.NotificationPage{Notifications: []model.Notification{note("new", true)}, UnreadCount: 0}, nil)

	errc := make(chan error, 1)
	go func() { errc <- s.LoadInitial(ctx, 1) }()
	<-started

	require.NoError(t, s.LoadInitial(ctx, 2))
	close(release)
	assert.ErrorIs(t, <-errc, ErrSuperseded)

	snap := s.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "new", snap.Items[0].ID)
	assert.Equal(t, 0, snap.UnreadCount)
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "Just now", RelativeTime(now.Add(-30*time.Minute), now))
	assert.Equal(t, "5h ago", RelativeTime(now.Add(-5*time.Hour), now))
	assert.Equal(t, "3d ago", RelativeTime(now.Add(-75*time.Hour), now))
	old := now.Add(-10 * 24 * time.Hour)
	assert.Equal(t, old.Local().Format("2006-01-02"), RelativeTime(old, now))
}
