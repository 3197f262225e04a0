package devserver

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskdesk/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenStoreRerunsMigrationsSafely(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.db")

	s, err := OpenStore(path)
	require.NoError(t, err)
	_, err = s.CreateUser(context.Background(), model.User{ID: "1", Name: "A", Email: "a@example.com"}, "pw")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenStore(path)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.db.Get(&version, "SELECT MAX(version) FROM schema_version"))
	assert.Equal(t, 1, version)

	users, err := s.Users(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestAuthenticate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreateUser(ctx, model.User{ID: "1", Name: "A", Email: "A@Example.com"}, "pw")
	require.NoError(t, err)

	u, err := s.Authenticate(ctx, "a@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "1", u.ID)

	_, err = s.Authenticate(ctx, "a@example.com", "wrong")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.CreateUser(ctx, model.User{Name: "B", Email: "a@example.com"}, "pw")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestListTasksVisibilityFilterAndPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"1", "2"} {
		_, err := s.CreateUser(ctx, model.User{ID: id, Name: id, Email: id + "@example.com"}, "pw")
		require.NoError(t, err)
	}

	var mine []model.Task
	for i, title := range []string{"a", "b", "c"} {
		d := model.Draft{Title: title}
		if i == 2 {
			d.Status = model.StatusCompleted
		}
		task, err := s.CreateTask(ctx, "1", d)
		require.NoError(t, err)
		mine = append(mine, task)
		time.Sleep(2 * time.Millisecond)
	}
	other, err := s.CreateTask(ctx, "2", model.Draft{Title: "theirs"})
	require.NoError(t, err)

	got, total, err := s.ListTasks(ctx, "1", TaskFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Title)
	assert.Equal(t, "b", got[1].Title)

	got, _, err = s.ListTasks(ctx, "1", TaskFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine[0].ID, got[0].ID)

	got, total, err = s.ListTasks(ctx, "1", TaskFilter{Status: model.StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "c", got[0].Title)

	require.NoError(t, s.ShareTask(ctx, other.ID, []string{"1"}))
	_, total, err = s.ListTasks(ctx, "1", TaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	shared, owner, err := s.GetTask(ctx, "1", other.ID)
	require.NoError(t, err)
	assert.Equal(t, "2", owner)
	assert.Equal(t, []string{"1"}, shared.SharedWith)

	assert.ErrorIs(t, s.DeleteTask(ctx, "1", other.ID), ErrNotFound)
}

func TestSaveTaskRoundTripsFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreateUser(ctx, model.User{ID: "1", Name: "A", Email: "a@example.com"}, "pw")
	require.NoError(t, err)

	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task, err := s.CreateTask(ctx, "1", model.Draft{
		Title:       "with due",
		DueDate:     &due,
		Attachments: []model.Attachment{{Filename: "f", OriginalName: "a.txt", Path: "/uploads/f"}},
	})
	require.NoError(t, err)

	got, _, err := s.GetTask(ctx, "1", task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DueDate)
	assert.True(t, due.Equal(*got.DueDate))
	assert.Equal(t, task.Attachments, got.Attachments)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, model.PriorityMedium, got.Priority)

	updated := model.Patch{ClearDue: true, Status: model.StrPtr(model.StatusInProgress)}.Apply(got)
	require.NoError(t, s.SaveTask(ctx, updated))

	got, _, err = s.GetTask(ctx, "1", task.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DueDate)
	assert.Equal(t, model.StatusInProgress, got.Status)
	assert.True(t, task.CreatedAt.Equal(got.CreatedAt))
}

func TestNotificationsUnreadCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreateUser(ctx, model.User{ID: "1", Name: "A", Email: "a@example.com"}, "pw")
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		n, err := s.CreateNotification(ctx, "1", model.Notification{
			Message:   "n",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}

	items, unread, err := s.ListNotifications(ctx, "1", 2, false)
	require.NoError(t, err)
	assert.Equal(t, 3, unread)
	require.Len(t, items, 2)
	assert.Equal(t, ids[2], items[0].ID)

	require.NoError(t, s.MarkNotificationRead(ctx, "1", ids[2]))
	items, unread, err = s.ListNotifications(ctx, "1", 10, true)
	require.NoError(t, err)
	assert.Equal(t, 2, unread)
	assert.Len(t, items, 2)

	require.NoError(t, s.DeleteNotification(ctx, "1", ids[0]))
	assert.ErrorIs(t, s.DeleteNotification(ctx, "1", ids[0]), ErrNotFound)
	assert.ErrorIs(t, s.MarkNotificationRead(ctx, "2", ids[1]), ErrNotFound)

	require.NoError(t, s.MarkAllNotificationsRead(ctx, "1"))
	_, unread, err = s.ListNotifications(ctx, "1", 10, false)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestSeedIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, Seed(ctx, s))
	require.NoError(t, Seed(ctx, s))

	users, err := s.Users(ctx)
	require.NoError(t, err)
	assert.Len(t, users, len(DemoUsers))

	_, total, err := s.ListTasks(ctx, DemoUsers[0].ID, TaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}
