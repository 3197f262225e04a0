package devserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/auth"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/realtime"
)

type testEnv struct {
	srv *Server
	ts  *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newTestStore(t)
	require.NoError(t, Seed(context.Background(), store))

	srv := New(store, WithUploadDir(t.TempDir()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.CloseSockets()
		ts.Close()
	})
	return &testEnv{srv: srv, ts: ts}
}

func (e *testEnv) client(t *testing.T, userID string) (*api.Client, *auth.Session) {
	t.Helper()
	token, err := e.srv.IssueToken(userID, time.Hour)
	require.NoError(t, err)
	sess, err := auth.NewSession(token)
	require.NoError(t, err)
	return api.NewClient(e.ts.URL, sess, api.WithRateLimit(0, 0)), sess
}

func (e *testEnv) socketURL() string {
	return model.DeriveSocketURL(e.ts.URL)
}

func TestLoginIssuesTokenForUser(t *testing.T) {
	env := newTestEnv(t)
	c := api.NewClient(env.ts.URL, nil)

	token, err := c.Login(context.Background(), "jane@example.com", DemoPassword)
	require.NoError(t, err)

	sess, err := auth.NewSession(token)
	require.NoError(t, err)
	assert.Equal(t, "2", sess.UserID())
	assert.False(t, sess.Expired())

	_, err = c.Login(context.Background(), "jane@example.com", "nope")
	assert.True(t, api.IsAuthError(err))
}

func TestRejectsMissingOrForgedToken(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/api/tasks")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	forged := New(newTestStore(t), WithSecret("other"))
	token, err := forged.IssueToken("1", time.Hour)
	require.NoError(t, err)
	c := api.NewClient(env.ts.URL, auth.NewStaticSession(token, "1", time.Now().Add(time.Hour)))

	_, err = c.GetTasks(context.Background(), api.TaskQuery{})
	assert.True(t, api.IsAuthError(err))
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.client(t, "2")
	ctx := context.Background()

	created, err := c.CreateTask(ctx, model.Draft{Title: "  Ship it  ", Priority: model.PriorityHigh})
	require.NoError(t, err)
	assert.Equal(t, "Ship it", created.Title)
	assert.Equal(t, model.StatusPending, created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	page, err := c.GetTasks(ctx, api.TaskQuery{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 1, page.TotalPages)
	assert.Equal(t, 1, page.CurrentPage)

	due := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	updated, err := c.UpdateTask(ctx, created.ID, model.Patch{
		Status:  model.StrPtr(model.StatusInProgress),
		DueDate: &due,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, updated.Status)
	require.NotNil(t, updated.DueDate)
	assert.True(t, due.Equal(*updated.DueDate))
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt))

	cleared, err := c.UpdateTask(ctx, created.ID, model.Patch{ClearDue: true})
	require.NoError(t, err)
	assert.Nil(t, cleared.DueDate)

	require.NoError(t, c.DeleteTask(ctx, created.ID))
	err = c.DeleteTask(ctx, created.ID)
	assert.True(t, api.IsConflict(err))
}

func TestValidationErrorsCarryField(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.client(t, "1")

	_, err := c.CreateTask(context.Background(), model.Draft{Title: "   "})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "title", ve.Field)

	_, err = c.GetTasks(context.Background(), api.TaskQuery{Status: "archived"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "status", ve.Field)
}

func TestShareNotifiesRecipientOverSocket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner, _ := env.client(t, "1")
	_, janeSess := env.client(t, "2")

	ch := realtime.New(env.socketURL(), 2*time.Second, nil)
	got := make(chan model.Notification, 4)
	ch.OnNotification(func(n model.Notification) { got <- n })
	require.NoError(t, ch.Connect(ctx, janeSess.Token(), "2"))
	defer ch.Disconnect()
	require.Eventually(t, func() bool { return env.srv.Connections("2") == 1 }, 2*time.Second, 10*time.Millisecond)

	task, err := owner.CreateTask(ctx, model.Draft{Title: "Plan offsite"})
	require.NoError(t, err)
	shared, err := owner.ShareTask(ctx, task.ID, []string{"2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, shared.SharedWith)

	select {
	case n := <-got:
		assert.Equal(t, task.ID, n.TaskID)
		assert.Contains(t, n.Message, "John Doe")
		assert.Contains(t, n.Message, "Plan offsite")
		assert.False(t, n.Read)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification pushed")
	}

	jane, _ := env.client(t, "2")
	page, err := jane.GetTasks(ctx, api.TaskQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	_, err = jane.ShareTask(ctx, task.ID, []string{"3"})
	assert.True(t, api.IsConflict(err), "only the owner may share")

	_, err = owner.ShareTask(ctx, task.ID, nil)
	var ve *model.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestSocketRequiresValidToken(t *testing.T) {
	env := newTestEnv(t)
	ch := realtime.New(env.socketURL(), 2*time.Second, nil)

	err := ch.Connect(context.Background(), "garbage", "1")
	require.Error(t, err)
	assert.True(t, api.IsAuthError(err))
	assert.Zero(t, env.srv.Connections("1"))
}

func TestSocketRejectsMismatchedJoin(t *testing.T) {
	env := newTestEnv(t)
	_, sess := env.client(t, "1")
	ch := realtime.New(env.socketURL(), 2*time.Second, nil)

	require.NoError(t, ch.Connect(context.Background(), sess.Token(), "2"))
	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server kept a socket that joined as someone else")
	}
	assert.Zero(t, env.srv.Connections("1"))
	assert.Zero(t, env.srv.Connections("2"))
}

func TestDropConnectionsLooksLikeNetworkLoss(t *testing.T) {
	env := newTestEnv(t)
	_, sess := env.client(t, "1")
	ch := realtime.New(env.socketURL(), 2*time.Second, nil)
	require.NoError(t, ch.Connect(context.Background(), sess.Token(), "1"))
	require.Eventually(t, func() bool { return env.srv.Connections("1") == 1 }, 2*time.Second, 10*time.Millisecond)

	env.srv.DropConnections("1")

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice the drop")
	}
	assert.True(t, api.IsTransient(ch.Err()))
}

func TestFailNextInjectsOneFailure(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.client(t, "1")
	ctx := context.Background()

	env.srv.FailNext(http.MethodGet, "/api/tasks", http.StatusServiceUnavailable)

	_, err := c.GetTasks(ctx, api.TaskQuery{})
	assert.True(t, api.IsTransient(err))

	page, err := c.GetTasks(ctx, api.TaskQuery{})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
}

func TestRateLimitedRequestIsRetried(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.client(t, "1")

	env.srv.FailNext(http.MethodGet, "/api/notifications", http.StatusTooManyRequests)

	page, err := c.GetNotifications(context.Background(), 10, false)
	require.NoError(t, err)
	assert.Equal(t, 1, page.UnreadCount)
}

func TestNotificationEndpoints(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.client(t, "1")
	ctx := context.Background()

	pushed, err := env.srv.Push(ctx, "1", model.Notification{Message: "ping"})
	require.NoError(t, err)

	page, err := c.GetNotifications(ctx, 10, false)
	require.NoError(t, err)
	assert.Equal(t, 2, page.UnreadCount)
	require.Len(t, page.Notifications, 2)
	assert.Equal(t, pushed.ID, page.Notifications[0].ID)

	require.NoError(t, c.MarkAsRead(ctx, pushed.ID))
	page, err = c.GetNotifications(ctx, 10, true)
	require.NoError(t, err)
	assert.Equal(t, 1, page.UnreadCount)
	assert.Len(t, page.Notifications, 1)

	require.NoError(t, c.MarkAllAsRead(ctx))
	require.NoError(t, c.DeleteNotification(ctx, pushed.ID))
	assert.True(t, api.IsConflict(c.DeleteNotification(ctx, pushed.ID)))

	page, err = c.GetNotifications(ctx, 10, false)
	require.NoError(t, err)
	assert.Zero(t, page.UnreadCount)
	assert.Len(t, page.Notifications, 1)
}

func TestUploadServesFileBack(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.client(t, "1")

	a, err := c.UploadFile(context.Background(), "/tmp/notes.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", a.OriginalName)
	assert.True(t, strings.HasSuffix(a.Filename, ".txt"))

	resp, err := http.Get(env.ts.URL + a.Path)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUsersExcludesCaller(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.client(t, "1")

	users, err := c.Users(context.Background())
	require.NoError(t, err)
	require.Len(t, users, len(DemoUsers)-1)
	for _, u := range users {
		assert.NotEqual(t, "1", u.ID)
	}
}

func TestRegisterCreatesAccount(t *testing.T) {
	env := newTestEnv(t)
	c := api.NewClient(env.ts.URL, nil)
	ctx := context.Background()

	u, err := c.Register(ctx, "  Ada  ", "ada@example.com", "lovelace")
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.Name)
	assert.NotEmpty(t, u.ID)

	token, err := c.Login(ctx, "ada@example.com", "lovelace")
	require.NoError(t, err)
	sess, err := auth.NewSession(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, sess.UserID())

	tests := []struct {
		name, email, password, field string
	}{
		{"Ada", "ada@example.com", "lovelace", "email"},
		{"", "new@example.com", "lovelace", "name"},
		{"New", "not-an-email", "lovelace", "email"},
		{"New", "new@example.com", "short", "password"},
	}
	for _, tt := range tests {
		t.Run(tt.field+" "+tt.email, func(t *testing.T) {
			_, err := c.Register(ctx, tt.name, tt.email, tt.password)
			var ve *model.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}
