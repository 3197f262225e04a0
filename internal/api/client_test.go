package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskdesk/internal/auth"
	"github.com/nhle/taskdesk/internal/model"
)

type staticToken string

func (s staticToken) Bearer() (string, error) { return string(s), nil }

type failingToken struct{ err error }

func (f failingToken) Bearer() (string, error) { return "", f.err }

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, staticToken("tok"), WithRateLimit(0, 0))
}

func TestGetTasksSendsQueryAndBearer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tasks", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "completed", r.URL.Query().Get("status"))
		assert.Equal(t, "", r.URL.Query().Get("priority"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `{"tasks":[{"_id":"a","title":"A","status":"completed","priority":"low"}],"totalPages":3,"currentPage":2,"total":21}`)
	})

	page, err := c.GetTasks(context.Background(), TaskQuery{Status: "completed", Page: 2, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Tasks, 1)
	assert.Equal(t, "a", page.Tasks[0].ID)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 21, page.Total)
}

func TestMissingCredentialFailsBeforeRequest(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, failingToken{err: auth.ErrTokenExpired})
	_, err := c.GetTasks(context.Background(), TaskQuery{})

	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		check  func(error) bool
	}{
		{http.StatusBadRequest, `{"errors":[{"msg":"Title is required","param":"title"}]}`, model.IsValidationError},
		{http.StatusUnprocessableEntity, `{"message":"bad"}`, model.IsValidationError},
		{http.StatusUnauthorized, `{"message":"jwt expired"}`, IsAuthError},
		{http.StatusForbidden, ``, IsAuthError},
		{http.StatusNotFound, `{"message":"Task not found"}`, IsConflict},
		{http.StatusConflict, ``, IsConflict},
		{http.StatusPreconditionFailed, ``, IsConflict},
		{http.StatusInternalServerError, `oops`, IsTransient},
		{http.StatusBadGateway, ``, IsTransient},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := c.UpdateTask(context.Background(), "a", model.Patch{Title: model.StrPtr("x")})
			require.Error(t, err)
			assert.True(t, tt.check(err), "got %v", err)
		})
	}
}

func TestValidationMessageFromServer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"errors":[{"msg":"Title is required","param":"title"}]}`)
	})
	_, err := c.CreateTask(context.Background(), model.Draft{Title: "x"})

	var ve *model.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "title", ve.Field)
	assert.Equal(t, "Title is required", ve.Message)
}

func TestRetriesOn429ThenSucceeds(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"notifications":[],"unreadCount":4}`)
	})

	page, err := c.GetNotifications(context.Background(), 50, false)
	require.NoError(t, err)
	assert.Equal(t, 4, page.UnreadCount)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExhausted429IsTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken("tok"), WithRateLimit(0, 0), WithMaxRetries(2))
	err := c.MarkAllAsRead(context.Background())

	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "max retries (2) exceeded")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, staticToken("tok"), WithRateLimit(0, 0))
	err := c.DeleteTask(context.Background(), "a")
	assert.True(t, IsTransient(err))
	assert.True(t, Retryable(err))
}

func TestShareTaskBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/tasks/t1/share", r.URL.Path)
		var body map[string][]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"1", "3"}, body["userIds"])
		_, _ = io.WriteString(w, `{"_id":"t1","title":"T","status":"pending","priority":"low","sharedWith":["1","3"]}`)
	})

	task, err := c.ShareTask(context.Background(), "t1", []string{"1", "3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, task.SharedWith)
}

func TestUploadFileMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/upload", r.URL.Path)
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "notes.txt", hdr.Filename)
		assert.Equal(t, "hello", string(data))
		_, _ = io.WriteString(w, `{"filename":"abc-notes.txt","originalName":"notes.txt","path":"uploads/abc-notes.txt"}`)
	})

	a, err := c.UploadFile(context.Background(), "/tmp/notes.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", a.OriginalName)
	assert.Equal(t, "uploads/abc-notes.txt", a.Path)
}

func TestLoginIsPublic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"token":"jwt"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	tok, err := c.Login(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)
	assert.Equal(t, "jwt", tok)
}
