package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"

	"github.com/nhle/taskdesk/internal/model"
)

// GetTasks fetches one filtered page of tasks.
func (c *Client) GetTasks(ctx context.Context, q TaskQuery) (*TaskPage, error) {
	params := url.Values{}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if q.Priority != "" {
		params.Set("priority", q.Priority)
	}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	var page TaskPage
	if err := c.getJSON(ctx, "/tasks", params, &page); err != nil {
		return nil, fmt.Errorf("fetching tasks: %w", err)
	}
	return &page, nil
}

// CreateTask creates a task and returns the server's copy.
func (c *Client) CreateTask(ctx context.Context, d model.Draft) (*model.Task, error) {
	var t model.Task
	if err := c.sendJSON(ctx, http.MethodPost, "/tasks", d, &t); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	return &t, nil
}

// UpdateTask applies a partial update and returns the server's copy.
func (c *Client) UpdateTask(ctx context.Context, id string, p model.Patch) (*model.Task, error) {
	var t model.Task
	if err := c.sendJSON(ctx, http.MethodPut, "/tasks/"+url.PathEscape(id), p, &t); err != nil {
		return nil, fmt.Errorf("updating task %s: %w", id, err)
	}
	return &t, nil
}

// DeleteTask deletes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	if err := c.sendJSON(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	return nil
}

// ShareTask shares a task with the given users.
func (c *Client) ShareTask(ctx context.Context, id string, userIDs []string) (*model.Task, error) {
	var t model.Task
	path := "/tasks/" + url.PathEscape(id) + "/share"
	if err := c.sendJSON(ctx, http.MethodPost, path, shareRequest{UserIDs: userIDs}, &t); err != nil {
		return nil, fmt.Errorf("sharing task %s: %w", id, err)
	}
	return &t, nil
}

// UploadFile sends a file as multipart form field "file" and returns the
// attachment reference to store on a task.
func (c *Client) UploadFile(ctx context.Context, name string, content io.Reader) (*model.Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(name))
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	var a model.Attachment
	req := request{
		method:      http.MethodPost,
		path:        "/upload",
		raw:         buf.Bytes(),
		contentType: mw.FormDataContentType(),
	}
	if err := c.do(ctx, req, &a); err != nil {
		return nil, fmt.Errorf("uploading %s: %w", name, err)
	}
	return &a, nil
}

// Login exchanges email and password for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp loginResponse
	req := request{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   loginRequest{Email: email, Password: password},
		public: true,
	}
	if err := c.do(ctx, req, &resp); err != nil {
		return "", fmt.Errorf("logging in: %w", err)
	}
	if resp.Token == "" {
		return "", &AuthError{Message: "login response carried no token"}
	}
	return resp.Token, nil
}
