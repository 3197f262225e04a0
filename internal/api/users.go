package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nhle/taskdesk/internal/model"
)

type usersResponse struct {
	Users []model.User `json:"users"`
}

// Users lists the accounts a task can be shared with. It satisfies
// share.Directory.
func (c *Client) Users(ctx context.Context) ([]model.User, error) {
	var resp usersResponse
	if err := c.getJSON(ctx, "/users", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching users: %w", err)
	}
	return resp.Users, nil
}

// Ping checks that the server answers. A credential rejection still counts
// as reachable.
func (c *Client) Ping(ctx context.Context) error {
	err := c.do(ctx, request{method: http.MethodGet, path: "/users", public: true}, nil)
	if err == nil || IsAuthError(err) {
		return nil
	}
	return err
}

// Register creates an account. The server answers 400 with a field message
// when the input is rejected or the email is taken.
func (c *Client) Register(ctx context.Context, name, email, password string) (*model.User, error) {
	var resp struct {
		User model.User `json:"user"`
	}
	req := request{
		method: http.MethodPost,
		path:   "/auth/register",
		body:   registerRequest{Name: name, Email: email, Password: password},
		public: true,
	}
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("registering %s: %w", email, err)
	}
	return &resp.User, nil
}
