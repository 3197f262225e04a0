package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// GetNotifications fetches the most recent notifications.
func (c *Client) GetNotifications(ctx context.Context, limit int, unreadOnly bool) (*NotificationPage, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	params.Set("unreadOnly", strconv.FormatBool(unreadOnly))

	var page NotificationPage
	if err := c.getJSON(ctx, "/notifications", params, &page); err != nil {
		return nil, fmt.Errorf("fetching notifications: %w", err)
	}
	return &page, nil
}

// MarkAsRead marks one notification read.
func (c *Client) MarkAsRead(ctx context.Context, id string) error {
	path := "/notifications/" + url.PathEscape(id) + "/read"
	if err := c.sendJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("marking notification %s read: %w", id, err)
	}
	return nil
}

// MarkAllAsRead marks every notification read.
func (c *Client) MarkAllAsRead(ctx context.Context) error {
	if err := c.sendJSON(ctx, http.MethodPost, "/notifications/read-all", nil, nil); err != nil {
		return fmt.Errorf("marking all notifications read: %w", err)
	}
	return nil
}

// DeleteNotification deletes one notification.
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	if err := c.sendJSON(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("deleting notification %s: %w", id, err)
	}
	return nil
}
