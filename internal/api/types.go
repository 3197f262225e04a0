package api

import "github.com/nhle/taskdesk/internal/model"

// TaskQuery selects one page of tasks. Empty Status or Priority means any.
type TaskQuery struct {
	Status   string
	Priority string
	Page     int
	Limit    int
}

// TaskPage is the response of GET /api/tasks.
type TaskPage struct {
	Tasks       []model.Task `json:"tasks"`
	TotalPages  int          `json:"totalPages"`
	CurrentPage int          `json:"currentPage"`
	Total       int          `json:"total"`
}

// NotificationPage is the response of GET /api/notifications.
type NotificationPage struct {
	Notifications []model.Notification `json:"notifications"`
	UnreadCount   int                  `json:"unreadCount"`
}

type shareRequest struct {
	UserIDs []string `json:"userIds"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}
