package model

import "time"

// Notification is an alert pushed to, or fetched by, the current user.
type Notification struct {
	// ID is the server-assigned identity.
	ID string `json:"_id"`

	// TaskID links the notification to a task when the server provides one.
	TaskID string `json:"taskId,omitempty"`

	// Message is the human-readable notification text.
	Message string `json:"message"`

	// Read indicates whether the user has seen this notification.
	Read bool `json:"read"`

	// CreatedAt is when the server generated the notification.
	CreatedAt time.Time `json:"createdAt"`
}
