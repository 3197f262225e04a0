package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Status values accepted by the task API.
const (
	StatusPending    = "pending"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
)

// Priority values accepted by the task API.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Statuses lists every valid status in display order.
var Statuses = []string{StatusPending, StatusInProgress, StatusCompleted}

// Priorities lists every valid priority in display order.
var Priorities = []string{PriorityLow, PriorityMedium, PriorityHigh}

// Attachment is a file uploaded to the server and referenced by a task.
type Attachment struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	Path         string `json:"path"`
}

// Task is a work item owned by, or shared with, the current user.
type Task struct {
	// ID is the server-assigned identity. Optimistic placeholders carry a
	// temporary id until the server confirms them.
	ID string `json:"_id"`

	// Title is the required, human-readable summary.
	Title string `json:"title"`

	// Description is optional free text.
	Description string `json:"description,omitempty"`

	// Status is one of the Status* constants.
	Status string `json:"status"`

	// Priority is one of the Priority* constants.
	Priority string `json:"priority"`

	// DueDate is optional.
	DueDate *time.Time `json:"dueDate,omitempty"`

	// CreatedAt is assigned by the server and never changes afterwards.
	CreatedAt time.Time `json:"createdAt"`

	// SharedWith holds the ids of users the task is shared with.
	SharedWith []string `json:"sharedWith,omitempty"`

	// Attachments keeps upload order.
	Attachments []Attachment `json:"attachments,omitempty"`

	// Pending marks a local placeholder that the server has not confirmed.
	Pending bool `json:"-"`
}

// IsOverdue reports whether the task is past its due date and not completed.
func (t Task) IsOverdue(now time.Time) bool {
	if t.DueDate == nil || t.Status == StatusCompleted {
		return false
	}
	return t.DueDate.Before(now)
}

// IsSharedWith reports whether userID is in the task's share set.
func (t Task) IsSharedWith(userID string) bool {
	for _, id := range t.SharedWith {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hold a task across state changes.
func (t Task) Clone() Task {
	c := t
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.SharedWith != nil {
		c.SharedWith = append([]string(nil), t.SharedWith...)
	}
	if t.Attachments != nil {
		c.Attachments = append([]Attachment(nil), t.Attachments...)
	}
	return c
}

// Draft is the payload for creating a task.
type Draft struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      string       `json:"status,omitempty"`
	Priority    string       `json:"priority,omitempty"`
	DueDate     *time.Time   `json:"dueDate,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Normalize trims the title and fills the defaults the server would apply.
func (d Draft) Normalize() Draft {
	d.Title = strings.TrimSpace(d.Title)
	if d.Status == "" {
		d.Status = StatusPending
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
	return d
}

// Validate checks the draft before it is sent anywhere.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if d.Status != "" && !ValidStatus(d.Status) {
		return &ValidationError{Field: "status", Message: "invalid status value " + d.Status}
	}
	if d.Priority != "" && !ValidPriority(d.Priority) {
		return &ValidationError{Field: "priority", Message: "invalid priority value " + d.Priority}
	}
	return nil
}

// Placeholder builds the local optimistic entry for a draft.
func (d Draft) Placeholder(id string, now time.Time) Task {
	n := d.Normalize()
	return Task{
		ID:          id,
		Title:       n.Title,
		Description: n.Description,
		Status:      n.Status,
		Priority:    n.Priority,
		DueDate:     n.DueDate,
		CreatedAt:   now,
		Attachments: append([]Attachment(nil), n.Attachments...),
		Pending:     true,
	}
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Title       *string      `json:"title,omitempty"`
	Description *string      `json:"description,omitempty"`
	Status      *string      `json:"status,omitempty"`
	Priority    *string      `json:"priority,omitempty"`
	DueDate     *time.Time   `json:"dueDate,omitempty"`
	ClearDue    bool         `json:"-"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// AddAttachments are appended to whatever the task holds when the patch
	// is applied. Resolve folds them into Attachments before sending.
	AddAttachments []Attachment `json:"-"`
}

// Validate checks the patch before it is sent anywhere.
func (p Patch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if p.Status != nil && !ValidStatus(*p.Status) {
		return &ValidationError{Field: "status", Message: "invalid status value " + *p.Status}
	}
	if p.Priority != nil && !ValidPriority(*p.Priority) {
		return &ValidationError{Field: "priority", Message: "invalid priority value " + *p.Priority}
	}
	return nil
}

// MarshalJSON sends an explicit null due date when ClearDue is set.
func (p Patch) MarshalJSON() ([]byte, error) {
	type wire Patch
	if !p.ClearDue {
		return json.Marshal(wire(p))
	}
	raw, err := json.Marshal(wire(p))
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["dueDate"] = json.RawMessage("null")
	return json.Marshal(fields)
}

// Apply returns t with the patch applied. CreatedAt and ID are never touched.
func (p Patch) Apply(t Task) Task {
	out := t.Clone()
	if p.Title != nil {
		out.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.Priority != nil {
		out.Priority = *p.Priority
	}
	if p.ClearDue {
		out.DueDate = nil
	} else if p.DueDate != nil {
		d := *p.DueDate
		out.DueDate = &d
	}
	if p.Attachments != nil {
		out.Attachments = append([]Attachment(nil), p.Attachments...)
	}
	if len(p.AddAttachments) > 0 {
		out.Attachments = append(out.Attachments, p.AddAttachments...)
	}
	return out
}

// Resolve returns the patch with AddAttachments turned into a full
// Attachments list based on t, ready to send.
func (p Patch) Resolve(t Task) Patch {
	if len(p.AddAttachments) == 0 {
		return p
	}
	p.Attachments = p.Apply(t).Attachments
	p.AddAttachments = nil
	return p
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s string) bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p string) bool {
	for _, v := range Priorities {
		if v == p {
			return true
		}
	}
	return false
}

// NextStatus cycles pending -> in-progress -> completed -> pending.
func NextStatus(s string) string {
	for i, v := range Statuses {
		if v == s {
			return Statuses[(i+1)%len(Statuses)]
		}
	}
	return StatusPending
}

// StrPtr returns a pointer to s. Handy for building patches.
func StrPtr(s string) *string { return &s }
