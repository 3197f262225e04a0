package devserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/taskdesk/internal/model"
)

// DemoPassword is the password of every seeded account.
const DemoPassword = "password"

// DemoUsers are the accounts created by Seed.
var DemoUsers = []model.User{
	{ID: "1", Name: "John Doe", Email: "john@example.com"},
	{ID: "2", Name: "Jane Smith", Email: "jane@example.com"},
	{ID: "3", Name: "Bob Johnson", Email: "bob@example.com"},
	{ID: "4", Name: "Alice Brown", Email: "alice@example.com"},
}

// Seed creates the demo accounts and, for a fresh database, a handful of
// tasks and a welcome notification for the first account.
func Seed(ctx context.Context, s *Store) error {
	fresh := false
	for _, u := range DemoUsers {
		_, err := s.CreateUser(ctx, u, DemoPassword)
		if errors.Is(err, ErrEmailTaken) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seeding user %s: %w", u.Email, err)
		}
		fresh = true
	}
	if !fresh {
		return nil
	}

	owner := DemoUsers[0].ID
	tomorrow := time.Now().Add(24 * time.Hour)
	lastWeek := time.Now().Add(-7 * 24 * time.Hour)
	drafts := []model.Draft{
		{Title: "Write release notes", Priority: model.PriorityHigh, DueDate: &tomorrow},
		{Title: "Review pull requests", Status: model.StatusInProgress},
		{Title: "Renew certificates", Priority: model.PriorityHigh, DueDate: &lastWeek},
		{Title: "Archive old logs", Priority: model.PriorityLow, Status: model.StatusCompleted},
	}
	for _, d := range drafts {
		if _, err := s.CreateTask(ctx, owner, d); err != nil {
			return fmt.Errorf("seeding task %q: %w", d.Title, err)
		}
	}

	if _, err := s.CreateNotification(ctx, owner, model.Notification{
		Message: "Welcome to taskdesk",
	}); err != nil {
		return fmt.Errorf("seeding notification: %w", err)
	}
	return nil
}
