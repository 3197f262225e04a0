package devserver

import (
	"context"
	"fmt"
	"time"

	"github.com/nhle/taskdesk/internal/model"
)

// bucketRow is one GROUP BY result.
type bucketRow struct {
	Bucket string `db:"bucket"`
	Count  int    `db:"count"`
}

// AnalyticsOverview counts every task visible to userID by status and
// priority. A task is overdue when it is not completed and its due date is
// before now.
func (s *Store) AnalyticsOverview(ctx context.Context, userID string, now time.Time) (model.AnalyticsOverview, error) {
	var out model.AnalyticsOverview

	var byStatus []bucketRow
	if err := s.db.SelectContext(ctx, &byStatus, `
		SELECT t.status AS bucket, COUNT(*) AS count
		FROM tasks t WHERE `+visibleTo+`
		GROUP BY t.status`, userID, userID); err != nil {
		return out, fmt.Errorf("counting tasks by status: %w", err)
	}
	for _, b := range byStatus {
		out.TotalTasks += b.Count
		switch b.Bucket {
		case model.StatusPending:
			out.PendingTasks = b.Count
		case model.StatusInProgress:
			out.InProgressTasks = b.Count
		case model.StatusCompleted:
			out.CompletedTasks = b.Count
		}
	}

	var byPriority []bucketRow
	if err := s.db.SelectContext(ctx, &byPriority, `
		SELECT t.priority AS bucket, COUNT(*) AS count
		FROM tasks t WHERE `+visibleTo+`
		GROUP BY t.priority`, userID, userID); err != nil {
		return out, fmt.Errorf("counting tasks by priority: %w", err)
	}
	counts := make(map[string]int, len(byPriority))
	for _, b := range byPriority {
		counts[b.Bucket] = b.Count
	}
	out.PriorityBreakdown = make([]model.Bucket, 0, len(model.Priorities))
	for _, p := range model.Priorities {
		out.PriorityBreakdown = append(out.PriorityBreakdown, model.Bucket{Key: p, Count: counts[p]})
	}

	if err := s.db.GetContext(ctx, &out.OverdueTasks, `
		SELECT COUNT(*) FROM tasks t
		WHERE `+visibleTo+`
		  AND t.status != ? AND t.due_date IS NOT NULL AND t.due_date < ?`,
		userID, userID, model.StatusCompleted, formatTime(now)); err != nil {
		return out, fmt.Errorf("counting overdue tasks: %w", err)
	}
	return out, nil
}

// Trends counts tasks created, and tasks completed, per UTC day over the
// period ending on now's day. Completion is taken from the last update of a
// completed task.
func (s *Store) Trends(ctx context.Context, userID, period string, now time.Time) (model.Trends, error) {
	days, ok := model.PeriodDays(period)
	if !ok {
		return model.Trends{}, fmt.Errorf("unknown period %q", period)
	}
	day := now.UTC().Truncate(24 * time.Hour)
	since := formatTime(day.AddDate(0, 0, -(days - 1)))

	out := model.Trends{Period: period}
	var err error
	out.CreatedTrends, err = s.perDay(ctx, "created_at", "", userID, since)
	if err != nil {
		return out, fmt.Errorf("created trend: %w", err)
	}
	out.CompletedTrends, err = s.perDay(ctx, "updated_at", model.StatusCompleted, userID, since)
	if err != nil {
		return out, fmt.Errorf("completed trend: %w", err)
	}
	return out, nil
}

// perDay groups visible tasks by the day part of column. column is one of
// the fixed timestamp columns, never user input.
func (s *Store) perDay(ctx context.Context, column, status, userID, since string) ([]model.Bucket, error) {
	query := `SELECT substr(t.` + column + `, 1, 10) AS bucket, COUNT(*) AS count
		FROM tasks t WHERE ` + visibleTo + ` AND t.` + column + ` >= ?`
	args := []interface{}{userID, userID, since}
	if status != "" {
		query += " AND t.status = ?"
		args = append(args, status)
	}
	query += " GROUP BY bucket ORDER BY bucket"

	var rows []bucketRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]model.Bucket, len(rows))
	for i, r := range rows {
		out[i] = model.Bucket{Key: r.Bucket, Count: r.Count}
	}
	return out, nil
}
