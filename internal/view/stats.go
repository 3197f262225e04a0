package view

import (
	"sort"
	"time"

	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/tasks"
)

const recentLimit = 5

// Overview is the dashboard summary. With ServerTotals set the counts come
// from the server's analytics over every visible task. Otherwise they are
// computed from a sample page and only Total is server-reported.
type Overview struct {
	Total      int
	Sampled    int
	Completed  int
	InProgress int
	Pending    int
	Overdue    int
	Unread     int
	Recent     []model.Task

	ServerTotals bool
	Priorities   []model.Bucket
	Trends       *model.Trends
}

// CompletionRate is the completed share of the counted tasks, in [0, 1].
func (o Overview) CompletionRate() float64 {
	if o.Sampled == 0 {
		return 0
	}
	return float64(o.Completed) / float64(o.Sampled)
}

// Stats summarizes a sample of tasks.
func Stats(sample []model.Task, total int, now time.Time) Overview {
	o := Overview{Total: total, Sampled: len(sample)}
	for _, t := range sample {
		switch t.Status {
		case model.StatusCompleted:
			o.Completed++
		case model.StatusInProgress:
			o.InProgress++
		default:
			o.Pending++
		}
		if t.IsOverdue(now) {
			o.Overdue++
		}
	}
	o.Recent = Project(tasks.Snapshot{Tasks: sample}, nil, CreatedDesc)
	if len(o.Recent) > recentLimit {
		o.Recent = o.Recent[:recentLimit]
	}
	return o
}

// WithAnalytics replaces the sampled counts with the server's totals.
func (o Overview) WithAnalytics(a model.AnalyticsOverview) Overview {
	o.ServerTotals = true
	o.Total = a.TotalTasks
	o.Sampled = a.TotalTasks
	o.Completed = a.CompletedTasks
	o.InProgress = a.InProgressTasks
	o.Pending = a.PendingTasks
	o.Overdue = a.OverdueTasks
	o.Priorities = append([]model.Bucket(nil), a.PriorityBreakdown...)
	return o
}

// TrendRow is one day of the trend table.
type TrendRow struct {
	Day       string
	Created   int
	Completed int
}

// TrendRows merges the created and completed series into one row per day
// with activity, oldest first.
func TrendRows(tr model.Trends) []TrendRow {
	byDay := make(map[string]*TrendRow)
	var days []string
	row := func(day string) *TrendRow {
		r, ok := byDay[day]
		if !ok {
			r = &TrendRow{Day: day}
			byDay[day] = r
			days = append(days, day)
		}
		return r
	}
	for _, b := range tr.CreatedTrends {
		row(b.Key).Created += b.Count
	}
	for _, b := range tr.CompletedTrends {
		row(b.Key).Completed += b.Count
	}
	sort.Strings(days)
	out := make([]TrendRow, len(days))
	for i, d := range days {
		out[i] = *byDay[d]
	}
	return out
}
