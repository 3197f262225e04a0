package model

// Trend periods accepted by the analytics endpoint.
const (
	PeriodWeek  = "week"
	PeriodMonth = "month"
)

// Periods lists the trend periods in selector order.
var Periods = []string{PeriodWeek, PeriodMonth}

// PeriodDays returns how many days a trend period covers.
func PeriodDays(period string) (int, bool) {
	switch period {
	case PeriodWeek:
		return 7, true
	case PeriodMonth:
		return 30, true
	}
	return 0, false
}

// Bucket is one group of a server-side count, keyed by a priority or a
// YYYY-MM-DD day.
type Bucket struct {
	Key   string `json:"_id"`
	Count int    `json:"count"`
}

// AnalyticsOverview holds totals the server computes over every task
// visible to the user.
type AnalyticsOverview struct {
	TotalTasks        int      `json:"totalTasks"`
	PendingTasks      int      `json:"pendingTasks"`
	InProgressTasks   int      `json:"inProgressTasks"`
	CompletedTasks    int      `json:"completedTasks"`
	OverdueTasks      int      `json:"overdueTasks"`
	PriorityBreakdown []Bucket `json:"priorityBreakdown"`
}

// Trends holds per-day counts of created and completed tasks. Days with no
// activity are omitted.
type Trends struct {
	Period          string   `json:"period"`
	CompletedTrends []Bucket `json:"completedTrends"`
	CreatedTrends   []Bucket `json:"createdTrends"`
}
