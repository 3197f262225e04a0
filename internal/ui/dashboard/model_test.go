package dashboard

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskdesk/internal/keys"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/view"
)

func press(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestTrendKeyTogglesPeriod(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 100, 40)
	assert.Equal(t, model.PeriodWeek, m.Period())

	m, cmd := m.Update(press('t'))
	require.NotNil(t, cmd)
	assert.Equal(t, PeriodMsg{Period: model.PeriodMonth}, cmd())
	assert.Equal(t, model.PeriodMonth, m.Period())

	m, cmd = m.Update(press('t'))
	assert.Equal(t, PeriodMsg{Period: model.PeriodWeek}, cmd())
	assert.Equal(t, model.PeriodWeek, m.Period())
}

func TestViewShowsServerAnalytics(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 100, 60)
	o := view.Overview{Sampled: 2}.WithAnalytics(model.AnalyticsOverview{
		TotalTasks:     7,
		CompletedTasks: 3,
		PriorityBreakdown: []model.Bucket{
			{Key: model.PriorityLow, Count: 2},
			{Key: model.PriorityMedium, Count: 1},
			{Key: model.PriorityHigh, Count: 4},
		},
	})
	o.Trends = &model.Trends{
		Period:          model.PeriodWeek,
		CreatedTrends:   []model.Bucket{{Key: "2024-05-19", Count: 5}},
		CompletedTrends: []model.Bucket{{Key: "2024-05-20", Count: 3}},
	}
	m.SetOverview(o)

	out := m.View()
	assert.Contains(t, out, "counts cover all 7 tasks")
	assert.Contains(t, out, "Priority")
	assert.Contains(t, out, "Trends (last 7 days)")
	assert.Contains(t, out, "2024-05-19")
	assert.Contains(t, out, "2024-05-20")
	assert.NotContains(t, out, "most recent")
}

func TestViewLabelsSampledFallback(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 100, 60)
	m.SetOverview(view.Overview{Total: 12, Sampled: 5})

	out := m.View()
	assert.Contains(t, out, "counts cover the 5 most recent tasks")
	assert.Contains(t, out, "Trends unavailable.")
	assert.NotContains(t, out, "Priority")
}
