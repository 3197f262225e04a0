package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/nhle/taskdesk/internal/model"
)

// AnalyticsOverview fetches the server's totals over all visible tasks.
func (c *Client) AnalyticsOverview(ctx context.Context) (*model.AnalyticsOverview, error) {
	var o model.AnalyticsOverview
	if err := c.getJSON(ctx, "/analytics/overview", nil, &o); err != nil {
		return nil, fmt.Errorf("fetching analytics overview: %w", err)
	}
	return &o, nil
}

// Trends fetches per-day created and completed counts for period.
func (c *Client) Trends(ctx context.Context, period string) (*model.Trends, error) {
	if _, ok := model.PeriodDays(period); !ok {
		return nil, &model.ValidationError{Field: "period", Message: "period must be week or month"}
	}
	var tr model.Trends
	if err := c.getJSON(ctx, "/analytics/trends", url.Values{"period": {period}}, &tr); err != nil {
		return nil, fmt.Errorf("fetching %s trends: %w", period, err)
	}
	return &tr, nil
}
