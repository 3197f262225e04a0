package notify

import (
	"fmt"
	"time"
)

// RelativeTime renders t relative to now the way the notification panel
// shows it: "Just now", "5h ago", "3d ago", then a plain date after a week.
func RelativeTime(t, now time.Time) string {
	hours := int(now.Sub(t).Hours())
	switch {
	case hours < 1:
		return "Just now"
	case hours < 24:
		return fmt.Sprintf("%dh ago", hours)
	case hours < 168:
		return fmt.Sprintf("%dd ago", hours/24)
	default:
		return t.Local().Format("2006-01-02")
	}
}
