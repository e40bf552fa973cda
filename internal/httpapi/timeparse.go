package httpapi

import (
	"fmt"
	"strings"
	"time"

	"taskbot/internal/task"
)

// naive layouts carry no offset and are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseScheduledTime accepts RFC 3339 with any offset, or a naive
// YYYY-MM-DD[T ]HH:MM:SS timestamp. The result is UTC.
func parseScheduledTime(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: scheduled_time is required", task.ErrInvalidSchedule)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse scheduled_time %q", task.ErrInvalidSchedule, raw)
}
