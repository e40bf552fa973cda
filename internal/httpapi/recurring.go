package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"taskbot/internal/task"
	"taskbot/internal/task/view"
)

type recurringJob struct {
	Name            string     `json:"name"`
	Type            task.Type  `json:"type"`
	IntervalSeconds int64      `json:"interval_seconds"`
	Description     string     `json:"description"`
	NextFireTime    *time.Time `json:"next_fire_time,omitempty"`
	Enabled         bool       `json:"enabled"`
	LastFiredAt     *time.Time `json:"last_fired_at,omitempty"`
	Target          string     `json:"target,omitempty"`
	Action          string     `json:"action,omitempty"`
}

func toRecurringJob(j task.RecurringJob) recurringJob {
	out := recurringJob{
		Name:            j.Name,
		Type:            j.Type,
		IntervalSeconds: int64(j.Interval / time.Second),
		Description:     view.DescribeInterval(j.Interval),
		Enabled:         j.Enabled,
		LastFiredAt:     j.LastFiredAt,
		Target:          j.Target,
		Action:          j.Action,
	}
	if j.Enabled && !j.NextFireTime.IsZero() {
		next := j.NextFireTime
		out.NextFireTime = &next
	}
	return out
}

func (a *API) listRecurring(c *gin.Context) {
	items := []recurringJob{}
	if a.Recurring != nil {
		for _, j := range a.Recurring.List() {
			items = append(items, toRecurringJob(j))
		}
	}
	c.JSON(http.StatusOK, listBody[recurringJob]{Items: items, Count: len(items)})
}

func (a *API) cancelRecurring(c *gin.Context) {
	name := c.Param("name")
	if err := a.Tasks.CancelRecurring(c.Request.Context(), name); err != nil {
		a.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "enabled": false})
}
