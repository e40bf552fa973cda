package lifecycle

import (
	"context"
	"strconv"

	"taskbot/internal/storage"
	"taskbot/internal/task"
	logx "taskbot/pkg/logx"
)

// Get returns one event. A pending row found without a timer is re-armed
// before it is returned.
func (c *Controller) Get(ctx context.Context, id int64) (task.Event, error) {
	ev, err := c.store.GetEvent(ctx, id)
	if err != nil {
		return task.Event{}, err
	}
	return c.EnsureArmed(ctx, ev), nil
}

// List returns raw rows with the total count for the same filter.
func (c *Controller) List(ctx context.Context, q Query) (Page, error) {
	eq := storage.EventQuery{Limit: q.Limit, Offset: q.Offset}
	var statuses []task.Status
	if q.Status != nil {
		statuses = []task.Status{*q.Status}
		eq.Statuses = statuses
		if q.Status.Terminal() {
			eq.Order = storage.OrderScheduledDesc
		}
	}
	rows, err := c.store.ListEvents(ctx, eq)
	if err != nil {
		return Page{}, err
	}
	total, err := c.store.CountEvents(ctx, statuses...)
	if err != nil {
		return Page{}, err
	}
	for i := range rows {
		rows[i] = c.EnsureArmed(ctx, rows[i])
	}
	return Page{Items: rows, Total: total}, nil
}

// EnsureArmed repairs a pending event that has no live timer. It returns the
// current row, which may have moved on since ev was read.
func (c *Controller) EnsureArmed(ctx context.Context, ev task.Event) task.Event {
	if ev.Status != task.StatusPending {
		return ev
	}
	unlock := c.locks.Lock(ev.ID)
	defer unlock()

	if c.liveLocked(ev) {
		return ev
	}
	cur, err := c.store.GetEvent(ctx, ev.ID)
	if err != nil {
		c.log.Warn("reconcile read failed", logx.Int64("id", ev.ID), logx.Err(err))
		return ev
	}
	if cur.Status != task.StatusPending || c.liveLocked(cur) {
		return cur
	}
	if cur.JobKey == "" {
		cur.JobKey = task.EventJobKey(cur.ID)
		if err := c.store.UpdateEvent(ctx, cur); err != nil {
			c.log.Warn("restore job key failed", logx.Int64("id", cur.ID), logx.Err(err))
		}
	}
	c.repairLocked(cur, "read")
	return cur
}

// Reload arms every pending row from the store. It runs once on boot, before
// or after the scheduler starts. Rows whose time already passed follow the
// missed-fire policy.
func (c *Controller) Reload(ctx context.Context) (int, error) {
	rows, err := c.store.ListEvents(ctx, storage.EventQuery{Statuses: []task.Status{task.StatusPending}})
	if err != nil {
		return 0, err
	}
	now := c.now()
	armed, missed := 0, 0
	for _, ev := range rows {
		unlock := c.locks.Lock(ev.ID)
		if !ev.ScheduledTime.After(now) {
			missed++
			if c.cfg.MissedFire == MissedFireFail {
				c.failMissedLocked(ctx, ev)
				unlock()
				continue
			}
		}
		if ev.JobKey == "" {
			ev.JobKey = task.EventJobKey(ev.ID)
			if err := c.store.UpdateEvent(ctx, ev); err != nil {
				c.log.Warn("restore job key failed", logx.Int64("id", ev.ID), logx.Err(err))
			}
		}
		c.armLocked(ev)
		armed++
		unlock()
	}
	c.log.Info("pending events reloaded",
		logx.Int("armed", armed),
		logx.Int("missed", missed),
		logx.String("missed_fire", string(c.cfg.MissedFire)),
	)
	return armed, nil
}

func (c *Controller) failMissedLocked(ctx context.Context, ev task.Event) {
	now := task.UTC(c.now())
	ev.Status = task.StatusFailed
	ev.ExecutedAt = &now
	ev.UpdatedAt = &now
	ev.ErrorMessage = missedFireMessage
	ev.JobKey = ""
	if err := c.store.UpdateEvent(ctx, ev); err != nil {
		c.log.Error("mark missed event failed", logx.Int64("id", ev.ID), logx.Err(err))
		return
	}
	scheduled := ev.ScheduledTime
	c.appendAudit(ctx, task.AuditEntry{
		TaskType:      task.AuditChannelMessage,
		Status:        task.StatusFailed,
		ScheduledTime: &scheduled,
		ExecutedAt:    now,
		Target:        ev.Target.String(),
		Metadata:      map[string]string{"event_id": strconv.FormatInt(ev.ID, 10), "reason": "missed_fire"},
		ErrorMessage:  missedFireMessage,
	})
	c.metrics.ObserveExecution(task.AuditChannelMessage, task.StatusFailed, 0)
	c.log.Warn("missed event marked failed", logx.Int64("id", ev.ID), logx.Time("scheduled_time", ev.ScheduledTime))
	c.publish(EventFailed, ev)
}
