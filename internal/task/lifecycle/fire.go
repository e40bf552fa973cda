package lifecycle

import (
	"context"
	"errors"
	"strconv"
	"time"

	"taskbot/internal/task"
	logx "taskbot/pkg/logx"
)

// fireSkew tolerates timers that wake slightly before the stored second.
const fireSkew = time.Second

// OnFire delivers a due event and records the outcome. It is the scheduler
// action for event:<id> keys.
//
// The row is re-read under the per-id lock: anything no longer pending is
// skipped without a delivery. The lock is not held while delivering; the
// firing mark keeps Update and Cancel out until the outcome is written.
func (c *Controller) OnFire(ctx context.Context, id int64) error {
	unlock := c.locks.Lock(id)
	ev, err := c.store.GetEvent(ctx, id)
	if err != nil {
		unlock()
		if errors.Is(err, task.ErrNotFound) {
			c.log.Warn("fired event no longer exists", logx.Int64("id", id))
			return nil
		}
		return err
	}
	if ev.Status != task.StatusPending {
		unlock()
		c.log.Debug("fire skipped", logx.Int64("id", id), logx.String("status", string(ev.Status)))
		return nil
	}
	if c.isFiring(id) {
		unlock()
		return nil
	}
	if now := c.now(); ev.ScheduledTime.After(now.Add(fireSkew)) {
		// rescheduled after this timer was already handed off
		if !c.liveLocked(ev) {
			c.armLocked(ev)
		}
		unlock()
		c.log.Debug("stale fire skipped", logx.Int64("id", id), logx.Time("scheduled_time", ev.ScheduledTime))
		return nil
	}
	c.setFiring(id, true)
	unlock()

	start := time.Now()
	out, derr := task.Deliver(ctx, c.deliverer, c.cfg.DeliveryTimeout, task.DeliveryRequest{
		Kind:   task.DeliverText,
		Target: ev.Target,
		Text:   ev.Message,
	})
	took := time.Since(start)

	unlock = c.locks.Lock(id)
	defer unlock()
	defer c.setFiring(id, false)

	// the delivery may have outlived ctx; the outcome is still recorded
	wctx := context.WithoutCancel(ctx)
	ev = c.finishLocked(wctx, ev, out, derr)

	c.metrics.ObserveExecution(task.AuditChannelMessage, ev.Status, took)
	if derr != nil {
		c.log.Warn("event delivery failed", logx.Int64("id", id), logx.String("target", ev.Target.String()), logx.Err(derr))
		c.publish(EventFailed, ev)
		return derr
	}
	c.log.Info("event delivered", logx.Int64("id", id), logx.String("target", ev.Target.String()), logx.Duration("took", took))
	c.publish(EventCompleted, ev)
	return nil
}

// finishLocked writes the terminal state and the audit entry.
func (c *Controller) finishLocked(ctx context.Context, ev task.Event, out task.DeliveryOutcome, derr error) task.Event {
	executed := task.UTC(c.now())
	key := ev.JobKey
	ev.ExecutedAt = &executed
	ev.UpdatedAt = &executed
	ev.JobKey = ""
	if derr != nil {
		ev.Status = task.StatusFailed
		ev.ErrorMessage = derr.Error()
	} else {
		ev.Status = task.StatusCompleted
		ev.ErrorMessage = ""
	}
	if err := c.store.UpdateEvent(ctx, ev); err != nil {
		// Row stays pending without a timer; the next read re-arms it.
		c.log.Error("persist firing outcome failed", logx.Int64("id", ev.ID), logx.Err(err))
	}

	meta := map[string]string{
		"event_id": strconv.FormatInt(ev.ID, 10),
		"message":  ev.Message,
	}
	if key != "" {
		meta["job_key"] = key
	}
	if out.MessageID != "" {
		meta["message_id"] = out.MessageID
	}
	scheduled := ev.ScheduledTime
	c.appendAudit(ctx, task.AuditEntry{
		TaskType:      task.AuditChannelMessage,
		Status:        ev.Status,
		ScheduledTime: &scheduled,
		ExecutedAt:    executed,
		Target:        ev.Target.String(),
		Metadata:      meta,
		ErrorMessage:  ev.ErrorMessage,
	})
	return ev
}

func (c *Controller) appendAudit(ctx context.Context, e task.AuditEntry) {
	if _, err := c.store.AppendAudit(ctx, e); err != nil {
		c.log.Error("audit append failed", logx.String("task_type", e.TaskType), logx.Err(err))
	}
}
