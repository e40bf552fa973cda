package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"taskbot/internal/eventbus"
	"taskbot/internal/storage"
	"taskbot/internal/task"
	"taskbot/internal/task/scheduler"
	logx "taskbot/pkg/logx"
)

// Controller owns the one-shot event state machine. Every mutation of a row
// and its timer happens under the per-id lock, which OnFire shares.
type Controller struct {
	cfg       Config
	store     storage.Store
	sched     *scheduler.Service
	deliverer task.Deliverer
	recurring RecurringCanceller
	metrics   task.Metrics
	log       logx.Logger
	bus       eventbus.Bus

	locks keyedMutex

	fmu    sync.Mutex
	firing map[int64]struct{}
}

type Option func(*Controller)

func WithRecurring(r RecurringCanceller) Option {
	return func(c *Controller) { c.recurring = r }
}

func WithMetrics(m task.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithBus(b eventbus.Bus) Option {
	return func(c *Controller) { c.bus = b }
}

func New(cfg Config, store storage.Store, sched *scheduler.Service, d task.Deliverer, log logx.Logger, opts ...Option) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Controller{
		cfg:       withConfigDefaults(cfg),
		store:     store,
		sched:     sched,
		deliverer: d,
		metrics:   task.NopMetrics{},
		log:       log.With(logx.String("comp", "lifecycle")),
		firing:    map[int64]struct{}{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) now() time.Time { return c.sched.Now() }

// Create persists a pending event and arms its timer.
func (c *Controller) Create(ctx context.Context, req CreateRequest) (task.Event, error) {
	now := c.now()
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return task.Event{}, fmt.Errorf("%w: message is required", task.ErrInvalidPayload)
	}
	target := req.Target
	target.ChannelID = strings.TrimSpace(target.ChannelID)
	if target.ChannelID == "" {
		return task.Event{}, fmt.Errorf("%w: target channel is required", task.ErrInvalidPayload)
	}
	if req.ScheduledTime.IsZero() {
		return task.Event{}, fmt.Errorf("%w: scheduled_time is required", task.ErrInvalidSchedule)
	}
	at := task.UTC(req.ScheduledTime)
	if !at.After(now) {
		return task.Event{}, fmt.Errorf("%w: scheduled_time %s is not in the future", task.ErrInvalidSchedule, at.Format(time.DateTime))
	}

	ev, err := c.store.CreateEvent(ctx, task.Event{
		Target:        target,
		ScheduledTime: at,
		Message:       msg,
		Status:        task.StatusPending,
		CreatedBy:     req.CreatedBy,
		CreatedAt:     task.UTC(now),
	})
	if err != nil {
		return task.Event{}, err
	}

	unlock := c.locks.Lock(ev.ID)
	c.armLocked(ev)
	unlock()

	c.log.Info("event created", logx.Int64("id", ev.ID), logx.Time("scheduled_time", ev.ScheduledTime), logx.String("target", ev.Target.String()))
	c.publish(EventCreated, ev)
	return ev, nil
}

// Update changes the time and/or message of a pending event.
func (c *Controller) Update(ctx context.Context, id int64, req UpdateRequest) (task.Event, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	ev, err := c.store.GetEvent(ctx, id)
	if err != nil {
		return task.Event{}, err
	}
	if err := c.checkMutableLocked(ev); err != nil {
		return task.Event{}, err
	}
	if req.ScheduledTime == nil && req.Message == nil {
		return task.Event{}, fmt.Errorf("%w: nothing to update", task.ErrInvalidPayload)
	}

	now := c.now()
	timeChanged := false
	if req.ScheduledTime != nil {
		at := task.UTC(*req.ScheduledTime)
		if req.ScheduledTime.IsZero() || !at.After(now) {
			return task.Event{}, fmt.Errorf("%w: scheduled_time %s is not in the future", task.ErrInvalidSchedule, at.Format(time.DateTime))
		}
		timeChanged = !at.Equal(ev.ScheduledTime)
		ev.ScheduledTime = at
	}
	if req.Message != nil {
		msg := strings.TrimSpace(*req.Message)
		if msg == "" {
			return task.Event{}, fmt.Errorf("%w: message must not be empty", task.ErrInvalidPayload)
		}
		ev.Message = msg
	}

	updated := task.UTC(now)
	ev.UpdatedAt = &updated
	if ev.JobKey == "" {
		ev.JobKey = task.EventJobKey(ev.ID)
	}
	if err := c.store.UpdateEvent(ctx, ev); err != nil {
		return task.Event{}, err
	}

	if timeChanged {
		if err := c.sched.Rearm(ev.JobKey, ev.ScheduledTime); err != nil {
			if !errors.Is(err, scheduler.ErrNotArmed) {
				c.log.Error("rearm failed", logx.Int64("id", id), logx.Err(err))
			}
			c.repairLocked(ev, "update")
		}
	} else if !c.liveLocked(ev) {
		c.repairLocked(ev, "update")
	}

	c.log.Info("event updated", logx.Int64("id", id), logx.Time("scheduled_time", ev.ScheduledTime), logx.Bool("rescheduled", timeChanged))
	c.publish(EventUpdated, ev)
	return ev, nil
}

// Cancel moves a pending event to cancelled and removes its timer.
// Cancelling a terminal event is InvalidState, including a second cancel.
func (c *Controller) Cancel(ctx context.Context, id int64) (task.Event, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	ev, err := c.store.GetEvent(ctx, id)
	if err != nil {
		return task.Event{}, err
	}
	if err := c.checkMutableLocked(ev); err != nil {
		return task.Event{}, err
	}

	key := ev.JobKey
	if key == "" {
		key = task.EventJobKey(ev.ID)
	}
	if err := c.sched.Disarm(key); err != nil && !errors.Is(err, scheduler.ErrNotArmed) {
		c.log.Warn("disarm failed", logx.Int64("id", id), logx.Err(err))
	}

	now := task.UTC(c.now())
	ev.Status = task.StatusCancelled
	ev.UpdatedAt = &now
	ev.JobKey = ""
	if err := c.store.UpdateEvent(ctx, ev); err != nil {
		return task.Event{}, err
	}

	c.log.Info("event cancelled", logx.Int64("id", id))
	c.publish(EventCancelled, ev)
	return ev, nil
}

// CancelRecurring disables a recurring job by name.
func (c *Controller) CancelRecurring(ctx context.Context, name string) error {
	if c.recurring == nil {
		return fmt.Errorf("%w: recurring job %q", task.ErrNotFound, name)
	}
	return c.recurring.Cancel(ctx, name)
}

func (c *Controller) checkMutableLocked(ev task.Event) error {
	if ev.Status != task.StatusPending {
		return fmt.Errorf("%w: event %d is %s", task.ErrInvalidState, ev.ID, ev.Status)
	}
	if c.isFiring(ev.ID) {
		return fmt.Errorf("%w: event %d is firing", task.ErrInvalidState, ev.ID)
	}
	return nil
}

// armLocked installs the timer for a pending event.
func (c *Controller) armLocked(ev task.Event) {
	key := ev.JobKey
	if key == "" {
		key = task.EventJobKey(ev.ID)
	}
	id := ev.ID
	if err := c.sched.Arm(key, ev.ScheduledTime, func(ctx context.Context, _ string) error {
		return c.OnFire(ctx, id)
	}); err != nil {
		// the row stays pending; the next read re-arms it
		c.log.Error("arm failed", logx.Int64("id", id), logx.String("job_key", key), logx.Err(err))
	}
}

// liveLocked reports whether a pending event has a timer or a firing on its way.
func (c *Controller) liveLocked(ev task.Event) bool {
	key := ev.JobKey
	if key == "" {
		key = task.EventJobKey(ev.ID)
	}
	if _, ok := c.sched.Armed(key); ok {
		return true
	}
	return c.sched.InFlight(key) || c.isFiring(ev.ID)
}

func (c *Controller) repairLocked(ev task.Event, source string) {
	c.log.Warn("pending event had no timer; re-arming",
		logx.Err(task.ErrSchedulerDesync),
		logx.Int64("id", ev.ID),
		logx.Time("scheduled_time", ev.ScheduledTime),
		logx.String("source", source),
	)
	c.metrics.ObserveDesyncRepair(source)
	c.armLocked(ev)
}

func (c *Controller) isFiring(id int64) bool {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	_, ok := c.firing[id]
	return ok
}

func (c *Controller) setFiring(id int64, on bool) {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	if on {
		c.firing[id] = struct{}{}
	} else {
		delete(c.firing, id)
	}
}

func (c *Controller) publish(typ string, ev task.Event) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
