// Package view merges one-shot events and recurring jobs into one read-only
// timeline.
package view

import (
	"context"
	"fmt"
	"sort"
	"time"

	"taskbot/internal/storage"
	"taskbot/internal/task"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Kind tags a unified item. The two kinds have different mutation
// contracts: one-shot items can be edited, recurring ones only cancelled.
type Kind string

const (
	KindOneShot   Kind = "one_shot"
	KindRecurring Kind = "recurring"
)

type Item struct {
	Kind                  Kind        `json:"kind"`
	Type                  task.Type   `json:"type"`
	IsRecurring           bool        `json:"is_recurring"`
	Target                string      `json:"target"`
	ScheduledTime         time.Time   `json:"scheduled_time"`
	MessageOrAction       string      `json:"message_or_action"`
	Status                task.Status `json:"status"`
	RecurrenceDescription string      `json:"recurrence_description"`
	RawID                 *int64      `json:"raw_id,omitempty"`
	JobName               string      `json:"job_name,omitempty"`
	ExecutedAt            *time.Time  `json:"executed_at,omitempty"`
	ErrorMessage          string      `json:"error_message,omitempty"`
}

// Reconciler repairs pending rows that lost their timer.
type Reconciler interface {
	EnsureArmed(ctx context.Context, ev task.Event) task.Event
}

// RecurringSource lists the recurring jobs.
type RecurringSource interface {
	List() []task.RecurringJob
}

type Builder struct {
	store     storage.Store
	recurring RecurringSource
	reconcile Reconciler
}

// NewBuilder wires a builder. recurring and reconcile may be nil.
func NewBuilder(store storage.Store, recurring RecurringSource, reconcile Reconciler) *Builder {
	return &Builder{store: store, recurring: recurring, reconcile: reconcile}
}

// ListUnified returns up to limit items.
//
// Pending one-shot rows come first, ascending by scheduled time, with enabled
// recurring jobs merged in by next fire time when filter is nil or pending.
// Terminal rows follow, most recently resolved first, filling the remaining budget.
// Recurring jobs are not counted against limit.
func (b *Builder) ListUnified(ctx context.Context, filter *task.Status, limit int) ([]Item, error) {
	limit = clampLimit(limit)
	if filter != nil && !filter.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", task.ErrInvalidPayload, *filter)
	}

	var pending, terminal []task.Event
	var err error
	switch {
	case filter == nil:
		pending, err = b.store.ListEvents(ctx, storage.EventQuery{Statuses: []task.Status{task.StatusPending}, Limit: limit})
		if err != nil {
			return nil, err
		}
		if rest := limit - len(pending); rest > 0 {
			terminal, err = b.store.ListEvents(ctx, storage.EventQuery{
				Statuses: []task.Status{task.StatusCompleted, task.StatusFailed, task.StatusCancelled},
				Order:    storage.OrderResolvedDesc,
				Limit:    rest,
			})
			if err != nil {
				return nil, err
			}
		}
	case *filter == task.StatusPending:
		pending, err = b.store.ListEvents(ctx, storage.EventQuery{Statuses: []task.Status{task.StatusPending}, Limit: limit})
	default:
		terminal, err = b.store.ListEvents(ctx, storage.EventQuery{Statuses: []task.Status{*filter}, Order: storage.OrderResolvedDesc, Limit: limit})
	}
	if err != nil {
		return nil, err
	}

	upcoming := make([]Item, 0, len(pending))
	for _, ev := range pending {
		if b.reconcile != nil {
			ev = b.reconcile.EnsureArmed(ctx, ev)
		}
		// A row that fired between the read and the repair has moved on.
		if filter != nil && ev.Status != *filter {
			continue
		}
		upcoming = append(upcoming, fromEvent(ev))
	}
	if b.recurring != nil && (filter == nil || *filter == task.StatusPending) {
		for _, j := range b.recurring.List() {
			if j.Enabled {
				upcoming = append(upcoming, fromRecurring(j))
			}
		}
	}
	sort.SliceStable(upcoming, func(i, j int) bool { return upcomingLess(upcoming[i], upcoming[j]) })

	out := make([]Item, 0, len(upcoming)+len(terminal))
	out = append(out, upcoming...)
	for _, ev := range terminal {
		out = append(out, fromEvent(ev))
	}
	return out, nil
}

// upcomingLess orders by time; ties put one-shot first, then id, then name.
func upcomingLess(a, b Item) bool {
	if !a.ScheduledTime.Equal(b.ScheduledTime) {
		return a.ScheduledTime.Before(b.ScheduledTime)
	}
	if a.Kind != b.Kind {
		return a.Kind == KindOneShot
	}
	if a.RawID != nil && b.RawID != nil && *a.RawID != *b.RawID {
		return *a.RawID < *b.RawID
	}
	return a.JobName < b.JobName
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

func fromEvent(ev task.Event) Item {
	id := ev.ID
	return Item{
		Kind:                  KindOneShot,
		Type:                  task.TypeChannelMessage,
		Target:                ev.Target.String(),
		ScheduledTime:         ev.ScheduledTime,
		MessageOrAction:       ev.Message,
		Status:                ev.Status,
		RecurrenceDescription: "one-time",
		RawID:                 &id,
		ExecutedAt:            ev.ExecutedAt,
		ErrorMessage:          ev.ErrorMessage,
	}
}

func fromRecurring(j task.RecurringJob) Item {
	return Item{
		Kind:                  KindRecurring,
		Type:                  j.Type,
		IsRecurring:           true,
		Target:                j.Target,
		ScheduledTime:         j.NextFireTime,
		MessageOrAction:       j.Action,
		Status:                task.StatusPending,
		RecurrenceDescription: DescribeInterval(j.Interval),
		JobName:               j.Name,
		ExecutedAt:            j.LastFiredAt,
	}
}

// DescribeInterval renders an interval for people.
func DescribeInterval(d time.Duration) string {
	const day = 24 * time.Hour
	switch {
	case d == time.Hour:
		return "hourly"
	case d == day:
		return "daily"
	case d == 7*day:
		return "weekly"
	case d > day && d%day == 0:
		return fmt.Sprintf("every %d days", d/day)
	case d > time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("every %d hours", d/time.Hour)
	}
	return "every " + d.String()
}
