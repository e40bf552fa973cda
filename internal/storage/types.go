package storage

import (
	"context"
	"errors"
	"time"

	"taskbot/internal/task"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Order is the ordering of ListEvents. Ties break on id ascending.
type Order int

const (
	OrderScheduledAsc Order = iota
	OrderScheduledDesc
	// OrderResolvedDesc puts the most recently resolved rows first: by
	// executed_at, else updated_at, else scheduled_time.
	OrderResolvedDesc
)

// ResolvedAt is the time OrderResolvedDesc sorts ev by.
func ResolvedAt(ev task.Event) time.Time {
	switch {
	case ev.ExecutedAt != nil:
		return *ev.ExecutedAt
	case ev.UpdatedAt != nil:
		return *ev.UpdatedAt
	}
	return ev.ScheduledTime
}

// EventQuery selects events. Empty Statuses means all; Limit <= 0 means no limit.
type EventQuery struct {
	Statuses []task.Status
	Order    Order
	Limit    int
	Offset   int
}

// Store is the persistence API of the scheduling subsystem.
//
// CreateEvent assigns the id and, for pending rows without one, the job key.
// GetEvent and UpdateEvent return task.ErrNotFound for unknown ids.
type Store interface {
	CreateEvent(ctx context.Context, ev task.Event) (task.Event, error)
	GetEvent(ctx context.Context, id int64) (task.Event, error)
	UpdateEvent(ctx context.Context, ev task.Event) error
	ListEvents(ctx context.Context, q EventQuery) ([]task.Event, error)
	CountEvents(ctx context.Context, statuses ...task.Status) (int, error)

	AppendAudit(ctx context.Context, e task.AuditEntry) (int64, error)
	ListAudit(ctx context.Context, limit int) ([]task.AuditEntry, error)

	GetLastRun(ctx context.Context, name string) (time.Time, bool, error)
	PutLastRun(ctx context.Context, name string, at time.Time) error

	Close() error
}

const timeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	return task.UTC(t).Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, time.UTC)
}
