package lifecycle

import (
	"context"
	"strings"
	"time"

	"taskbot/internal/task"
)

// MissedFire decides what Reload does with a pending row whose time passed
// while the process was down.
type MissedFire string

const (
	MissedFireFire MissedFire = "fire"
	MissedFireFail MissedFire = "fail"
)

const missedFireMessage = "missed while offline"

type Config struct {
	DeliveryTimeout time.Duration
	MissedFire      MissedFire
}

func withConfigDefaults(cfg Config) Config {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 30 * time.Second
	}
	switch MissedFire(strings.ToLower(strings.TrimSpace(string(cfg.MissedFire)))) {
	case MissedFireFail:
		cfg.MissedFire = MissedFireFail
	default:
		cfg.MissedFire = MissedFireFire
	}
	return cfg
}

type CreateRequest struct {
	Target        task.Target
	ScheduledTime time.Time
	Message       string
	CreatedBy     *task.Creator
}

// UpdateRequest patches a pending event. Nil fields are left unchanged.
type UpdateRequest struct {
	ScheduledTime *time.Time
	Message       *string
}

// Query selects raw rows for List.
type Query struct {
	Status *task.Status
	Limit  int
	Offset int
}

type Page struct {
	Items []task.Event `json:"items"`
	Total int          `json:"total"`
}

// RecurringCanceller is the part of the recurring registry the controller
// delegates to.
type RecurringCanceller interface {
	Cancel(ctx context.Context, name string) error
}

// Bus event types published by the controller.
const (
	EventCreated   = "event.created"
	EventUpdated   = "event.updated"
	EventCancelled = "event.cancelled"
	EventCompleted = "event.completed"
	EventFailed    = "event.failed"
)
