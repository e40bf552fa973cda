package task

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// ParseStatus accepts a status name case-insensitively. Empty input is an error.
func ParseStatus(raw string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return st, nil
}

// Type tags what a task does when it fires.
type Type string

const (
	TypeChannelMessage Type = "channel_message"
	TypeRandomDM       Type = "random_dm"
	TypeImagePost      Type = "image_post"
)

// Audit task types. Manual origins carry the manual_ prefix.
const (
	AuditChannelMessage  = string(TypeChannelMessage)
	AuditRandomDM        = string(TypeRandomDM)
	AuditImagePost       = string(TypeImagePost)
	AuditManualDM        = "manual_dm"
	AuditManualImagePost = "manual_image_post"
)

// Target is a delivery destination.
// ChannelID is a numeric chat id or an @username.
type Target struct {
	ChannelID string `json:"channel_id"`
	ThreadID  int    `json:"thread_id,omitempty"`
	Name      string `json:"name,omitempty"`
}

func (t Target) String() string {
	s := t.ChannelID
	if t.ThreadID != 0 {
		s = fmt.Sprintf("%s/%d", s, t.ThreadID)
	}
	if n := strings.TrimSpace(t.Name); n != "" {
		s = fmt.Sprintf("%s (%s)", n, s)
	}
	return s
}

type Creator struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Event is a one-shot scheduled channel message.
//
// Times are UTC. ExecutedAt is set exactly when Status is completed or failed.
type Event struct {
	ID            int64      `json:"id"`
	Target        Target     `json:"target"`
	ScheduledTime time.Time  `json:"scheduled_time"`
	Message       string     `json:"message"`
	Status        Status     `json:"status"`
	JobKey        string     `json:"job_key,omitempty"`
	CreatedBy     *Creator   `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

// EventJobKey is the scheduler key for a one-shot event.
func EventJobKey(id int64) string { return fmt.Sprintf("event:%d", id) }

// RecurringJobKey is the scheduler key for a recurring job.
func RecurringJobKey(name string) string { return "recurring:" + name }

// RecurringJob is a system-owned interval job. It has no row identity.
type RecurringJob struct {
	Name         string        `json:"name"`
	Type         Type          `json:"type"`
	Interval     time.Duration `json:"interval"`
	NextFireTime time.Time     `json:"next_fire_time"`
	Enabled      bool          `json:"enabled"`
	LastFiredAt  *time.Time    `json:"last_fired_at,omitempty"`
	Target       string        `json:"target,omitempty"`
	Action       string        `json:"action,omitempty"`
}

// AuditEntry records one execution, scheduled or manual. Append-only.
type AuditEntry struct {
	ID            int64             `json:"id"`
	TaskType      string            `json:"task_type"`
	Status        Status            `json:"status"`
	ScheduledTime *time.Time        `json:"scheduled_time,omitempty"`
	ExecutedAt    time.Time         `json:"executed_at"`
	Target        string            `json:"target"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
}

// UTC normalizes t to UTC with whole-second precision.
func UTC(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
