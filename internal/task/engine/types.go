package engine

import (
	"context"
	"time"
)

// Config sizes the firing pool. Firings are never retried here: the owner of
// the action records a failure and that is final.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout bounds a firing whose Timeout is 0.
	DefaultTimeout time.Duration
	// MaxQueueDelay drops firings that waited longer than this. 0 disables.
	MaxQueueDelay time.Duration

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Firing is one due job handed to the pool. At most one firing per Key is
// queued or running at any time.
type Firing struct {
	Key     string
	Timeout time.Duration
	Run     func(ctx context.Context) error

	// OnDrop runs when a queued firing is discarded without running. The key
	// is already released, so OnDrop may hand the same key in again.
	OnDrop func(reason error)
}

// Run is one finished or dropped firing, kept for diagnostics and
// published on the bus as engine.finished, engine.failed or engine.dropped.
type Run struct {
	Seq     uint64        `json:"seq"`
	Key     string        `json:"key"`
	Started time.Time     `json:"started"`
	Waited  time.Duration `json:"waited"`
	Took    time.Duration `json:"took"`
	Error   string        `json:"error,omitempty"`
}

type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Dropped      uint64
	DroppedStale uint64

	Recent []Run
}
