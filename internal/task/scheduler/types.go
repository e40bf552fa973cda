package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"taskbot/internal/eventbus"
	"taskbot/internal/task/engine"
	logx "taskbot/pkg/logx"
)

// ErrNotArmed is returned by Rearm/Disarm when the job key has no live timer.
var ErrNotArmed = errors.New("job not armed")

// Config controls the scheduler (trigger) service.
type Config struct {
	Enabled bool
}

// Action runs when a job key fires. It runs on an engine worker, never on
// the timer goroutine.
type Action func(ctx context.Context, jobKey string) error

// Missed runs when a firing of jobKey never reached its action: the engine
// refused it or dropped it from the queue. The entry is already gone from
// the table, so Missed may Arm the key again.
type Missed func(jobKey string, reason error)

// ArmOption tunes one Arm call.
type ArmOption func(*entry)

// OnMissed registers fn for firings that are refused or dropped.
func OnMissed(fn Missed) ArmOption {
	return func(e *entry) { e.missed = fn }
}

type entry struct {
	key    string
	at     time.Time
	action Action
	missed Missed
	ver    uint64
	timer  Timer
}

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	bus   eventbus.Bus
	clock Clock

	engine *engine.Service

	started bool
	runCtx  context.Context
	cancel  context.CancelFunc

	entries map[string]*entry
	ver     uint64

	// Enqueue error throttling: key is job key.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

// EntryInfo is one armed job key.
type EntryInfo struct {
	Key    string
	FireAt time.Time
}

type Snapshot struct {
	Enabled bool
	Started bool
	Armed   int
	Entries []EntryInfo
	Engine  engine.Snapshot
}
