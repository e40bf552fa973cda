package scheduler

import (
	"context"
	"time"

	"taskbot/internal/eventbus"
	"taskbot/internal/task/engine"
	logx "taskbot/pkg/logx"
)

// New builds a scheduler that hands firings to eng. A nil clock means RealClock.
func New(cfg Config, eng *engine.Service, clock Clock, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clock == nil {
		clock = RealClock()
	}
	return &Service{
		cfg:         cfg,
		log:         log,
		bus:         bus,
		clock:       clock,
		engine:      eng,
		entries:     map[string]*entry{},
		lastEnqWarn: map[string]time.Time{},
	}
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Clock returns the time source timers are armed against.
func (s *Service) Clock() Clock { return s.clock }

// Now is Clock().Now().
func (s *Service) Now() time.Time { return s.clock.Now() }

// Start builds live timers for every armed definition.
// Jobs armed before Start keep their definition and get a timer here.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	if !s.cfg.Enabled {
		s.log.Warn("scheduler disabled; armed jobs will not fire")
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.rebuildTimersLocked()
	s.log.Info("service started", logx.Int("armed", len(s.entries)))
}

// Stop stops every live timer. Definitions remain so a later Start resumes them.
func (s *Service) Stop(ctx context.Context) {
	_ = ctx
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	for _, e := range s.entries {
		if e.timer != nil {
			_ = e.timer.Stop()
			e.timer = nil
		}
	}
	cancel := s.cancel
	s.started = false
	s.cancel = nil
	s.runCtx = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// rebuildTimersLocked recreates runtime timers from the armed definitions.
// Call with s.mu held.
func (s *Service) rebuildTimersLocked() {
	for _, e := range s.entries {
		if e.timer != nil {
			_ = e.timer.Stop()
		}
		s.ver++
		e.ver = s.ver
		e.timer = s.startTimerLocked(e)
	}
}

func (s *Service) startTimerLocked(e *entry) Timer {
	delay := e.at.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	key, ver := e.key, e.ver
	return s.clock.AfterFunc(delay, func() { s.fire(key, ver) })
}

// fire runs on the timer goroutine. The entry leaves the table under the lock
// before the action is queued, so a Disarm either wins (no firing) or finds
// nothing to remove.
func (s *Service) fire(key string, ver uint64) {
	s.mu.Lock()
	e := s.entries[key]
	if e == nil || e.ver != ver || !s.started {
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	ctx := s.runCtx
	at := e.at
	action := e.action
	missed := e.missed
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "scheduler.fired", Data: EntryInfo{Key: key, FireAt: at}})
	}
	s.log.Debug("job fired", logx.String("job_key", key), logx.Time("fire_at", at))

	if s.engine == nil {
		return
	}
	f := engine.Firing{
		Key: key,
		Run: func(c context.Context) error {
			return action(c, key)
		},
	}
	if missed != nil {
		f.OnDrop = func(reason error) { missed(key, reason) }
	}
	if err := s.engine.Submit(ctx, f); err != nil {
		s.reportEnqueueError(key, err)
		if missed != nil {
			missed(key, err)
		}
	}
}
