package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"taskbot/internal/eventbus"
	rtsup "taskbot/internal/runtime/supervisor"
	logx "taskbot/pkg/logx"
)

const warnEvery = 5 * time.Second

// Service is a fixed pool of supervised workers fed by a bounded queue.
type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu    sync.Mutex
	cfg   Config
	queue chan queued
	quit  chan struct{}
	sup   *rtsup.Supervisor

	busyMu sync.Mutex
	busy   map[string]struct{}

	seq          atomic.Uint64
	inFlight     atomic.Int32
	dropped      atomic.Uint64
	droppedStale atomic.Uint64
	lastWarn     atomic.Int64

	histMu sync.Mutex
	recent []Run
}

type queued struct {
	f        Firing
	seq      uint64
	queuedAt time.Time
	timeout  time.Duration
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), log: log, bus: bus, busy: make(map[string]struct{})}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start spawns the workers. It is a no-op when disabled or already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.sup != nil {
		return
	}
	queue := make(chan queued, s.cfg.QueueSize)
	quit := make(chan struct{})
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// a broken worker must not take the process down
		rtsup.WithCancelOnError(false),
	)
	for i := range s.cfg.Workers {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.work(c, quit, queue)
			if c.Err() != nil || isClosed(quit) {
				return nil
			}
			return errors.New("worker exited")
		}, rtsup.WithPublishFirstError(true))
	}
	s.queue, s.quit, s.sup = queue, quit, sup
	s.log.Info("engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", cap(queue)))
}

// Stop closes the pool and waits for running firings up to ctx. Queued
// firings are discarded; their owners re-arm from storage on the next start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, quit := s.sup, s.quit
	s.sup, s.quit, s.queue = nil, nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	close(quit)
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("engine stop timed out", logx.Err(err), logx.Int("in_flight", int(s.inFlight.Load())))
		return
	}
	s.log.Info("engine stopped")
}

// Submit queues f, waiting for room until ctx is done or the pool stops.
func (s *Service) Submit(ctx context.Context, f Firing) error {
	return s.submit(ctx, f, true)
}

// TrySubmit queues f or fails with ErrQueueFull.
func (s *Service) TrySubmit(f Firing) error {
	return s.submit(context.Background(), f, false)
}

func (s *Service) submit(ctx context.Context, f Firing, wait bool) error {
	f.Key = strings.TrimSpace(f.Key)
	if f.Key == "" || f.Run == nil {
		return errors.New("engine: firing needs a key and a run func")
	}

	s.mu.Lock()
	cfg, queue, quit := s.cfg, s.queue, s.quit
	s.mu.Unlock()
	switch {
	case !cfg.Enabled:
		return ErrDisabled
	case queue == nil:
		return ErrStopped
	}

	if !s.claim(f.Key) {
		s.publish("engine.skipped", Run{Key: f.Key, Started: time.Now(), Error: ErrBusy.Error()})
		return ErrBusy
	}
	q := queued{f: f, seq: s.seq.Add(1), queuedAt: time.Now(), timeout: f.Timeout}
	if q.timeout <= 0 {
		q.timeout = cfg.DefaultTimeout
	}

	if !wait {
		select {
		case queue <- q:
			return nil
		default:
			s.unclaim(f.Key)
			s.drop(q, 0, ErrQueueFull)
			return ErrQueueFull
		}
	}
	select {
	case queue <- q:
		return nil
	case <-ctx.Done():
		s.unclaim(f.Key)
		return ctx.Err()
	case <-quit:
		s.unclaim(f.Key)
		return ErrStopped
	}
}

// Busy reports whether a firing for key is queued or running.
func (s *Service) Busy(key string) bool {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	_, ok := s.busy[strings.TrimSpace(key)]
	return ok
}

func (s *Service) claim(key string) bool {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	if _, ok := s.busy[key]; ok {
		return false
	}
	s.busy[key] = struct{}{}
	return true
}

func (s *Service) unclaim(key string) {
	s.busyMu.Lock()
	delete(s.busy, key)
	s.busyMu.Unlock()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Workers: s.cfg.Workers}
	if s.queue != nil {
		snap.QueueLen, snap.QueueCap = len(s.queue), cap(s.queue)
	}
	s.mu.Unlock()

	snap.InFlight = int(s.inFlight.Load())
	snap.Dropped = s.dropped.Load()
	snap.DroppedStale = s.droppedStale.Load()
	s.histMu.Lock()
	snap.Recent = append([]Run(nil), s.recent...)
	s.histMu.Unlock()
	return snap
}

func (s *Service) record(r Run) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()
	s.histMu.Lock()
	s.recent = append(s.recent, r)
	if over := len(s.recent) - limit; over > 0 {
		s.recent = s.recent[over:]
	}
	s.histMu.Unlock()
}

func (s *Service) drop(q queued, waited time.Duration, reason error) {
	s.dropped.Add(1)
	if waited > 0 {
		s.droppedStale.Add(1)
	}
	r := Run{Seq: q.seq, Key: q.f.Key, Started: time.Now(), Waited: waited, Error: reason.Error()}
	s.record(r)
	s.publish("engine.dropped", r)

	// throttled: a stuck pool would otherwise log once per firing
	now := time.Now().UnixNano()
	if prev := s.lastWarn.Load(); now-prev >= int64(warnEvery) && s.lastWarn.CompareAndSwap(prev, now) {
		s.log.Warn("firing dropped", logx.String("job_key", q.f.Key), logx.Err(reason),
			logx.Duration("waited", waited), logx.Uint64("dropped_total", s.dropped.Load()))
	}
}

func (s *Service) publish(typ string, r Run) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: r})
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
