package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "taskbot/pkg/logx"
)

var errStale = errors.New("engine: waited too long in queue")

func (s *Service) work(ctx context.Context, quit <-chan struct{}, queue <-chan queued) {
	for {
		// a closed quit wins over queued work
		if isClosed(quit) || ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case q := <-queue:
			s.inFlight.Add(1)
			s.exec(ctx, q)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) exec(ctx context.Context, q queued) {
	start := time.Now()
	waited := max(start.Sub(q.queuedAt), 0)
	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if maxDelay > 0 && waited > maxDelay {
		s.unclaim(q.f.Key)
		s.drop(q, waited, errStale)
		if q.f.OnDrop != nil {
			q.f.OnDrop(errStale)
		}
		return
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if q.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, q.timeout)
	}
	err := s.invoke(runCtx, q)
	cancel()
	s.unclaim(q.f.Key)

	r := Run{Seq: q.seq, Key: q.f.Key, Started: start, Waited: waited, Took: time.Since(start)}
	if err != nil {
		r.Error = err.Error()
		s.log.Warn("firing failed", logx.String("job_key", r.Key), logx.Err(err), logx.Duration("took", r.Took))
		s.publish("engine.failed", r)
	} else {
		s.log.Debug("firing done", logx.String("job_key", r.Key), logx.Duration("waited", waited), logx.Duration("took", r.Took))
		s.publish("engine.finished", r)
	}
	s.record(r)
}

// invoke turns a panic into an error so the worker survives.
func (s *Service) invoke(ctx context.Context, q queued) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			s.log.Error("firing panicked", logx.String("job_key", q.f.Key), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
	}()
	return q.f.Run(ctx)
}
