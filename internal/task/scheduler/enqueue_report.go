package scheduler

import (
	"errors"
	"time"

	"taskbot/internal/task/engine"
	logx "taskbot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(key string, err error) {
	if err == nil {
		return
	}
	// A firing for the same key is still queued or running.
	if errors.Is(err, engine.ErrBusy) {
		s.log.Debug("firing skipped", logx.String("job_key", key), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[key]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[key] = now
	s.enqMu.Unlock()

	// The job is out of the table but never ran; readers re-arm pending rows.
	s.log.Warn("firing failed to enqueue", logx.String("job_key", key), logx.Err(err))
}
