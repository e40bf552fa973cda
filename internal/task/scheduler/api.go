package scheduler

import (
	"errors"
	"sort"
	"strings"
	"time"

	logx "taskbot/pkg/logx"
)

// Arm installs a timer for jobKey at fireAt, replacing any existing one.
// A fireAt in the past fires as soon as the scheduler is running.
func (s *Service) Arm(jobKey string, fireAt time.Time, action Action, opts ...ArmOption) error {
	jobKey = strings.TrimSpace(jobKey)
	if jobKey == "" {
		return errors.New("job key required")
	}
	if fireAt.IsZero() {
		return errors.New("fire time required")
	}
	if action == nil {
		return errors.New("action required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// upsert: stop the existing timer, its callback is ignored via the version bump
	if old := s.entries[jobKey]; old != nil && old.timer != nil {
		_ = old.timer.Stop()
	}
	s.ver++
	e := &entry{key: jobKey, at: fireAt, action: action, ver: s.ver}
	for _, o := range opts {
		o(e)
	}
	s.entries[jobKey] = e
	if s.started {
		e.timer = s.startTimerLocked(e)
	}
	s.log.Debug("job armed", logx.String("job_key", jobKey), logx.Time("fire_at", fireAt), logx.Bool("live", s.started))
	return nil
}

// Rearm moves an armed job to newFireAt, keeping its action.
func (s *Service) Rearm(jobKey string, newFireAt time.Time) error {
	jobKey = strings.TrimSpace(jobKey)
	if newFireAt.IsZero() {
		return errors.New("fire time required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[jobKey]
	if e == nil {
		return ErrNotArmed
	}
	if e.timer != nil {
		_ = e.timer.Stop()
		e.timer = nil
	}
	s.ver++
	e.ver = s.ver
	e.at = newFireAt
	if s.started {
		e.timer = s.startTimerLocked(e)
	}
	s.log.Debug("job rearmed", logx.String("job_key", jobKey), logx.Time("fire_at", newFireAt))
	return nil
}

// Disarm removes the timer for jobKey. ErrNotArmed means there was nothing
// to remove, including the case where the job already fired.
func (s *Service) Disarm(jobKey string) error {
	jobKey = strings.TrimSpace(jobKey)

	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[jobKey]
	if e == nil {
		return ErrNotArmed
	}
	if e.timer != nil {
		_ = e.timer.Stop()
	}
	delete(s.entries, jobKey)
	s.log.Debug("job disarmed", logx.String("job_key", jobKey))
	return nil
}

// Armed returns the fire time of jobKey if it holds a live definition.
func (s *Service) Armed(jobKey string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[strings.TrimSpace(jobKey)]
	if e == nil {
		return time.Time{}, false
	}
	return e.at, true
}

// InFlight reports whether a firing for jobKey was handed to the engine and
// has not finished yet.
func (s *Service) InFlight(jobKey string) bool {
	if s.engine == nil {
		return false
	}
	return s.engine.Busy(strings.TrimSpace(jobKey))
}

// Len returns the number of armed job keys.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries lists armed jobs ordered by fire time, then key.
func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	out := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, EntryInfo{Key: e.key, FireAt: e.at})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}
