package scheduler

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	started := s.started
	eng := s.engine
	s.mu.Unlock()

	entries := s.Entries()
	snap := Snapshot{
		Enabled: enabled,
		Started: started,
		Armed:   len(entries),
		Entries: entries,
	}
	if eng != nil {
		snap.Engine = eng.Snapshot()
	}
	return snap
}
