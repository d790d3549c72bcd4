package foldersize

func (s *Scheduler) sweepLoop() {
	defer close(s.sweepDone)

	ticker := s.clock.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.logger.Debug("retention sweep started",
		"interval", s.cfg.SweepInterval.String(),
		"retention", s.cfg.Retention.String())
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.Chan():
			s.sweep()
		}
	}
}

// sweep evicts terminal jobs that finished before now minus the retention.
func (s *Scheduler) sweep() int {
	cutoff := s.now().Add(-s.cfg.Retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, j := range s.jobs {
		if j.finishedBefore(cutoff) {
			delete(s.jobs, id)
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Debug("retention sweep evicted jobs", "count", evicted, "remaining", len(s.jobs))
	}
	return evicted
}
