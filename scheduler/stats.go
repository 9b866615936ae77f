// scheduler/stats.go
package scheduler

const (
	confidenceSuccessGain     = 1
	confidenceThrottlePenalty = 2
)

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Submitted        int64
	Admitted         int64
	Executed         int64
	Attempts         int64
	Retries          int64
	Throttled        int64
	Transient        int64
	Succeeded        int64
	Failed           int64
	DeadlineExceeded int64
	Cancelled        int64

	Queued     int
	BackingOff int
	InFlight   int
	Capacity   int
}

// Stats returns a snapshot of the scheduler's counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	stats := s.stats
	stats.Queued = s.queue.Len()
	if s.admitting != nil {
		stats.Queued++
	}
	stats.BackingOff = len(s.pending)
	s.mu.Unlock()

	stats.InFlight = s.pool.InFlight()
	stats.Capacity = s.pool.Capacity()
	return stats
}

// Confidence returns the score accumulated by attempts that ran under capacity: one point
// per success and minus two per throttled response. A negative score marks a capacity the
// backend could not sustain.
func (s *Scheduler) Confidence(capacity int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confidence[capacity]
}

// ResetConfidence forgets the score of capacity.
func (s *Scheduler) ResetConfidence(capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.confidence, capacity)
}
