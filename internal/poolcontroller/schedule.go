package poolcontroller

import "time"

// Schedule decides when the shared snapshot may be fetched again.
//
// The zero value is due immediately.
type Schedule struct {
	// NextEligible is the earliest time a throttled fetch may run.
	NextEligible time.Time

	// Force bypasses NextEligible for one fetch (skip-wait).
	Force bool
}

// Due reports whether a fetch should run at now.
func (s Schedule) Due(now time.Time) bool {
	return s.Force || !now.Before(s.NextEligible)
}

// Advance returns the schedule after a successful fetch at now.
// Force is preserved: a skip-wait requested mid-fetch still applies.
func (s Schedule) Advance(now time.Time, interval time.Duration) Schedule {
	s.NextEligible = now.Add(interval)
	return s
}

// takeSchedule checks the schedule at now and, when a fetch is due,
// consumes the force flag. It returns whether to fetch and whether the
// fetch was forced.
func (s *Session) takeSchedule(now time.Time) (due, forced bool) {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	if !s.sched.Due(now) {
		return false, false
	}
	forced = s.sched.Force
	s.sched.Force = false
	return true, forced
}

func (s *Session) advanceSchedule(now time.Time) {
	s.schedMu.Lock()
	s.sched = s.sched.Advance(now, s.scanInterval)
	s.schedMu.Unlock()
}

// SetSkipUpdateWait sets or clears the skip-wait flag. While set, the next
// UpdateData fetches even if the scan interval has not elapsed.
//
// It never blocks on an in-flight UpdateData.
func (s *Session) SetSkipUpdateWait(skip bool) {
	s.schedMu.Lock()
	s.sched.Force = skip
	s.schedMu.Unlock()
}

// Schedule returns a copy of the current update schedule.
func (s *Session) Schedule() Schedule {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	return s.sched
}
