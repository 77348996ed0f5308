package poolcontroller

import (
	"testing"
	"time"
)

func TestSchedule(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var s Schedule
	if !s.Due(now) {
		t.Error("zero schedule should be due")
	}

	s = s.Advance(now, 10*time.Second)
	if s.Due(now.Add(9 * time.Second)) {
		t.Error("schedule due before interval elapsed")
	}
	if !s.Due(now.Add(10 * time.Second)) {
		t.Error("schedule not due once interval elapsed")
	}

	s.Force = true
	if !s.Due(now) {
		t.Error("forced schedule should be due")
	}
	if !s.Advance(now, time.Second).Force {
		t.Error("Advance should preserve Force")
	}
}
