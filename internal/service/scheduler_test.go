package service

import (
	"testing"
	"time"

	"github.com/stemsi/exstem-proctor/internal/clock"
)

func TestSchedulerAfterFiresOnce(t *testing.T) {
	c := clock.NewFake(testStart)
	s := NewScheduler(c)

	fired := 0
	s.After(time.Second, func(uint64) { fired++ })
	c.Advance(5 * time.Second)

	if fired != 1 {
		t.Fatalf("fired %d times, want 1", fired)
	}
	if s.Pending() != 0 {
		t.Errorf("pending = %d, want 0", s.Pending())
	}
}

func TestSchedulerEveryRepeatsUntilStopped(t *testing.T) {
	c := clock.NewFake(testStart)
	s := NewScheduler(c)

	fired := 0
	task := s.Every(time.Second, func(uint64) { fired++ })
	c.Advance(3 * time.Second)
	task.Stop()
	c.Advance(3 * time.Second)

	if fired != 3 {
		t.Fatalf("fired %d times, want 3", fired)
	}
}

func TestSchedulerResetInvalidatesEpoch(t *testing.T) {
	c := clock.NewFake(testStart)
	s := NewScheduler(c)

	var seen []uint64
	s.Every(time.Second, func(epoch uint64) { seen = append(seen, epoch) })
	c.Advance(time.Second)

	old := s.Epoch()
	next := s.Reset()
	if next == old || s.Valid(old) {
		t.Fatalf("Reset did not start a new epoch: old %d new %d", old, next)
	}

	c.Advance(5 * time.Second)
	if len(seen) != 1 || seen[0] != old {
		t.Errorf("callbacks after Reset: %v", seen)
	}
	if c.Pending() != 0 {
		t.Errorf("clock still holds %d timers", c.Pending())
	}
}

func TestSchedulerCallbackCanReset(t *testing.T) {
	c := clock.NewFake(testStart)
	s := NewScheduler(c)

	fired := 0
	s.Every(time.Second, func(uint64) {
		fired++
		s.Reset()
	})
	c.Advance(10 * time.Second)

	if fired != 1 {
		t.Fatalf("fired %d times, want 1", fired)
	}
}

func TestTaskStopIsNilSafe(t *testing.T) {
	var task *Task
	task.Stop()
}
