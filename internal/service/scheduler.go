package service

import (
	"sync"
	"time"

	"github.com/stemsi/exstem-proctor/internal/clock"
)

// Scheduler runs cancellable timed callbacks. Every callback is bound to the
// epoch current when it was scheduled; Reset bumps the epoch and stops all
// timers, so a callback that raced with Reset sees a stale epoch and must
// drop its work.
type Scheduler struct {
	clock clock.Clock

	mu     sync.Mutex
	epoch  uint64
	nextID uint64
	timers map[uint64]clock.Timer
}

// Task is a handle to one scheduled callback.
type Task struct {
	s  *Scheduler
	id uint64
}

// NewScheduler creates a Scheduler on c.
func NewScheduler(c clock.Clock) *Scheduler {
	return &Scheduler{clock: c, timers: make(map[uint64]clock.Timer)}
}

// Epoch returns the current epoch.
func (s *Scheduler) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Valid reports whether epoch is still current.
func (s *Scheduler) Valid(epoch uint64) bool {
	return s.Epoch() == epoch
}

// Reset cancels every scheduled callback and starts a new epoch.
func (s *Scheduler) Reset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.epoch++
	return s.epoch
}

// After runs fn once after d.
func (s *Scheduler) After(d time.Duration, fn func(epoch uint64)) *Task {
	return s.schedule(d, fn, false)
}

// Every runs fn every d until the task is stopped or the scheduler reset.
func (s *Scheduler) Every(d time.Duration, fn func(epoch uint64)) *Task {
	return s.schedule(d, fn, true)
}

// Pending returns the number of live callbacks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) schedule(d time.Duration, fn func(uint64), repeat bool) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.armLocked(id, s.epoch, d, fn, repeat)
	return &Task{s: s, id: id}
}

func (s *Scheduler) armLocked(id, epoch uint64, d time.Duration, fn func(uint64), repeat bool) {
	s.timers[id] = s.clock.AfterFunc(d, func() {
		s.fire(id, epoch, d, fn, repeat)
	})
}

func (s *Scheduler) fire(id, epoch uint64, d time.Duration, fn func(uint64), repeat bool) {
	s.mu.Lock()
	if _, ok := s.timers[id]; !ok || epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	if repeat {
		s.armLocked(id, epoch, d, fn, true)
	} else {
		delete(s.timers, id)
	}
	s.mu.Unlock()

	fn(epoch)
}

// Stop cancels the task. Safe to call more than once and on a nil task.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if timer, ok := t.s.timers[t.id]; ok {
		timer.Stop()
		delete(t.s.timers, t.id)
	}
}
