package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresInOrder(t *testing.T) {
	c := NewFake(time.Unix(1690000000, 0))

	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	c.AfterFunc(5*time.Second, func() { fired = append(fired, "c") })

	c.Advance(3 * time.Second)

	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("expected [a b], got %v", fired)
	}
	if c.Pending() != 1 {
		t.Fatalf("expected 1 pending timer, got %d", c.Pending())
	}
	if got := c.Now(); !got.Equal(time.Unix(1690000003, 0)) {
		t.Errorf("expected clock at +3s, got %v", got)
	}
}

func TestFakeRescheduleInsideWindow(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(5 * time.Second)
	if count != 5 {
		t.Errorf("expected 5 ticks, got %d", count)
	}
}

func TestFakeStop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("Stop should report the timer was pending")
	}
	if timer.Stop() {
		t.Error("second Stop should report false")
	}

	c.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFakeJumpSkipsCallbacksUntilAdvance(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	count := 0
	c.AfterFunc(time.Second, func() { count++ })

	c.Jump(20 * time.Second)
	if count != 0 {
		t.Fatalf("Jump must not fire timers, fired %d", count)
	}

	c.Advance(0)
	if count != 1 {
		t.Errorf("overdue timer should fire once on next Advance, got %d", count)
	}
}
