package clock

import (
	"testing"
	"time"
)

func TestManualAdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)
	c := NewManual(start)

	short := c.NewTimer(time.Second)
	long := c.NewTimer(time.Minute)
	if c.Waiters() != 2 {
		t.Fatalf("Waiters = %d, want 2", c.Waiters())
	}

	c.Advance(2 * time.Second)

	select {
	case at := <-short.C():
		if !at.Equal(start.Add(2 * time.Second)) {
			t.Errorf("fired at %v, want %v", at, start.Add(2*time.Second))
		}
	default:
		t.Fatal("short timer did not fire")
	}
	select {
	case <-long.C():
		t.Fatal("long timer fired early")
	default:
	}
	if c.Waiters() != 1 {
		t.Errorf("Waiters = %d, want 1", c.Waiters())
	}
}

func TestManualStop(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	tm := c.NewTimer(time.Second)

	if !tm.Stop() {
		t.Fatal("Stop on pending timer returned false")
	}
	if tm.Stop() {
		t.Error("second Stop returned true")
	}

	c.Advance(time.Hour)
	select {
	case <-tm.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestManualNonPositiveFiresImmediately(t *testing.T) {
	c := NewManual(time.Unix(100, 0))
	tm := c.NewTimer(-time.Second)

	select {
	case <-tm.C():
	default:
		t.Fatal("timer with negative duration did not fire")
	}
	if c.Waiters() != 0 {
		t.Errorf("Waiters = %d, want 0", c.Waiters())
	}
}

func TestSystemTimer(t *testing.T) {
	var c Clock = System{}
	start := c.Now()
	tm := c.NewTimer(10 * time.Millisecond)
	<-tm.C()
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("system timer fired after %v, want >= 10ms", elapsed)
	}
}
