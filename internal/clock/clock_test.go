package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestManualAdvanceFiresInDueOrder(t *testing.T) {
	manual := NewManual(time.Unix(0, 0))
	var order []string
	manual.After("late", 30*time.Millisecond, func() { order = append(order, "late") })
	manual.After("early", 10*time.Millisecond, func() { order = append(order, "early") })
	manual.After("middle", 20*time.Millisecond, func() { order = append(order, "middle") })

	manual.Advance(50 * time.Millisecond)

	if len(order) != 3 {
		t.Fatalf("expected 3 callbacks, got %d", len(order))
	}
	if order[0] != "early" || order[1] != "middle" || order[2] != "late" {
		t.Fatalf("unexpected firing order %v", order)
	}
	if remaining := manual.Pending(); len(remaining) != 0 {
		t.Fatalf("expected no pending tasks, got %v", remaining)
	}
}

func TestManualEveryRepeatsUntilStopped(t *testing.T) {
	manual := NewManual(time.Unix(0, 0))
	fired := 0
	task := manual.Every("tick", 10*time.Millisecond, func() { fired++ })

	manual.Advance(35 * time.Millisecond)
	if fired != 3 {
		t.Fatalf("expected 3 ticks, got %d", fired)
	}

	task.Stop()
	manual.Advance(50 * time.Millisecond)
	if fired != 3 {
		t.Fatalf("expected ticker to stay stopped, got %d ticks", fired)
	}
}

func TestManualStopCancelsPending(t *testing.T) {
	manual := NewManual(time.Unix(0, 0))
	fired := false
	task := manual.After("flush", 10*time.Millisecond, func() { fired = true })

	task.Stop()
	task.Stop()
	manual.Advance(20 * time.Millisecond)

	if fired {
		t.Fatal("stopped task must not fire")
	}
}

func TestManualCallbackMayReschedule(t *testing.T) {
	manual := NewManual(time.Unix(0, 0))
	fired := 0
	manual.After("first", 10*time.Millisecond, func() {
		fired++
		manual.After("second", 10*time.Millisecond, func() { fired++ })
	})

	manual.Advance(30 * time.Millisecond)

	if fired != 2 {
		t.Fatalf("expected chained callback to run, got %d", fired)
	}
}

func TestManualSchedulerStopCancelsEverything(t *testing.T) {
	manual := NewManual(time.Unix(0, 0))
	fired := 0
	manual.After("once", 5*time.Millisecond, func() { fired++ })
	manual.Every("tick", 5*time.Millisecond, func() { fired++ })

	manual.Stop()
	manual.Advance(time.Second)

	if fired != 0 {
		t.Fatalf("expected no callbacks after Stop, got %d", fired)
	}
}

func TestManualAdvanceTracksTargetInstant(t *testing.T) {
	start := time.Unix(100, 0)
	manual := NewManual(start)

	manual.Advance(42 * time.Millisecond)

	if got := manual.Now(); !got.Equal(start.Add(42 * time.Millisecond)) {
		t.Fatalf("unexpected instant %v", got)
	}
}

func TestSystemSchedulerAfterFires(t *testing.T) {
	scheduler := NewScheduler()
	defer scheduler.Stop()

	done := make(chan struct{})
	scheduler.After("probe", 5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestSystemSchedulerEveryStops(t *testing.T) {
	scheduler := NewScheduler()
	defer scheduler.Stop()

	var fired atomic.Int64
	task := scheduler.Every("tick", 5*time.Millisecond, func() { fired.Add(1) })

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if fired.Load() < 2 {
		t.Fatal("ticker never fired twice")
	}

	task.Stop()
	time.Sleep(20 * time.Millisecond)
	settled := fired.Load()
	time.Sleep(20 * time.Millisecond)
	if fired.Load() != settled {
		t.Fatalf("ticker fired after Stop: %d != %d", fired.Load(), settled)
	}
}
