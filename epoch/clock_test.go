package epoch

import (
	"sync"
	"testing"
	"time"
)

func TestClock_StartsAtFirstValidEpoch(t *testing.T) {
	clock := NewClock(time.Millisecond)

	e := clock.Current()
	if !e.Valid() {
		t.Error("Current epoch should be valid before the driver starts")
	}
	if e != InvalidEpoch.Next() {
		t.Errorf("Expected first epoch %d, got %d", InvalidEpoch.Next(), e)
	}
}

func TestClock_AdvanceIsMonotonic(t *testing.T) {
	clock := NewClock(time.Millisecond)

	prev := clock.Current()
	for i := 0; i < 1000; i++ {
		next := clock.Advance()
		if !next.After(prev) {
			t.Fatalf("Epoch went backwards: %d then %d", prev, next)
		}
		if next != prev.Next() {
			t.Fatalf("Epoch skipped: %d then %d", prev, next)
		}
		prev = next
	}
}

func TestClock_ConcurrentReadsNeverDecrease(t *testing.T) {
	clock := NewClock(time.Millisecond)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// One advancing goroutine, many readers
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10000; i++ {
			clock.Advance()
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := InvalidEpoch
			for {
				cur := clock.Current()
				if cur.Before(last) {
					t.Errorf("Observed epoch decrease: %d after %d", cur, last)
					return
				}
				last = cur
				select {
				case <-stop:
					return
				default:
				}
			}
		}()
	}

	wg.Wait()
}

func TestClock_DriverAdvances(t *testing.T) {
	clock := NewClock(2 * time.Millisecond)
	if err := clock.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	begin := clock.Current()
	deadline := time.After(2 * time.Second)
	for clock.Current() == begin {
		select {
		case <-deadline:
			t.Fatal("Driver never advanced the epoch")
		case <-time.After(time.Millisecond):
		}
	}

	if err := clock.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestClock_DoubleStartFails(t *testing.T) {
	clock := NewClock(time.Millisecond)
	if err := clock.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer clock.Stop()

	if err := clock.Start(); err == nil {
		t.Error("Second Start should fail")
	}
}

func TestClock_StopWithoutStart(t *testing.T) {
	clock := NewClock(time.Millisecond)

	err := clock.Stop()
	if err == nil {
		t.Fatal("Stop without Start should fail")
	}
	if _, ok := err.(ErrClockNotRunning); !ok {
		t.Errorf("Expected ErrClockNotRunning, got %T", err)
	}
}

func TestClock_StopIsRecoverableTwice(t *testing.T) {
	clock := NewClock(time.Millisecond)
	if err := clock.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := clock.Stop(); err != nil {
		t.Fatalf("First Stop failed: %v", err)
	}

	if err := clock.Stop(); err == nil {
		t.Error("Second Stop should report an error, not succeed silently")
	}
}
