package epoch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soradb/sora/telemetry"
)

// Clock is the global epoch clock. A single background driver advances the
// epoch on a fixed interval, independent of transaction activity. Reads are
// lock-free and may come from any goroutine.
//
// The clock is an explicitly owned service object rather than a package
// global so tests can construct one and advance it deterministically.
type Clock struct {
	current  atomic.Uint64
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// ErrClockNotRunning is returned when the driver is asked to stop twice or
// stopped before it was started.
type ErrClockNotRunning struct{}

func (e ErrClockNotRunning) Error() string {
	return "epoch clock driver is not running"
}

// NewClock creates a clock whose first valid epoch is 1. The driver is not
// started; call Start, or drive the clock manually with Advance in tests.
func NewClock(interval time.Duration) *Clock {
	c := &Clock{interval: interval}
	c.current.Store(uint64(InvalidEpoch.Next()))
	return c
}

// Current returns the current global epoch. Lock-free, never blocks on
// transaction state, and monotonically non-decreasing across calls from any
// thread.
func (c *Clock) Current() Epoch {
	return Epoch(c.current.Load())
}

// Advance ticks the epoch by one and returns the new value. Called by the
// background driver; exposed so tests can control epoch advancement.
func (c *Clock) Advance() Epoch {
	next := Epoch(c.current.Add(1))
	telemetry.CurrentEpoch.Set(float64(next))
	return next
}

// Start launches the background driver. Starting an already running clock is
// an error.
func (c *Clock) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("epoch clock driver already running")
	}
	c.running = true
	c.stopCh = make(chan struct{})

	c.wg.Add(1)
	go c.driveLoop(c.stopCh)

	log.Info().Dur("interval", c.interval).Msg("Epoch clock driver started")
	return nil
}

// Stop halts the background driver and waits for it to exit. Stopping a
// clock that is not running returns ErrClockNotRunning.
func (c *Clock) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrClockNotRunning{}
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
	log.Info().Uint64("epoch", uint64(c.Current())).Msg("Epoch clock driver stopped")
	return nil
}

func (c *Clock) driveLoop(stopCh chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Advance()
		case <-stopCh:
			return
		}
	}
}
