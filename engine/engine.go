// Package engine assembles the clock, memory pools, storages, transaction
// manager and worker pool into one lifecycle-managed unit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soradb/sora/cfg"
	"github.com/soradb/sora/epoch"
	"github.com/soradb/sora/memory"
	"github.com/soradb/sora/storage"
	"github.com/soradb/sora/thread"
	"github.com/soradb/sora/txn"
)

var (
	// ErrAlreadyInitialized is returned by Initialize on a running engine.
	ErrAlreadyInitialized = errors.New("engine is already initialized")

	// ErrNotInitialized is returned by operations on an engine that is
	// not running. Calling Uninitialize twice yields this error; the
	// second call changes nothing.
	ErrNotInitialized = errors.New("engine is not initialized")
)

// Engine owns every service of the transaction core. Construct with New,
// bring up with Initialize, tear down with Uninitialize.
type Engine struct {
	config cfg.Configuration

	mu          sync.Mutex
	initialized bool

	clock *epoch.Clock
	mem   *memory.Manager
	store *storage.Manager
	txns  *txn.Manager
	pool  *thread.Pool
}

// New creates an engine from a configuration snapshot. The engine keeps
// its own copy; later edits to the source have no effect.
func New(config cfg.Configuration) *Engine {
	return &Engine{config: config}
}

// Initialize starts the epoch clock, allocates the per-node memory pools
// and spawns the worker threads. A partially failed initialization tears
// down what it started before returning.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return ErrAlreadyInitialized
	}

	clock := epoch.NewClock(time.Duration(e.config.Epoch.AdvanceIntervalMS) * time.Millisecond)
	if err := clock.Start(); err != nil {
		return fmt.Errorf("failed to start epoch clock: %w", err)
	}

	mem, err := memory.NewManager(e.config.Thread.NumaNodes, e.config.Memory.FramesPerNode, e.config.Memory.FrameSize)
	if err != nil {
		stopErr := clock.Stop()
		return errors.Join(fmt.Errorf("failed to build memory pools: %w", err), stopErr)
	}

	e.clock = clock
	e.mem = mem
	e.store = storage.NewManager(mem)
	e.txns = txn.NewManager(clock)
	e.pool = thread.NewPool(e.config.Thread.NumaNodes, e.config.Thread.ThreadsPerNode, e.config.Thread.PinThreads, e.txns, e.store)
	e.pool.Start()

	e.initialized = true
	log.Info().
		Int("numa_nodes", e.config.Thread.NumaNodes).
		Int("threads_per_node", e.config.Thread.ThreadsPerNode).
		Int("frames_per_node", e.config.Memory.FramesPerNode).
		Msg("Engine initialized")
	return nil
}

// Uninitialize joins the worker pool, stops the clock and releases every
// storage's frames. Errors from the individual services are joined;
// calling again on a stopped engine returns ErrNotInitialized and is
// harmless.
func (e *Engine) Uninitialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return ErrNotInitialized
	}

	// Pool first: workers stop only after finishing in-flight tasks,
	// which may still read the clock and the storages.
	e.pool.Shutdown()
	errs := []error{e.clock.Stop()}
	e.store.DropAll()

	e.initialized = false
	log.Info().Msg("Engine uninitialized")
	return errors.Join(errs...)
}

// Impersonate dispatches the task onto an idle worker thread.
func (e *Engine) Impersonate(ctx context.Context, task thread.Task) (*thread.Session, error) {
	e.mu.Lock()
	ok := e.initialized
	pool := e.pool
	e.mu.Unlock()
	if !ok {
		return nil, ErrNotInitialized
	}
	return pool.Impersonate(ctx, task)
}

// Storage returns the storage manager.
func (e *Engine) Storage() *storage.Manager {
	return e.store
}

// Transactions returns the transaction manager.
func (e *Engine) Transactions() *txn.Manager {
	return e.txns
}

// Threads returns the worker pool.
func (e *Engine) Threads() *thread.Pool {
	return e.pool
}

// EpochClock returns the global epoch clock.
func (e *Engine) EpochClock() *epoch.Clock {
	return e.clock
}

// Memory returns the page pool manager.
func (e *Engine) Memory() *memory.Manager {
	return e.mem
}
