// Package thread implements the worker pool and the lock-free dispatch
// protocol. Client goroutines never touch transaction state directly;
// they impersonate a worker, which runs the task on its own OS thread
// with its own transaction context.
package thread

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/jizhuozhi/go-future"
	"github.com/rs/zerolog/log"

	"github.com/soradb/sora/storage"
	"github.com/soradb/sora/telemetry"
	"github.com/soradb/sora/txn"
)

// ID identifies a worker by its NUMA node and its ordinal within that
// node.
type ID struct {
	Node    int
	Ordinal int
}

func (id ID) String() string {
	return fmt.Sprintf("worker-%d-%d", id.Node, id.Ordinal)
}

// Key packs the identity into the thread component of a version stamp.
func (id ID) Key() uint16 {
	return uint16(id.Node)<<8 | uint16(id.Ordinal&0xff)
}

// Context is what a task sees while running on a worker: the worker's
// identity, its owned transaction context, and the engine services the
// task needs to run transactions.
type Context struct {
	ID      ID
	Txn     *txn.Txn
	Txns    *txn.Manager
	Storage *storage.Manager
}

// Task is a unit of work executed on a worker thread. ctx is the
// dispatcher's context; tasks that loop (e.g. transaction retry) should
// check it between attempts.
type Task interface {
	Run(ctx context.Context, tc *Context) error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context, tc *Context) error

func (f TaskFunc) Run(ctx context.Context, tc *Context) error {
	return f(ctx, tc)
}

// dispatch is one occupied cycle of a worker's slot. A nil task is the
// shutdown sentinel.
type dispatch struct {
	ctx     context.Context
	task    Task
	promise *future.Promise[error]
}

// Worker is a long-lived OS-thread-locked loop owning one transaction
// context. Its dispatch slot is a busy flag claimed by a single CAS plus
// a one-element channel carrying the claimed cycle.
type Worker struct {
	id        ID
	busy      atomic.Bool
	cell      chan *dispatch
	tc        *Context
	pin       bool
	numaNodes int
}

func newWorker(id ID, numaNodes int, pin bool, txns *txn.Manager, store *storage.Manager) *Worker {
	return &Worker{
		id:   id,
		cell: make(chan *dispatch, 1),
		tc: &Context{
			ID:      id,
			Txn:     txn.NewTxn(id.Key()),
			Txns:    txns,
			Storage: store,
		},
		pin:       pin,
		numaNodes: numaNodes,
	}
}

// ID returns the worker's identity.
func (w *Worker) ID() ID {
	return w.id
}

// TryImpersonate attempts to claim the worker for one task. The claim is
// a single compare-and-swap on the busy flag; a busy worker returns
// (nil, false) immediately with no side effects. On success the task is
// handed over together with a fresh promise and the caller gets a
// Session to wait on.
func (w *Worker) TryImpersonate(ctx context.Context, task Task) (*Session, bool) {
	if !w.busy.CompareAndSwap(false, true) {
		return nil, false
	}
	p := future.NewPromise[error]()
	w.cell <- &dispatch{ctx: ctx, task: task, promise: p}
	telemetry.WorkersBusy.Inc()
	return &Session{Worker: w.id, fut: p.Future()}, true
}

func (w *Worker) loop(wg *sync.WaitGroup) {
	defer wg.Done()

	// The loop body between claim and release is the only code that
	// touches this worker's transaction context.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if w.pin {
		if err := pinToNode(w.id.Node, w.numaNodes); err != nil {
			log.Warn().Err(err).
				Str("worker", w.id.String()).
				Msg("Failed to set CPU affinity, continuing unpinned")
		}
	}

	for d := range w.cell {
		if d.task == nil {
			d.promise.Set(nil, nil)
			return
		}

		err := d.task.Run(d.ctx, w.tc)

		// A task that returns with a transaction still open would
		// poison the next dispatch cycle; clean up before releasing.
		if w.tc.Txn.Active() {
			log.Warn().
				Str("worker", w.id.String()).
				Msg("Task left a transaction active, aborting it")
			if abortErr := w.tc.Txns.Abort(w.tc.Txn); abortErr != nil && err == nil {
				err = abortErr
			}
		}

		d.promise.Set(nil, err)
		telemetry.WorkersBusy.Dec()
		w.busy.Store(false)
	}
}

// terminate claims the worker and sends the shutdown sentinel. Spins
// until any in-flight cycle releases the slot.
func (w *Worker) terminate() *Session {
	for !w.busy.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
	p := future.NewPromise[error]()
	w.cell <- &dispatch{promise: p}
	return &Session{Worker: w.id, fut: p.Future()}
}

// Session is the caller's handle on one dispatched task.
type Session struct {
	// Worker identifies who is serving the task.
	Worker ID

	fut *future.Future[error]
}

// Wait blocks until the task completes and returns its error.
func (s *Session) Wait() error {
	_, err := s.fut.Get()
	return err
}
