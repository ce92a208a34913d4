package thread

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soradb/sora/storage"
	"github.com/soradb/sora/telemetry"
	"github.com/soradb/sora/txn"
)

// ErrPoolStopped is returned by Impersonate after Shutdown has begun.
var ErrPoolStopped = errors.New("worker pool is shut down")

// Pool owns every worker thread, grouped per NUMA node.
type Pool struct {
	nodes [][]*Worker
	all   []*Worker

	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
}

// NewPool builds numaNodes*threadsPerNode workers. Workers are created
// idle; Start launches their loops.
func NewPool(numaNodes, threadsPerNode int, pin bool, txns *txn.Manager, store *storage.Manager) *Pool {
	p := &Pool{nodes: make([][]*Worker, numaNodes)}
	for node := 0; node < numaNodes; node++ {
		group := make([]*Worker, threadsPerNode)
		for ord := 0; ord < threadsPerNode; ord++ {
			group[ord] = newWorker(ID{Node: node, Ordinal: ord}, numaNodes, pin, txns, store)
			p.all = append(p.all, group[ord])
		}
		p.nodes[node] = group
	}
	return p
}

// Size returns the total worker count.
func (p *Pool) Size() int {
	return len(p.all)
}

// Workers returns the workers on one node, for node-targeted dispatch.
func (p *Pool) Workers(node int) []*Worker {
	if node < 0 || node >= len(p.nodes) {
		return nil
	}
	return p.nodes[node]
}

// Start launches every worker loop. Idempotent.
func (p *Pool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for _, w := range p.all {
		p.wg.Add(1)
		go w.loop(&p.wg)
	}
	log.Info().
		Int("nodes", len(p.nodes)).
		Int("workers", len(p.all)).
		Msg("Worker pool started")
}

// Impersonate dispatches the task onto any idle worker, scanning the
// pool with per-worker CAS attempts until one accepts or ctx is done.
// The returned session resolves when the task finishes.
func (p *Pool) Impersonate(ctx context.Context, task Task) (*Session, error) {
	start := time.Now()
	for {
		if p.stopped.Load() {
			telemetry.DispatchTotal.With("stopped").Inc()
			return nil, ErrPoolStopped
		}
		for _, w := range p.all {
			if s, ok := w.TryImpersonate(ctx, task); ok {
				telemetry.DispatchTotal.With("accepted").Inc()
				telemetry.SessionWaitSeconds.Observe(time.Since(start).Seconds())
				return s, nil
			}
		}
		select {
		case <-ctx.Done():
			telemetry.DispatchTotal.With("canceled").Inc()
			return nil, ctx.Err()
		default:
			runtime.Gosched()
		}
	}
}

// Shutdown terminates every worker and joins their threads. Each
// termination first waits for the worker's in-flight task, so no work is
// lost. Idempotent.
func (p *Pool) Shutdown() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	if !p.started.Load() {
		return
	}

	sessions := make([]*Session, 0, len(p.all))
	for _, w := range p.all {
		sessions = append(sessions, w.terminate())
	}
	for _, s := range sessions {
		if err := s.Wait(); err != nil {
			log.Error().Err(err).
				Str("worker", s.Worker.String()).
				Msg("Worker shutdown returned error")
		}
	}
	p.wg.Wait()
	log.Info().Msg("Worker pool stopped")
}
