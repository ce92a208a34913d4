// Package memory provides the NUMA-local record frame pools backing the
// storage layer. Each configured node owns a fixed budget of frames carved
// out of one contiguous allocation, so frame addresses stay stable for the
// lifetime of the records placed in them.
package memory

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/soradb/sora/telemetry"
)

// Frame is a fixed-size buffer holding one record payload. The ordinal ties
// the buffer back to its slot in the owning pool.
type Frame struct {
	Buf     []byte
	ordinal uint32
}

// ErrNoFreeFrames is returned when a node's pool is exhausted.
type ErrNoFreeFrames struct {
	Node int
}

func (e ErrNoFreeFrames) Error() string {
	return fmt.Sprintf("page pool on node %d has no free frames", e.Node)
}

// NodePool is the frame pool for one NUMA node. Frames are carved out of a
// single backing slice and recycled through a free list.
type NodePool struct {
	node      int
	frameSize int

	mu      sync.Mutex
	backing []byte
	free    []uint32 // frame ordinals, used as a stack
}

// NewNodePool allocates the backing memory for one node.
func NewNodePool(node, frames, frameSize int) *NodePool {
	p := &NodePool{
		node:      node,
		frameSize: frameSize,
		backing:   make([]byte, frames*frameSize),
		free:      make([]uint32, frames),
	}
	for i := range p.free {
		// Hand out low ordinals first
		p.free[i] = uint32(frames - 1 - i)
	}
	p.publishFreeCount(frames)
	return p
}

// Node returns the NUMA node this pool belongs to.
func (p *NodePool) Node() int {
	return p.node
}

// FrameSize returns the byte size of each frame.
func (p *NodePool) FrameSize() int {
	return p.frameSize
}

// Grab takes n frames from the free list. Either all n frames are returned
// or none are.
func (p *NodePool) Grab(n int) ([]Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) < n {
		return nil, ErrNoFreeFrames{Node: p.node}
	}

	frames := make([]Frame, n)
	for i := 0; i < n; i++ {
		ord := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		off := int(ord) * p.frameSize
		frames[i] = Frame{
			Buf:     p.backing[off : off+p.frameSize : off+p.frameSize],
			ordinal: ord,
		}
	}
	p.publishFreeCount(len(p.free))
	return frames, nil
}

// Release returns frames to the free list. The frames must have been
// grabbed from this pool.
func (p *NodePool) Release(frames []Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, f := range frames {
		p.free = append(p.free, f.ordinal)
	}
	p.publishFreeCount(len(p.free))
}

// FreeCount returns the number of available frames.
func (p *NodePool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

func (p *NodePool) publishFreeCount(n int) {
	telemetry.PoolFreeFrames.With(strconv.Itoa(p.node)).Set(float64(n))
}
