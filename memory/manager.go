package memory

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Manager owns one NodePool per configured NUMA node and serves frame
// requests with node affinity: the preferred node is tried first, then the
// remaining nodes in round-robin order. Allocation fails only when every
// node is exhausted.
type Manager struct {
	pools []*NodePool
}

// NewManager builds the per-node pools.
func NewManager(nodes, framesPerNode, frameSize int) (*Manager, error) {
	if nodes < 1 {
		return nil, fmt.Errorf("invalid node count: %d", nodes)
	}

	m := &Manager{pools: make([]*NodePool, nodes)}
	for node := 0; node < nodes; node++ {
		m.pools[node] = NewNodePool(node, framesPerNode, frameSize)
	}

	log.Info().
		Int("nodes", nodes).
		Int("frames_per_node", framesPerNode).
		Int("frame_size", frameSize).
		Msg("Page pools initialized")
	return m, nil
}

// Nodes returns the number of NUMA nodes the manager serves.
func (m *Manager) Nodes() int {
	return len(m.pools)
}

// Pool returns the pool for the given node.
func (m *Manager) Pool(node int) *NodePool {
	return m.pools[node]
}

// GrabOnNode takes n frames, preferring the given node and falling back to
// the other nodes when the preferred pool is empty.
func (m *Manager) GrabOnNode(preferred, n int) ([]Frame, int, error) {
	if preferred < 0 || preferred >= len(m.pools) {
		return nil, 0, fmt.Errorf("invalid numa node: %d", preferred)
	}

	var errs []error
	for i := 0; i < len(m.pools); i++ {
		node := (preferred + i) % len(m.pools)
		frames, err := m.pools[node].Grab(n)
		if err == nil {
			if node != preferred {
				log.Warn().
					Int("preferred", preferred).
					Int("fallback", node).
					Msg("Preferred node has no free frames, using fallback")
			}
			return frames, node, nil
		}
		errs = append(errs, err)
	}

	return nil, 0, fmt.Errorf("all page pools exhausted: %w", errors.Join(errs...))
}

// ReleaseOnNode returns frames to the node they were grabbed from.
func (m *Manager) ReleaseOnNode(node int, frames []Frame) {
	m.pools[node].Release(frames)
}
