package storage

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/soradb/sora/memory"
)

// ErrStorageExists is returned when creating a storage under a taken name.
type ErrStorageExists struct {
	Name string
}

func (e ErrStorageExists) Error() string {
	return fmt.Sprintf("storage %q already exists", e.Name)
}

// ErrStorageNotFound is returned when a named storage does not exist.
type ErrStorageNotFound struct {
	Name string
}

func (e ErrStorageNotFound) Error() string {
	return fmt.Sprintf("storage %q does not exist", e.Name)
}

// Manager owns the named array storages. Creation places each array on a
// home NUMA node derived from the storage name, so records of one array stay
// node-local unless that node's pool runs dry.
type Manager struct {
	mem    *memory.Manager
	arrays *xsync.MapOf[string, *Array]
}

// NewManager creates a storage manager on top of the frame pools.
func NewManager(mem *memory.Manager) *Manager {
	return &Manager{
		mem:    mem,
		arrays: xsync.NewMapOf[string, *Array](),
	}
}

// homeNodeFor derives a stable NUMA placement from the storage name.
func (m *Manager) homeNodeFor(name string) int {
	return int(xxhash.Sum64String(name) % uint64(m.mem.Nodes()))
}

// CreateArray allocates a fixed-size array storage of count records with
// payloadSize bytes each. Frames come from the array's home node pool,
// falling back to other nodes under pressure.
func (m *Manager) CreateArray(name string, payloadSize int, count uint64) (*Array, error) {
	if payloadSize < 1 {
		return nil, fmt.Errorf("invalid payload size %d for storage %q", payloadSize, name)
	}
	if count < 1 {
		return nil, fmt.Errorf("invalid record count %d for storage %q", count, name)
	}
	if payloadSize > m.mem.Pool(0).FrameSize() {
		return nil, ErrPayloadTooLarge{Storage: name, Size: payloadSize, Max: m.mem.Pool(0).FrameSize()}
	}
	if _, taken := m.arrays.Load(name); taken {
		return nil, ErrStorageExists{Name: name}
	}

	preferred := m.homeNodeFor(name)
	frames, node, err := m.mem.GrabOnNode(preferred, int(count))
	if err != nil {
		return nil, fmt.Errorf("failed to allocate %d frames for storage %q: %w", count, name, err)
	}

	arr := newArray(name, payloadSize, count, node, frames)
	if _, loaded := m.arrays.LoadOrStore(name, arr); loaded {
		m.mem.ReleaseOnNode(node, frames)
		return nil, ErrStorageExists{Name: name}
	}

	log.Info().
		Str("storage", name).
		Uint64("records", count).
		Int("payload_size", payloadSize).
		Int("home_node", node).
		Msg("Array storage created")
	return arr, nil
}

// Get returns the named storage.
func (m *Manager) Get(name string) (*Array, error) {
	arr, ok := m.arrays.Load(name)
	if !ok {
		return nil, ErrStorageNotFound{Name: name}
	}
	return arr, nil
}

// Drop removes the named storage and returns its frames to the pool.
// The caller must ensure no transaction still references the storage.
func (m *Manager) Drop(name string) error {
	arr, ok := m.arrays.LoadAndDelete(name)
	if !ok {
		return ErrStorageNotFound{Name: name}
	}
	m.mem.ReleaseOnNode(arr.HomeNode(), arr.frames())
	log.Info().Str("storage", name).Msg("Array storage dropped")
	return nil
}

// Range iterates all storages, stopping when fn returns false.
func (m *Manager) Range(fn func(name string, arr *Array) bool) {
	m.arrays.Range(fn)
}

// DropAll removes every storage, releasing all frames. Used at shutdown.
func (m *Manager) DropAll() {
	m.arrays.Range(func(name string, _ *Array) bool {
		_ = m.Drop(name)
		return true
	})
}
