package memory

import (
	"errors"
	"testing"
)

func TestNodePool_GrabAndRelease(t *testing.T) {
	pool := NewNodePool(0, 8, 64)

	frames, err := pool.Grab(3)
	if err != nil {
		t.Fatalf("Grab failed: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}
	for _, f := range frames {
		if len(f.Buf) != 64 {
			t.Errorf("Expected 64-byte frame, got %d", len(f.Buf))
		}
	}
	if pool.FreeCount() != 5 {
		t.Errorf("Expected 5 free frames, got %d", pool.FreeCount())
	}

	pool.Release(frames)
	if pool.FreeCount() != 8 {
		t.Errorf("Expected 8 free frames after release, got %d", pool.FreeCount())
	}
}

func TestNodePool_FramesAreDistinct(t *testing.T) {
	pool := NewNodePool(0, 4, 16)

	frames, err := pool.Grab(4)
	if err != nil {
		t.Fatalf("Grab failed: %v", err)
	}

	// Writing into one frame must not bleed into another
	for i, f := range frames {
		for j := range f.Buf {
			f.Buf[j] = byte(i + 1)
		}
	}
	for i, f := range frames {
		for j := range f.Buf {
			if f.Buf[j] != byte(i+1) {
				t.Fatalf("Frame %d corrupted at byte %d", i, j)
			}
		}
	}
}

func TestNodePool_Exhaustion(t *testing.T) {
	pool := NewNodePool(2, 2, 16)

	if _, err := pool.Grab(3); err == nil {
		t.Fatal("Grab beyond capacity should fail")
	}

	frames, err := pool.Grab(2)
	if err != nil {
		t.Fatalf("Grab failed: %v", err)
	}

	_, err = pool.Grab(1)
	var exhausted ErrNoFreeFrames
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected ErrNoFreeFrames, got %v", err)
	}
	if exhausted.Node != 2 {
		t.Errorf("Expected node 2 in error, got %d", exhausted.Node)
	}

	// Released frames become grabbable again
	pool.Release(frames[:1])
	if _, err := pool.Grab(1); err != nil {
		t.Errorf("Grab after release failed: %v", err)
	}
}

func TestManager_PreferredNodeFirst(t *testing.T) {
	m, err := NewManager(2, 4, 16)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	_, node, err := m.GrabOnNode(1, 2)
	if err != nil {
		t.Fatalf("GrabOnNode failed: %v", err)
	}
	if node != 1 {
		t.Errorf("Expected frames from node 1, got node %d", node)
	}
	if m.Pool(1).FreeCount() != 2 {
		t.Errorf("Node 1 should have 2 free frames, got %d", m.Pool(1).FreeCount())
	}
	if m.Pool(0).FreeCount() != 4 {
		t.Errorf("Node 0 should be untouched, got %d", m.Pool(0).FreeCount())
	}
}

func TestManager_RoundRobinFallback(t *testing.T) {
	m, err := NewManager(2, 4, 16)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	// Drain node 0 entirely
	if _, _, err := m.GrabOnNode(0, 4); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	// Preferring node 0 must fall back to node 1
	frames, node, err := m.GrabOnNode(0, 2)
	if err != nil {
		t.Fatalf("Fallback grab failed: %v", err)
	}
	if node != 1 {
		t.Errorf("Expected fallback to node 1, got node %d", node)
	}
	m.ReleaseOnNode(node, frames)
}

func TestManager_AllNodesExhausted(t *testing.T) {
	m, err := NewManager(2, 2, 16)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	if _, _, err := m.GrabOnNode(0, 2); err != nil {
		t.Fatalf("Grab failed: %v", err)
	}
	if _, _, err := m.GrabOnNode(1, 2); err != nil {
		t.Fatalf("Grab failed: %v", err)
	}

	_, _, err = m.GrabOnNode(0, 1)
	if err == nil {
		t.Fatal("Expected exhaustion error when all pools are empty")
	}
	var exhausted ErrNoFreeFrames
	if !errors.As(err, &exhausted) {
		t.Errorf("Exhaustion error should wrap ErrNoFreeFrames, got %v", err)
	}
}
