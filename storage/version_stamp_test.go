package storage

import "testing"

func TestVersionStamp_RoundTrip(t *testing.T) {
	s := MakeVersionStamp(12345, 42, 7)

	if s.Epoch() != 12345 {
		t.Errorf("Expected epoch 12345, got %d", s.Epoch())
	}
	if s.ThreadKey() != 42 {
		t.Errorf("Expected thread key 42, got %d", s.ThreadKey())
	}
	if s.Ordinal() != 7 {
		t.Errorf("Expected ordinal 7, got %d", s.Ordinal())
	}
	if s.Locked() {
		t.Error("Fresh stamp should not be locked")
	}
}

func TestVersionStamp_LockFlag(t *testing.T) {
	s := MakeVersionStamp(9, 3, 1)

	locked := s.WithLock()
	if !locked.Locked() {
		t.Error("WithLock should set the lock flag")
	}
	// Lock flag must not disturb the version components
	if locked.Epoch() != 9 || locked.ThreadKey() != 3 || locked.Ordinal() != 1 {
		t.Errorf("Lock flag corrupted components: %s", locked)
	}

	unlocked := locked.WithoutLock()
	if unlocked != s {
		t.Errorf("WithoutLock should restore the original stamp, got %s", unlocked)
	}
}

func TestVersionStamp_DistinctCommitsDiffer(t *testing.T) {
	a := MakeVersionStamp(5, 1, 1)
	b := MakeVersionStamp(5, 1, 2)
	c := MakeVersionStamp(5, 2, 1)
	d := MakeVersionStamp(6, 1, 1)

	stamps := []VersionStamp{a, b, c, d}
	for i := range stamps {
		for j := range stamps {
			if i != j && stamps[i] == stamps[j] {
				t.Errorf("Stamps %d and %d collide: %s", i, j, stamps[i])
			}
		}
	}
}
