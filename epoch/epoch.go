package epoch

// Epoch is the process-wide logical time unit. Commit ordering across the
// engine is expressed in epochs: every committed transaction is stamped with
// the epoch current at the instant its validation succeeded.
//
// Epochs are totally ordered, monotonically increasing, and never reused.
// Epoch 0 is reserved as the invalid value.
type Epoch uint64

// InvalidEpoch is the zero value, before the clock has been initialized.
const InvalidEpoch Epoch = 0

// Valid returns true if the epoch is a real epoch issued by a clock.
func (e Epoch) Valid() bool {
	return e != InvalidEpoch
}

// Next returns the epoch one tick after e.
func (e Epoch) Next() Epoch {
	return e + 1
}

// Before returns true if e is strictly older than other.
func (e Epoch) Before(other Epoch) bool {
	return e < other
}

// After returns true if e is strictly newer than other.
func (e Epoch) After(other Epoch) bool {
	return e > other
}

// Compare returns -1 if a < b, 0 if a == b, 1 if a > b.
func Compare(a, b Epoch) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
