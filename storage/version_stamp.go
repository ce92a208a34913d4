// Package storage implements the shared in-memory record stores. Records
// live in fixed-size arrays backed by NUMA-local frame pools and carry a
// version stamp that the transaction layer reads optimistically and rewrites
// at commit time.
package storage

import "fmt"

// LockedBit marks a record whose stamp word is held by a committing
// transaction. While the bit is set the payload may be mid-rewrite.
const LockedBit = uint64(1) << 63

// EpochBits is the number of bits reserved for the commit epoch.
// 31 bits at a 20ms advance interval is over a year of uptime.
const EpochBits = 31

// ThreadBits is the number of bits reserved for the committing thread key.
const ThreadBits = 16

// OrdinalBits is the number of bits for the in-epoch ordinal. Each worker
// burns one ordinal per committed transaction and resets when the epoch
// moves, so 16 bits bounds one worker to ~65k commits per epoch.
const OrdinalBits = 16

const (
	ordinalMask = (uint64(1) << OrdinalBits) - 1
	threadMask  = (uint64(1) << ThreadBits) - 1
	epochMask   = (uint64(1) << EpochBits) - 1

	threadShift = OrdinalBits
	epochShift  = OrdinalBits + ThreadBits
)

// VersionStamp encodes the last committed write to a record:
// lock flag | commit epoch | committing thread key | in-epoch ordinal.
// The unlocked portion changes on every commit, so equality of two stamps
// means the record was not rewritten in between.
type VersionStamp uint64

// MakeVersionStamp builds an unlocked stamp.
func MakeVersionStamp(epoch uint64, threadKey uint16, ordinal uint16) VersionStamp {
	return VersionStamp((epoch&epochMask)<<epochShift |
		(uint64(threadKey)&threadMask)<<threadShift |
		uint64(ordinal)&ordinalMask)
}

// Locked returns true if the lock flag is set.
func (s VersionStamp) Locked() bool {
	return uint64(s)&LockedBit != 0
}

// WithLock returns the stamp with the lock flag set.
func (s VersionStamp) WithLock() VersionStamp {
	return VersionStamp(uint64(s) | LockedBit)
}

// WithoutLock returns the stamp with the lock flag cleared.
func (s VersionStamp) WithoutLock() VersionStamp {
	return VersionStamp(uint64(s) &^ LockedBit)
}

// Epoch returns the commit epoch component.
func (s VersionStamp) Epoch() uint64 {
	return (uint64(s) >> epochShift) & epochMask
}

// ThreadKey returns the committing thread component.
func (s VersionStamp) ThreadKey() uint16 {
	return uint16((uint64(s) >> threadShift) & threadMask)
}

// Ordinal returns the in-epoch ordinal component.
func (s VersionStamp) Ordinal() uint16 {
	return uint16(uint64(s) & ordinalMask)
}

func (s VersionStamp) String() string {
	lock := ""
	if s.Locked() {
		lock = " locked"
	}
	return fmt.Sprintf("epoch=%d thread=%d ordinal=%d%s", s.Epoch(), s.ThreadKey(), s.Ordinal(), lock)
}
