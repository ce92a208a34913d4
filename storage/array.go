package storage

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/soradb/sora/memory"
)

// RecordID identifies a record within one array storage.
type RecordID uint64

// ErrRecordOutOfRange is returned for a RecordID beyond the array bounds.
type ErrRecordOutOfRange struct {
	Storage string
	Record  RecordID
	Size    uint64
}

func (e ErrRecordOutOfRange) Error() string {
	return fmt.Sprintf("record %d out of range for storage %q (size %d)", e.Record, e.Storage, e.Size)
}

// ErrPayloadTooLarge is returned when a value exceeds the array payload size.
type ErrPayloadTooLarge struct {
	Storage string
	Size    int
	Max     int
}

func (e ErrPayloadTooLarge) Error() string {
	return fmt.Sprintf("payload of %d bytes exceeds %q record size %d", e.Size, e.Storage, e.Max)
}

type record struct {
	stamp atomic.Uint64
	frame memory.Frame
}

// Array is a fixed-size array of records, each carrying a version stamp.
// Reads are optimistic and never block; payload rewrites happen only while
// the record's stamp word holds the lock flag, set and cleared by the
// transaction layer around the publish phase of a commit.
type Array struct {
	name        string
	payloadSize int
	homeNode    int
	records     []record
}

func newArray(name string, payloadSize int, count uint64, homeNode int, frames []memory.Frame) *Array {
	a := &Array{
		name:        name,
		payloadSize: payloadSize,
		homeNode:    homeNode,
		records:     make([]record, count),
	}
	for i := range a.records {
		a.records[i].frame = frames[i]
		// Stamp 0: epoch 0, no thread, no ordinal, unlocked.
		a.records[i].stamp.Store(0)
	}
	return a
}

// Name returns the storage name.
func (a *Array) Name() string {
	return a.name
}

// Size returns the number of records.
func (a *Array) Size() uint64 {
	return uint64(len(a.records))
}

// PayloadSize returns the fixed byte size of each record payload.
func (a *Array) PayloadSize() int {
	return a.payloadSize
}

// HomeNode returns the NUMA node whose pool backs this array.
func (a *Array) HomeNode() int {
	return a.homeNode
}

func (a *Array) checkRange(rid RecordID) error {
	if uint64(rid) >= uint64(len(a.records)) {
		return ErrRecordOutOfRange{Storage: a.name, Record: rid, Size: uint64(len(a.records))}
	}
	return nil
}

// ReadRecord returns a copy of the record payload together with the stamp it
// was read under. The read retries until it observes the same unlocked stamp
// on both sides of the payload copy, so the returned pair is always a
// consistent committed version and never a torn interleaving.
func (a *Array) ReadRecord(rid RecordID) ([]byte, VersionStamp, error) {
	if err := a.checkRange(rid); err != nil {
		return nil, 0, err
	}
	rec := &a.records[rid]

	buf := make([]byte, a.payloadSize)
	for {
		before := VersionStamp(rec.stamp.Load())
		if before.Locked() {
			// A committer is mid-publish; its lock window is a few
			// memory writes, so yield and re-check.
			runtime.Gosched()
			continue
		}
		copy(buf, rec.frame.Buf[:a.payloadSize])
		after := VersionStamp(rec.stamp.Load())
		if before == after {
			return buf, before, nil
		}
	}
}

// Version returns the current stamp of the record, including the lock flag.
func (a *Array) Version(rid RecordID) (VersionStamp, error) {
	if err := a.checkRange(rid); err != nil {
		return 0, err
	}
	return VersionStamp(a.records[rid].stamp.Load()), nil
}

// TryLock attempts to set the lock flag on the record's stamp word with a
// single compare-and-swap. Returns false without waiting if the record is
// already locked.
func (a *Array) TryLock(rid RecordID) (bool, error) {
	if err := a.checkRange(rid); err != nil {
		return false, err
	}
	rec := &a.records[rid]

	cur := VersionStamp(rec.stamp.Load())
	if cur.Locked() {
		return false, nil
	}
	return rec.stamp.CompareAndSwap(uint64(cur), uint64(cur.WithLock())), nil
}

// Unlock clears the lock flag without changing the version, undoing a
// TryLock after a failed validation. Only the lock holder may call this.
func (a *Array) Unlock(rid RecordID) error {
	if err := a.checkRange(rid); err != nil {
		return err
	}
	rec := &a.records[rid]
	cur := VersionStamp(rec.stamp.Load())
	rec.stamp.Store(uint64(cur.WithoutLock()))
	return nil
}

// PublishAndUnlock rewrites the record payload and installs the new stamp,
// releasing the lock in the same atomic store. Only the lock holder may
// call this; newStamp must be unlocked.
func (a *Array) PublishAndUnlock(rid RecordID, value []byte, newStamp VersionStamp) error {
	if err := a.checkRange(rid); err != nil {
		return err
	}
	if len(value) > a.payloadSize {
		return ErrPayloadTooLarge{Storage: a.name, Size: len(value), Max: a.payloadSize}
	}
	rec := &a.records[rid]

	copy(rec.frame.Buf[:a.payloadSize], value)
	for i := len(value); i < a.payloadSize; i++ {
		rec.frame.Buf[i] = 0
	}
	rec.stamp.Store(uint64(newStamp.WithoutLock()))
	return nil
}

func (a *Array) frames() []memory.Frame {
	out := make([]memory.Frame, len(a.records))
	for i := range a.records {
		out[i] = a.records[i].frame
	}
	return out
}
