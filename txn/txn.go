// Package txn implements the optimistic transaction context and the commit
// validation protocol. Each worker thread owns exactly one Txn, reused
// across transactions; reads collect observed version stamps, writes are
// deferred into an ordered staging set, and all conflict detection happens
// at precommit.
package txn

import (
	"github.com/tidwall/btree"

	"github.com/soradb/sora/storage"
)

// IsolationLevel selects the concurrency-control guarantees of a
// transaction.
type IsolationLevel int

const (
	// Serializable validates the full read set at precommit. The only
	// level this engine implements.
	Serializable IsolationLevel = iota
)

func (l IsolationLevel) String() string {
	if l == Serializable {
		return "serializable"
	}
	return "unknown"
}

// Status is the lifecycle state of a transaction context.
type Status int

const (
	StatusInactive Status = iota
	StatusActive
	StatusPrecommitting
	StatusCommitted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusActive:
		return "active"
	case StatusPrecommitting:
		return "precommitting"
	case StatusCommitted:
		return "committed"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ReadAccess records one optimistic read: the record identity and the stamp
// it was read under. Precommit re-reads the stamp and aborts on mismatch.
type ReadAccess struct {
	Array    *storage.Array
	Record   storage.RecordID
	Observed storage.VersionStamp
}

// WriteAccess stages one deferred write. The shared record is untouched
// until the publish phase of a successful precommit.
type WriteAccess struct {
	Array  *storage.Array
	Record storage.RecordID
	Value  []byte
}

// writeAccessLess orders the write set by (storage name, record id). Every
// committing transaction locks its writes in this order, which rules out
// lock-order deadlock between concurrent commits.
func writeAccessLess(a, b *WriteAccess) bool {
	if a.Array.Name() != b.Array.Name() {
		return a.Array.Name() < b.Array.Name()
	}
	return a.Record < b.Record
}

// Txn is a per-worker transaction context. It is owned by exactly one
// worker thread and never shared; none of its methods are safe for
// concurrent use.
type Txn struct {
	threadKey uint16
	status    Status
	iso       IsolationLevel

	reads  []ReadAccess
	writes *btree.BTreeG[*WriteAccess]

	// In-epoch commit ordinal, reset whenever the commit epoch moves.
	lastEpoch uint64
	ordinal   uint16
}

// NewTxn creates an inactive context for the worker identified by
// threadKey. The key becomes part of every version stamp this context
// publishes.
func NewTxn(threadKey uint16) *Txn {
	return &Txn{
		threadKey: threadKey,
		status:    StatusInactive,
		writes:    btree.NewBTreeG(writeAccessLess),
	}
}

// Status returns the current lifecycle state.
func (t *Txn) Status() Status {
	return t.status
}

// Active returns true while the transaction accepts reads and writes.
func (t *Txn) Active() bool {
	return t.status == StatusActive
}

// ThreadKey returns the owning worker's stamp component.
func (t *Txn) ThreadKey() uint16 {
	return t.threadKey
}

// ReadSetSize returns the number of recorded reads.
func (t *Txn) ReadSetSize() int {
	return len(t.reads)
}

// WriteSetSize returns the number of staged writes.
func (t *Txn) WriteSetSize() int {
	return t.writes.Len()
}

func (t *Txn) clear() {
	t.reads = t.reads[:0]
	t.writes = btree.NewBTreeG(writeAccessLess)
}

// Read returns the record value as seen by this transaction. A record with
// a staged write resolves to the staged value; otherwise the shared record
// is read optimistically and the observed stamp joins the read set.
func (t *Txn) Read(arr *storage.Array, rid storage.RecordID) ([]byte, error) {
	if t.status != StatusActive {
		return nil, ErrTxnNotActive
	}

	if staged, ok := t.writes.Get(&WriteAccess{Array: arr, Record: rid}); ok {
		out := make([]byte, len(staged.Value))
		copy(out, staged.Value)
		return out, nil
	}

	val, stamp, err := arr.ReadRecord(rid)
	if err != nil {
		return nil, err
	}
	t.reads = append(t.reads, ReadAccess{Array: arr, Record: rid, Observed: stamp})
	return val, nil
}

// Write stages a new value for the record. The shared record is not
// touched; repeated writes to the same record replace the staged value.
func (t *Txn) Write(arr *storage.Array, rid storage.RecordID, value []byte) error {
	if t.status != StatusActive {
		return ErrTxnNotActive
	}
	if uint64(rid) >= arr.Size() {
		return storage.ErrRecordOutOfRange{Storage: arr.Name(), Record: rid, Size: arr.Size()}
	}
	if len(value) > arr.PayloadSize() {
		return storage.ErrPayloadTooLarge{Storage: arr.Name(), Size: len(value), Max: arr.PayloadSize()}
	}

	staged := make([]byte, len(value))
	copy(staged, value)
	t.writes.Set(&WriteAccess{Array: arr, Record: rid, Value: staged})
	return nil
}

// inWriteSet reports whether the record has a staged write in this
// transaction.
func (t *Txn) inWriteSet(arr *storage.Array, rid storage.RecordID) bool {
	_, ok := t.writes.Get(&WriteAccess{Array: arr, Record: rid})
	return ok
}
