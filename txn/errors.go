package txn

import (
	"errors"
	"fmt"

	"github.com/soradb/sora/storage"
)

// RaceAbortError is the engine's only retryable failure: precommit found a
// write lock held by another transaction, or a read-set entry whose version
// changed since it was read. Callers are expected to Abort and re-run the
// transaction body from Begin.
type RaceAbortError struct {
	Storage string
	Record  storage.RecordID
	Phase   string // "lock" or "validation"
}

func (e RaceAbortError) Error() string {
	return fmt.Sprintf("race abort in %s phase on %s record %d", e.Phase, e.Storage, e.Record)
}

// IsRaceAbort reports whether err is a retryable race abort.
func IsRaceAbort(err error) bool {
	var ra RaceAbortError
	return errors.As(err, &ra)
}

// Contract violations: these indicate a caller bug, not a data race.
var (
	// ErrTxnAlreadyActive is returned by Begin when the worker's context
	// already holds an active transaction.
	ErrTxnAlreadyActive = errors.New("a transaction is already active on this worker")

	// ErrTxnNotActive is returned by operations that require an active
	// transaction.
	ErrTxnNotActive = errors.New("no active transaction on this worker")

	// ErrUnsupportedIsolation is returned by Begin for isolation levels
	// the engine does not implement.
	ErrUnsupportedIsolation = errors.New("unsupported isolation level")

	// ErrClockNotReady is returned when precommit runs before the epoch
	// clock issued its first valid epoch.
	ErrClockNotReady = errors.New("epoch clock has not issued a valid epoch")
)
