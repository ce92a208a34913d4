package txn

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soradb/sora/epoch"
	"github.com/soradb/sora/storage"
	"github.com/soradb/sora/telemetry"
)

// Manager drives transaction lifecycles against the global epoch clock.
// One manager serves all workers; per-transaction state lives entirely in
// the worker-owned Txn.
type Manager struct {
	clock *epoch.Clock
}

// NewManager creates a transaction manager on the given clock.
func NewManager(clock *epoch.Clock) *Manager {
	return &Manager{clock: clock}
}

// Clock returns the epoch clock transactions commit against.
func (m *Manager) Clock() *epoch.Clock {
	return m.clock
}

// Begin starts a transaction on the context. Fails if one is already in
// flight; a context left in Committed or Aborted is considered returned to
// Inactive and may begin again.
func (m *Manager) Begin(t *Txn, iso IsolationLevel) error {
	if iso != Serializable {
		return ErrUnsupportedIsolation
	}
	if t.status == StatusActive || t.status == StatusPrecommitting {
		return ErrTxnAlreadyActive
	}

	t.clear()
	t.iso = iso
	t.status = StatusActive
	return nil
}

// Abort discards the transaction's staged state. No shared locks exist
// outside precommit, so there is nothing else to release; a context already
// aborted by a failed precommit may be aborted again to reset it.
func (m *Manager) Abort(t *Txn) error {
	switch t.status {
	case StatusActive, StatusPrecommitting, StatusAborted:
		t.clear()
		t.status = StatusAborted
		telemetry.TxnTotal.With("abort").Inc()
		return nil
	default:
		return ErrTxnNotActive
	}
}

// Precommit runs optimistic validation and, on success, publishes the write
// set stamped with the commit epoch. On a race the context is left in
// Aborted with every acquired lock released, and the returned error matches
// IsRaceAbort so callers can retry from Begin.
func (m *Manager) Precommit(t *Txn) (epoch.Epoch, error) {
	if t.status != StatusActive {
		return epoch.InvalidEpoch, ErrTxnNotActive
	}
	t.status = StatusPrecommitting
	start := time.Now()

	// Lock phase: take every write lock in canonical order. Contention
	// means another transaction is committing an overlapping write set;
	// abort immediately rather than wait.
	locked := make([]*WriteAccess, 0, t.writes.Len())
	var lockErr error
	t.writes.Scan(func(w *WriteAccess) bool {
		ok, err := w.Array.TryLock(w.Record)
		if err != nil {
			lockErr = err
			return false
		}
		if !ok {
			lockErr = RaceAbortError{Storage: w.Array.Name(), Record: w.Record, Phase: "lock"}
			return false
		}
		locked = append(locked, w)
		return true
	})
	if lockErr != nil {
		m.abortPrecommit(t, locked, lockErr, "lock")
		return epoch.InvalidEpoch, lockErr
	}

	// Validation phase: every read must still carry the stamp it was
	// read under. A lock held by someone else counts as a change unless
	// it is our own write lock on the same record.
	for _, r := range t.reads {
		cur, err := r.Array.Version(r.Record)
		if err != nil {
			m.abortPrecommit(t, locked, err, "validation")
			return epoch.InvalidEpoch, err
		}
		if cur.Locked() && !t.inWriteSet(r.Array, r.Record) {
			raceErr := RaceAbortError{Storage: r.Array.Name(), Record: r.Record, Phase: "validation"}
			m.abortPrecommit(t, locked, raceErr, "validation")
			return epoch.InvalidEpoch, raceErr
		}
		if cur.WithoutLock() != r.Observed {
			raceErr := RaceAbortError{Storage: r.Array.Name(), Record: r.Record, Phase: "validation"}
			m.abortPrecommit(t, locked, raceErr, "validation")
			return epoch.InvalidEpoch, raceErr
		}
	}

	// The commit epoch is the global clock value at the instant
	// validation succeeded, not anything derived from the records.
	commitEpoch := m.clock.Current()
	if !commitEpoch.Valid() {
		m.abortPrecommit(t, locked, ErrClockNotReady, "validation")
		return epoch.InvalidEpoch, ErrClockNotReady
	}

	if uint64(commitEpoch) != t.lastEpoch {
		t.lastEpoch = uint64(commitEpoch)
		t.ordinal = 0
	}
	t.ordinal++
	newStamp := storage.MakeVersionStamp(uint64(commitEpoch), t.threadKey, t.ordinal)

	// Publish phase: only reached once the whole read set validated, so
	// no partially published write set is ever visible.
	var publishErr error
	t.writes.Scan(func(w *WriteAccess) bool {
		if err := w.Array.PublishAndUnlock(w.Record, w.Value, newStamp); err != nil {
			publishErr = err
			return false
		}
		return true
	})
	if publishErr != nil {
		// Write/payload bounds were checked when the write was staged;
		// reaching this means a storage invariant is broken.
		log.Error().Err(publishErr).Msg("Publish failed after successful validation")
		return epoch.InvalidEpoch, publishErr
	}

	t.status = StatusCommitted
	telemetry.TxnTotal.With("committed").Inc()
	telemetry.PrecommitSeconds.Observe(time.Since(start).Seconds())
	telemetry.ReadSetSize.Set(float64(len(t.reads)))
	telemetry.WriteSetSize.Set(float64(t.writes.Len()))
	return commitEpoch, nil
}

// abortPrecommit releases the locks acquired so far and parks the context
// in Aborted.
func (m *Manager) abortPrecommit(t *Txn, locked []*WriteAccess, cause error, phase string) {
	for _, w := range locked {
		if err := w.Array.Unlock(w.Record); err != nil {
			log.Error().Err(err).
				Str("storage", w.Array.Name()).
				Uint64("record", uint64(w.Record)).
				Msg("Failed to release write lock during abort")
		}
	}
	t.status = StatusAborted
	if IsRaceAbort(cause) {
		telemetry.TxnTotal.With("race_abort").Inc()
		telemetry.RaceAbortsTotal.With(phase).Inc()
	} else {
		telemetry.TxnTotal.With("error").Inc()
	}
}
